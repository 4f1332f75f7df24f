package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// Re-assign os.UserHomeDir to a variable so we can mock it in tests.
var osUserHomeDir = os.UserHomeDir

// configDir returns the path to ~/Dexter/config, creating it if necessary.
func configDir() (string, error) {
	home, err := osUserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not get user home directory: %w", err)
	}
	dir := filepath.Join(home, "Dexter", "config")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("could not create config directory %s: %w", dir, err)
	}
	return dir, nil
}

// loadOrCreate reads a JSON config file, writing the provided defaults to
// disk first when the file does not exist yet.
func loadOrCreate(dir, filename string, v interface{}) error {
	path := filepath.Join(dir, filename)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("could not marshal default config for %s: %w", filename, err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("could not write default config file %s: %w", filename, err)
		}
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not read config file %s: %w", filename, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("could not decode config file %s: %w", filename, err)
	}
	return nil
}

// LoadAllConfigs loads every config area from ~/Dexter/config, creating
// default files on first run. Environment variables override file values.
func LoadAllConfigs() (*AllConfig, error) {
	dir, err := configDir()
	if err != nil {
		return nil, err
	}

	main := defaultMainConfig()
	if err := loadOrCreate(dir, "config.json", main); err != nil {
		return nil, err
	}

	discord := defaultDiscordConfig()
	if err := loadOrCreate(dir, main.DiscordConfig, discord); err != nil {
		return nil, err
	}

	redis := defaultRedisConfig()
	if err := loadOrCreate(dir, main.RedisConfig, redis); err != nil {
		return nil, err
	}

	voice := defaultVoiceConfig()
	if err := loadOrCreate(dir, main.VoiceConfig, voice); err != nil {
		return nil, err
	}

	// Environment overrides take precedence over file contents.
	if err := env.Parse(discord); err != nil {
		return nil, fmt.Errorf("could not parse discord env overrides: %w", err)
	}
	if err := env.Parse(redis); err != nil {
		return nil, fmt.Errorf("could not parse redis env overrides: %w", err)
	}
	if err := env.Parse(voice); err != nil {
		return nil, fmt.Errorf("could not parse voice env overrides: %w", err)
	}

	return &AllConfig{Main: main, Discord: discord, Redis: redis, Voice: voice}, nil
}
