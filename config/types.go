package config

// MainConfig names the per-area config files inside ~/Dexter/config.
type MainConfig struct {
	DiscordConfig string `json:"discord_config"`
	RedisConfig   string `json:"redis_config"`
	VoiceConfig   string `json:"voice_config"`
}

// DiscordConfig holds the Discord connection settings.
type DiscordConfig struct {
	Token        string `json:"token" env:"DISCORD_TOKEN"`
	LogChannelID string `json:"log_channel_id" env:"DISCORD_LOG_CHANNEL_ID"`
	StatusPort   int    `json:"status_port" env:"STATUS_PORT"`
}

// RedisConfig holds the shared cache connection settings.
type RedisConfig struct {
	Addr     string `json:"addr" env:"REDIS_ADDR"`
	Username string `json:"username" env:"REDIS_USERNAME"`
	Password string `json:"password" env:"REDIS_PASSWORD"`
	DB       int    `json:"db" env:"REDIS_DB"`
}

// VoiceConfig holds the speech synthesis and playback coordination settings.
// All durations are in milliseconds to match the stored lock records.
type VoiceConfig struct {
	DefaultVoice      string            `json:"default_voice" env:"VOICE_DEFAULT"`
	LanguageCode      string            `json:"language_code" env:"VOICE_LANGUAGE_CODE"`
	Voices            map[string]string `json:"voices"`
	LockTTLMs         int               `json:"lock_ttl_ms" env:"VOICE_LOCK_TTL_MS"`
	LockGraceMs       int               `json:"lock_grace_ms" env:"VOICE_LOCK_GRACE_MS"`
	StartTimeoutMs    int               `json:"start_timeout_ms" env:"VOICE_START_TIMEOUT_MS"`
	MaxPlayMs         int               `json:"max_play_ms" env:"VOICE_MAX_PLAY_MS"`
	RenderConcurrency int               `json:"render_concurrency" env:"VOICE_RENDER_CONCURRENCY"`
}

// AllConfig bundles every loaded config area.
type AllConfig struct {
	Main    *MainConfig
	Discord *DiscordConfig
	Redis   *RedisConfig
	Voice   *VoiceConfig
}

func defaultMainConfig() *MainConfig {
	return &MainConfig{
		DiscordConfig: "discord.json",
		RedisConfig:   "redis.json",
		VoiceConfig:   "voice.json",
	}
}

func defaultDiscordConfig() *DiscordConfig {
	return &DiscordConfig{StatusPort: 8931}
}

func defaultRedisConfig() *RedisConfig {
	return &RedisConfig{Addr: "localhost:6379"}
}

func defaultVoiceConfig() *VoiceConfig {
	return &VoiceConfig{
		DefaultVoice: "narrator",
		LanguageCode: "en-US",
		Voices: map[string]string{
			"narrator": "en-US-Chirp3-HD-Charon",
		},
		LockTTLMs:         30000,
		LockGraceMs:       5000,
		StartTimeoutMs:    5000,
		MaxPlayMs:         120000,
		RenderConcurrency: 2,
	}
}
