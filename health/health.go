// Package health reports the status of this service's external connections
// and serves it over a local HTTP endpoint.
package health

import (
	"context"
	"fmt"

	"github.com/EasterCompany/dex-voice-responder/cache"
	"github.com/EasterCompany/dex-voice-responder/config"
	"github.com/bwmarrin/discordgo"
)

// GetDiscordStatus checks and returns the status of the Discord connection as a formatted string.
func GetDiscordStatus(s *discordgo.Session) string {
	if s.DataReady {
		return "**OK**"
	}
	if err := s.Open(); err != nil {
		return fmt.Sprintf("**ERROR**: `%v`", err)
	}
	return "**OK** (reconnected)"
}

// GetCacheStatus checks and returns the status of a cache connection as a formatted string.
func GetCacheStatus(ctx context.Context, c cache.Cache, cfg *config.RedisConfig) string {
	if cfg == nil || cfg.Addr == "" {
		return "`Not Configured`"
	}
	if c == nil {
		return "**ERROR**: `Initialization failed`"
	}
	if err := c.Ping(ctx); err != nil {
		return fmt.Sprintf("**ERROR**: `%v`", err)
	}
	return "**OK**"
}

// GetActiveVoiceSessions returns a map of voice channel names to guild names.
func GetActiveVoiceSessions(s *discordgo.Session) map[string]string {
	sessions := make(map[string]string)
	for _, vc := range s.VoiceConnections {
		channel, err := s.Channel(vc.ChannelID)
		if err != nil {
			continue
		}
		guild, err := s.Guild(vc.GuildID)
		if err != nil {
			continue
		}
		sessions[channel.Name] = guild.Name
	}
	return sessions
}
