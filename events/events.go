// Package events routes Discord gateway events into voice session management
// and spoken responses.
package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/EasterCompany/dex-voice-responder/config"
	"github.com/EasterCompany/dex-voice-responder/coordinator"
	"github.com/EasterCompany/dex-voice-responder/health"
	logger "github.com/EasterCompany/dex-voice-responder/log"
	"github.com/EasterCompany/dex-voice-responder/session"
	"github.com/bwmarrin/discordgo"
)

// Handler owns the gateway event callbacks. One handler serves all guilds;
// per-guild isolation happens in the coordinator.
type Handler struct {
	Coordinator *coordinator.Coordinator
	Registry    *session.Registry
	VoiceCfg    *config.VoiceConfig
	Logger      logger.Logger
	Status      *health.StatusServer
}

// NewHandler creates the event handler.
func NewHandler(coord *coordinator.Coordinator, registry *session.Registry, voiceCfg *config.VoiceConfig, log logger.Logger, status *health.StatusServer) *Handler {
	return &Handler{
		Coordinator: coord,
		Registry:    registry,
		VoiceCfg:    voiceCfg,
		Logger:      log,
		Status:      status,
	}
}

// Register attaches all gateway callbacks to the session.
func (h *Handler) Register(s *discordgo.Session) {
	s.AddHandler(h.Ready)
	s.AddHandler(h.MessageCreate)
}

// Ready is triggered once the gateway connection is established.
func (h *Handler) Ready(s *discordgo.Session, r *discordgo.Ready) {
	h.Logger.Info(fmt.Sprintf("Connected as %s#%s across %d guild(s)", r.User.Username, r.User.Discriminator, len(r.Guilds)))
}

// MessageCreate handles incoming messages and routes commands.
func (h *Handler) MessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author.ID == s.State.User.ID || m.Author.Bot {
		return
	}
	if m.GuildID == "" {
		return
	}

	switch {
	case strings.HasPrefix(m.Content, "!join"):
		h.joinVoice(s, m)
	case strings.HasPrefix(m.Content, "!leave"):
		h.leaveVoice(s, m)
	case strings.HasPrefix(m.Content, "!say "):
		h.speak(m.GuildID, strings.TrimPrefix(m.Content, "!say "))
	default:
		if text, ok := mentionText(s, m); ok {
			h.speak(m.GuildID, text)
		}
	}
}

// speak dispatches one spoken response for a guild. Responses run in their
// own goroutine so a long synthesis never blocks the gateway callbacks;
// contention within the guild is resolved by the speech lock.
func (h *Handler) speak(guildID, text string) {
	req := coordinator.Request{
		ResourceKey:       guildID,
		RawText:           text,
		DefaultVoiceKey:   h.VoiceCfg.DefaultVoice,
		TTL:               time.Duration(h.VoiceCfg.LockTTLMs) * time.Millisecond,
		StartTimeout:      time.Duration(h.VoiceCfg.StartTimeoutMs) * time.Millisecond,
		MaxPlay:           time.Duration(h.VoiceCfg.MaxPlayMs) * time.Millisecond,
		RenderConcurrency: h.VoiceCfg.RenderConcurrency,
	}
	go h.Coordinator.Respond(context.Background(), req)
}

// mentionText returns the message content with the bot mention stripped, and
// whether the bot was mentioned at all.
func mentionText(s *discordgo.Session, m *discordgo.MessageCreate) (string, bool) {
	mentioned := false
	for _, u := range m.Mentions {
		if u.ID == s.State.User.ID {
			mentioned = true
			break
		}
	}
	if !mentioned {
		return "", false
	}
	text := strings.ReplaceAll(m.Content, "<@"+s.State.User.ID+">", "")
	text = strings.ReplaceAll(text, "<@!"+s.State.User.ID+">", "")
	return strings.TrimSpace(text), true
}
