package events

import (
	"fmt"
	"time"

	"github.com/EasterCompany/dex-voice-responder/interfaces"
	"github.com/EasterCompany/dex-voice-responder/session"
	"github.com/bwmarrin/discordgo"
)

// joinVoice connects to the author's voice channel and registers the guild's
// audio sink. A second !join while connected moves the session.
func (h *Handler) joinVoice(s *discordgo.Session, m *discordgo.MessageCreate) {
	g, err := s.State.Guild(m.GuildID)
	if err != nil {
		h.Logger.Error(fmt.Sprintf("Could not resolve guild %s for !join", m.GuildID), err)
		return
	}

	channelID := ""
	for _, vs := range g.VoiceStates {
		if vs.UserID == m.Author.ID {
			channelID = vs.ChannelID
			break
		}
	}
	if channelID == "" {
		_, _ = s.ChannelMessageSend(m.ChannelID, "Join a voice channel first, then use `!join`.")
		return
	}

	// Self-deafened: this service only speaks, it never listens.
	vc, err := s.ChannelVoiceJoin(m.GuildID, channelID, false, true)
	if err != nil {
		h.Logger.Error(fmt.Sprintf("Could not join voice channel %s in guild %s", channelID, m.GuildID), err)
		return
	}

	for i := 0; i < 100; i++ {
		if vc.Ready {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if !vc.Ready {
		h.Logger.Error("Timeout waiting for voice connection to be ready", nil)
		return
	}

	info := &interfaces.SessionInfo{
		GuildID:   m.GuildID,
		GuildName: g.Name,
		ChannelID: channelID,
	}
	if channel, err := s.State.Channel(channelID); err == nil {
		info.ChannelName = channel.Name
	}

	h.Registry.Register(m.GuildID, session.NewDiscordSink(vc, h.Logger), info)
	if h.Status != nil {
		h.Status.IncrementVoiceConnections()
	}
	h.Logger.Info(fmt.Sprintf("Voice session registered for %s / %s", info.GuildName, info.ChannelName))
}

// leaveVoice unregisters the guild's sink and disconnects.
func (h *Handler) leaveVoice(s *discordgo.Session, m *discordgo.MessageCreate) {
	h.Registry.Unregister(m.GuildID)
	if vc, ok := s.VoiceConnections[m.GuildID]; ok {
		if err := vc.Disconnect(); err != nil {
			h.Logger.Error(fmt.Sprintf("Could not disconnect voice in guild %s", m.GuildID), err)
		}
	}
	h.Logger.Info(fmt.Sprintf("Voice session unregistered for guild %s", m.GuildID))
}
