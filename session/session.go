// Package session manages the Discord session, the per-guild voice session
// registry and the audio sink that streams synthesized speech into a voice
// channel.
package session

import (
	"github.com/bwmarrin/discordgo"
)

// NewSession creates a new Discord session
func NewSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsMessageContent

	return session, nil
}
