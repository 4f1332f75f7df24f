// Package tts implements the synthesis client on Google Cloud
// Text-to-Speech. Audio is requested as OGG Opus so the Discord sink can
// stream it without transcoding.
package tts

import (
	"context"
	"fmt"
	"strings"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"github.com/EasterCompany/dex-voice-responder/config"
	texttospeechpb "google.golang.org/genproto/googleapis/cloud/texttospeech/v1"
)

// Client synthesizes speech for named voice keys. No retries are performed
// here; one failed segment aborts the whole response upstream.
type Client struct {
	client       *texttospeech.Client
	languageCode string
	defaultVoice string
	voices       map[string]string
}

// NewClient creates a synthesis client from the voice config. The voices map
// translates lowercase voice keys into cloud voice names; unknown keys fall
// back to the default voice so an unrecognized speaker marker still speaks.
func NewClient(ctx context.Context, cfg *config.VoiceConfig) (*Client, error) {
	c, err := texttospeech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create TTS client: %w", err)
	}

	voices := make(map[string]string, len(cfg.Voices))
	for key, name := range cfg.Voices {
		voices[strings.ToLower(key)] = name
	}

	return &Client{
		client:       c,
		languageCode: cfg.LanguageCode,
		defaultVoice: strings.ToLower(cfg.DefaultVoice),
		voices:       voices,
	}, nil
}

// Synthesize turns one text run into OGG Opus audio bytes.
func (c *Client) Synthesize(ctx context.Context, text, voiceKey string) ([]byte, error) {
	req := &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: c.languageCode,
			Name:         c.voiceName(voiceKey),
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: texttospeechpb.AudioEncoding_OGG_OPUS,
		},
	}

	resp, err := c.client.SynthesizeSpeech(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("synthesis request failed for voice %s: %w", voiceKey, err)
	}
	if len(resp.AudioContent) == 0 {
		return nil, fmt.Errorf("synthesis returned empty audio for voice %s", voiceKey)
	}
	return resp.AudioContent, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) voiceName(voiceKey string) string {
	if name, ok := c.voices[strings.ToLower(voiceKey)]; ok {
		return name
	}
	return c.voices[c.defaultVoice]
}
