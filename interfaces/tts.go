package interfaces

import "context"

// Synthesizer is the interface for the text-to-speech client.
type Synthesizer interface {
	// Synthesize turns one text run into audio bytes for the named voice.
	Synthesize(ctx context.Context, text, voiceKey string) ([]byte, error)
}
