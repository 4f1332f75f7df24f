package interfaces

import "context"

// SinkEventKind identifies an audio sink event.
type SinkEventKind int

const (
	SinkPlaying SinkEventKind = iota
	SinkIdle
	SinkError
)

func (k SinkEventKind) String() string {
	switch k {
	case SinkPlaying:
		return "playing"
	case SinkIdle:
		return "idle"
	case SinkError:
		return "error"
	}
	return "unknown"
}

// SinkEvent is emitted by an AudioSink as playback progresses.
type SinkEvent struct {
	Kind SinkEventKind
	Err  error
}

// AudioSink accepts one playable audio buffer at a time and reports progress
// on its event channel.
type AudioSink interface {
	// Play starts playback of the given audio. It returns once the request is
	// accepted; progress arrives as SinkEvents.
	Play(ctx context.Context, audio []byte) error
	// Events returns the sink's event stream.
	Events() <-chan SinkEvent
	// Alive reports whether the sink can accept a new play request.
	Alive() bool
}

// SessionInfo carries session metadata for logging only.
type SessionInfo struct {
	GuildID     string
	GuildName   string
	ChannelID   string
	ChannelName string
}

// SessionRegistry is a read-only lookup from resource key to the voice
// session's sink and metadata.
type SessionRegistry interface {
	Lookup(resourceKey string) (AudioSink, *SessionInfo, bool)
}
