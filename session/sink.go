package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/EasterCompany/dex-voice-responder/interfaces"
	logger "github.com/EasterCompany/dex-voice-responder/log"
	"github.com/bwmarrin/discordgo"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
)

// Opus packets from the synthesis backend carry 20ms of audio each.
const defaultFrameDuration = 20 * time.Millisecond

// voiceConn is the subset of a Discord voice connection the sink needs.
type voiceConn interface {
	Speaking(bool) error
	Send() chan<- []byte
	Ready() bool
}

type discordVoice struct {
	vc *discordgo.VoiceConnection
}

func (d discordVoice) Speaking(b bool) error { return d.vc.Speaking(b) }
func (d discordVoice) Send() chan<- []byte   { return d.vc.OpusSend }
func (d discordVoice) Ready() bool           { return d.vc != nil && d.vc.Ready }

// DiscordSink streams OGG Opus audio into one voice connection. Play is
// asynchronous: it validates and unpacks the container, then paces the opus
// packets onto the connection from a goroutine and reports progress on the
// Events channel.
type DiscordSink struct {
	conn     voiceConn
	logger   logger.Logger
	events   chan interfaces.SinkEvent
	frameDur time.Duration
}

// NewDiscordSink wraps a live voice connection.
func NewDiscordSink(vc *discordgo.VoiceConnection, log logger.Logger) *DiscordSink {
	return newSink(discordVoice{vc: vc}, log)
}

func newSink(conn voiceConn, log logger.Logger) *DiscordSink {
	return &DiscordSink{
		conn:     conn,
		logger:   log,
		events:   make(chan interfaces.SinkEvent, 8),
		frameDur: defaultFrameDuration,
	}
}

// Events reports playback transitions. The channel is owned by the sink and
// stays open for its lifetime.
func (d *DiscordSink) Events() <-chan interfaces.SinkEvent { return d.events }

// Alive reports whether the underlying voice connection can accept audio.
func (d *DiscordSink) Alive() bool { return d.conn.Ready() }

// Play submits one rendered segment. A container parse failure is returned
// synchronously; everything after that is reported via Events.
func (d *DiscordSink) Play(ctx context.Context, audio []byte) error {
	frames, err := parseOpusFrames(audio)
	if err != nil {
		return fmt.Errorf("unreadable opus audio: %w", err)
	}
	if len(frames) == 0 {
		return errors.New("audio contains no opus packets")
	}
	go d.stream(ctx, frames)
	return nil
}

func (d *DiscordSink) stream(ctx context.Context, frames [][]byte) {
	if err := d.conn.Speaking(true); err != nil {
		d.emit(interfaces.SinkEvent{Kind: interfaces.SinkError, Err: err})
		return
	}
	defer func() {
		if err := d.conn.Speaking(false); err != nil {
			d.logger.Error("Failed to clear speaking state", err)
		}
	}()

	ticker := time.NewTicker(d.frameDur)
	defer ticker.Stop()

	for i, frame := range frames {
		select {
		case d.conn.Send() <- frame:
			if i == 0 {
				d.emit(interfaces.SinkEvent{Kind: interfaces.SinkPlaying})
			}
		case <-ctx.Done():
			d.emit(interfaces.SinkEvent{Kind: interfaces.SinkError, Err: ctx.Err()})
			return
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			d.emit(interfaces.SinkEvent{Kind: interfaces.SinkError, Err: ctx.Err()})
			return
		}
	}
	d.emit(interfaces.SinkEvent{Kind: interfaces.SinkIdle})
}

// emit delivers an event without blocking. When no request is consuming, the
// event is dropped: the stream must never stall on a full channel, or an
// abandoned playback would leak its goroutine and hold the speaking state.
func (d *DiscordSink) emit(ev interfaces.SinkEvent) {
	select {
	case d.events <- ev:
	default:
	}
}

// parseOpusFrames unpacks the OGG container into raw opus packets, dropping
// the OpusTags metadata page. The ID header page is consumed by the reader.
func parseOpusFrames(audio []byte) ([][]byte, error) {
	ogg, _, err := oggreader.NewWith(bytes.NewReader(audio))
	if err != nil {
		return nil, err
	}

	var frames [][]byte
	for {
		payload, _, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return nil, err
		}
		if bytes.HasPrefix(payload, []byte("OpusTags")) {
			continue
		}
		frames = append(frames, payload)
	}
}
