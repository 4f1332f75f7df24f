// Package coordinator wires segmentation, locking, rendering and playback
// together for one spoken response, and guarantees the speech lock is
// cleaned up exactly once however the attempt ends.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/EasterCompany/dex-voice-responder/interfaces"
	logger "github.com/EasterCompany/dex-voice-responder/log"
	"github.com/EasterCompany/dex-voice-responder/playback"
	"github.com/EasterCompany/dex-voice-responder/render"
	"github.com/EasterCompany/dex-voice-responder/segment"
	"github.com/EasterCompany/dex-voice-responder/speechlock"
)

// Request describes one spoken response. It lives for a single Respond call.
type Request struct {
	ResourceKey       string
	RawText           string
	DefaultVoiceKey   string
	TTL               time.Duration
	StartTimeout      time.Duration
	MaxPlay           time.Duration
	RenderConcurrency int
}

// Metrics counts response outcomes. Implementations must be safe for
// concurrent use.
type Metrics interface {
	ResponseSpoken()
	ResponseSkipped()
}

// Coordinator runs spoken responses. Different resource keys run fully in
// parallel; within one key the speech lock admits a single response at a
// time and contenders skip their turn instead of queueing.
type Coordinator struct {
	Lock      *speechlock.Lock
	Pipeline  *render.Pipeline
	Sequencer *playback.Sequencer
	Registry  interfaces.SessionRegistry
	Logger    logger.Logger

	// Metrics is optional; a nil value disables outcome counting.
	Metrics Metrics
}

// New creates a Coordinator.
func New(lock *speechlock.Lock, pipeline *render.Pipeline, sequencer *playback.Sequencer, registry interfaces.SessionRegistry, log logger.Logger) *Coordinator {
	return &Coordinator{Lock: lock, Pipeline: pipeline, Sequencer: sequencer, Registry: registry, Logger: log}
}

// Respond speaks one response on its resource's voice session. All failures
// are handled here; the only externally observable outcome of any failure is
// that no speech was produced for this turn.
func (c *Coordinator) Respond(ctx context.Context, req Request) {
	segs, explicit := segment.Split(req.RawText, req.DefaultVoiceKey)
	if len(segs) == 0 {
		return
	}

	sink, info, ok := c.Registry.Lookup(req.ResourceKey)
	if !ok {
		c.Logger.Info(fmt.Sprintf("No voice session registered for %s, skipping response", req.ResourceKey))
		return
	}

	token, err := c.Lock.TryAcquire(ctx, req.ResourceKey, req.TTL)
	if errors.Is(err, speechlock.ErrBusy) {
		// Normal contention: skip this turn entirely so a slow response
		// never backs up later ones.
		c.Logger.Info(fmt.Sprintf("Speech lock busy for %s (%s), skipping response", req.ResourceKey, sessionName(info)))
		if c.Metrics != nil {
			c.Metrics.ResponseSkipped()
		}
		return
	}
	if err != nil {
		c.Logger.Error(fmt.Sprintf("Failed to acquire speech lock for %s", req.ResourceKey), err)
		return
	}

	// Single cleanup for every terminal path, panics included. Release is
	// idempotent and cancels the failsafe timer; the Once keeps the reason
	// of the first terminal path.
	var once sync.Once
	cleanup := func(reason string) {
		once.Do(func() {
			c.Lock.Release(context.Background(), req.ResourceKey, token, reason)
		})
	}
	defer func() {
		if r := recover(); r != nil {
			c.Logger.Error(fmt.Sprintf("Panic while speaking on %s", req.ResourceKey), fmt.Errorf("%v", r))
			cleanup("panic")
		}
	}()

	rendered, err := c.Pipeline.Render(ctx, req.ResourceKey, token, segs, req.RenderConcurrency)
	if err != nil {
		c.Logger.Error(fmt.Sprintf("Render failed for %s (%s)", req.ResourceKey, sessionName(info)), err)
		cleanup(releaseReason(err))
		return
	}

	if err := c.Sequencer.Play(ctx, req.ResourceKey, token, sink, rendered, explicit); err != nil {
		c.Logger.Error(fmt.Sprintf("Playback failed for %s (%s)", req.ResourceKey, sessionName(info)), err)
		cleanup(releaseReason(err))
		return
	}

	cleanup("end-of-segments")
	if c.Metrics != nil {
		c.Metrics.ResponseSpoken()
	}
}

// releaseReason maps an error to the reason tag recorded with the release.
func releaseReason(err error) string {
	var synthErr *render.SynthesisError
	var sinkErr *playback.SinkError
	switch {
	case errors.Is(err, speechlock.ErrLockLost):
		return "lock-lost"
	case errors.Is(err, playback.ErrStartTimeout):
		return "start-timeout"
	case errors.Is(err, playback.ErrPlaybackTimeout):
		return "playback-timeout"
	case errors.As(err, &synthErr):
		return "synthesis-error"
	case errors.As(err, &sinkErr):
		return "sink-error"
	default:
		return "error"
	}
}

func sessionName(info *interfaces.SessionInfo) string {
	if info == nil {
		return "unknown session"
	}
	return fmt.Sprintf("%s / %s", info.GuildName, info.ChannelName)
}
