// Package playback drives rendered segments through the audio sink one at a
// time, enforcing start and max-duration watchdogs and ownership guards
// before every externally observable action.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/EasterCompany/dex-voice-responder/interfaces"
	logger "github.com/EasterCompany/dex-voice-responder/log"
	"github.com/EasterCompany/dex-voice-responder/segment"
	"github.com/EasterCompany/dex-voice-responder/speechlock"
)

// State is the per-segment playback state.
type State int

const (
	StateQueued State = iota
	StatePlaying
	StateIdle
	StateErrored
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StatePlaying:
		return "playing"
	case StateIdle:
		return "idle"
	case StateErrored:
		return "errored"
	case StateTimedOut:
		return "timed-out"
	}
	return "unknown"
}

// ErrStartTimeout means the sink never reported Playing within the start
// timeout.
var ErrStartTimeout = errors.New("playback: sink did not start within timeout")

// ErrPlaybackTimeout means the max-duration watchdog fired before the sink
// went idle.
var ErrPlaybackTimeout = errors.New("playback: segment exceeded max play duration")

// SinkError wraps a failure reported by, or while talking to, the sink.
type SinkError struct {
	Index int
	Err   error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("playback: segment %d: sink error: %v", e.Index, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// Sequencer plays rendered segments in index order.
type Sequencer struct {
	Lock         *speechlock.Lock
	Logger       logger.Logger
	StartTimeout time.Duration
	MaxPlay      time.Duration
}

// NewSequencer creates a playback sequencer.
func NewSequencer(lock *speechlock.Lock, log logger.Logger, startTimeout, maxPlay time.Duration) *Sequencer {
	return &Sequencer{Lock: lock, Logger: log, StartTimeout: startTimeout, MaxPlay: maxPlay}
}

// Play drives every segment through the sink sequentially. explicitVoices
// reports whether the response used explicit voice markers; it selects the
// auto-release-on-idle policy:
//
// For a markerless response the sink's own Idle event releases the lock as a
// safety net, covering sinks that signal idle outside the sequencer's wait.
// For explicit multi-voice responses that path is disabled between segments,
// so only the sequencer paces the sequence, and re-enabled for the final
// segment only. Releasing on every idle would drop the lock mid-sequence.
//
// The caller performs the terminal release; Play returning nil means all
// segments completed.
//
// The sink outlives individual requests, so events still queued from an
// earlier aborted request are discarded before the sequence starts: a
// sequence must only ever react to events its own audio caused.
func (q *Sequencer) Play(ctx context.Context, resourceKey, ownerToken string, sink interfaces.AudioSink, segs []segment.Segment, explicitVoices bool) error {
	if len(segs) == 0 {
		return nil
	}

	drainPending(sink)

	// The dispatcher forwards sink events to the wait loops below and owns
	// the auto-release-on-idle path, independent of the sequencer's waits.
	// The owner token is threaded in explicitly; nothing here closes over
	// mutable per-request state.
	var autoRelease atomic.Bool
	events := make(chan interfaces.SinkEvent, 8)
	done := make(chan struct{})
	defer close(done)

	go q.dispatch(resourceKey, ownerToken, sink, events, &autoRelease, done)

	last := len(segs) - 1
	for i := range segs {
		seg := &segs[i]

		// Another request may now legitimately own the resource.
		if !q.Lock.IsOwner(ctx, resourceKey, ownerToken) {
			return speechlock.ErrLockLost
		}
		if !sink.Alive() {
			return &SinkError{Index: seg.Index, Err: errors.New("sink is not ready")}
		}

		autoRelease.Store(!explicitVoices || i == last)

		if err := q.playSegment(ctx, events, resourceKey, ownerToken, sink, seg); err != nil {
			return err
		}
	}
	return nil
}

// playSegment submits one segment and waits it through. The segment's stream
// is cancelled on every exit, so an aborted playback cannot keep pacing audio
// onto the connection or queueing events into the next request.
func (q *Sequencer) playSegment(ctx context.Context, events <-chan interfaces.SinkEvent, resourceKey, ownerToken string, sink interfaces.AudioSink, seg *segment.Segment) error {
	playCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := sink.Play(playCtx, seg.Audio); err != nil {
		return &SinkError{Index: seg.Index, Err: err}
	}
	q.Lock.Refresh(ctx, resourceKey, ownerToken, fmt.Sprintf("segment-%d", seg.Index))

	state, err := q.waitPlaying(ctx, events, seg.Index)
	if err != nil {
		return err
	}
	q.Logger.Info(fmt.Sprintf("Segment %d on %s: %s", seg.Index, resourceKey, state))

	// Very short audio can go idle before Playing is observed; in that
	// case the segment is already done.
	if state != StateIdle {
		state, err = q.waitIdle(ctx, events, seg.Index)
		if err != nil {
			return err
		}
		q.Logger.Info(fmt.Sprintf("Segment %d on %s: %s", seg.Index, resourceKey, state))
	}
	return nil
}

// drainPending discards events left queued by an earlier request on the same
// sink.
func drainPending(sink interfaces.AudioSink) {
	for {
		select {
		case <-sink.Events():
		default:
			return
		}
	}
}

// dispatch pumps sink events towards the sequencer and fires the
// auto-release safety net on Idle when the current segment allows it.
func (q *Sequencer) dispatch(resourceKey, ownerToken string, sink interfaces.AudioSink, events chan<- interfaces.SinkEvent, autoRelease *atomic.Bool, done <-chan struct{}) {
	for {
		select {
		case ev, ok := <-sink.Events():
			if !ok {
				return
			}
			if ev.Kind == interfaces.SinkIdle && autoRelease.Load() {
				q.Lock.Release(context.Background(), resourceKey, ownerToken, "player-idle")
			}
			select {
			case events <- ev:
			case <-done:
				return
			}
		case <-done:
			return
		}
	}
}

// waitPlaying blocks until the sink reports Playing, within the start
// timeout.
func (q *Sequencer) waitPlaying(ctx context.Context, events <-chan interfaces.SinkEvent, index int) (State, error) {
	timer := time.NewTimer(q.StartTimeout)
	defer timer.Stop()
	for {
		select {
		case ev := <-events:
			switch ev.Kind {
			case interfaces.SinkPlaying:
				return StatePlaying, nil
			case interfaces.SinkError:
				return StateErrored, &SinkError{Index: index, Err: ev.Err}
			case interfaces.SinkIdle:
				return StateIdle, nil
			}
		case <-timer.C:
			return StateTimedOut, ErrStartTimeout
		case <-ctx.Done():
			return StateErrored, ctx.Err()
		}
	}
}

// waitIdle blocks until the sink goes idle, bounded by the max-play
// watchdog. A stuck sink must not hold the resource forever.
func (q *Sequencer) waitIdle(ctx context.Context, events <-chan interfaces.SinkEvent, index int) (State, error) {
	watchdog := time.NewTimer(q.MaxPlay)
	defer watchdog.Stop()
	for {
		select {
		case ev := <-events:
			switch ev.Kind {
			case interfaces.SinkIdle:
				return StateIdle, nil
			case interfaces.SinkError:
				return StateErrored, &SinkError{Index: index, Err: ev.Err}
			}
			// Playing events while already playing are ignored.
		case <-watchdog.C:
			return StateTimedOut, ErrPlaybackTimeout
		case <-ctx.Done():
			return StateErrored, ctx.Err()
		}
	}
}
