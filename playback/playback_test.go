package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/EasterCompany/dex-voice-responder/cache"
	"github.com/EasterCompany/dex-voice-responder/interfaces"
	logger "github.com/EasterCompany/dex-voice-responder/log"
	"github.com/EasterCompany/dex-voice-responder/segment"
	"github.com/EasterCompany/dex-voice-responder/speechlock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSink emits a scripted event sequence per play request.
type fakeSink struct {
	mu       sync.Mutex
	events   chan interfaces.SinkEvent
	plays    int
	ctxs     []context.Context
	alive    bool
	playErr  error
	scripts  []func(emit func(interfaces.SinkEvent))
	playGap  time.Duration // delay before the script runs
	defaults func(emit func(interfaces.SinkEvent))
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		events: make(chan interfaces.SinkEvent, 16),
		alive:  true,
		defaults: func(emit func(interfaces.SinkEvent)) {
			emit(interfaces.SinkEvent{Kind: interfaces.SinkPlaying})
			emit(interfaces.SinkEvent{Kind: interfaces.SinkIdle})
		},
	}
}

func (f *fakeSink) Play(ctx context.Context, audio []byte) error {
	f.mu.Lock()
	idx := f.plays
	f.plays++
	f.ctxs = append(f.ctxs, ctx)
	script := f.defaults
	if idx < len(f.scripts) && f.scripts[idx] != nil {
		script = f.scripts[idx]
	}
	gap := f.playGap
	err := f.playErr
	f.mu.Unlock()

	if err != nil {
		return err
	}
	go func() {
		if gap > 0 {
			time.Sleep(gap)
		}
		script(func(ev interfaces.SinkEvent) { f.events <- ev })
	}()
	return nil
}

func (f *fakeSink) Events() <-chan interfaces.SinkEvent { return f.events }

func (f *fakeSink) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeSink) playCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plays
}

func (f *fakeSink) playContext(i int) context.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ctxs[i]
}

func newTestSequencer(t *testing.T, startTimeout, maxPlay time.Duration) (*Sequencer, *speechlock.Lock, string) {
	t.Helper()
	lock := speechlock.New(cache.NewMemory(), logger.NewStderrLogger(), time.Hour)
	token, err := lock.TryAcquire(context.Background(), "g1", time.Hour)
	require.NoError(t, err)
	return NewSequencer(lock, logger.NewStderrLogger(), startTimeout, maxPlay), lock, token
}

func renderedSegments(n int) []segment.Segment {
	segs := make([]segment.Segment, n)
	for i := range segs {
		segs[i] = segment.Segment{Index: i, VoiceKey: "alice", Text: "t", Audio: []byte{0x01}}
	}
	return segs
}

func TestPlay_AllSegmentsInOrder(t *testing.T) {
	q, _, token := newTestSequencer(t, time.Second, time.Second)
	sink := newFakeSink()

	err := q.Play(context.Background(), "g1", token, sink, renderedSegments(3), true)

	require.NoError(t, err)
	assert.Equal(t, 3, sink.playCount())
}

func TestPlay_StartTimeout(t *testing.T) {
	q, _, token := newTestSequencer(t, 50*time.Millisecond, time.Second)
	sink := newFakeSink()
	sink.scripts = []func(emit func(interfaces.SinkEvent)){
		func(emit func(interfaces.SinkEvent)) {}, // never starts
	}

	err := q.Play(context.Background(), "g1", token, sink, renderedSegments(2), true)

	assert.ErrorIs(t, err, ErrStartTimeout)
	assert.Equal(t, 1, sink.playCount())
	assert.Error(t, sink.playContext(0).Err(), "aborting must cancel the segment's stream")
}

func TestPlay_StaleEventsFromAbortedRequestIgnored(t *testing.T) {
	q, lock, token := newTestSequencer(t, 50*time.Millisecond, time.Second)
	sink := newFakeSink()
	sink.scripts = []func(emit func(interfaces.SinkEvent)){
		func(emit func(interfaces.SinkEvent)) {}, // never starts
		func(emit func(interfaces.SinkEvent)) {}, // never starts
	}

	err := q.Play(context.Background(), "g1", token, sink, renderedSegments(1), false)
	require.ErrorIs(t, err, ErrStartTimeout)

	// Late events from the abandoned playback arrive after its request
	// already returned.
	sink.events <- interfaces.SinkEvent{Kind: interfaces.SinkPlaying}
	sink.events <- interfaces.SinkEvent{Kind: interfaces.SinkIdle}

	// The next request on the same sink must not mistake those events for
	// its own audio: it times out too, and the stale idle must not trip the
	// auto-release on its lock.
	err = q.Play(context.Background(), "g1", token, sink, renderedSegments(1), false)
	assert.ErrorIs(t, err, ErrStartTimeout)
	assert.True(t, lock.IsOwner(context.Background(), "g1", token),
		"a stale idle must not release the current owner's lock")
}

func TestPlay_WatchdogAbortsStuckPlayback(t *testing.T) {
	maxPlay := 60 * time.Millisecond
	q, _, token := newTestSequencer(t, time.Second, maxPlay)
	sink := newFakeSink()
	sink.scripts = []func(emit func(interfaces.SinkEvent)){
		func(emit func(interfaces.SinkEvent)) {
			// Enters Playing but never goes idle.
			emit(interfaces.SinkEvent{Kind: interfaces.SinkPlaying})
		},
	}

	start := time.Now()
	err := q.Play(context.Background(), "g1", token, sink, renderedSegments(3), true)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrPlaybackTimeout)
	// Release happens within maxPlay plus a small epsilon, and no further
	// segment plays. The stuck segment's stream is cancelled so it stops
	// pacing audio.
	assert.Less(t, elapsed, maxPlay+100*time.Millisecond)
	assert.Equal(t, 1, sink.playCount())
	assert.Error(t, sink.playContext(0).Err(), "watchdog abort must cancel the segment's stream")
}

func TestPlay_SinkErrorAborts(t *testing.T) {
	q, _, token := newTestSequencer(t, time.Second, time.Second)
	sink := newFakeSink()
	sink.scripts = []func(emit func(interfaces.SinkEvent)){
		func(emit func(interfaces.SinkEvent)) {
			emit(interfaces.SinkEvent{Kind: interfaces.SinkPlaying})
			emit(interfaces.SinkEvent{Kind: interfaces.SinkError, Err: errors.New("voice ws dropped")})
		},
	}

	err := q.Play(context.Background(), "g1", token, sink, renderedSegments(2), true)

	var sinkErr *SinkError
	require.ErrorAs(t, err, &sinkErr)
	assert.Equal(t, 0, sinkErr.Index)
	assert.Equal(t, 1, sink.playCount())
}

func TestPlay_LockLostStopsSequence(t *testing.T) {
	q, lock, token := newTestSequencer(t, time.Second, time.Second)
	sink := newFakeSink()
	sink.scripts = []func(emit func(interfaces.SinkEvent)){
		func(emit func(interfaces.SinkEvent)) {
			emit(interfaces.SinkEvent{Kind: interfaces.SinkPlaying})
			// Ownership is taken away while the first segment plays.
			lock.Release(context.Background(), "g1", token, "forced")
			emit(interfaces.SinkEvent{Kind: interfaces.SinkIdle})
		},
	}

	err := q.Play(context.Background(), "g1", token, sink, renderedSegments(3), true)

	assert.ErrorIs(t, err, speechlock.ErrLockLost)
	assert.Equal(t, 1, sink.playCount())
}

func TestPlay_DeadSinkRefused(t *testing.T) {
	q, _, token := newTestSequencer(t, time.Second, time.Second)
	sink := newFakeSink()
	sink.alive = false

	err := q.Play(context.Background(), "g1", token, sink, renderedSegments(1), false)

	var sinkErr *SinkError
	assert.ErrorAs(t, err, &sinkErr)
	assert.Equal(t, 0, sink.playCount())
}

func TestPlay_AutoReleaseOnIdle_SingleSegment(t *testing.T) {
	q, lock, token := newTestSequencer(t, time.Second, time.Second)
	sink := newFakeSink()

	// Markerless response: the sink's own idle event releases the lock as a
	// safety net, before the caller's terminal release.
	err := q.Play(context.Background(), "g1", token, sink, renderedSegments(1), false)

	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return !lock.IsOwner(context.Background(), "g1", token)
	}, time.Second, 10*time.Millisecond)
}

func TestPlay_NoAutoReleaseBetweenMultiVoiceSegments(t *testing.T) {
	q, lock, token := newTestSequencer(t, time.Second, time.Second)
	sink := newFakeSink()

	held := make([]bool, 0, 2)
	sink.scripts = []func(emit func(interfaces.SinkEvent)){
		func(emit func(interfaces.SinkEvent)) {
			emit(interfaces.SinkEvent{Kind: interfaces.SinkPlaying})
			emit(interfaces.SinkEvent{Kind: interfaces.SinkIdle})
		},
		func(emit func(interfaces.SinkEvent)) {
			// By the time segment 1 plays, segment 0's idle must not have
			// released the lock.
			held = append(held, lock.IsOwner(context.Background(), "g1", token))
			emit(interfaces.SinkEvent{Kind: interfaces.SinkPlaying})
			emit(interfaces.SinkEvent{Kind: interfaces.SinkIdle})
		},
	}

	err := q.Play(context.Background(), "g1", token, sink, renderedSegments(2), true)

	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.True(t, held[0], "idle after a mid-sequence segment must not release the lock")

	// The final segment's idle re-enables the safety net.
	assert.Eventually(t, func() bool {
		return !lock.IsOwner(context.Background(), "g1", token)
	}, time.Second, 10*time.Millisecond)
}

func TestPlay_NoSegmentsIsNoop(t *testing.T) {
	q, _, token := newTestSequencer(t, time.Second, time.Second)
	sink := newFakeSink()

	err := q.Play(context.Background(), "g1", token, sink, nil, false)

	assert.NoError(t, err)
	assert.Equal(t, 0, sink.playCount())
}
