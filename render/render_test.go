package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/EasterCompany/dex-voice-responder/cache"
	logger "github.com/EasterCompany/dex-voice-responder/log"
	"github.com/EasterCompany/dex-voice-responder/segment"
	"github.com/EasterCompany/dex-voice-responder/speechlock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSynthesizer returns deterministic audio and supports per-index delays
// to simulate out-of-order completion.
type fakeSynthesizer struct {
	mu         sync.Mutex
	calls      int32
	concurrent int32
	maxSeen    int32
	delays     map[string]time.Duration
	fail       map[string]error
	empty      map[string]bool
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, text, voiceKey string) ([]byte, error) {
	atomic.AddInt32(&f.calls, 1)
	cur := atomic.AddInt32(&f.concurrent, 1)
	defer atomic.AddInt32(&f.concurrent, -1)
	for {
		max := atomic.LoadInt32(&f.maxSeen)
		if cur <= max || atomic.CompareAndSwapInt32(&f.maxSeen, max, cur) {
			break
		}
	}

	f.mu.Lock()
	delay := f.delays[text]
	failErr := f.fail[text]
	empty := f.empty[text]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failErr != nil {
		return nil, failErr
	}
	if empty {
		return []byte{}, nil
	}
	return []byte("audio:" + text), nil
}

func newTestPipeline(t *testing.T, tts *fakeSynthesizer) (*Pipeline, *speechlock.Lock, string, string) {
	t.Helper()
	lock := speechlock.New(cache.NewMemory(), logger.NewStderrLogger(), time.Second)
	token, err := lock.TryAcquire(context.Background(), "g1", 30*time.Second)
	require.NoError(t, err)
	return NewPipeline(tts, lock, logger.NewStderrLogger()), lock, "g1", token
}

func makeSegments(n int) []segment.Segment {
	segs := make([]segment.Segment, n)
	for i := range segs {
		segs[i] = segment.Segment{Index: i, VoiceKey: "alice", Text: fmt.Sprintf("seg-%d", i)}
	}
	return segs
}

func TestRender_OrderingUnderSkew(t *testing.T) {
	tts := &fakeSynthesizer{delays: map[string]time.Duration{
		"seg-0": 80 * time.Millisecond,
		"seg-1": 40 * time.Millisecond,
		"seg-3": 0, // finishes before seg-0
	}}
	p, _, key, token := newTestPipeline(t, tts)

	out, err := p.Render(context.Background(), key, token, makeSegments(5), 3)

	require.NoError(t, err)
	require.Len(t, out, 5)
	for i, s := range out {
		assert.Equal(t, i, s.Index)
		assert.Equal(t, []byte(fmt.Sprintf("audio:seg-%d", i)), s.Audio)
	}
}

func TestRender_ConcurrencyBounded(t *testing.T) {
	tts := &fakeSynthesizer{delays: map[string]time.Duration{
		"seg-0": 30 * time.Millisecond,
		"seg-1": 30 * time.Millisecond,
		"seg-2": 30 * time.Millisecond,
		"seg-3": 30 * time.Millisecond,
		"seg-4": 30 * time.Millisecond,
		"seg-5": 30 * time.Millisecond,
	}}
	p, _, key, token := newTestPipeline(t, tts)

	_, err := p.Render(context.Background(), key, token, makeSegments(6), 2)

	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&tts.maxSeen), int32(2))
	assert.Equal(t, int32(6), atomic.LoadInt32(&tts.calls))
}

func TestRender_SingleSegmentInline(t *testing.T) {
	tts := &fakeSynthesizer{}
	p, _, key, token := newTestPipeline(t, tts)

	out, err := p.Render(context.Background(), key, token, makeSegments(1), 4)

	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, []byte("audio:seg-0"), out[0].Audio)
	assert.Equal(t, int32(1), atomic.LoadInt32(&tts.calls))
}

func TestRender_SynthesisFailureAborts(t *testing.T) {
	boom := errors.New("http 500")
	tts := &fakeSynthesizer{
		fail: map[string]error{"seg-1": boom},
		delays: map[string]time.Duration{
			"seg-2": 50 * time.Millisecond,
			"seg-3": 50 * time.Millisecond,
		},
	}
	p, _, key, token := newTestPipeline(t, tts)

	out, err := p.Render(context.Background(), key, token, makeSegments(4), 2)

	assert.Nil(t, out)
	var synthErr *SynthesisError
	require.ErrorAs(t, err, &synthErr)
	assert.Equal(t, 1, synthErr.Index)
	assert.ErrorIs(t, err, boom)
}

func TestRender_EmptyAudioIsFailure(t *testing.T) {
	tts := &fakeSynthesizer{empty: map[string]bool{"seg-0": true}}
	p, _, key, token := newTestPipeline(t, tts)

	out, err := p.Render(context.Background(), key, token, makeSegments(1), 1)

	assert.Nil(t, out)
	var synthErr *SynthesisError
	require.ErrorAs(t, err, &synthErr)
}

func TestRender_LockLostAborts(t *testing.T) {
	tts := &fakeSynthesizer{}
	p, lock, key, token := newTestPipeline(t, tts)

	// Release before rendering: the first refresh fails and nothing renders.
	lock.Release(context.Background(), key, token, "test")

	out, err := p.Render(context.Background(), key, token, makeSegments(3), 2)

	assert.Nil(t, out)
	assert.ErrorIs(t, err, speechlock.ErrLockLost)
	assert.Equal(t, int32(0), atomic.LoadInt32(&tts.calls))
}

func TestRender_NoSegments(t *testing.T) {
	tts := &fakeSynthesizer{}
	p, _, key, token := newTestPipeline(t, tts)

	out, err := p.Render(context.Background(), key, token, nil, 2)

	assert.NoError(t, err)
	assert.Nil(t, out)
}
