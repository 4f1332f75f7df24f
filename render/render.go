// Package render drives speech synthesis for a response's segments with a
// bounded worker pool, preserving segment order regardless of completion
// order and keeping the speech lock alive while work is in flight.
package render

import (
	"context"
	"fmt"
	"sync"

	"github.com/EasterCompany/dex-voice-responder/interfaces"
	logger "github.com/EasterCompany/dex-voice-responder/log"
	"github.com/EasterCompany/dex-voice-responder/segment"
	"github.com/EasterCompany/dex-voice-responder/speechlock"
)

// SynthesisError reports a failed or empty synthesis for one segment. One
// failed segment aborts the whole response; no retries are performed here.
type SynthesisError struct {
	Index    int
	VoiceKey string
	Err      error
}

func (e *SynthesisError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("render: segment %d (%s): synthesis returned empty audio", e.Index, e.VoiceKey)
	}
	return fmt.Sprintf("render: segment %d (%s): %v", e.Index, e.VoiceKey, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// Pipeline renders segments via the synthesis client.
type Pipeline struct {
	TTS    interfaces.Synthesizer
	Lock   *speechlock.Lock
	Logger logger.Logger
}

// NewPipeline creates a render pipeline.
func NewPipeline(tts interfaces.Synthesizer, lock *speechlock.Lock, log logger.Logger) *Pipeline {
	return &Pipeline{TTS: tts, Lock: lock, Logger: log}
}

// Render synthesizes audio for every segment and returns the segments with
// their Audio filled in, ordered by original index. Workers claim indexes
// from a shared counter; each refreshes the lock immediately before and after
// its synthesis call and aborts the whole pipeline if the refresh fails,
// so no synthesis is wasted after losing ownership.
func (p *Pipeline) Render(ctx context.Context, resourceKey, ownerToken string, segs []segment.Segment, concurrency int) ([]segment.Segment, error) {
	n := len(segs)
	if n == 0 {
		return nil, nil
	}

	out := make([]segment.Segment, n)
	copy(out, segs)

	// Single segment: no pool overhead, same refresh discipline.
	if n == 1 {
		if err := p.renderOne(ctx, resourceKey, ownerToken, &out[0]); err != nil {
			return nil, err
		}
		return out, nil
	}

	workers := concurrency
	if workers > n {
		workers = n
	}
	if workers < 1 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		next     int
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}
	claim := func() int {
		mu.Lock()
		defer mu.Unlock()
		i := next
		next++
		return i
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if ctx.Err() != nil {
					return
				}
				i := claim()
				if i >= n {
					return
				}
				if err := p.renderOne(ctx, resourceKey, ownerToken, &out[i]); err != nil {
					fail(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// renderOne fills in seg.Audio, bracketing the synthesis call with lock
// refreshes. Each worker writes only its own index, which keeps the output
// ordered even though completion is not.
func (p *Pipeline) renderOne(ctx context.Context, resourceKey, ownerToken string, seg *segment.Segment) error {
	if !p.Lock.Refresh(ctx, resourceKey, ownerToken, fmt.Sprintf("render-start-%d", seg.Index)) {
		return speechlock.ErrLockLost
	}

	audio, err := p.TTS.Synthesize(ctx, seg.Text, seg.VoiceKey)
	if err != nil {
		return &SynthesisError{Index: seg.Index, VoiceKey: seg.VoiceKey, Err: err}
	}
	if len(audio) == 0 {
		return &SynthesisError{Index: seg.Index, VoiceKey: seg.VoiceKey}
	}

	if !p.Lock.Refresh(ctx, resourceKey, ownerToken, fmt.Sprintf("render-done-%d", seg.Index)) {
		return speechlock.ErrLockLost
	}

	seg.Audio = audio
	return nil
}
