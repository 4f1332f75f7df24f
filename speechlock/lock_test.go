package speechlock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/EasterCompany/dex-voice-responder/cache"
	logger "github.com/EasterCompany/dex-voice-responder/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLock(grace time.Duration) *Lock {
	return New(cache.NewMemory(), logger.NewStderrLogger(), grace)
}

func TestTryAcquire_MutualExclusion(t *testing.T) {
	ctx := context.Background()
	lock := newTestLock(time.Second)

	const attempts = 8
	tokens := make([]string, attempts)
	errs := make([]error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = lock.TryAcquire(ctx, "g1", 30*time.Second)
		}(i)
	}
	wg.Wait()

	winners := 0
	var winnerToken string
	for i := 0; i < attempts; i++ {
		if errs[i] == nil {
			winners++
			winnerToken = tokens[i]
		} else {
			assert.ErrorIs(t, errs[i], ErrBusy)
		}
	}
	require.Equal(t, 1, winners)
	assert.True(t, lock.IsOwner(ctx, "g1", winnerToken))
}

func TestTryAcquire_IndependentResources(t *testing.T) {
	ctx := context.Background()
	lock := newTestLock(time.Second)

	tokenA, err := lock.TryAcquire(ctx, "g1", 30*time.Second)
	require.NoError(t, err)
	tokenB, err := lock.TryAcquire(ctx, "g2", 30*time.Second)
	require.NoError(t, err)

	assert.True(t, lock.IsOwner(ctx, "g1", tokenA))
	assert.True(t, lock.IsOwner(ctx, "g2", tokenB))
}

func TestTTL_SelfExpiry(t *testing.T) {
	ctx := context.Background()
	lock := newTestLock(time.Hour) // failsafe never fires during the test

	token, err := lock.TryAcquire(ctx, "g1", 30*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, lock.IsOwner(ctx, "g1", token))

	time.Sleep(50 * time.Millisecond)

	// The record expired without a release: the token is no longer an owner
	// and a new acquisition succeeds.
	assert.False(t, lock.IsOwner(ctx, "g1", token))
	next, err := lock.TryAcquire(ctx, "g1", 30*time.Second)
	require.NoError(t, err)
	assert.NotEqual(t, token, next)
}

func TestRefresh_ExtendsTTL(t *testing.T) {
	ctx := context.Background()
	lock := newTestLock(time.Hour)

	token, err := lock.TryAcquire(ctx, "g1", 60*time.Millisecond)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		time.Sleep(40 * time.Millisecond)
		assert.True(t, lock.Refresh(ctx, "g1", token, "test"))
	}
	assert.True(t, lock.IsOwner(ctx, "g1", token))
}

func TestRefresh_ForeignToken(t *testing.T) {
	ctx := context.Background()
	lock := newTestLock(time.Second)

	token, err := lock.TryAcquire(ctx, "g1", 30*time.Second)
	require.NoError(t, err)

	assert.False(t, lock.Refresh(ctx, "g1", "not-the-owner", "test"))
	assert.True(t, lock.IsOwner(ctx, "g1", token))
}

func TestRefresh_NeverCreates(t *testing.T) {
	ctx := context.Background()
	lock := newTestLock(time.Second)

	assert.False(t, lock.Refresh(ctx, "g1", "some-token", "test"))

	// No record should have appeared.
	_, err := lock.TryAcquire(ctx, "g1", 30*time.Second)
	assert.NoError(t, err)
}

func TestRelease_Idempotent(t *testing.T) {
	ctx := context.Background()
	lock := newTestLock(time.Second)

	token, err := lock.TryAcquire(ctx, "g1", 30*time.Second)
	require.NoError(t, err)

	lock.Release(ctx, "g1", token, "end-of-segments")
	assert.False(t, lock.IsOwner(ctx, "g1", token))

	// Second release and foreign-token release must be no-ops.
	lock.Release(ctx, "g1", token, "end-of-segments")
	lock.Release(ctx, "g1", "foreign-token", "end-of-segments")

	// A new owner's lock must survive a stale release from the old token.
	next, err := lock.TryAcquire(ctx, "g1", 30*time.Second)
	require.NoError(t, err)
	lock.Release(ctx, "g1", token, "stale")
	assert.True(t, lock.IsOwner(ctx, "g1", next))
}

func TestFailsafe_ReleasesCrashedOwner(t *testing.T) {
	ctx := context.Background()
	lock := newTestLock(20 * time.Millisecond)

	token, err := lock.TryAcquire(ctx, "g1", 40*time.Millisecond)
	require.NoError(t, err)

	// Simulate a crashed owner: never release. The failsafe fires after
	// ttl+grace and deletes the record.
	store := lock.store
	assert.Eventually(t, func() bool {
		_, ok, _ := store.Get(ctx, RecordKey("g1"))
		return !ok
	}, time.Second, 10*time.Millisecond)
	assert.False(t, lock.IsOwner(ctx, "g1", token))
}

func TestFailsafe_DoesNotTouchNewOwner(t *testing.T) {
	ctx := context.Background()
	lock := newTestLock(20 * time.Millisecond)

	token, err := lock.TryAcquire(ctx, "g1", 30*time.Millisecond)
	require.NoError(t, err)

	// Old lock expires; a new owner takes over before the old failsafe fires.
	time.Sleep(35 * time.Millisecond)
	next, err := lock.TryAcquire(ctx, "g1", 30*time.Second)
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)
	assert.False(t, lock.IsOwner(ctx, "g1", token))
	assert.True(t, lock.IsOwner(ctx, "g1", next))
}
