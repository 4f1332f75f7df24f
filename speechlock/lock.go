// Package speechlock implements the per-resource exclusive speech lock: a
// TTL-based, ownership-token mutex stored in the shared cache. A lock record
// is only authoritative while it is unexpired, so a crashed owner heals
// itself once the TTL elapses even if nothing ever deletes the record.
package speechlock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/EasterCompany/dex-voice-responder/cache"
	logger "github.com/EasterCompany/dex-voice-responder/log"
	"github.com/google/uuid"
)

// ErrBusy is returned by TryAcquire when a valid lock is already held. It is
// a normal skip condition, not a failure.
var ErrBusy = errors.New("speechlock: resource is busy")

// ErrLockLost indicates an ownership check failed mid-pipeline.
var ErrLockLost = errors.New("speechlock: lock ownership lost")

// Record is the lock record stored in the cache.
type Record struct {
	OwnerToken string    `json:"owner_token"`
	AcquiredAt time.Time `json:"acquired_at"`
	TTLMs      int64     `json:"ttl_ms"`
	Speaking   bool      `json:"speaking"`
	StartedAt  time.Time `json:"started_at"`
}

// Valid reports whether the record is still authoritative at time now.
func (r *Record) Valid(now time.Time) bool {
	return now.Sub(r.AcquiredAt) < time.Duration(r.TTLMs)*time.Millisecond
}

// Lock manages speech lock records for any number of resource keys.
type Lock struct {
	store  cache.Cache
	logger logger.Logger
	grace  time.Duration

	mu        sync.Mutex
	failsafes map[string]*time.Timer
}

// New creates a Lock over the given store. grace is the slack added to the
// TTL before the failsafe timer force-releases an unreleased lock.
func New(store cache.Cache, log logger.Logger, grace time.Duration) *Lock {
	return &Lock{
		store:     store,
		logger:    log,
		grace:     grace,
		failsafes: make(map[string]*time.Timer),
	}
}

// RecordKey returns the cache key of the lock record for a resource.
func RecordKey(resourceKey string) string {
	return "voice:lock:" + resourceKey
}

// TryAcquire attempts to take the lock for resourceKey. It returns a fresh
// owner token on success and ErrBusy when a valid lock already exists. The
// caller must skip the entire request on ErrBusy rather than queue it.
func (l *Lock) TryAcquire(ctx context.Context, resourceKey string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.read(ctx, resourceKey)
	if err != nil {
		return "", err
	}
	if existing != nil && existing.Valid(time.Now()) {
		return "", ErrBusy
	}

	now := time.Now()
	rec := &Record{
		OwnerToken: uuid.NewString(),
		AcquiredAt: now,
		TTLMs:      ttl.Milliseconds(),
		Speaking:   true,
		StartedAt:  now,
	}
	if err := l.write(ctx, resourceKey, rec); err != nil {
		return "", err
	}

	l.armFailsafeLocked(resourceKey, rec.OwnerToken, ttl+l.grace)
	return rec.OwnerToken, nil
}

// Refresh extends the lock's TTL if ownerToken still owns a valid record.
// It never creates a new lock. The failsafe timer is re-armed on success.
func (l *Lock) Refresh(ctx context.Context, resourceKey, ownerToken, reason string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.read(ctx, resourceKey)
	if err != nil {
		l.logger.Error(fmt.Sprintf("Failed to read lock record for %s during refresh (%s)", resourceKey, reason), err)
		return false
	}
	if rec == nil || rec.OwnerToken != ownerToken || !rec.Valid(time.Now()) {
		return false
	}

	rec.AcquiredAt = time.Now()
	if err := l.write(ctx, resourceKey, rec); err != nil {
		l.logger.Error(fmt.Sprintf("Failed to write lock record for %s during refresh (%s)", resourceKey, reason), err)
		return false
	}

	ttl := time.Duration(rec.TTLMs) * time.Millisecond
	l.armFailsafeLocked(resourceKey, ownerToken, ttl+l.grace)
	return true
}

// IsOwner reports whether ownerToken holds a valid lock on resourceKey. It
// never mutates the record.
func (l *Lock) IsOwner(ctx context.Context, resourceKey, ownerToken string) bool {
	rec, err := l.read(ctx, resourceKey)
	if err != nil || rec == nil {
		return false
	}
	return rec.OwnerToken == ownerToken && rec.Valid(time.Now())
}

// Release deletes the lock record if ownerToken owns it, and cancels the
// failsafe timer. Releasing twice, or with a foreign or stale token, is a
// no-op.
func (l *Lock) Release(ctx context.Context, resourceKey, ownerToken, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.read(ctx, resourceKey)
	if err != nil {
		l.logger.Error(fmt.Sprintf("Failed to read lock record for %s during release (%s)", resourceKey, reason), err)
		return
	}
	if rec == nil || rec.OwnerToken != ownerToken {
		return
	}

	if err := l.store.Delete(ctx, RecordKey(resourceKey)); err != nil {
		l.logger.Error(fmt.Sprintf("Failed to delete lock record for %s during release (%s)", resourceKey, reason), err)
		return
	}
	l.logger.Info(fmt.Sprintf("Released speech lock for %s (%s)", resourceKey, reason))
	l.cancelFailsafeLocked(resourceKey)
}

// armFailsafeLocked schedules the last-resort release. Mutual exclusion never
// relies on this timer firing; it only bounds the damage of a caller that
// crashes before releasing. Caller holds l.mu.
func (l *Lock) armFailsafeLocked(resourceKey, ownerToken string, after time.Duration) {
	if t, ok := l.failsafes[resourceKey]; ok {
		t.Stop()
	}
	l.failsafes[resourceKey] = time.AfterFunc(after, func() {
		ctx := context.Background()
		if !l.IsOwner(ctx, resourceKey, ownerToken) {
			return
		}
		l.Release(ctx, resourceKey, ownerToken, "failsafe")
	})
}

// cancelFailsafeLocked stops the failsafe timer. Caller holds l.mu.
func (l *Lock) cancelFailsafeLocked(resourceKey string) {
	if t, ok := l.failsafes[resourceKey]; ok {
		t.Stop()
		delete(l.failsafes, resourceKey)
	}
}

func (l *Lock) read(ctx context.Context, resourceKey string) (*Record, error) {
	data, ok, err := l.store.Get(ctx, RecordKey(resourceKey))
	if err != nil {
		return nil, fmt.Errorf("could not read lock record: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("could not unmarshal lock record: %w", err)
	}
	return &rec, nil
}

func (l *Lock) write(ctx context.Context, resourceKey string, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("could not marshal lock record: %w", err)
	}
	// The store TTL is hygiene only: validity is decided by the record fields.
	storeTTL := time.Duration(rec.TTLMs)*time.Millisecond + l.grace
	if err := l.store.Put(ctx, RecordKey(resourceKey), data, storeTTL); err != nil {
		return fmt.Errorf("could not write lock record: %w", err)
	}
	return nil
}
