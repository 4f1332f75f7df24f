// Package cache provides the shared key-value store used for speech lock
// records. The production implementation is backed by Redis; an in-memory
// implementation exists for tests and for running without a cache server.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/EasterCompany/dex-voice-responder/config"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "dex-voice-responder:"

// Cache is the interface for the shared key-value store.
type Cache interface {
	// Get returns the value at key. The second return is false when the key
	// does not exist.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Put stores value at key. A zero ttl stores the value without expiry.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys returns all keys matching the glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// DB is the Redis-backed Cache.
type DB struct {
	rdb *redis.Client
}

// New connects to Redis using the given config. A nil config or empty address
// returns nil without error so callers can run cache-less.
func New(cfg *config.RedisConfig) (*DB, error) {
	if cfg == nil || cfg.Addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("could not connect to cache at %s: %w", cfg.Addr, err)
	}
	return &DB{rdb: rdb}, nil
}

func (db *DB) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := db.rdb.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("could not get key %s: %w", key, err)
	}
	return val, true, nil
}

func (db *DB) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return db.rdb.Set(ctx, keyPrefix+key, value, ttl).Err()
}

func (db *DB) Delete(ctx context.Context, key string) error {
	return db.rdb.Del(ctx, keyPrefix+key).Err()
}

func (db *DB) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := db.rdb.Scan(ctx, 0, keyPrefix+pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(keyPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (db *DB) Ping(ctx context.Context) error {
	return db.rdb.Ping(ctx).Err()
}

func (db *DB) Close() error {
	return db.rdb.Close()
}
