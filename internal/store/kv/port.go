// Package kv defines the key/value store port the cache layer consumes
// (spec section 6) and a Redis-backed implementation.
package kv

import (
	"context"
	"time"
)

// ZMember is one entry of a sorted-set operation.
type ZMember struct {
	Member string
	Score  float64
}

// Store is the KV store port: get/set with TTL, pattern scan, atomic
// delete, and the sorted-set operations the ScoreIndex needs.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	MGet(ctx context.Context, keys []string) (map[string][]byte, error)
	SetWithTTL(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
	Type(ctx context.Context, key string) (string, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// SetNX sets key to val with ttl only if it does not already exist,
	// reporting whether the set happened. Used for the per-cell
	// in-flight warming marker (spec section 9).
	SetNX(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error)

	ZAdd(ctx context.Context, key string, members ...ZMember) error
	ZRange(ctx context.Context, key string, start, stop int64, desc bool) ([]string, error)
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error)
	ZRem(ctx context.Context, key string, members ...string) error
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error)
	ZCard(ctx context.Context, key string) (int64, error)

	FlushAll(ctx context.Context) error
}
