package geocache

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/geoprox/proxcache/internal/geo"
	"github.com/geoprox/proxcache/internal/model"
	"github.com/geoprox/proxcache/internal/observability"
	"github.com/geoprox/proxcache/internal/scoring"
	"github.com/geoprox/proxcache/internal/store/kv"
)

// Engine is the geohash-partitioned result cache. It stores CachedBucket
// values under geohash+radius keys, keeps a Redis sorted set mapping
// every live key to its last-written temporal score (spec section 3),
// and provides neighbor-cell warming and radius-based invalidation.
type Engine struct {
	store kv.Store
	clock func() time.Time

	defaultPrecision int
	inFlightTTL       time.Duration
}

func New(store kv.Store) *Engine {
	return &Engine{
		store:       store,
		clock:       time.Now,
		inFlightTTL: 2 * time.Second,
	}
}

// Put writes a bucket, records its score in the score index, and sets
// the bucket TTL from the score (spec section 4.2).
func (e *Engine) Put(ctx context.Context, geohash string, radiusKm float64, result model.NearbyResult, temporal *scoring.Temporal, inputs model.ScoreInputs, score float64) error {
	key := BucketKey(geohash, radiusKm)

	bucket := model.CachedBucket{
		Data:      result,
		Score:     score,
		WrittenAt: e.now(),
		Metadata:  inputs,
	}

	payload, err := json.Marshal(bucket)
	if err != nil {
		return fmt.Errorf("geocache encode bucket %q: %w", key, err)
	}

	ttl := temporal.TTL(score)
	if err := e.store.SetWithTTL(ctx, key, payload, ttl); err != nil {
		return fmt.Errorf("geocache put %q: %w", key, err)
	}

	if err := e.store.ZAdd(ctx, ScoreIndexKey(), kv.ZMember{Member: key, Score: score}); err != nil {
		return fmt.Errorf("geocache score index add %q: %w", key, err)
	}

	return nil
}

// Get reads the bucket for a geohash+radius. It returns ok=false when
// the key is absent. Staleness is the caller's concern (Engine does not
// recompute scores on read, only on sweep).
func (e *Engine) Get(ctx context.Context, geohash string, radiusKm float64) (model.CachedBucket, bool, error) {
	key := BucketKey(geohash, radiusKm)

	raw, err := e.store.Get(ctx, key)
	if err != nil {
		return model.CachedBucket{}, false, fmt.Errorf("geocache get %q: %w", key, err)
	}
	if raw == nil {
		return model.CachedBucket{}, false, nil
	}

	var bucket model.CachedBucket
	if err := json.Unmarshal(raw, &bucket); err != nil {
		return model.CachedBucket{}, false, fmt.Errorf("geocache decode bucket %q: %w", key, err)
	}
	return bucket, true, nil
}

// TryMarkInFlight attempts to claim the warming marker for a cell,
// returning true if this caller won the race (spec section 9).
func (e *Engine) TryMarkInFlight(ctx context.Context, geohash string, radiusKm float64) (bool, error) {
	key := InFlightKey(geohash, radiusKm)
	ok, err := e.store.SetNX(ctx, key, []byte("1"), e.inFlightTTL)
	if err != nil {
		return false, fmt.Errorf("geocache mark in-flight %q: %w", key, err)
	}
	return ok, nil
}

// InvalidateRadius removes every cached bucket for the geohash cell
// encoding (lat,lng) at radiusKm's precision and its 8 neighbors at that
// same precision, scanning each cell's "geo:<cell>*:*" pattern to catch
// buckets cached under any query radius, including buckets of smaller
// radii keyed by the finer cells nested inside these nine (spec section
// 4.3/4.4, testable property 6).
func (e *Engine) InvalidateRadius(ctx context.Context, lat, lng, radiusKm float64) (int, error) {
	precision := geo.PrecisionForRadius(radiusKm)
	cell, err := geo.Encode(lat, lng, precision)
	if err != nil {
		return 0, fmt.Errorf("geocache invalidate encode: %w", err)
	}
	neighbors, err := geo.Neighbors(cell)
	if err != nil {
		return 0, fmt.Errorf("geocache invalidate neighbors: %w", err)
	}

	cells := append([]string{cell}, neighbors[:]...)

	var toDelete []string
	for _, c := range cells {
		// A trailing "*" on the cell also matches every finer cell whose
		// geohash starts with c, so a 10 km write reaches radius<=5 buckets.
		keysFound, err := e.store.Scan(ctx, keyPrefix+":"+sanitize(c)+"*:*")
		if err != nil {
			return 0, fmt.Errorf("geocache invalidate scan %q: %w", c, err)
		}
		toDelete = append(toDelete, keysFound...)
	}

	if len(toDelete) == 0 {
		return 0, nil
	}

	if err := e.store.Del(ctx, toDelete...); err != nil {
		return 0, fmt.Errorf("geocache invalidate del: %w", err)
	}
	if err := e.store.ZRem(ctx, ScoreIndexKey(), toDelete...); err != nil {
		return 0, fmt.Errorf("geocache invalidate score index rem: %w", err)
	}

	return len(toDelete), nil
}

// TopN returns the data payloads of the N highest-scoring live buckets
// (spec section 4.3, "topN(limit): return data payloads for the N
// highest-scored live keys"). Keys whose bucket has already expired
// between the ZRange read and the Get are skipped rather than failing
// the whole call.
func (e *Engine) TopN(ctx context.Context, n int) ([]model.NearbyResult, error) {
	members, err := e.store.ZRange(ctx, ScoreIndexKey(), 0, int64(n)-1, true)
	if err != nil {
		return nil, fmt.Errorf("geocache topn: %w", err)
	}

	out := make([]model.NearbyResult, 0, len(members))
	for _, key := range members {
		raw, err := e.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("geocache topn get %q: %w", key, err)
		}
		if raw == nil {
			continue
		}
		var bucket model.CachedBucket
		if err := json.Unmarshal(raw, &bucket); err != nil {
			return nil, fmt.Errorf("geocache topn decode %q: %w", key, err)
		}
		out = append(out, bucket.Data)
	}
	return out, nil
}

// CleanupBelow deletes every bucket whose ScoreIndex score is at or
// below threshold, along with its index entry, and returns the count
// removed (spec section 3, "cleanupBelow(threshold)"). It does not
// recompute anything; RefreshScores is the operation that keeps the
// index current before a sweep calls this.
func (e *Engine) CleanupBelow(ctx context.Context, threshold float64) (int, error) {
	keys, err := e.store.ZRangeByScore(ctx, ScoreIndexKey(), math.Inf(-1), threshold)
	if err != nil {
		return 0, fmt.Errorf("geocache cleanup list: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	if err := e.store.Del(ctx, keys...); err != nil {
		return 0, fmt.Errorf("geocache cleanup del: %w", err)
	}
	if err := e.store.ZRem(ctx, ScoreIndexKey(), keys...); err != nil {
		return 0, fmt.Errorf("geocache cleanup zrem: %w", err)
	}

	for range keys {
		observability.IncDegradedEviction()
	}

	size, err := e.store.ZCard(ctx, ScoreIndexKey())
	if err == nil {
		observability.SetScoreIndexSize(int(size))
	}

	return len(keys), nil
}

// RefreshScores walks every entry in the ScoreIndex, recomputes each
// still-present bucket's score from its stored metadata, and upserts
// the recomputed score back into the index; orphan entries (buckets
// already expired by TTL) are dropped from the index instead (spec
// section 3, "refreshScores()"). It returns the count of entries
// refreshed. This is what keeps CleanupBelow's threshold comparison
// meaningful between sweeps, rather than comparing against a
// write-time score that may be long stale.
func (e *Engine) RefreshScores(ctx context.Context, temporal *scoring.Temporal) (int, error) {
	allKeys, err := e.store.ZRange(ctx, ScoreIndexKey(), 0, -1, false)
	if err != nil {
		return 0, fmt.Errorf("geocache refresh list: %w", err)
	}

	refreshed := 0
	for _, key := range allKeys {
		raw, err := e.store.Get(ctx, key)
		if err != nil {
			return refreshed, fmt.Errorf("geocache refresh get %q: %w", key, err)
		}
		if raw == nil {
			_ = e.store.ZRem(ctx, ScoreIndexKey(), key)
			continue
		}

		var bucket model.CachedBucket
		if err := json.Unmarshal(raw, &bucket); err != nil {
			return refreshed, fmt.Errorf("geocache refresh decode %q: %w", key, err)
		}

		current := temporal.Score(bucket.Metadata.DateAdded, bucket.Metadata.Attributes)
		if err := e.store.ZAdd(ctx, ScoreIndexKey(), kv.ZMember{Member: key, Score: current}); err != nil {
			return refreshed, fmt.Errorf("geocache refresh zadd %q: %w", key, err)
		}
		refreshed++
	}

	size, err := e.store.ZCard(ctx, ScoreIndexKey())
	if err == nil {
		observability.SetScoreIndexSize(int(size))
	}

	return refreshed, nil
}

// Stats is a point-in-time snapshot of the cache's size, used by the
// cache-stats endpoint (spec section 6).
type Stats struct {
	TotalKeys       int64
	TotalDataCached int64
}

// Stats reports the number of live bucket keys and the total number of
// cached properties across all of them.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	keys, err := e.store.ZRange(ctx, ScoreIndexKey(), 0, -1, false)
	if err != nil {
		return Stats{}, fmt.Errorf("geocache stats list: %w", err)
	}

	var totalItems int64
	for _, key := range keys {
		raw, err := e.store.Get(ctx, key)
		if err != nil || raw == nil {
			continue
		}
		var bucket model.CachedBucket
		if err := json.Unmarshal(raw, &bucket); err != nil {
			continue
		}
		totalItems += int64(len(bucket.Data.Properties))
	}

	return Stats{TotalKeys: int64(len(keys)), TotalDataCached: totalItems}, nil
}

// Clear drops every key in the underlying store, including the score
// index, used by the clear-cache endpoint (spec section 6).
func (e *Engine) Clear(ctx context.Context) error {
	if err := e.store.FlushAll(ctx); err != nil {
		return fmt.Errorf("geocache clear: %w", err)
	}
	return nil
}

func (e *Engine) now() time.Time {
	if e.clock != nil {
		return e.clock()
	}
	return time.Now()
}
