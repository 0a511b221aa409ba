// Package optimizer implements the hit-ratio optimizer: per-cell hit/miss
// counters that drive TTL-shortening decisions for cells showing poor
// cache efficiency (spec section 4.4, "hit ratio optimizer").
package optimizer

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/geoprox/proxcache/internal/geocache"
	"github.com/geoprox/proxcache/internal/observability"
	"github.com/geoprox/proxcache/internal/store/kv"
)

const numShards = 64

type counter struct {
	hits   int
	misses int
}

type shard struct {
	mu sync.Mutex
	m  map[string]*counter
}

// Optimizer tracks per-cell hit/miss counts and recommends a shortened
// TTL once a cell's hit ratio over the current window falls below the
// configured thresholds. Counters reset once a cell's window reaches
// WindowSize total observations.
type Optimizer struct {
	WindowSize int
	LowRatio   float64
	MidRatio   float64
	ShortTTL   time.Duration

	store  kv.Store
	shards [numShards]shard
}

// New builds an Optimizer. store is used to apply the TTL-shortening
// side effect (spec section 4.4) once a cell's window closes with a low
// hit ratio; it may be nil, in which case the optimizer still tracks
// ratios but never shortens any key's TTL.
func New(store kv.Store, windowSize int, lowRatio, midRatio float64, shortTTL time.Duration) *Optimizer {
	if windowSize <= 0 {
		windowSize = 100
	}
	o := &Optimizer{
		WindowSize: windowSize,
		LowRatio:   lowRatio,
		MidRatio:   midRatio,
		ShortTTL:   shortTTL,
		store:      store,
	}
	for i := range o.shards {
		o.shards[i].m = make(map[string]*counter)
	}
	return o
}

func (o *Optimizer) pick(cell string) *shard {
	h := xxhash.Sum64String(cell)
	idx := h & (uint64(len(o.shards)) - 1)
	return &o.shards[idx]
}

// RecordHit registers a cache hit for a cell and, once its window fills,
// applies the hit-ratio decision (spec section 4.4).
func (o *Optimizer) RecordHit(ctx context.Context, cell string) {
	o.record(ctx, cell, true)
}

// RecordMiss registers a cache miss for a cell and, once its window
// fills, applies the hit-ratio decision (spec section 4.4).
func (o *Optimizer) RecordMiss(ctx context.Context, cell string) {
	o.record(ctx, cell, false)
}

// record increments the cell's counter and, when the window closes,
// reads the final ratio, resets the counters, and — only after the
// shard lock is released — shortens the cell's cached TTLs if the
// ratio fell below LowRatio. Reading the ratio before the reset (rather
// than after, as a naive reset-on-fill would) is what makes the
// window-boundary decision meaningful.
func (o *Optimizer) record(ctx context.Context, cell string, hit bool) {
	if cell == "" {
		return
	}
	s := o.pick(cell)

	s.mu.Lock()
	c := s.m[cell]
	if c == nil {
		c = &counter{}
		s.m[cell] = c
	}
	if hit {
		c.hits++
	} else {
		c.misses++
	}

	windowClosed := c.hits+c.misses >= o.WindowSize
	var ratio float64
	if windowClosed {
		ratio = float64(c.hits) / float64(c.hits+c.misses)
		c.hits, c.misses = 0, 0
	}
	s.mu.Unlock()

	if windowClosed && ratio < o.LowRatio {
		o.shortenTTL(ctx, cell)
	}
}

// shortenTTL sets the TTL of every cached key for cell, at any query
// radius, to ShortTTL (spec section 4.4: "if ratio < 0.3, set TTL of
// all keys geo:<cell>:* to 1800s").
func (o *Optimizer) shortenTTL(ctx context.Context, cell string) {
	if o.store == nil {
		return
	}
	keys, err := o.store.Scan(ctx, geocache.CellPattern(cell))
	if err != nil || len(keys) == 0 {
		return
	}
	for _, key := range keys {
		_ = o.store.Expire(ctx, key, o.ShortTTL)
	}
	observability.IncOptimizerAdjustment("low_hit_ratio")
}

// Ratio returns the current window's hit ratio for a cell, or -1 if the
// cell has no observations yet.
func (o *Optimizer) Ratio(cell string) float64 {
	s := o.pick(cell)
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.m[cell]
	if c == nil || c.hits+c.misses == 0 {
		return -1
	}
	return float64(c.hits) / float64(c.hits+c.misses)
}

// TTLFor returns the recommended TTL for a cell: ShortTTL if its ratio
// has fallen below LowRatio, baseTTL unchanged if it is at or above
// MidRatio, and baseTTL unchanged in the indeterminate band between
// them (spec section 4.4).
func (o *Optimizer) TTLFor(cell string, baseTTL time.Duration) time.Duration {
	ratio := o.Ratio(cell)
	if ratio < 0 {
		return baseTTL
	}
	if ratio < o.LowRatio {
		observability.IncOptimizerAdjustment("low_hit_ratio")
		return o.ShortTTL
	}
	return baseTTL
}

// Size reports how many cells currently have an active window, for
// diagnostics.
func (o *Optimizer) Size() int {
	total := 0
	for i := range o.shards {
		o.shards[i].mu.Lock()
		total += len(o.shards[i].m)
		o.shards[i].mu.Unlock()
	}
	return total
}
