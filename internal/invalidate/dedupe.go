package invalidate

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// dedupe suppresses invalidation events that arrive out of order or are
// replayed by the broker, keyed by the rounded coordinate they target.
// Kafka consumer groups only guarantee at-least-once delivery, and a
// rebalance can redeliver the same event after it was already applied.
type dedupe struct {
	mu    sync.Mutex
	cache *lru.Cache[string, int64]
}

func newDedupe(size int) *dedupe {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[string, int64](size)
	return &dedupe{cache: c}
}

func dedupeKey(ev Event) string {
	return fmt.Sprintf("%.4f,%.4f,%s", ev.Lat, ev.Lng, ev.Op)
}

// shouldApply reports whether ev is newer than the last event seen for
// its coordinate+op key, and records it as the new high-water mark.
func (d *dedupe) shouldApply(ev Event) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := dedupeKey(ev)
	ts := ev.TS.UnixNano()
	if last, ok := d.cache.Get(key); ok && ts <= last {
		return false
	}
	d.cache.Add(key, ts)
	return true
}
