package optimizer

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/geoprox/proxcache/internal/store/kv"
)

func newTestOptimizer(t *testing.T, windowSize int, lowRatio, midRatio float64, shortTTL time.Duration) (*Optimizer, kv.Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)

	store, err := kv.New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("kv.New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return New(store, windowSize, lowRatio, midRatio, shortTTL), store, mr
}

func TestRatio_NoObservationsIsNegativeOne(t *testing.T) {
	o, _, _ := newTestOptimizer(t, 100, 0.3, 0.5, 30*time.Minute)
	if r := o.Ratio("cellA"); r != -1 {
		t.Fatalf("Ratio = %v, want -1", r)
	}
}

func TestRatio_TracksHitsAndMisses(t *testing.T) {
	o, _, _ := newTestOptimizer(t, 100, 0.3, 0.5, 30*time.Minute)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		o.RecordHit(ctx, "cellA")
	}
	o.RecordMiss(ctx, "cellA")

	r := o.Ratio("cellA")
	want := 2.0 / 3.0
	if diff := r - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("Ratio = %v, want %v", r, want)
	}
}

func TestWindow_ResetsAtWindowSize(t *testing.T) {
	o, _, _ := newTestOptimizer(t, 4, 0.3, 0.5, 30*time.Minute)
	ctx := context.Background()
	o.RecordHit(ctx, "cellA")
	o.RecordHit(ctx, "cellA")
	o.RecordHit(ctx, "cellA")
	o.RecordHit(ctx, "cellA") // window size reached -> reset

	if r := o.Ratio("cellA"); r != -1 {
		t.Fatalf("Ratio after reset = %v, want -1 (empty window)", r)
	}
}

func TestTTLFor_ShortensBelowLowRatio(t *testing.T) {
	o, _, _ := newTestOptimizer(t, 100, 0.3, 0.5, 30*time.Minute)
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		o.RecordMiss(ctx, "cold")
	}
	o.RecordHit(ctx, "cold")

	ttl := o.TTLFor("cold", time.Hour)
	if ttl != 30*time.Minute {
		t.Fatalf("TTLFor = %v, want shortened TTL", ttl)
	}
}

func TestTTLFor_KeepsBaseAboveLowRatio(t *testing.T) {
	o, _, _ := newTestOptimizer(t, 100, 0.3, 0.5, 30*time.Minute)
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		o.RecordHit(ctx, "hot")
	}
	o.RecordMiss(ctx, "hot")

	ttl := o.TTLFor("hot", time.Hour)
	if ttl != time.Hour {
		t.Fatalf("TTLFor = %v, want base TTL unchanged", ttl)
	}
}

func TestTTLFor_UnseenCellKeepsBase(t *testing.T) {
	o, _, _ := newTestOptimizer(t, 100, 0.3, 0.5, 30*time.Minute)
	if ttl := o.TTLFor("never-seen", time.Hour); ttl != time.Hour {
		t.Fatalf("TTLFor unseen cell = %v, want base TTL", ttl)
	}
}

// TestRecord_ShortensTTLOnWindowCloseBelowLowRatio pins the wired side
// effect from spec section 4.4: once a cell's window closes with a hit
// ratio below LowRatio, every cached key for that cell (any radius) has
// its TTL shortened to ShortTTL.
func TestRecord_ShortensTTLOnWindowCloseBelowLowRatio(t *testing.T) {
	o, store, mr := newTestOptimizer(t, 4, 0.3, 0.5, 30*time.Minute)
	ctx := context.Background()

	if err := store.SetWithTTL(ctx, "geo:cold:r=5.00", []byte("x"), time.Hour); err != nil {
		t.Fatalf("seed key: %v", err)
	}
	if err := store.SetWithTTL(ctx, "geo:cold:r=1.00", []byte("x"), time.Hour); err != nil {
		t.Fatalf("seed key: %v", err)
	}

	// window size 4, ratio below LowRatio=0.3: 0 hits, 4 misses
	o.RecordMiss(ctx, "cold")
	o.RecordMiss(ctx, "cold")
	o.RecordMiss(ctx, "cold")
	o.RecordMiss(ctx, "cold") // window closes here, ratio 0 < 0.3

	ttl := mr.TTL("geo:cold:r=5.00")
	if ttl <= 0 || ttl > 30*time.Minute {
		t.Fatalf("geo:cold:r=5.00 TTL = %v, want shortened to <= 30m", ttl)
	}
	ttl = mr.TTL("geo:cold:r=1.00")
	if ttl <= 0 || ttl > 30*time.Minute {
		t.Fatalf("geo:cold:r=1.00 TTL = %v, want shortened to <= 30m", ttl)
	}
}

// TestRecord_NoShorteningAboveLowRatio confirms a cell whose window
// closes with a healthy ratio keeps its original TTL.
func TestRecord_NoShorteningAboveLowRatio(t *testing.T) {
	o, store, mr := newTestOptimizer(t, 4, 0.3, 0.5, 30*time.Minute)
	ctx := context.Background()

	if err := store.SetWithTTL(ctx, "geo:hot:r=5.00", []byte("x"), time.Hour); err != nil {
		t.Fatalf("seed key: %v", err)
	}

	o.RecordHit(ctx, "hot")
	o.RecordHit(ctx, "hot")
	o.RecordHit(ctx, "hot")
	o.RecordHit(ctx, "hot") // window closes, ratio 1.0 >= 0.3

	ttl := mr.TTL("geo:hot:r=5.00")
	if ttl <= 30*time.Minute {
		t.Fatalf("geo:hot:r=5.00 TTL = %v, should not have been shortened", ttl)
	}
}
