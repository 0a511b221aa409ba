package geocache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/geoprox/proxcache/internal/geo"
	"github.com/geoprox/proxcache/internal/model"
	"github.com/geoprox/proxcache/internal/scoring"
	"github.com/geoprox/proxcache/internal/store/kv"
)

func newEngine(t *testing.T) (*Engine, *miniredis.Miniredis) {
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

	return New(store), mr
}

func TestPutGet_RoundTrip(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	temporal := scoring.NewTemporal(time.Hour)

	result := model.NearbyResult{TotalCount: 3}
	inputs := model.ScoreInputs{DateAdded: time.Now()}

	if err := e.Put(ctx, "u4pruydqqvj", 5, result, temporal, inputs, 0.8); err != nil {
		t.Fatalf("Put: %v", err)
	}

	bucket, ok, err := e.Get(ctx, "u4pruydqqvj", 5)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatalf("Get: expected a hit")
	}
	if bucket.Data.TotalCount != 3 {
		t.Fatalf("Get: TotalCount = %d, want 3", bucket.Data.TotalCount)
	}
	if bucket.Score != 0.8 {
		t.Fatalf("Get: Score = %v, want 0.8", bucket.Score)
	}
}

func TestGet_MissingBucket(t *testing.T) {
	e, _ := newEngine(t)
	_, ok, err := e.Get(context.Background(), "nonexistent", 5)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatalf("Get: expected a miss")
	}
}

func TestTryMarkInFlight_OnlyOneWinner(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	won, err := e.TryMarkInFlight(ctx, "u4pruy", 5)
	if err != nil || !won {
		t.Fatalf("first TryMarkInFlight: won=%v err=%v", won, err)
	}
	won, err = e.TryMarkInFlight(ctx, "u4pruy", 5)
	if err != nil {
		t.Fatalf("second TryMarkInFlight: %v", err)
	}
	if won {
		t.Fatalf("second TryMarkInFlight should not win")
	}
}

func TestInvalidateRadius_RemovesNearbyCells(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	temporal := scoring.NewTemporal(time.Hour)

	// 57.64,10.41 (Aarhus area) encodes to the same precision-5 cell that
	// the write below is keyed under.
	cell, err := geo.Encode(57.64, 10.41, geo.PrecisionForRadius(50))
	if err != nil {
		t.Fatalf("geo.Encode: %v", err)
	}

	if err := e.Put(ctx, cell, 5, model.NearbyResult{}, temporal, model.ScoreInputs{DateAdded: time.Now()}, 0.5); err != nil {
		t.Fatalf("Put: %v", err)
	}

	n, err := e.InvalidateRadius(ctx, 57.64, 10.41, 50)
	if err != nil {
		t.Fatalf("InvalidateRadius: %v", err)
	}
	if n == 0 {
		t.Fatalf("InvalidateRadius: expected at least one cell removed")
	}

	_, ok, _ := e.Get(ctx, cell, 5)
	if ok {
		t.Fatalf("bucket should have been invalidated")
	}
}

func TestInvalidateRadius_LeavesDistantCellsAlone(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	temporal := scoring.NewTemporal(time.Hour)

	// Tokyo is nowhere near the cell/neighbors of the Aarhus query below.
	if err := e.Put(ctx, "xn774c06x", 5, model.NearbyResult{}, temporal, model.ScoreInputs{DateAdded: time.Now()}, 0.5); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, err := e.InvalidateRadius(ctx, 57.64, 10.41, 50); err != nil {
		t.Fatalf("InvalidateRadius: %v", err)
	}

	if _, ok, _ := e.Get(ctx, "xn774c06x", 5); !ok {
		t.Fatalf("distant bucket should not have been invalidated")
	}
}

func TestTopN_ReturnsDataPayloadsHighestScoreFirst(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	temporal := scoring.NewTemporal(time.Hour)

	if err := e.Put(ctx, "gbsuv7z", 5, model.NearbyResult{TotalCount: 1}, temporal, model.ScoreInputs{DateAdded: time.Now()}, 0.2); err != nil {
		t.Fatalf("Put low: %v", err)
	}
	if err := e.Put(ctx, "u4pruy", 5, model.NearbyResult{TotalCount: 2}, temporal, model.ScoreInputs{DateAdded: time.Now()}, 0.9); err != nil {
		t.Fatalf("Put high: %v", err)
	}

	top, err := e.TopN(ctx, 1)
	if err != nil {
		t.Fatalf("TopN: %v", err)
	}
	if len(top) != 1 {
		t.Fatalf("TopN: len = %d, want 1", len(top))
	}
	if top[0].TotalCount != 2 {
		t.Fatalf("TopN: TotalCount = %d, want 2 (highest-scored bucket)", top[0].TotalCount)
	}
}

func TestCleanupBelow_DeletesKeysAtOrBelowThreshold(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	temporal := scoring.NewTemporal(time.Hour)

	if err := e.Put(ctx, "gbsuv7z", 5, model.NearbyResult{}, temporal, model.ScoreInputs{DateAdded: time.Now()}, 0.1); err != nil {
		t.Fatalf("Put low: %v", err)
	}
	if err := e.Put(ctx, "u4pruy", 5, model.NearbyResult{}, temporal, model.ScoreInputs{DateAdded: time.Now()}, 0.9); err != nil {
		t.Fatalf("Put high: %v", err)
	}

	evicted, err := e.CleanupBelow(ctx, 0.2)
	if err != nil {
		t.Fatalf("CleanupBelow: %v", err)
	}
	if evicted != 1 {
		t.Fatalf("CleanupBelow evicted = %d, want 1", evicted)
	}

	if _, ok, _ := e.Get(ctx, "gbsuv7z", 5); ok {
		t.Fatalf("bucket at/below threshold should have been evicted")
	}
	if _, ok, _ := e.Get(ctx, "u4pruy", 5); !ok {
		t.Fatalf("bucket above threshold should remain")
	}
}

func TestCleanupBelow_ThresholdIsInclusive(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	temporal := scoring.NewTemporal(time.Hour)

	if err := e.Put(ctx, "gbsuv7z", 5, model.NearbyResult{}, temporal, model.ScoreInputs{DateAdded: time.Now()}, 0.5); err != nil {
		t.Fatalf("Put: %v", err)
	}

	evicted, err := e.CleanupBelow(ctx, 0.5)
	if err != nil {
		t.Fatalf("CleanupBelow: %v", err)
	}
	if evicted != 1 {
		t.Fatalf("CleanupBelow evicted = %d, want 1 (threshold is inclusive)", evicted)
	}
}

func TestRefreshScores_RecomputesFromStoredMetadata(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	writeTime := time.Now().Add(-40 * 24 * time.Hour)
	fresh := scoring.NewTemporal(time.Hour)
	staleWrittenScore := 1.0 // written high, but metadata says it's 40 days old

	if err := e.Put(ctx, "gbsuv7z", 5, model.NearbyResult{}, fresh, model.ScoreInputs{DateAdded: writeTime}, staleWrittenScore); err != nil {
		t.Fatalf("Put: %v", err)
	}

	n, err := e.RefreshScores(ctx, fresh)
	if err != nil {
		t.Fatalf("RefreshScores: %v", err)
	}
	if n != 1 {
		t.Fatalf("RefreshScores refreshed = %d, want 1", n)
	}

	recomputed := fresh.Score(writeTime, model.Attributes{})
	evicted, err := e.CleanupBelow(ctx, recomputed+0.01)
	if err != nil {
		t.Fatalf("CleanupBelow: %v", err)
	}
	if evicted != 1 {
		t.Fatalf("CleanupBelow after refresh evicted = %d, want 1 (index should reflect recomputed score)", evicted)
	}
}

func TestRefreshScores_DropsOrphanIndexEntries(t *testing.T) {
	e, mr := newEngine(t)
	ctx := context.Background()
	fresh := scoring.NewTemporal(time.Hour)

	if err := e.Put(ctx, "gbsuv7z", 5, model.NearbyResult{}, fresh, model.ScoreInputs{DateAdded: time.Now()}, 0.8); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// simulate the bucket having expired by TTL while the index entry lingers
	mr.FastForward(2 * time.Hour)

	n, err := e.RefreshScores(ctx, fresh)
	if err != nil {
		t.Fatalf("RefreshScores: %v", err)
	}
	if n != 0 {
		t.Fatalf("RefreshScores refreshed = %d, want 0 for an orphaned entry", n)
	}
}
