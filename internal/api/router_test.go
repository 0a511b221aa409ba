package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"github.com/geoprox/proxcache/internal/aggregation"
	"github.com/geoprox/proxcache/internal/coordinator"
	"github.com/geoprox/proxcache/internal/geocache"
	"github.com/geoprox/proxcache/internal/model"
	"github.com/geoprox/proxcache/internal/optimizer"
	"github.com/geoprox/proxcache/internal/scoring"
	"github.com/geoprox/proxcache/internal/store/doc"
	"github.com/geoprox/proxcache/internal/store/kv"
)

type fakeDocStore struct {
	props []model.Property
}

func (f *fakeDocStore) GeoNear(ctx context.Context, q doc.GeoNearQuery) ([]model.Property, int64, error) {
	return f.props, int64(len(f.props)), nil
}
func (f *fakeDocStore) FindInBox(ctx context.Context, q doc.BoxQuery) ([]model.Property, int64, error) {
	return f.props, int64(len(f.props)), nil
}
func (f *fakeDocStore) List(ctx context.Context, q doc.ListQuery) ([]model.Property, int64, error) {
	return f.props, int64(len(f.props)), nil
}
func (f *fakeDocStore) FindByID(ctx context.Context, id string) (model.Property, error) {
	for _, p := range f.props {
		if p.ID == id {
			return p, nil
		}
	}
	return model.Property{ID: id}, nil
}
func (f *fakeDocStore) Insert(ctx context.Context, p model.Property) error {
	f.props = append(f.props, p)
	return nil
}
func (f *fakeDocStore) AggregateByField(ctx context.Context, q doc.AggregateQuery) ([]model.AggregationGroup, error) {
	return []model.AggregationGroup{{GroupKey: "testgroup", Count: len(f.props)}}, nil
}
func (f *fakeDocStore) CountAll(ctx context.Context) (int64, error) {
	return int64(len(f.props)), nil
}

func newTestRouter(t *testing.T) http.Handler {
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

	docs := &fakeDocStore{props: []model.Property{
		{ID: "p1", Location: model.NewGeoPoint(40.0, -73.0), DateAdded: time.Now()},
	}}
	cache := geocache.New(store)
	temporal := scoring.NewTemporal(time.Hour)
	opt := optimizer.New(store, 100, 0.3, 0.5, 30*time.Minute)
	zlog := zerolog.Nop()

	coord := coordinator.New(&zlog, docs, cache, temporal, opt, 5, 20, 100, 2*time.Second, 4, 8, 0.7, nil)
	facets := aggregation.New(docs)

	h := NewHandlers(coord, facets, &zlog, 5, 20, 100)
	return NewRouter(slog.New(slog.NewTextHandler(io.Discard, nil)), h, 0)
}

func TestNearbyEndpoint_ReturnsResults(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/properties/nearby?lat=40.0&lng=-73.0&radius=5", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var result model.NearbyResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.TotalCount != 1 {
		t.Fatalf("TotalCount = %d, want 1", result.TotalCount)
	}
}

func TestNearbyEndpoint_MissingLatReturnsBadRequest(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/properties/nearby?lng=-73.0", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestNearbyEndpoint_NegativeRadiusReturnsBadRequest(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/properties/nearby?lat=40.0&lng=-73.0&radius=-1", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHealthzEndpoint(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAggregateEndpoint_RequiresGroupBy(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/properties/aggregate", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAggregateEndpoint_AcceptsHostIdentityVerifiedFilter(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/properties/aggregate?groupBy=neighbourhood&hostIdentityVerified=verified", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}

func TestListPropertiesEndpoint_ReturnsPage(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/properties?page=1&limit=10", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}

func TestGetPropertyEndpoint_ReturnsByID(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/properties/get-property/p1", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var p model.Property
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if p.ID != "p1" {
		t.Fatalf("ID = %q, want p1", p.ID)
	}
}

func TestCacheStatsEndpoint_ReturnsZeroBeforeAnyQuery(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/properties/cacheStats", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var stats struct {
		CacheHits int64 `json:"cacheHits"`
		TotalKeys int64 `json:"totalKeys"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if stats.CacheHits != 0 || stats.TotalKeys != 0 {
		t.Fatalf("cacheHits=%d totalKeys=%d, want 0 and 0 before any query", stats.CacheHits, stats.TotalKeys)
	}
}

func TestClearCacheEndpoint_Succeeds(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/properties/clear-cache", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}
