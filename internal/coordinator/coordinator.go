// Package coordinator wires the geohash cache, the doc store, and the
// scoring engine together into the nearby-query request path, including
// bounded asynchronous neighbor-cell warming (spec section 4.5).
package coordinator

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/geoprox/proxcache/internal/apperr"
	"github.com/geoprox/proxcache/internal/geo"
	"github.com/geoprox/proxcache/internal/geocache"
	"github.com/geoprox/proxcache/internal/invalidate"
	"github.com/geoprox/proxcache/internal/logger"
	"github.com/geoprox/proxcache/internal/model"
	"github.com/geoprox/proxcache/internal/observability"
	"github.com/geoprox/proxcache/internal/optimizer"
	"github.com/geoprox/proxcache/internal/scoring"
	"github.com/geoprox/proxcache/internal/store/doc"
)

// legacyDegreesPerKm is the rough, intentionally-wrong degrees-per-km
// conversion used by the legacy bounding-box range query (spec section
// 4.8/9): a true conversion varies with latitude, but the legacy path
// predates the geohash/geo-near path and is preserved as-is for
// comparison and testing, not corrected.
const legacyDegreesPerKm = 0.009

// writeInvalidationRadiusKm is the fixed radius a property write
// invalidates, independent of the operator-configured query default
// (spec section 4.6: "GeohashCache.invalidateRadius(lat, lng, 10)").
const writeInvalidationRadiusKm = 10

type Coordinator struct {
	log      *zerolog.Logger
	docs     doc.Store
	cache    *geocache.Engine
	temporal *scoring.Temporal
	opt      *optimizer.Optimizer

	defaultRadiusKm float64
	defaultLimit    int
	maxLimit        int

	docTimeout time.Duration

	warmMaxWorkers int
	warmMaxItems   int

	degradationFactor float64

	publisher *invalidate.Publisher

	cacheHits atomic.Int64
}

func New(
	log *zerolog.Logger,
	docs doc.Store,
	cache *geocache.Engine,
	temporal *scoring.Temporal,
	opt *optimizer.Optimizer,
	defaultRadiusKm float64,
	defaultLimit, maxLimit int,
	docTimeout time.Duration,
	warmMaxWorkers, warmMaxItems int,
	degradationFactor float64,
	publisher *invalidate.Publisher,
) *Coordinator {
	return &Coordinator{
		log:               log,
		docs:              docs,
		cache:             cache,
		temporal:          temporal,
		opt:               opt,
		defaultRadiusKm:   defaultRadiusKm,
		defaultLimit:      defaultLimit,
		maxLimit:          maxLimit,
		docTimeout:        docTimeout,
		warmMaxWorkers:    warmMaxWorkers,
		warmMaxItems:      warmMaxItems,
		degradationFactor: degradationFactor,
		publisher:         publisher,
	}
}

// NearbyQuery is the main entry point: it serves from the geohash cache
// on a fresh hit, or fetches from the document store, scores and ranks,
// populates the cache, and kicks off bounded neighbor warming on a miss
// or a stale hit.
func (c *Coordinator) NearbyQuery(ctx context.Context, lat, lng, radiusKm float64, page, limit int, prefs model.Preferences) (model.NearbyResult, bool, error) {
	if err := geo.ValidateCoordinate(lat, lng); err != nil {
		return model.NearbyResult{}, false, apperr.Wrap(apperr.InvalidCoordinate, "invalid coordinate", err)
	}
	if radiusKm < 0 {
		radiusKm = c.defaultRadiusKm
	}
	if page < 1 || limit < 1 || limit > c.maxLimit {
		return model.NearbyResult{}, false, apperr.New(apperr.InvalidPagination, "page and limit out of range")
	}

	precision := geo.PrecisionForRadius(radiusKm)
	cell, err := geo.Encode(lat, lng, precision)
	if err != nil {
		return model.NearbyResult{}, false, apperr.Wrap(apperr.InvalidCoordinate, "geohash encode failed", err)
	}

	ctx = logger.WithCacheKey(ctx, geocache.BucketKey(cell, radiusKm))
	l := logger.FromContext(ctx, c.log)

	bucket, hit, err := c.cache.Get(ctx, cell, radiusKm)
	if err != nil {
		l.Warn().Err(err).Msg("cache get failed, degrading to doc-store fetch")
		hit = false
	}

	if hit && !c.temporal.IsStale(bucket.Score, bucket.Metadata, c.degradationFactor) {
		c.opt.RecordHit(ctx, cell)
		c.cacheHits.Add(1)
		observability.IncCacheHit()
		l.Debug().Msg("cache hit")
		return paginate(bucket.Data, page, limit), true, nil
	}

	if hit {
		observability.IncCacheStale()
		l.Debug().Msg("cache hit but degraded, refetching")
	} else {
		observability.IncCacheMiss()
		l.Debug().Msg("cache miss")
	}
	c.opt.RecordMiss(ctx, cell)

	result, score, inputs, err := c.fetchScoreAndRank(ctx, lat, lng, radiusKm, prefs)
	if err != nil {
		return model.NearbyResult{}, false, err
	}

	if err := c.cache.Put(ctx, cell, radiusKm, result, c.temporal, inputs, score); err != nil {
		l.Warn().Err(err).Msg("cache put failed")
	}

	go c.warmNeighbors(cell, radiusKm, prefs)

	return paginate(result, page, limit), false, nil
}

// fetchScoreAndRank queries the document store for everything within
// radiusKm of (lat,lng), ranks the properties by relevance, and returns
// the unpaginated NearbyResult along with the score and metadata to
// cache it under.
func (c *Coordinator) fetchScoreAndRank(ctx context.Context, lat, lng, radiusKm float64, prefs model.Preferences) (model.NearbyResult, float64, model.ScoreInputs, error) {
	dctx, cancel := context.WithTimeout(ctx, c.docTimeout)
	defer cancel()

	props, total, err := c.docs.GeoNear(dctx, doc.GeoNearQuery{
		Lat: lat, Lng: lng, RadiusKm: radiusKm, Skip: 0, Limit: 1000,
	})
	if err != nil {
		kind := apperr.UpstreamDocStoreFailure
		if dctx.Err() == context.DeadlineExceeded {
			kind = apperr.UpstreamDocStoreTimeout
		}
		return model.NearbyResult{}, 0, model.ScoreInputs{}, apperr.Wrap(kind, "doc store geo-near failed", err)
	}

	for i := range props {
		p := &props[i]
		p.DistanceMeters = geo.Haversine(lat, lng, p.Location.Lat(), p.Location.Lng()) * 1000
		p.Relevance = c.temporal.Relevance(*p, p.DistanceMeters/1000, true, prefs)
	}
	scoring.SortByRelevanceDesc(props)

	// The bucket holds a whole list of properties but the ScoreIndex
	// tracks one scalar per cell, so the list itself is scored and
	// re-scored as freshly-written (now, Attributes{}) rather than by
	// any one property's metadata; this keeps the stored score and the
	// metadata RefreshScores later recomputes it from in agreement.
	now := time.Now()
	inputs := model.ScoreInputs{DateAdded: now, Attributes: model.Attributes{}}
	score := c.temporal.Score(now, model.Attributes{})

	result := model.NearbyResult{
		Properties: props,
		TotalCount: int(total),
		Metadata: model.ResultMeta{
			QueryTimestamp: now,
			Coordinates:    model.Coordinates{Lat: lat, Lng: lng},
			RadiusKm:       radiusKm,
		},
	}
	return result, score, inputs, nil
}

// warmNeighbors proactively populates the 8 geohash cells adjacent to
// cell, bounded by warmMaxWorkers concurrent workers and warmMaxItems
// total cells, skipping any cell another caller is already warming
// (spec section 4.5/4.3).
func (c *Coordinator) warmNeighbors(cell string, radiusKm float64, prefs model.Preferences) {
	neighbors, err := geo.Neighbors(cell)
	if err != nil {
		return
	}

	items := neighbors[:]
	if c.warmMaxItems > 0 && c.warmMaxItems < len(items) {
		items = items[:c.warmMaxItems]
	}

	jobs := make(chan string, len(items))
	workerN := c.warmMaxWorkers
	if workerN <= 0 {
		workerN = 4
	}

	var wg sync.WaitGroup
	wg.Add(workerN)
	for range workerN {
		go func() {
			defer wg.Done()
			for neighbor := range jobs {
				c.warmOne(neighbor, radiusKm, prefs)
			}
		}()
	}
	for _, n := range items {
		jobs <- n
	}
	close(jobs)
	wg.Wait()
}

func (c *Coordinator) warmOne(cell string, radiusKm float64, prefs model.Preferences) {
	ctx, cancel := context.WithTimeout(context.Background(), c.docTimeout)
	defer cancel()

	won, err := c.cache.TryMarkInFlight(ctx, cell, radiusKm)
	if err != nil || !won {
		if err == nil {
			observability.IncWarmJob("already_cached")
		}
		return
	}

	lat, lng, err := geo.Center(cell)
	if err != nil {
		observability.IncWarmJob("failed")
		return
	}

	if _, hit, _ := c.cache.Get(ctx, cell, radiusKm); hit {
		observability.IncWarmJob("already_cached")
		return
	}

	result, score, inputs, err := c.fetchScoreAndRank(ctx, lat, lng, radiusKm, prefs)
	if err != nil {
		observability.IncWarmJob("failed")
		return
	}
	if err := c.cache.Put(ctx, cell, radiusKm, result, c.temporal, inputs, score); err != nil {
		observability.IncWarmJob("failed")
		return
	}
	observability.IncWarmJob("populated")
}

// AddProperty inserts a property into the document store and
// invalidates the cached cells within writeInvalidationRadiusKm of its
// location so subsequent nearby queries observe it (spec section 4.6).
func (c *Coordinator) AddProperty(ctx context.Context, p model.Property) error {
	if err := geo.ValidateCoordinate(p.Location.Lat(), p.Location.Lng()); err != nil {
		return apperr.Wrap(apperr.InvalidCoordinate, "invalid property coordinate", err)
	}

	dctx, cancel := context.WithTimeout(ctx, c.docTimeout)
	defer cancel()
	if err := c.docs.Insert(dctx, p); err != nil {
		return apperr.Wrap(apperr.UpstreamDocStoreFailure, "insert property failed", err)
	}

	if _, err := c.cache.InvalidateRadius(ctx, p.Location.Lat(), p.Location.Lng(), writeInvalidationRadiusKm); err != nil {
		logger.FromContext(ctx, c.log).Warn().Err(err).Msg("post-insert invalidation failed")
	}

	if c.publisher != nil {
		ev := invalidate.Event{
			Version:  1,
			Op:       "insert",
			Lat:      p.Location.Lat(),
			Lng:      p.Location.Lng(),
			RadiusKm: writeInvalidationRadiusKm,
			TS:       time.Now(),
			Source:   "coordinator",
		}
		if err := c.publisher.Publish(ev); err != nil {
			logger.FromContext(ctx, c.log).Warn().Err(err).Msg("invalidation broadcast failed")
		}
	}

	return nil
}

// CoordinateRangeQuery is the legacy uncached range-query path kept for
// callers that bypass the geohash cache entirely (e.g. bulk exports).
// It pre-filters with the same rectangular lat/lng box the original
// implementation used rather than the geohash/geo-near path, including
// its degrees-per-km approximation error at latitude extremes.
func (c *Coordinator) CoordinateRangeQuery(ctx context.Context, lat, lng, radiusKm float64, skip, limit int64) ([]model.Property, int64, error) {
	if err := geo.ValidateCoordinate(lat, lng); err != nil {
		return nil, 0, apperr.Wrap(apperr.InvalidCoordinate, "invalid coordinate", err)
	}
	dctx, cancel := context.WithTimeout(ctx, c.docTimeout)
	defer cancel()

	delta := radiusKm * legacyDegreesPerKm
	props, total, err := c.docs.FindInBox(dctx, doc.BoxQuery{
		MinLat: lat - delta, MaxLat: lat + delta,
		MinLng: lng - delta, MaxLng: lng + delta,
		Skip: skip, Limit: limit,
	})
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.UpstreamDocStoreFailure, "range query failed", err)
	}
	return props, total, nil
}

// GetByID fetches a single property directly from the document store by
// ID, bypassing the geohash cache entirely.
func (c *Coordinator) GetByID(ctx context.Context, id string) (model.Property, error) {
	dctx, cancel := context.WithTimeout(ctx, c.docTimeout)
	defer cancel()
	p, err := c.docs.FindByID(dctx, id)
	if err != nil {
		return model.Property{}, apperr.Wrap(apperr.UpstreamDocStoreFailure, "find by id failed", err)
	}
	return p, nil
}

// ListProperties returns a page of properties straight from the
// document store, ordered newest-first, with no geo filtering.
func (c *Coordinator) ListProperties(ctx context.Context, skip, limit int64) ([]model.Property, int64, error) {
	dctx, cancel := context.WithTimeout(ctx, c.docTimeout)
	defer cancel()
	props, total, err := c.docs.List(dctx, doc.ListQuery{Skip: skip, Limit: limit})
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.UpstreamDocStoreFailure, "list properties failed", err)
	}
	return props, total, nil
}

// CacheStats is the spec-section-6 cacheStats payload: cumulative hits
// since process start, the cache's current size, and the document
// store's total document count.
type CacheStats struct {
	CacheHits       int64
	TotalDataCached int64
	TotalKeys       int64
	TotalDocuments  int64
}

// CacheStats reports the current size of the geohash cache, the
// process-local cumulative hit count, and the document store's total
// document count (spec section 6: "{cacheHits, totalDataCached,
// totalKeys, totalDocuments}").
func (c *Coordinator) CacheStats(ctx context.Context) (CacheStats, error) {
	stats, err := c.cache.Stats(ctx)
	if err != nil {
		return CacheStats{}, apperr.Wrap(apperr.UpstreamKvFailure, "cache stats failed", err)
	}

	dctx, cancel := context.WithTimeout(ctx, c.docTimeout)
	defer cancel()
	totalDocs, err := c.docs.CountAll(dctx)
	if err != nil {
		return CacheStats{}, apperr.Wrap(apperr.UpstreamDocStoreFailure, "document count failed", err)
	}

	return CacheStats{
		CacheHits:       c.cacheHits.Load(),
		TotalDataCached: stats.TotalDataCached,
		TotalKeys:       stats.TotalKeys,
		TotalDocuments:  totalDocs,
	}, nil
}

// ClearCache flushes every key from the geohash cache's backing store.
func (c *Coordinator) ClearCache(ctx context.Context) error {
	if err := c.cache.Clear(ctx); err != nil {
		return apperr.Wrap(apperr.UpstreamKvFailure, "cache clear failed", err)
	}
	return nil
}

func paginate(result model.NearbyResult, page, limit int) model.NearbyResult {
	total := len(result.Properties)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	out := result
	out.Properties = result.Properties[start:end]
	out.CurrentPage = page
	out.TotalPages = int(math.Ceil(float64(result.TotalCount) / float64(limit)))
	out.HasMore = end < total
	return out
}
