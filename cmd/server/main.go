// Command server runs the geospatial proximity cache HTTP API: it wires
// the Redis-backed geohash cache, the MongoDB document store, the
// temporal scorer, the hit-ratio optimizer, and the query coordinator
// behind a chi router, and serves until SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/geoprox/proxcache/internal/aggregation"
	"github.com/geoprox/proxcache/internal/api"
	"github.com/geoprox/proxcache/internal/config"
	"github.com/geoprox/proxcache/internal/coordinator"
	"github.com/geoprox/proxcache/internal/geocache"
	"github.com/geoprox/proxcache/internal/invalidate"
	"github.com/geoprox/proxcache/internal/logger"
	"github.com/geoprox/proxcache/internal/optimizer"
	"github.com/geoprox/proxcache/internal/scoring"
	"github.com/geoprox/proxcache/internal/store/doc"
	"github.com/geoprox/proxcache/internal/store/kv"
)

var version = "dev"

func main() {
	cfg := config.FromEnv()

	zlog := logger.Build(logger.Config{Level: cfg.LogLevel, Component: "proxcache"}, nil)
	slogLogger := logger.NewSlog(&zlog)

	zlog.Info().Str("addr", cfg.Addr).Str("version", version).Msg("starting proxcache server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kvStore, err := kv.New(ctx, cfg.RedisAddr,
		kv.WithReadTimeout(cfg.CacheOpTimeout), kv.WithWriteTimeout(cfg.CacheOpTimeout))
	if err != nil {
		zlog.Fatal().Err(err).Msg("connect redis")
	}
	defer func() { _ = kvStore.Close() }()

	docStore, err := doc.Connect(ctx, cfg.MongoURI, cfg.MongoDB, "properties")
	if err != nil {
		zlog.Fatal().Err(err).Msg("connect mongo")
	}

	cache := geocache.New(kvStore)
	temporal := scoring.NewTemporal(cfg.BaseTTL)
	opt := optimizer.New(kvStore, cfg.OptimizerWindow, cfg.OptimizerLowRatio, cfg.OptimizerMidRatio, cfg.OptimizerShortTTL)

	var publisher *invalidate.Publisher
	if cfg.Invalidation.Enabled {
		p, err := invalidate.NewPublisher(strings.Split(cfg.Invalidation.Brokers, ","), cfg.Invalidation.Topic)
		if err != nil {
			zlog.Error().Err(err).Msg("invalidation publisher unavailable, writes will not broadcast")
		} else {
			publisher = p
			defer func() { _ = publisher.Close() }()
		}
	}

	coord := coordinator.New(
		&zlog, docStore, cache, temporal, opt,
		cfg.DefaultRadiusKm, cfg.DefaultLimit, cfg.MaxLimit,
		cfg.DocStoreTimeout, cfg.WarmMaxWorkers, cfg.WarmMaxItems,
		cfg.DegradationFactor, publisher,
	)
	facets := aggregation.New(docStore)

	handlers := api.NewHandlers(coord, facets, &zlog, cfg.DefaultRadiusKm, cfg.DefaultLimit, cfg.MaxLimit)
	router := api.NewRouter(slogLogger, handlers, cfg.RateLimitPerMinute)

	if cfg.Invalidation.Enabled {
		go runInvalidationConsumer(ctx, cfg, cache, slogLogger, &zlog)
	}

	go runDegradationSweep(ctx, cache, temporal, cfg.CleanupScoreThreshold, &zlog)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zlog.Info().Str("addr", cfg.Addr).Msg("http listen")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		zlog.Info().Msg("server stopped")
	case err := <-errCh:
		zlog.Error().Err(err).Msg("server error")
	}
}

func runInvalidationConsumer(ctx context.Context, cfg config.Config, cache *geocache.Engine, slogLogger *slog.Logger, zlog *zerolog.Logger) {
	icfg := invalidate.Config{
		Brokers:             strings.Split(cfg.Invalidation.Brokers, ","),
		Topic:               cfg.Invalidation.Topic,
		GroupID:             cfg.Invalidation.GroupID,
		SessionTimeout:      30 * time.Second,
		Heartbeat:           3 * time.Second,
		RebalanceTimeout:    30 * time.Second,
		InitialOffsetOldest: true,
		DedupeCacheSize:     cfg.L1Size,
	}
	consumer := invalidate.New(icfg, slogLogger, cache)
	if err := consumer.Start(ctx); err != nil {
		zlog.Error().Err(err).Msg("invalidation consumer stopped")
	}
}

// runDegradationSweep periodically refreshes every live bucket's score
// from its stored metadata, then deletes whatever has decayed to or
// below scoreThreshold (spec section 3: refreshScores() followed by
// cleanupBelow(threshold)).
func runDegradationSweep(ctx context.Context, cache *geocache.Engine, temporal *scoring.Temporal, scoreThreshold float64, zlog *zerolog.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := cache.RefreshScores(ctx, temporal); err != nil {
				zlog.Warn().Err(err).Msg("score refresh failed")
				continue
			}
			n, err := cache.CleanupBelow(ctx, scoreThreshold)
			if err != nil {
				zlog.Warn().Err(err).Msg("degradation sweep failed")
				continue
			}
			zlog.Debug().Int("evicted", n).Msg("degradation sweep complete")
		}
	}
}
