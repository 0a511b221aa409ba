// Package config loads process configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type InvalidationCfg struct {
	Enabled bool
	Topic   string
	Brokers string
	GroupID string
}

type Config struct {
	Addr     string
	LogLevel string

	RedisAddr string
	MongoURI  string
	MongoDB   string

	DefaultRadiusKm float64
	DefaultLimit    int
	MaxLimit        int

	BaseTTL        time.Duration
	CacheOpTimeout time.Duration
	DocStoreTimeout time.Duration

	WarmMaxWorkers int
	WarmMaxItems   int

	OptimizerWindow    int
	OptimizerLowRatio  float64
	OptimizerMidRatio  float64
	OptimizerShortTTL  time.Duration

	DegradationFactor     float64
	CleanupScoreThreshold float64

	RateLimitPerMinute int

	InFlightMarkerTTL time.Duration

	Invalidation InvalidationCfg

	L1Size int
}

func FromEnv() Config {
	return Config{
		Addr:     getenv("ADDR", ":8090"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		RedisAddr: getenv("REDIS_ADDR", "localhost:6379"),
		MongoURI:  getenv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:   getenv("MONGO_DB", "proxcache"),

		DefaultRadiusKm: getfloat("DEFAULT_RADIUS_KM", 5.0),
		DefaultLimit:    getint("DEFAULT_LIMIT", 20),
		MaxLimit:        getint("MAX_LIMIT", 1000),

		BaseTTL:         getduration("CACHE_BASE_TTL", 3600*time.Second),
		CacheOpTimeout:  getduration("CACHE_OP_TIMEOUT", 500*time.Millisecond),
		DocStoreTimeout: getduration("DOCSTORE_TIMEOUT", 5*time.Second),

		WarmMaxWorkers: getint("WARM_MAX_WORKERS", 8),
		WarmMaxItems:   getint("WARM_MAX_ITEMS", 10),

		OptimizerWindow:   getint("OPTIMIZER_WINDOW", 100),
		OptimizerLowRatio: getfloat("OPTIMIZER_LOW_RATIO", 0.3),
		OptimizerMidRatio: getfloat("OPTIMIZER_MID_RATIO", 0.5),
		OptimizerShortTTL: getduration("OPTIMIZER_SHORT_TTL", 1800*time.Second),

		DegradationFactor:     getfloat("DEGRADATION_FACTOR", 0.7),
		CleanupScoreThreshold: getfloat("CLEANUP_SCORE_THRESHOLD", 0.05),

		RateLimitPerMinute: getint("RATE_LIMIT_PER_MINUTE", 100),

		InFlightMarkerTTL: getduration("INFLIGHT_MARKER_TTL", 2*time.Second),

		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Topic:   getenv("KAFKA_TOPIC", "proxcache-invalidation"),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			GroupID: getenv("KAFKA_GROUP_ID", "proxcache-invalidator"),
		},

		L1Size: getint("L1_SIZE", 4096),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
