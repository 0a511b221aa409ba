// Package geocache implements the geohash-partitioned proximity cache:
// key construction, score-indexed storage, neighbor warming, and
// radius-based invalidation (spec sections 3 and 4.3).
package geocache

import (
	"strconv"
	"strings"
)

const (
	keyPrefix      = "geo"
	scoreIndexKey  = "geo:scoreindex"
	inFlightPrefix = "geo:warming"
)

// BucketKey builds the deterministic cache key for a geohash cell at a
// given query radius: "geo:<geohash>:<radius>" (spec section 3,
// invariant 1; literal radius=2 at cell dr5r7 renders "geo:dr5r7:2").
// Radius is folded into the key because two queries against the same
// cell with different radii are not interchangeable.
func BucketKey(geohash string, radiusKm float64) string {
	return keyPrefix + ":" + sanitize(geohash) + ":" + formatRadius(radiusKm)
}

// InFlightKey builds the short-TTL marker key used to suppress duplicate
// concurrent warming of the same cell (spec section 9).
func InFlightKey(geohash string, radiusKm float64) string {
	return inFlightPrefix + ":" + sanitize(geohash) + ":" + formatRadius(radiusKm)
}

// ScoreIndexKey is the Redis sorted set tracking every live bucket key by
// its last-written temporal score, used for TopN lookups and
// degradation sweeps.
func ScoreIndexKey() string { return scoreIndexKey }

// CellPattern returns the Scan glob covering every bucket key for a
// geohash cell regardless of query radius, e.g. "geo:u4pruy:*". Used by
// the hit-ratio optimizer to sweep every cached radius for a cell in one
// pass (spec section 4.4).
func CellPattern(geohash string) string {
	return keyPrefix + ":" + sanitize(geohash) + ":*"
}

func sanitize(geohash string) string {
	return strings.ToLower(strings.TrimSpace(geohash))
}

// formatRadius renders a radius in km the way the spec's literal keys
// do: "2", not "2.00"; fractional radii keep only the digits they need.
func formatRadius(radiusKm float64) string {
	return strconv.FormatFloat(radiusKm, 'f', -1, 64)
}
