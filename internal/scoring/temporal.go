// Package scoring implements the temporal-decay score, dynamic TTL, and
// relevance ranking described in spec section 4.2.
package scoring

import (
	"math"
	"time"

	"github.com/geoprox/proxcache/internal/model"
)

const (
	maxAgeDays  = 90.0
	decayRate   = 0.1
	premiumMul  = 1.2
	featuredMul = 1.1
	verifiedMul = 1.05
)

// Clock is overridable in tests; production uses time.Now.
type Clock func() time.Time

// Temporal computes time-decay scores and dynamic TTLs (spec 4.2).
type Temporal struct {
	Now     Clock
	BaseTTL time.Duration
}

func NewTemporal(baseTTL time.Duration) *Temporal {
	return &Temporal{Now: time.Now, BaseTTL: baseTTL}
}

func (t *Temporal) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// Score computes the temporal score for a record added at dateAdded with
// the given categorical attributes, per spec section 4.2.
func (t *Temporal) Score(dateAdded time.Time, attrs model.Attributes) float64 {
	return scoreAt(dateAdded, attrs, t.now())
}

func scoreAt(dateAdded time.Time, attrs model.Attributes, now time.Time) float64 {
	ageDays := clamp(now.Sub(dateAdded).Hours()/24, 0, maxAgeDays)
	base := math.Exp(-decayRate * ageDays)

	var timeWeight float64
	switch {
	case ageDays <= 7:
		timeWeight = 1.0
	case ageDays <= 30:
		timeWeight = 0.8
	default:
		timeWeight = 0.6
	}

	boost := 1.0
	if attrs.IsPremium {
		boost *= premiumMul
	}
	if attrs.IsFeatured {
		boost *= featuredMul
	}
	if attrs.IsVerified {
		boost *= verifiedMul
	}

	return base * timeWeight * boost
}

// TTL computes the dynamic TTL from a score in [0,1], per spec 4.2.
func (t *Temporal) TTL(score float64) time.Duration {
	base := t.BaseTTL
	if base <= 0 {
		base = 3600 * time.Second
	}
	minTTL := base / 2
	maxTTL := base * 2
	s := clamp(score, 0, 1)
	ttl := minTTL + time.Duration(float64(maxTTL-minTTL)*s)
	return ttl.Truncate(time.Second)
}

// IsStale reports whether a bucket written with writtenScore has
// degraded below the threshold fraction of its original score, given
// its stored metadata recomputed at the current instant (spec 4.2/4.3).
func (t *Temporal) IsStale(writtenScore float64, metadata model.ScoreInputs, degradationFactor float64) bool {
	if degradationFactor <= 0 {
		degradationFactor = 0.7
	}
	current := t.Score(metadata.DateAdded, metadata.Attributes)
	return current < degradationFactor*writtenScore
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
