package scoring

import (
	"math"

	"github.com/geoprox/proxcache/internal/model"
)

const proximityDecayKm = 10.0

// Relevance combines a property's temporal score with proximity, price,
// and preference factors into the ranking score used for result
// ordering (spec section 4.2). Eviction does not use it: the score index
// that CleanupBelow sweeps holds the plain temporal score.
func (t *Temporal) Relevance(p model.Property, distanceKm float64, hasDistance bool, prefs model.Preferences) float64 {
	score := t.Score(p.DateAdded, p.Attributes)

	if hasDistance {
		score *= math.Exp(-distanceKm / proximityDecayKm)
	}

	if prefs.MaxPrice > 0 && p.Price > 0 {
		score *= math.Min(prefs.MaxPrice/p.Price, 1)
	}

	if contains(prefs.PreferredLocations, p.Neighbourhood) || contains(prefs.PreferredLocations, p.City) {
		score *= 1.2
	}

	if contains(prefs.PreferredTypes, p.PropertyType) {
		score *= 1.1
	}

	return score
}

func contains(list []string, v string) bool {
	if v == "" {
		return false
	}
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// SortByRelevanceDesc orders properties descending by Relevance, with
// ties broken by ascending distance then lexical id (spec 4.5).
func SortByRelevanceDesc(props []model.Property) {
	// simple insertion sort is fine: result pages are small (<=1000)
	for i := 1; i < len(props); i++ {
		j := i
		for j > 0 && less(props[j], props[j-1]) {
			props[j], props[j-1] = props[j-1], props[j]
			j--
		}
	}
}

// less reports whether a should sort before b under the tie-break rule.
func less(a, b model.Property) bool {
	if a.Relevance != b.Relevance {
		return a.Relevance > b.Relevance
	}
	if a.DistanceMeters != b.DistanceMeters {
		return a.DistanceMeters < b.DistanceMeters
	}
	return a.ID < b.ID
}
