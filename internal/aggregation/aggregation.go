// Package aggregation implements the facet aggregation service: grouping
// matching properties by a field and summarizing each group's category
// breakdown (spec section 4.7).
package aggregation

import (
	"context"
	"fmt"
	"sort"

	"github.com/geoprox/proxcache/internal/apperr"
	"github.com/geoprox/proxcache/internal/model"
	"github.com/geoprox/proxcache/internal/store/doc"
)

var allowedGroupFields = map[string]bool{
	"neighbourhood": true,
	"city":          true,
	"category_key":  true,
	"property_type": true,
}

type Service struct {
	docs doc.Store
}

func New(docs doc.Store) *Service {
	return &Service{docs: docs}
}

// Facets groups properties matching filters by groupBy, returning one
// AggregationGroup per distinct value with its category breakdown,
// sorted by total count descending (spec section 4.7).
func (s *Service) Facets(ctx context.Context, groupBy string, filters []model.AggregationFilter) ([]model.AggregationGroup, error) {
	if !allowedGroupFields[groupBy] {
		return nil, apperr.New(apperr.InvalidPagination, fmt.Sprintf("unsupported group field %q", groupBy))
	}

	groups, err := s.docs.AggregateByField(ctx, doc.AggregateQuery{GroupBy: groupBy, Filters: filters})
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamDocStoreFailure, "aggregation failed", err)
	}

	for i := range groups {
		groups[i].CategoryCounts = categoryBreakdown(groups[i])
		groups[i].Purposes = nil
	}

	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Count > groups[j].Count })
	return groups, nil
}

// categoryBreakdown sums occurrences of each distinct purpose value
// (e.g. "for-sale" vs "for-rent") within the group, so CategoryCounts
// is a real per-category total rather than a count of distinct values
// of an unrelated field.
func categoryBreakdown(g model.AggregationGroup) map[string]int {
	counts := make(map[string]int, len(g.Purposes))
	for _, purpose := range g.Purposes {
		if purpose == "" {
			continue
		}
		counts[purpose]++
	}
	return counts
}
