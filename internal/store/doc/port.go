// Package doc defines the geo-indexed document store port (spec section 6)
// and a MongoDB implementation backed by a 2dsphere index.
package doc

import (
	"context"

	"github.com/geoprox/proxcache/internal/model"
)

// GeoNearQuery describes a $geoNear lookup.
type GeoNearQuery struct {
	Lat      float64
	Lng      float64
	RadiusKm float64
	Skip     int64
	Limit    int64
}

// AggregateQuery describes a facet aggregation request (spec 4.7).
type AggregateQuery struct {
	GroupBy string
	Filters []model.AggregationFilter
}

// BoxQuery describes the legacy rectangular pre-filter (spec 4.8): a
// lat/lng bounding box rather than a true radius.
type BoxQuery struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
	Skip, Limit    int64
}

// ListQuery describes a plain, unfiltered paginated listing.
type ListQuery struct {
	Skip, Limit int64
}

// Store is the geo-indexed document store port.
type Store interface {
	// GeoNear returns properties within RadiusKm of (Lat,Lng), nearest first,
	// along with the total count of matches ignoring Skip/Limit.
	GeoNear(ctx context.Context, q GeoNearQuery) ([]model.Property, int64, error)

	// FindInBox returns properties whose coordinates fall inside the
	// given lat/lng rectangle, along with the total count of matches
	// ignoring Skip/Limit. It is the legacy pre-filter retained for
	// comparison against GeoNear (spec 4.8).
	FindInBox(ctx context.Context, q BoxQuery) ([]model.Property, int64, error)

	// List returns a plain paginated page of properties in no
	// particular geospatial order, along with the total document count.
	List(ctx context.Context, q ListQuery) ([]model.Property, int64, error)

	FindByID(ctx context.Context, id string) (model.Property, error)

	Insert(ctx context.Context, p model.Property) error

	// AggregateByField groups matching properties by field, producing
	// per-group facet counts (spec 4.7).
	AggregateByField(ctx context.Context, q AggregateQuery) ([]model.AggregationGroup, error)

	// CountAll reports the total number of documents in the store, used
	// by the cache-stats endpoint.
	CountAll(ctx context.Context) (int64, error)
}
