// Package model defines the core domain types shared across the service.
package model

import "time"

// Coordinates is a lat/lng pair in degrees (EPSG:4326).
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Attributes are the categorical/boolean badges a Property carries that
// feed into temporal scoring and relevance ranking.
type Attributes struct {
	IsPremium  bool `json:"isPremium,omitempty"`
	IsFeatured bool `json:"isFeatured,omitempty"`
	IsVerified bool `json:"isVerified,omitempty"`
}

// Property is the document-store record. Only the fields the cache and
// scorer consume are modeled; everything else round-trips opaquely.
type Property struct {
	ID                   string     `bson:"_id" json:"id"`
	Location             GeoPoint   `bson:"location" json:"location"`
	DateAdded            time.Time  `bson:"date_added" json:"dateAdded"`
	Price                float64    `bson:"price" json:"price"`
	CategoryKey          string     `bson:"category_key" json:"categoryKey"`
	Neighbourhood        string     `bson:"neighbourhood" json:"neighbourhood,omitempty"`
	City                 string     `bson:"city" json:"city,omitempty"`
	RoomType             string     `bson:"room_type" json:"roomType,omitempty"`
	PropertyType         string     `bson:"property_type" json:"propertyType,omitempty"`
	CancellationPolicy   string     `bson:"cancellation_policy" json:"cancellationPolicy,omitempty"`
	HostIdentityVerified string     `bson:"host_identity_verified" json:"hostIdentityVerified,omitempty"`
	Purpose              string     `bson:"purpose" json:"purpose,omitempty"`
	Attributes           Attributes `bson:"attributes" json:"attributes"`

	// DistanceMeters and Relevance are populated by the coordinator for
	// a particular query; they are not persisted.
	DistanceMeters float64 `bson:"-" json:"distanceMeters,omitempty"`
	Relevance      float64 `bson:"-" json:"relevance,omitempty"`
}

// GeoPoint is a GeoJSON Point, coordinates in [lng, lat] order.
type GeoPoint struct {
	Type        string     `bson:"type" json:"type"`
	Coordinates [2]float64 `bson:"coordinates" json:"coordinates"`
}

func NewGeoPoint(lat, lng float64) GeoPoint {
	return GeoPoint{Type: "Point", Coordinates: [2]float64{lng, lat}}
}

func (p GeoPoint) Lng() float64 { return p.Coordinates[0] }
func (p GeoPoint) Lat() float64 { return p.Coordinates[1] }

// NearbyResult is the payload returned by a nearby query and what gets
// cached under a geohash key.
type NearbyResult struct {
	Properties  []Property `json:"properties"`
	TotalCount  int        `json:"totalCount"`
	TotalPages  int        `json:"totalPages"`
	CurrentPage int        `json:"currentPage"`
	HasMore     bool       `json:"hasMore"`
	Metadata    ResultMeta `json:"metadata"`
}

type ResultMeta struct {
	QueryTimestamp time.Time   `json:"queryTimestamp"`
	Coordinates    Coordinates `json:"coordinates"`
	RadiusKm       float64     `json:"radius"`
}

// ScoreInputs are the minimal inputs needed to recompute a temporal
// score at any instant; they are what a CachedBucket stores as metadata
// (spec section 3).
type ScoreInputs struct {
	DateAdded  time.Time  `json:"dateAdded"`
	Attributes Attributes `json:"attributes"`
}

// CachedBucket is the value stored under a geohash cache key.
type CachedBucket struct {
	Data      NearbyResult `json:"data"`
	Score     float64      `json:"score"`
	WrittenAt time.Time    `json:"writtenAt"`
	Metadata  ScoreInputs  `json:"metadata"`
}

// AggregationFilter is an equality filter narrowing the source set
// before grouping (spec section 4.7).
type AggregationFilter struct {
	Field string
	Value string
}

// AggregationGroup is one locality bucket produced by the aggregation
// service. CategoryCounts holds per-value sums of a categorical field
// (e.g. how many "for-sale" vs "for-rent" listings fall in this group);
// the Room/Cancellation/HostIdentityVerified/PropertyType slices hold
// the distinct values seen in the group, not counts (spec section 4.7).
type AggregationGroup struct {
	GroupKey             string         `json:"groupKey"`
	Count                int            `json:"count"`
	CategoryCounts       map[string]int `json:"categoryCounts"`
	RoomTypes            []string       `json:"roomTypes"`
	CancellationPolicies []string       `json:"cancellationPolicies"`
	HostIdentityVerified []string       `json:"hostIdentityVerified"`
	PropertyTypes        []string       `json:"propertyTypes"`

	// Purposes carries one entry per underlying property in the group
	// (duplicates included) so the aggregation layer can turn it into
	// per-value counts; it is scratch input, not part of the API shape.
	Purposes []string `json:"-"`
}

// Preferences are optional user-supplied ranking hints (spec section 4.2).
type Preferences struct {
	MaxPrice           float64
	PreferredLocations []string
	PreferredTypes     []string
}
