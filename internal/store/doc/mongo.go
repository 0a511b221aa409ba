package doc

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/geoprox/proxcache/internal/apperr"
	"github.com/geoprox/proxcache/internal/geo"
	"github.com/geoprox/proxcache/internal/model"
	"github.com/geoprox/proxcache/internal/observability"
)

// MongoStore is a Store backed by a MongoDB collection with a 2dsphere
// index on location.
type MongoStore struct {
	coll *mongo.Collection
}

var _ Store = (*MongoStore)(nil)

func Connect(ctx context.Context, uri, dbName, collName string) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	coll := client.Database(dbName).Collection(collName)

	idxCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err = coll.Indexes().CreateMany(idxCtx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "location", Value: "2dsphere"}}},
		{Keys: bson.D{{Key: "date_added", Value: 1}}},
		{Keys: bson.D{{Key: "category_key", Value: 1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("mongo create indexes: %w", err)
	}

	return &MongoStore{coll: coll}, nil
}

func (s *MongoStore) GeoNear(ctx context.Context, q GeoNearQuery) ([]model.Property, int64, error) {
	stop := observability.Timer()

	geometry := bson.M{
		"type":        "Point",
		"coordinates": []float64{q.Lng, q.Lat},
	}
	filter := bson.M{
		"location": bson.M{
			"$nearSphere": bson.M{
				"$geometry":    geometry,
				"$maxDistance": q.RadiusKm * 1000,
			},
		},
	}

	// CountDocuments runs its filter as an aggregation $match, which does
	// not accept $nearSphere, so the total is counted with the equivalent
	// $geoWithin/$centerSphere filter (radius expressed in radians).
	countFilter := bson.M{
		"location": bson.M{
			"$geoWithin": bson.M{
				"$centerSphere": bson.A{[]float64{q.Lng, q.Lat}, q.RadiusKm / geo.EarthRadiusKm},
			},
		},
	}
	total, err := s.coll.CountDocuments(ctx, countFilter)
	if err != nil {
		observability.ObserveCacheOp("docstore_geonear_count", err, stop().Seconds())
		return nil, 0, fmt.Errorf("count near: %w", err)
	}

	opts := options.Find().SetSkip(q.Skip)
	if q.Limit > 0 {
		opts = opts.SetLimit(q.Limit)
	}
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		observability.ObserveCacheOp("docstore_geonear", err, stop().Seconds())
		return nil, 0, fmt.Errorf("find near: %w", err)
	}
	defer cur.Close(ctx)

	var out []model.Property
	if err := cur.All(ctx, &out); err != nil {
		observability.ObserveCacheOp("docstore_geonear", err, stop().Seconds())
		return nil, 0, fmt.Errorf("decode near results: %w", err)
	}

	observability.ObserveCacheOp("docstore_geonear", nil, stop().Seconds())
	return out, total, nil
}

// FindInBox implements the legacy rectangular pre-filter (spec 4.8): a
// plain lat/lng range match on the GeoJSON coordinates pair, kept
// separate from GeoNear's $nearSphere so the two paths can be compared.
func (s *MongoStore) FindInBox(ctx context.Context, q BoxQuery) ([]model.Property, int64, error) {
	stop := observability.Timer()

	filter := bson.M{
		"location.coordinates.1": bson.M{"$gte": q.MinLat, "$lte": q.MaxLat},
		"location.coordinates.0": bson.M{"$gte": q.MinLng, "$lte": q.MaxLng},
	}

	total, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		observability.ObserveCacheOp("docstore_box_count", err, stop().Seconds())
		return nil, 0, fmt.Errorf("count in box: %w", err)
	}

	opts := options.Find().SetSkip(q.Skip)
	if q.Limit > 0 {
		opts = opts.SetLimit(q.Limit)
	}
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		observability.ObserveCacheOp("docstore_box", err, stop().Seconds())
		return nil, 0, fmt.Errorf("find in box: %w", err)
	}
	defer cur.Close(ctx)

	var out []model.Property
	if err := cur.All(ctx, &out); err != nil {
		observability.ObserveCacheOp("docstore_box", err, stop().Seconds())
		return nil, 0, fmt.Errorf("decode box results: %w", err)
	}

	observability.ObserveCacheOp("docstore_box", nil, stop().Seconds())
	return out, total, nil
}

// List returns an unfiltered page ordered by date_added, for plain
// catalog browsing outside the geospatial paths.
func (s *MongoStore) List(ctx context.Context, q ListQuery) ([]model.Property, int64, error) {
	stop := observability.Timer()

	total, err := s.coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		observability.ObserveCacheOp("docstore_list_count", err, stop().Seconds())
		return nil, 0, fmt.Errorf("count all: %w", err)
	}

	opts := options.Find().SetSkip(q.Skip).SetSort(bson.D{{Key: "date_added", Value: -1}})
	if q.Limit > 0 {
		opts = opts.SetLimit(q.Limit)
	}
	cur, err := s.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		observability.ObserveCacheOp("docstore_list", err, stop().Seconds())
		return nil, 0, fmt.Errorf("list properties: %w", err)
	}
	defer cur.Close(ctx)

	var out []model.Property
	if err := cur.All(ctx, &out); err != nil {
		observability.ObserveCacheOp("docstore_list", err, stop().Seconds())
		return nil, 0, fmt.Errorf("decode list results: %w", err)
	}

	observability.ObserveCacheOp("docstore_list", nil, stop().Seconds())
	return out, total, nil
}

// CountAll reports the total document count, used by the cache-stats
// endpoint.
func (s *MongoStore) CountAll(ctx context.Context) (int64, error) {
	stop := observability.Timer()
	total, err := s.coll.CountDocuments(ctx, bson.M{})
	observability.ObserveCacheOp("docstore_count_all", err, stop().Seconds())
	if err != nil {
		return 0, fmt.Errorf("count all: %w", err)
	}
	return total, nil
}

func (s *MongoStore) FindByID(ctx context.Context, id string) (model.Property, error) {
	stop := observability.Timer()
	var p model.Property
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&p)
	observability.ObserveCacheOp("docstore_findbyid", filterNoDocs(err), stop().Seconds())
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return model.Property{}, apperr.New(apperr.NotFound, fmt.Sprintf("property %q not found", id))
		}
		return model.Property{}, fmt.Errorf("find by id %q: %w", id, err)
	}
	return p, nil
}

func (s *MongoStore) Insert(ctx context.Context, p model.Property) error {
	stop := observability.Timer()
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": p.ID}, p, options.Replace().SetUpsert(true))
	observability.ObserveCacheOp("docstore_insert", err, stop().Seconds())
	if err != nil {
		return fmt.Errorf("insert property %q: %w", p.ID, err)
	}
	return nil
}

func (s *MongoStore) AggregateByField(ctx context.Context, q AggregateQuery) ([]model.AggregationGroup, error) {
	stop := observability.Timer()

	match := bson.M{}
	for _, f := range q.Filters {
		match[f.Field] = f.Value
	}

	groupField := "$" + q.GroupBy
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: groupField},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "room_types", Value: bson.D{{Key: "$addToSet", Value: "$room_type"}}},
			{Key: "cancellation_policies", Value: bson.D{{Key: "$addToSet", Value: "$cancellation_policy"}}},
			{Key: "host_identity_verified", Value: bson.D{{Key: "$addToSet", Value: "$host_identity_verified"}}},
			{Key: "property_types", Value: bson.D{{Key: "$addToSet", Value: "$property_type"}}},
			{Key: "purposes", Value: bson.D{{Key: "$push", Value: "$purpose"}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}}}},
	}

	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		observability.ObserveCacheOp("docstore_aggregate", err, stop().Seconds())
		return nil, fmt.Errorf("aggregate by %q: %w", q.GroupBy, err)
	}
	defer cur.Close(ctx)

	type row struct {
		ID                   string   `bson:"_id"`
		Count                int      `bson:"count"`
		RoomTypes            []string `bson:"room_types"`
		CancellationPolicies []string `bson:"cancellation_policies"`
		HostIdentityVerified []string `bson:"host_identity_verified"`
		PropertyTypes        []string `bson:"property_types"`
		Purposes             []string `bson:"purposes"`
	}
	var rows []row
	if err := cur.All(ctx, &rows); err != nil {
		observability.ObserveCacheOp("docstore_aggregate", err, stop().Seconds())
		return nil, fmt.Errorf("decode aggregate rows: %w", err)
	}

	out := make([]model.AggregationGroup, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.AggregationGroup{
			GroupKey:             r.ID,
			Count:                r.Count,
			RoomTypes:            r.RoomTypes,
			CancellationPolicies: r.CancellationPolicies,
			HostIdentityVerified: r.HostIdentityVerified,
			PropertyTypes:        r.PropertyTypes,
			Purposes:             r.Purposes,
		})
	}

	observability.ObserveCacheOp("docstore_aggregate", nil, stop().Seconds())
	return out, nil
}

func filterNoDocs(err error) error {
	if err == mongo.ErrNoDocuments {
		return nil
	}
	return err
}
