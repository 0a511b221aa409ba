package scoring

import (
	"math"
	"testing"
	"time"

	"github.com/geoprox/proxcache/internal/model"
)

func TestRelevance_CombinesTemporalProximityPriceAndPreferences(t *testing.T) {
	temporal := NewTemporal(time.Hour)
	dateAdded := time.Now()

	base := model.Property{ID: "p1", DateAdded: dateAdded, Price: 100, City: "Aarhus", PropertyType: "apartment"}
	baseScore := temporal.Score(dateAdded, model.Attributes{})

	got := temporal.Relevance(base, 20, true, model.Preferences{})
	want := baseScore * math.Exp(-20.0/proximityDecayKm)
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("Relevance with distance only = %v, want %v", got, want)
	}

	withPrice := temporal.Relevance(base, 20, true, model.Preferences{MaxPrice: 50})
	wantPrice := want * 0.5
	if math.Abs(withPrice-wantPrice) > 1e-9 {
		t.Fatalf("Relevance with MaxPrice=50 on a 100-price property = %v, want %v", withPrice, wantPrice)
	}

	withLocation := temporal.Relevance(base, 20, true, model.Preferences{PreferredLocations: []string{"Aarhus"}})
	wantLocation := want * 1.2
	if math.Abs(withLocation-wantLocation) > 1e-9 {
		t.Fatalf("Relevance with matching preferred location = %v, want %v", withLocation, wantLocation)
	}

	withType := temporal.Relevance(base, 20, true, model.Preferences{PreferredTypes: []string{"apartment"}})
	wantType := want * 1.1
	if math.Abs(withType-wantType) > 1e-9 {
		t.Fatalf("Relevance with matching preferred type = %v, want %v", withType, wantType)
	}
}

func TestRelevance_NoDistanceSkipsProximityDecay(t *testing.T) {
	temporal := NewTemporal(time.Hour)
	dateAdded := time.Now()
	p := model.Property{ID: "p1", DateAdded: dateAdded}

	got := temporal.Relevance(p, 9999, false, model.Preferences{})
	want := temporal.Score(dateAdded, model.Attributes{})
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("Relevance without distance = %v, want %v (no decay applied)", got, want)
	}
}

func TestSortByRelevanceDesc_OrdersByRelevanceThenDistanceThenID(t *testing.T) {
	props := []model.Property{
		{ID: "c", Relevance: 1.0, DistanceMeters: 50},
		{ID: "a", Relevance: 2.0, DistanceMeters: 10},
		{ID: "b", Relevance: 1.0, DistanceMeters: 20},
		{ID: "d", Relevance: 1.0, DistanceMeters: 20},
	}

	SortByRelevanceDesc(props)

	order := []string{props[0].ID, props[1].ID, props[2].ID, props[3].ID}
	want := []string{"a", "b", "d", "c"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("sort order = %v, want %v", order, want)
		}
	}
}
