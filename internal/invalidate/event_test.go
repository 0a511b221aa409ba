package invalidate

import (
	"testing"
	"time"
)

func mustTS() time.Time { return time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC) }

func TestEvent_Validate_HappyPath(t *testing.T) {
	ev := Event{Version: 1, Op: "insert", Lat: 40.7, Lng: -73.9, RadiusKm: 5, TS: mustTS()}
	if err := ev.Validate(); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
}

func TestEvent_Validate_RejectsBadVersion(t *testing.T) {
	ev := Event{Version: 2, Op: "insert", Lat: 40.7, Lng: -73.9, RadiusKm: 5, TS: mustTS()}
	if err := ev.Validate(); err == nil {
		t.Fatalf("expected error for unsupported version")
	}
}

func TestEvent_Validate_RejectsBadOp(t *testing.T) {
	ev := Event{Version: 1, Op: "merge", Lat: 40.7, Lng: -73.9, RadiusKm: 5, TS: mustTS()}
	if err := ev.Validate(); err == nil {
		t.Fatalf("expected error for unsupported op")
	}
}

func TestEvent_Validate_RejectsOutOfRangeCoordinate(t *testing.T) {
	ev := Event{Version: 1, Op: "delete", Lat: 999, Lng: -73.9, RadiusKm: 5, TS: mustTS()}
	if err := ev.Validate(); err == nil {
		t.Fatalf("expected error for out-of-range latitude")
	}
}

func TestEvent_Validate_RejectsNonPositiveRadius(t *testing.T) {
	ev := Event{Version: 1, Op: "delete", Lat: 40.7, Lng: -73.9, RadiusKm: 0, TS: mustTS()}
	if err := ev.Validate(); err == nil {
		t.Fatalf("expected error for non-positive radius")
	}
}

func TestEvent_Validate_RejectsMissingTimestamp(t *testing.T) {
	ev := Event{Version: 1, Op: "delete", Lat: 40.7, Lng: -73.9, RadiusKm: 5}
	if err := ev.Validate(); err == nil {
		t.Fatalf("expected error for missing timestamp")
	}
}
