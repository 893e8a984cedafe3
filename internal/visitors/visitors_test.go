package visitors

import (
	"testing"
	"time"

	"saleschat/pkg/store"
)

func TestTrackCountsUniqueVisitors(t *testing.T) {
	svc := New(store.NewMemoryStore())

	stats, err := svc.Track("tokenA", "Mozilla/5.0")
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if stats.TotalVisitors != 1 || stats.ActiveToday != 1 {
		t.Fatalf("first visit: %+v", stats)
	}

	// Same browser again: still one unique visitor.
	stats, err = svc.Track("tokenA", "Mozilla/5.0")
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if stats.TotalVisitors != 1 {
		t.Fatalf("repeat visit should not add a visitor: %+v", stats)
	}

	stats, err = svc.Track("tokenB", "")
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if stats.TotalVisitors != 2 {
		t.Fatalf("second browser should add a visitor: %+v", stats)
	}
}

func TestTrackRequiresToken(t *testing.T) {
	svc := New(store.NewMemoryStore())
	if _, err := svc.Track("", "agent"); err != ErrNoToken {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
}

func TestStatsActiveTodayUsesUTCMidnight(t *testing.T) {
	mem := store.NewMemoryStore()
	svc := New(mem)

	// First visit happens "yesterday".
	yesterday := time.Date(2026, 3, 9, 23, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return yesterday }
	if _, err := svc.Track("tokenA", ""); err != nil {
		t.Fatalf("track: %v", err)
	}

	// Next day another browser shows up.
	today := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return today }
	stats, err := svc.Track("tokenB", "")
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if stats.TotalVisitors != 2 {
		t.Fatalf("expected 2 total visitors: %+v", stats)
	}
	if stats.ActiveToday != 1 {
		t.Fatalf("only tokenB visited today: %+v", stats)
	}
}
