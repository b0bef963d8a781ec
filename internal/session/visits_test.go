package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestTracker(t *testing.T, now time.Time) (*VisitTracker, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	tracker := NewVisitTracker(client)
	tracker.now = func() time.Time { return now }
	return tracker, s
}

func TestRecordCountsVisitsAndUniqueVisitors(t *testing.T) {
	day := time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)
	tracker, s := newTestTracker(t, day)
	ctx := context.Background()

	for _, visit := range []struct{ token, user string }{
		{token: "req-1", user: "u1"},
		{token: "req-2", user: "u1"},
		{token: "anon-a"},
		{token: "anon-a"},
		{token: "anon-b"},
	} {
		if err := tracker.Record(ctx, "grp_1", visit.token, visit.user); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	got, err := s.Get("visits:grp_1:2024-05-02")
	if err != nil {
		t.Fatalf("read visits key: %v", err)
	}
	if got != "5" {
		t.Fatalf("visits = %q, want 5", got)
	}
	if ttl := s.TTL("visits:grp_1:2024-05-02"); ttl != 48*time.Hour {
		t.Fatalf("ttl = %v, want 48h", ttl)
	}

	visits, err := tracker.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if len(visits) != 1 {
		t.Fatalf("drained %d rows, want 1", len(visits))
	}
	if visits[0].Visits != 5 || visits[0].UniqueVisitors != 3 {
		t.Fatalf("unexpected drained visit: %+v", visits[0])
	}
}

func TestDrainKeepsPastDaysUntilAcked(t *testing.T) {
	day := time.Date(2024, 5, 2, 23, 0, 0, 0, time.UTC)
	tracker, _ := newTestTracker(t, day)
	ctx := context.Background()

	if err := tracker.Record(ctx, "grp_1", "req-1", ""); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	visits, err := tracker.Drain(ctx)
	if err != nil || len(visits) != 1 {
		t.Fatalf("same-day Drain() = %v, %v", visits, err)
	}
	if err := tracker.Ack(ctx, visits); err != nil {
		t.Fatalf("Ack() error = %v", err)
	}
	if visits, err := tracker.Drain(ctx); err != nil || len(visits) != 1 {
		t.Fatalf("today should stay dirty after Ack, got %v, %v", visits, err)
	}

	tracker.now = func() time.Time { return day.Add(2 * time.Hour) }
	if visits, err := tracker.Drain(ctx); err != nil || len(visits) != 1 {
		t.Fatalf("next-day Drain() = %v, %v", visits, err)
	}
	// An unacknowledged flush, for example after a failed write, is offered again.
	visits, err = tracker.Drain(ctx)
	if err != nil || len(visits) != 1 {
		t.Fatalf("unacked past day should be drained again, got %v, %v", visits, err)
	}
	if visits[0].Visits != 1 {
		t.Fatalf("unexpected drained visit: %+v", visits[0])
	}

	if err := tracker.Ack(ctx, visits); err != nil {
		t.Fatalf("Ack() error = %v", err)
	}
	if visits, err := tracker.Drain(ctx); err != nil || len(visits) != 0 {
		t.Fatalf("acked past day should be forgotten, got %v, %v", visits, err)
	}
}

func TestDrainForgetsExpiredDays(t *testing.T) {
	day := time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)
	tracker, s := newTestTracker(t, day)
	ctx := context.Background()

	if err := tracker.Record(ctx, "grp_1", "req-1", ""); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	s.FastForward(49 * time.Hour)
	tracker.now = func() time.Time { return day.Add(49 * time.Hour) }

	if visits, err := tracker.Drain(ctx); err != nil || len(visits) != 0 {
		t.Fatalf("expired counters should drain nothing, got %v, %v", visits, err)
	}
	if s.Exists("visits:dirty") {
		t.Fatal("expired day should leave the dirty set")
	}
}

func TestNoopTracker(t *testing.T) {
	var tracker NoopTracker
	if err := tracker.Record(context.Background(), "g", "v", "u"); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	visits, err := tracker.Drain(context.Background())
	if err != nil || len(visits) != 0 {
		t.Fatalf("Drain() = %v, %v", visits, err)
	}
	if err := tracker.Ack(context.Background(), visits); err != nil {
		t.Fatalf("Ack() error = %v", err)
	}
}
