package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/artpar/metergate/adapters/memory"
	"github.com/artpar/metergate/domain/retention"
	"github.com/artpar/metergate/domain/usage"
	"github.com/artpar/metergate/ports"
)

var memBase = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func TestUsageStore_PendingLookup(t *testing.T) {
	store := memory.NewUsageStore()
	ctx := context.Background()

	older := usage.NewReservation("old", "user-1", "", "generate", memBase.Add(-2*time.Minute))
	newer := usage.NewReservation("new", "user-1", "", "generate", memBase.Add(-time.Minute))
	store.Insert(ctx, older)
	store.Insert(ctx, newer)
	store.Update(ctx, newer.Finalized("openai", 10, 0, true, ""))

	pending, err := store.LatestPending(ctx, "user-1", "generate", memBase.Add(-time.Hour))
	if err != nil {
		t.Fatalf("LatestPending: %v", err)
	}
	if pending.ID != "old" {
		t.Errorf("LatestPending = %s, want old (newer entry is final)", pending.ID)
	}

	last, err := store.LastEntry(ctx, "user-1", "generate", memBase.Add(-time.Hour))
	if err != nil {
		t.Fatalf("LastEntry: %v", err)
	}
	if last.ID != "new" {
		t.Errorf("LastEntry = %s, want new", last.ID)
	}
}

func TestUsageStore_NotFound(t *testing.T) {
	store := memory.NewUsageStore()
	ctx := context.Background()

	if _, err := store.Get(ctx, "nope"); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("Get = %v, want ErrNotFound", err)
	}
	if err := store.Update(ctx, usage.Entry{ID: "nope"}); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("Update = %v, want ErrNotFound", err)
	}
	if _, err := store.LastEntry(ctx, "user-1", "generate", memBase); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("LastEntry = %v, want ErrNotFound", err)
	}
}

func TestUsageStore_CountWindows(t *testing.T) {
	store := memory.NewUsageStore()
	ctx := context.Background()

	store.Insert(ctx, usage.NewReservation("a", "user-1", "10.0.0.1", "generate", memBase.Add(-90*time.Minute)))
	store.Insert(ctx, usage.NewReservation("b", "user-1", "10.0.0.1", "generate", memBase.Add(-10*time.Minute)))
	store.Insert(ctx, usage.NewReservation("c", "user-1", "10.0.0.1", "export", memBase.Add(-5*time.Minute)))

	n, _ := store.CountSince(ctx, "user-1", "generate", memBase.Add(-time.Hour))
	if n != 1 {
		t.Errorf("count(generate) = %d, want 1", n)
	}
	n, _ = store.CountSince(ctx, "user-1", "", memBase.Add(-time.Hour))
	if n != 2 {
		t.Errorf("count(all actions) = %d, want 2", n)
	}
	n, _ = store.CountByIPSince(ctx, "10.0.0.1", memBase.Add(-time.Hour))
	if n != 2 {
		t.Errorf("count by ip = %d, want 2", n)
	}
}

func TestLogStore_DedupPrimitives(t *testing.T) {
	store := memory.NewLogStore()
	ctx := context.Background()

	store.AddEvent("hits", retention.EventRecord{ID: "e1", Key: "/foo", Timestamp: memBase.AddDate(0, 0, -40)})
	store.AddEvent("hits", retention.EventRecord{ID: "e2", Key: "/foo", Timestamp: memBase.AddDate(0, 0, -35)})
	store.AddEvent("hits", retention.EventRecord{ID: "e3", Key: "/bar", Timestamp: memBase.AddDate(0, 0, -2)})

	stale, err := store.EventsOlderThan(ctx, "hits", memBase.AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("EventsOlderThan: %v", err)
	}
	if len(stale) != 2 || stale[0].ID != "e1" {
		t.Errorf("stale = %+v, want e1,e2 in insertion order", stale)
	}

	err = store.RewriteCanonical(ctx, "hits", retention.CanonicalRewrite{
		ID: "e1", Count: 2, LastOccurrence: memBase.AddDate(0, 0, -35),
	})
	if err != nil {
		t.Fatalf("RewriteCanonical: %v", err)
	}
	deleted, _ := store.DeleteByID(ctx, "hits", []string{"e2"})
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	events := store.Events("hits")
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Count != 2 || !events[0].Aggregated {
		t.Errorf("canonical = %+v, want count 2, aggregated", events[0])
	}
}

func TestLogStore_SeriesPrimitives(t *testing.T) {
	store := memory.NewLogStore()
	ctx := context.Background()

	store.PutSeries("ranks", "kw-1", []retention.Sample{{Date: memBase, Position: 2}})
	store.PutSeries("ranks", "kw-2", []retention.Sample{{Date: memBase, Position: 7}})

	ids, _ := store.SeriesIDs(ctx, "ranks")
	if len(ids) != 2 || ids[0] != "kw-1" || ids[1] != "kw-2" {
		t.Errorf("ids = %v, want [kw-1 kw-2] in insertion order", ids)
	}

	if err := store.ReplaceSeries(ctx, "ranks", "kw-1", nil); err != nil {
		t.Fatalf("ReplaceSeries: %v", err)
	}
	if err := store.ReplaceSeries(ctx, "ranks", "missing", nil); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("ReplaceSeries missing = %v, want ErrNotFound", err)
	}
	if _, err := store.Series(ctx, "ranks", "missing"); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("Series missing = %v, want ErrNotFound", err)
	}
}
