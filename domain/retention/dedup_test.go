package retention_test

import (
	"testing"
	"time"

	"github.com/artpar/metergate/domain/retention"
)

func day(d int) time.Time {
	return time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC)
}

func TestPlanDedup_CollapsesRepeatedKey(t *testing.T) {
	records := []retention.EventRecord{
		{ID: "e1", Key: "/foo", Timestamp: day(1)},
		{ID: "e2", Key: "/foo", Timestamp: day(2)},
		{ID: "e3", Key: "/foo", Timestamp: day(3)},
		{ID: "e4", Key: "/foo", Timestamp: day(4)},
		{ID: "e5", Key: "/foo", Timestamp: day(5)},
		{ID: "e6", Key: "/bar", Timestamp: day(2)},
	}

	plan := retention.PlanDedup(records)

	if len(plan.Rewrites) != 1 {
		t.Fatalf("rewrites = %d, want 1", len(plan.Rewrites))
	}
	rw := plan.Rewrites[0]
	if rw.ID != "e1" {
		t.Errorf("canonical = %s, want e1 (first in insertion order)", rw.ID)
	}
	if rw.Count != 5 {
		t.Errorf("count = %d, want 5", rw.Count)
	}
	if !rw.LastOccurrence.Equal(day(5)) {
		t.Errorf("lastOccurrence = %v, want %v", rw.LastOccurrence, day(5))
	}
	if len(plan.DeleteIDs) != 4 {
		t.Errorf("deletes = %d, want 4", len(plan.DeleteIDs))
	}
	for _, id := range plan.DeleteIDs {
		if id == "e1" || id == "e6" {
			t.Errorf("plan deletes %s, which must survive", id)
		}
	}
}

func TestPlanDedup_SingletonsUntouched(t *testing.T) {
	records := []retention.EventRecord{
		{ID: "e1", Key: "/a", Timestamp: day(1)},
		{ID: "e2", Key: "/b", Timestamp: day(2)},
	}

	plan := retention.PlanDedup(records)

	if len(plan.Rewrites) != 0 || len(plan.DeleteIDs) != 0 {
		t.Errorf("plan = %+v, want empty for singleton groups", plan)
	}
}

func TestPlanDedup_CanonicalByInsertionOrder(t *testing.T) {
	// The first record in insertion order survives even when a later
	// record has an earlier timestamp.
	records := []retention.EventRecord{
		{ID: "late", Key: "/x", Timestamp: day(9)},
		{ID: "early", Key: "/x", Timestamp: day(1)},
	}

	plan := retention.PlanDedup(records)

	if len(plan.Rewrites) != 1 {
		t.Fatalf("rewrites = %d, want 1", len(plan.Rewrites))
	}
	if plan.Rewrites[0].ID != "late" {
		t.Errorf("canonical = %s, want late (insertion order, not chronology)", plan.Rewrites[0].ID)
	}
	if !plan.Rewrites[0].LastOccurrence.Equal(day(9)) {
		t.Errorf("lastOccurrence = %v, want %v", plan.Rewrites[0].LastOccurrence, day(9))
	}
}

func TestPlanDedup_MergesPriorCanonical(t *testing.T) {
	// A canonical record from an earlier run contributes its accumulated
	// count; a repeat pass merges rather than resets.
	records := []retention.EventRecord{
		{ID: "c1", Key: "/foo", Timestamp: day(3), Count: 5, Aggregated: true},
		{ID: "e7", Key: "/foo", Timestamp: day(6)},
		{ID: "e8", Key: "/foo", Timestamp: day(7)},
	}

	plan := retention.PlanDedup(records)

	if len(plan.Rewrites) != 1 {
		t.Fatalf("rewrites = %d, want 1", len(plan.Rewrites))
	}
	if plan.Rewrites[0].Count != 7 {
		t.Errorf("count = %d, want 7 (5 accumulated + 2 new)", plan.Rewrites[0].Count)
	}
	if plan.Rewrites[0].ID != "c1" {
		t.Errorf("canonical = %s, want c1", plan.Rewrites[0].ID)
	}
}

func TestPlanDedup_Empty(t *testing.T) {
	plan := retention.PlanDedup(nil)

	if len(plan.Rewrites) != 0 || len(plan.DeleteIDs) != 0 {
		t.Errorf("plan = %+v, want empty", plan)
	}
}

func TestOccurrences(t *testing.T) {
	if got := (retention.EventRecord{}).Occurrences(); got != 1 {
		t.Errorf("Occurrences for raw record = %d, want 1", got)
	}
	if got := (retention.EventRecord{Count: 8}).Occurrences(); got != 8 {
		t.Errorf("Occurrences for canonical record = %d, want 8", got)
	}
}
