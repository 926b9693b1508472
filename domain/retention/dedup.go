package retention

import "time"

// EventRecord is the generic shape of a deduplicatable event document:
// a grouping key (e.g. a normalized URL) and a timestamp. Count and
// Aggregated are set on canonical records produced by earlier runs.
type EventRecord struct {
	ID         string
	Key        string
	Timestamp  time.Time
	Count      int64
	Aggregated bool
}

// Occurrences returns how many raw events this record stands for.
func (r EventRecord) Occurrences() int64 {
	if r.Count > 1 {
		return r.Count
	}
	return 1
}

// CanonicalRewrite describes the in-place update of a group's surviving
// record.
type CanonicalRewrite struct {
	ID             string
	Count          int64
	LastOccurrence time.Time
}

// DedupPlan is the outcome of planning one dedup pass: rewrites to apply
// and record IDs to delete. Executing the plan is the caller's job.
type DedupPlan struct {
	Rewrites  []CanonicalRewrite
	DeleteIDs []string
}

// PlanDedup groups stale records by key and collapses each group with
// two or more members into one canonical record carrying the group's
// occurrence count and maximum timestamp. Singleton groups are left
// untouched; they expire individually once they cross the hard horizon.
//
// The canonical record is each group's first member in insertion order,
// not the chronologically earliest one. Records must therefore be passed
// in insertion order. A canonical record from a previous run contributes
// its accumulated count, so repeated passes merge rather than reset.
func PlanDedup(records []EventRecord) DedupPlan {
	type group struct {
		canonical EventRecord
		count     int64
		last      time.Time
		members   int
		deleteIDs []string
	}

	groups := make(map[string]*group)
	order := make([]string, 0)

	for _, r := range records {
		g, ok := groups[r.Key]
		if !ok {
			groups[r.Key] = &group{
				canonical: r,
				count:     r.Occurrences(),
				last:      r.Timestamp,
				members:   1,
			}
			order = append(order, r.Key)
			continue
		}
		g.members++
		g.count += r.Occurrences()
		if r.Timestamp.After(g.last) {
			g.last = r.Timestamp
		}
		g.deleteIDs = append(g.deleteIDs, r.ID)
	}

	var plan DedupPlan
	for _, key := range order {
		g := groups[key]
		if g.members < 2 {
			continue
		}
		plan.Rewrites = append(plan.Rewrites, CanonicalRewrite{
			ID:             g.canonical.ID,
			Count:          g.count,
			LastOccurrence: g.last,
		})
		plan.DeleteIDs = append(plan.DeleteIDs, g.deleteIDs...)
	}
	return plan
}
