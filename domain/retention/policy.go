// Package retention provides pure types and functions for data lifecycle
// jobs: hard expiry, dedup of repeated events, and weekly rollup of dated
// sample series. The app layer executes plans produced here against a store.
package retention

import "time"

// Kind selects which lifecycle jobs apply to a collection.
type Kind string

const (
	// KindEvents is an append-only event log (e.g. 404 hits). Eligible
	// for dedup by grouping key, then hard expiry.
	KindEvents Kind = "events"

	// KindSeries holds entities with an embedded ordered list of dated
	// samples (e.g. rank history). Eligible for weekly rollup.
	KindSeries Kind = "series"

	// KindSnapshots is plain dated data with no grouping key or series.
	// Only hard expiry applies.
	KindSnapshots Kind = "snapshots"
)

// Policy is the static lifecycle configuration for one managed
// collection. Loaded once at startup, never mutated at runtime.
type Policy struct {
	Name               string
	Collection         string
	Kind               Kind
	RetentionDays      int // hard-delete horizon
	AggregateAfterDays int // 0 = no dedup/rollup for this collection
}

// Aggregates reports whether the policy performs dedup or rollup in
// addition to hard expiry.
func (p Policy) Aggregates() bool {
	return p.AggregateAfterDays > 0
}

// Cutoff returns the hard-delete horizon: anything strictly older is
// expired. Computed fresh per run so interrupted runs resume naturally.
func (p Policy) Cutoff(now time.Time) time.Time {
	return now.UTC().AddDate(0, 0, -p.RetentionDays)
}

// AggregateCutoff returns the boundary separating verbatim recent data
// from dedup/rollup candidates.
func (p Policy) AggregateCutoff(now time.Time) time.Time {
	return now.UTC().AddDate(0, 0, -p.AggregateAfterDays)
}
