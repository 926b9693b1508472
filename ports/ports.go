// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/artpar/metergate/domain/retention"
	"github.com/artpar/metergate/domain/usage"
)

// ErrNotFound is returned by stores when a lookup matches nothing.
var ErrNotFound = errors.New("not found")

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// UsageStore persists the append-mostly usage ledger. Counts and cost
// totals are derived from the ledger at call time, never cached, so
// there is no counter to drift from ground truth.
type UsageStore interface {
	// Insert appends a usage entry (typically a pending reservation).
	Insert(ctx context.Context, e usage.Entry) error

	// Get retrieves an entry by ID. Returns ErrNotFound if missing.
	Get(ctx context.Context, id string) (usage.Entry, error)

	// Update rewrites an existing entry (reservation finalization).
	Update(ctx context.Context, e usage.Entry) error

	// CountSince counts entries for (userID, action) at or after since.
	// An empty action counts across all actions.
	CountSince(ctx context.Context, userID, action string, since time.Time) (int64, error)

	// CountByIPSince counts entries from an IP at or after since.
	CountByIPSince(ctx context.Context, ip string, since time.Time) (int64, error)

	// LastEntry returns the most recent entry for (userID, action) at or
	// after since. Returns ErrNotFound when none exists in the window.
	LastEntry(ctx context.Context, userID, action string, since time.Time) (usage.Entry, error)

	// LatestPending returns the most recent pending entry for
	// (userID, action) at or after since. Returns ErrNotFound when none
	// exists in the window.
	LatestPending(ctx context.Context, userID, action string, since time.Time) (usage.Entry, error)

	// SumCostSince sums cost over finalized entries for a user at or
	// after since.
	SumCostSince(ctx context.Context, userID string, since time.Time) (float64, error)

	// Recent returns the last n entries for a user, newest first.
	Recent(ctx context.Context, userID string, n int) ([]usage.Entry, error)

	// DeleteOlderThan removes entries strictly older than cutoff and
	// returns how many were deleted. Used only by retention, never by
	// the quota path.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// LogStore is the generic seam over the document collections managed by
// retention policies. The underlying driver only needs find/count/
// insert/update/delete with a query filter.
type LogStore interface {
	// DeleteOlderThan removes documents strictly older than cutoff from
	// a collection and returns the deleted count. Idempotent: with no
	// new data a repeat call deletes 0.
	DeleteOlderThan(ctx context.Context, collection string, cutoff time.Time) (int64, error)

	// EventsOlderThan returns event records with timestamp strictly
	// before cutoff, in insertion order.
	EventsOlderThan(ctx context.Context, collection string, cutoff time.Time) ([]retention.EventRecord, error)

	// RewriteCanonical updates a surviving record in place with the
	// group count, last occurrence, and the aggregated flag.
	RewriteCanonical(ctx context.Context, collection string, rw retention.CanonicalRewrite) error

	// DeleteByID removes records by ID and returns the deleted count.
	DeleteByID(ctx context.Context, collection string, ids []string) (int64, error)

	// SeriesIDs lists the entity IDs holding a sample series.
	SeriesIDs(ctx context.Context, collection string) ([]string, error)

	// Series returns an entity's stored sample list in stored order.
	Series(ctx context.Context, collection, entityID string) ([]retention.Sample, error)

	// ReplaceSeries overwrites an entity's stored sample list. The write
	// is a single-document atomic unit.
	ReplaceSeries(ctx context.Context, collection, entityID string, samples []retention.Sample) error
}
