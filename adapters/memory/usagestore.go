// Package memory provides in-memory store implementations for tests and
// single-process development runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/artpar/metergate/domain/usage"
	"github.com/artpar/metergate/ports"
)

// UsageStore is an in-memory implementation of ports.UsageStore.
type UsageStore struct {
	mu      sync.RWMutex
	entries []usage.Entry
}

// NewUsageStore creates a new in-memory usage store.
func NewUsageStore() *UsageStore {
	return &UsageStore{entries: make([]usage.Entry, 0)}
}

// Insert appends a usage entry.
func (s *UsageStore) Insert(ctx context.Context, e usage.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

// Get retrieves an entry by ID.
func (s *UsageStore) Get(ctx context.Context, id string) (usage.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return usage.Entry{}, ports.ErrNotFound
}

// Update rewrites an existing entry in place.
func (s *UsageStore) Update(ctx context.Context, e usage.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].ID == e.ID {
			s.entries[i] = e
			return nil
		}
	}
	return ports.ErrNotFound
}

// CountSince counts entries for (userID, action) at or after since.
func (s *UsageStore) CountSince(ctx context.Context, userID, action string, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, e := range s.entries {
		if e.UserID == userID && (action == "" || e.Action == action) && !e.Timestamp.Before(since) {
			n++
		}
	}
	return n, nil
}

// CountByIPSince counts entries from an IP at or after since.
func (s *UsageStore) CountByIPSince(ctx context.Context, ip string, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, e := range s.entries {
		if e.IP == ip && !e.Timestamp.Before(since) {
			n++
		}
	}
	return n, nil
}

// LastEntry returns the most recent entry for (userID, action) at or
// after since.
func (s *UsageStore) LastEntry(ctx context.Context, userID, action string, since time.Time) (usage.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best usage.Entry
	found := false
	for _, e := range s.entries {
		if e.UserID != userID || e.Action != action || e.Timestamp.Before(since) {
			continue
		}
		if !found || e.Timestamp.After(best.Timestamp) {
			best = e
			found = true
		}
	}
	if !found {
		return usage.Entry{}, ports.ErrNotFound
	}
	return best, nil
}

// LatestPending returns the most recent pending entry for
// (userID, action) at or after since.
func (s *UsageStore) LatestPending(ctx context.Context, userID, action string, since time.Time) (usage.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best usage.Entry
	found := false
	for _, e := range s.entries {
		if e.UserID != userID || e.Action != action || !e.IsPending() || e.Timestamp.Before(since) {
			continue
		}
		if !found || e.Timestamp.After(best.Timestamp) {
			best = e
			found = true
		}
	}
	if !found {
		return usage.Entry{}, ports.ErrNotFound
	}
	return best, nil
}

// SumCostSince sums cost over finalized entries for a user.
func (s *UsageStore) SumCostSince(ctx context.Context, userID string, since time.Time) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total float64
	for _, e := range s.entries {
		if e.UserID == userID && e.Status == usage.StatusFinal && !e.Timestamp.Before(since) {
			total += e.Cost
		}
	}
	return total, nil
}

// Recent returns the last n entries for a user, newest first.
func (s *UsageStore) Recent(ctx context.Context, userID string, n int) ([]usage.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []usage.Entry
	for _, e := range s.entries {
		if e.UserID == userID {
			matched = append(matched, e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	if n > 0 && len(matched) > n {
		matched = matched[:n]
	}
	return matched, nil
}

// DeleteOlderThan removes entries strictly older than cutoff.
func (s *UsageStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	var deleted int64
	for _, e := range s.entries {
		if e.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return deleted, nil
}

// Ensure interface compliance.
var _ ports.UsageStore = (*UsageStore)(nil)
