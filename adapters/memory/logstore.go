package memory

import (
	"context"
	"sync"
	"time"

	"github.com/artpar/metergate/domain/retention"
	"github.com/artpar/metergate/ports"
)

// LogStore is an in-memory implementation of ports.LogStore. Event
// records keep insertion order; series are stored per entity ID.
type LogStore struct {
	mu     sync.RWMutex
	events map[string][]retention.EventRecord
	series map[string]map[string][]retention.Sample
	// seriesOrder preserves insertion order of entity IDs per collection
	// so runs are deterministic.
	seriesOrder map[string][]string
}

// NewLogStore creates a new in-memory log store.
func NewLogStore() *LogStore {
	return &LogStore{
		events:      make(map[string][]retention.EventRecord),
		series:      make(map[string]map[string][]retention.Sample),
		seriesOrder: make(map[string][]string),
	}
}

// AddEvent appends an event record to a collection (test seeding and
// dev-mode ingestion).
func (s *LogStore) AddEvent(collection string, r retention.EventRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[collection] = append(s.events[collection], r)
}

// PutSeries sets an entity's sample series (test seeding).
func (s *LogStore) PutSeries(collection, entityID string, samples []retention.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.series[collection] == nil {
		s.series[collection] = make(map[string][]retention.Sample)
	}
	if _, ok := s.series[collection][entityID]; !ok {
		s.seriesOrder[collection] = append(s.seriesOrder[collection], entityID)
	}
	s.series[collection][entityID] = samples
}

// Events returns a copy of a collection's event records (for tests).
func (s *LogStore) Events(collection string) []retention.EventRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]retention.EventRecord, len(s.events[collection]))
	copy(out, s.events[collection])
	return out
}

// DeleteOlderThan removes event records strictly older than cutoff.
func (s *LogStore) DeleteOlderThan(ctx context.Context, collection string, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := s.events[collection]
	kept := records[:0]
	var deleted int64
	for _, r := range records {
		if r.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	s.events[collection] = kept
	return deleted, nil
}

// EventsOlderThan returns records older than cutoff in insertion order.
func (s *LogStore) EventsOlderThan(ctx context.Context, collection string, cutoff time.Time) ([]retention.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []retention.EventRecord
	for _, r := range s.events[collection] {
		if r.Timestamp.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out, nil
}

// RewriteCanonical updates a surviving record in place.
func (s *LogStore) RewriteCanonical(ctx context.Context, collection string, rw retention.CanonicalRewrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := s.events[collection]
	for i := range records {
		if records[i].ID == rw.ID {
			records[i].Count = rw.Count
			records[i].Timestamp = rw.LastOccurrence
			records[i].Aggregated = true
			return nil
		}
	}
	return ports.ErrNotFound
}

// DeleteByID removes records by ID.
func (s *LogStore) DeleteByID(ctx context.Context, collection string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	records := s.events[collection]
	kept := records[:0]
	var deleted int64
	for _, r := range records {
		if drop[r.ID] {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	s.events[collection] = kept
	return deleted, nil
}

// SeriesIDs lists entity IDs holding a sample series.
func (s *LogStore) SeriesIDs(ctx context.Context, collection string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.seriesOrder[collection]))
	copy(out, s.seriesOrder[collection])
	return out, nil
}

// Series returns an entity's stored sample list.
func (s *LogStore) Series(ctx context.Context, collection, entityID string) ([]retention.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byEntity, ok := s.series[collection]
	if !ok {
		return nil, ports.ErrNotFound
	}
	samples, ok := byEntity[entityID]
	if !ok {
		return nil, ports.ErrNotFound
	}
	out := make([]retention.Sample, len(samples))
	copy(out, samples)
	return out, nil
}

// ReplaceSeries overwrites an entity's stored sample list.
func (s *LogStore) ReplaceSeries(ctx context.Context, collection, entityID string, samples []retention.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byEntity, ok := s.series[collection]
	if !ok {
		return ports.ErrNotFound
	}
	if _, ok := byEntity[entityID]; !ok {
		return ports.ErrNotFound
	}
	byEntity[entityID] = samples
	return nil
}

// Ensure interface compliance.
var _ ports.LogStore = (*LogStore)(nil)
