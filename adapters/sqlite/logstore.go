package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/artpar/metergate/domain/retention"
	"github.com/artpar/metergate/ports"
)

// LogStore implements ports.LogStore using SQLite. Event records for
// every managed collection share one table discriminated by collection
// name; insertion order is the autoincrement sequence.
type LogStore struct {
	db *DB
}

// NewLogStore creates a new SQLite log store.
func NewLogStore(db *DB) *LogStore {
	return &LogStore{db: db}
}

// sampleDoc is the JSON wire form of a series sample.
type sampleDoc struct {
	Date          time.Time `json:"date"`
	Position      float64   `json:"position"`
	Clicks        int64     `json:"clicks"`
	Impressions   int64     `json:"impressions"`
	CTR           float64   `json:"ctr"`
	Aggregated    bool      `json:"aggregated,omitempty"`
	OriginalCount int64     `json:"original_count,omitempty"`
}

// AddEvent appends an event record to a collection.
func (s *LogStore) AddEvent(ctx context.Context, collection string, r retention.EventRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO log_events (collection, id, group_key, count, aggregated, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, collection, r.ID, r.Key, r.Occurrences(), boolToInt(r.Aggregated), r.Timestamp.UTC())
	return err
}

// PutSeries creates or replaces an entity's sample series.
func (s *LogStore) PutSeries(ctx context.Context, collection, entityID string, samples []retention.Sample) error {
	blob, err := marshalSamples(samples)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO log_series (collection, entity_id, samples)
		VALUES (?, ?, ?)
		ON CONFLICT(collection, entity_id) DO UPDATE SET samples = excluded.samples
	`, collection, entityID, blob)
	return err
}

// DeleteOlderThan removes event records strictly older than cutoff.
func (s *LogStore) DeleteOlderThan(ctx context.Context, collection string, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM log_events
		WHERE collection = ? AND datetime(timestamp) < datetime(?)
	`, collection, sqlTime(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// EventsOlderThan returns records older than cutoff in insertion order.
func (s *LogStore) EventsOlderThan(ctx context.Context, collection string, cutoff time.Time) ([]retention.EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, group_key, count, aggregated, timestamp
		FROM log_events
		WHERE collection = ? AND datetime(timestamp) < datetime(?)
		ORDER BY seq ASC
	`, collection, sqlTime(cutoff))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []retention.EventRecord
	for rows.Next() {
		var r retention.EventRecord
		var aggregated int
		if err := rows.Scan(&r.ID, &r.Key, &r.Count, &aggregated, &r.Timestamp); err != nil {
			return nil, err
		}
		r.Aggregated = aggregated != 0
		records = append(records, r)
	}
	return records, rows.Err()
}

// RewriteCanonical updates a surviving record in place.
func (s *LogStore) RewriteCanonical(ctx context.Context, collection string, rw retention.CanonicalRewrite) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE log_events
		SET count = ?, timestamp = ?, aggregated = 1
		WHERE collection = ? AND id = ?
	`, rw.Count, rw.LastOccurrence.UTC(), collection, rw.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// DeleteByID removes records by ID.
func (s *LogStore) DeleteByID(ctx context.Context, collection string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, collection)
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM log_events WHERE collection = ? AND id IN (%s)
	`, placeholders), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SeriesIDs lists entity IDs holding a sample series.
func (s *LogStore) SeriesIDs(ctx context.Context, collection string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id FROM log_series WHERE collection = ? ORDER BY rowid ASC
	`, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Series returns an entity's stored sample list.
func (s *LogStore) Series(ctx context.Context, collection, entityID string) ([]retention.Sample, error) {
	var blob string
	err := s.db.QueryRowContext(ctx, `
		SELECT samples FROM log_series WHERE collection = ? AND entity_id = ?
	`, collection, entityID).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ports.ErrNotFound
		}
		return nil, err
	}
	return unmarshalSamples(blob)
}

// ReplaceSeries overwrites an entity's stored sample list.
func (s *LogStore) ReplaceSeries(ctx context.Context, collection, entityID string, samples []retention.Sample) error {
	blob, err := marshalSamples(samples)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE log_series SET samples = ? WHERE collection = ? AND entity_id = ?
	`, blob, collection, entityID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func marshalSamples(samples []retention.Sample) (string, error) {
	docs := make([]sampleDoc, len(samples))
	for i, s := range samples {
		docs[i] = sampleDoc{
			Date:          s.Date.UTC(),
			Position:      s.Position,
			Clicks:        s.Clicks,
			Impressions:   s.Impressions,
			CTR:           s.CTR,
			Aggregated:    s.Aggregated,
			OriginalCount: s.OriginalCount,
		}
	}
	blob, err := json.Marshal(docs)
	if err != nil {
		return "", fmt.Errorf("marshal samples: %w", err)
	}
	return string(blob), nil
}

func unmarshalSamples(blob string) ([]retention.Sample, error) {
	var docs []sampleDoc
	if err := json.Unmarshal([]byte(blob), &docs); err != nil {
		return nil, fmt.Errorf("unmarshal samples: %w", err)
	}
	samples := make([]retention.Sample, len(docs))
	for i, d := range docs {
		samples[i] = retention.Sample{
			Date:          d.Date,
			Position:      d.Position,
			Clicks:        d.Clicks,
			Impressions:   d.Impressions,
			CTR:           d.CTR,
			Aggregated:    d.Aggregated,
			OriginalCount: d.OriginalCount,
		}
	}
	return samples, nil
}

// Ensure interface compliance.
var _ ports.LogStore = (*LogStore)(nil)
