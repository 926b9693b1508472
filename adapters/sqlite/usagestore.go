package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/artpar/metergate/domain/usage"
	"github.com/artpar/metergate/ports"
)

// UsageStore implements ports.UsageStore using SQLite.
type UsageStore struct {
	db *DB
}

// NewUsageStore creates a new SQLite usage store.
func NewUsageStore(db *DB) *UsageStore {
	return &UsageStore{db: db}
}

// Timestamps are stored in UTC; comparisons format times as ISO8601
// strings so SQLite's datetime() collates them correctly.
func sqlTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05.999999999")
}

// Insert appends a usage entry.
func (s *UsageStore) Insert(ctx context.Context, e usage.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_entries (
			id, user_id, ip, action, provider, tokens_used, cost,
			success, error_message, status, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.UserID, e.IP, e.Action, e.Provider, e.TokensUsed, e.Cost,
		boolToInt(e.Success), e.ErrorMessage, string(e.Status), e.Timestamp.UTC())
	return err
}

// Get retrieves an entry by ID.
func (s *UsageStore) Get(ctx context.Context, id string) (usage.Entry, error) {
	row := s.db.QueryRowContext(ctx, selectEntry+` WHERE id = ?`, id)
	return scanEntry(row)
}

// Update rewrites an existing entry (reservation finalization).
func (s *UsageStore) Update(ctx context.Context, e usage.Entry) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE usage_entries SET
			provider = ?, tokens_used = ?, cost = ?, success = ?,
			error_message = ?, status = ?
		WHERE id = ?
	`, e.Provider, e.TokensUsed, e.Cost, boolToInt(e.Success),
		e.ErrorMessage, string(e.Status), e.ID)
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

// CountSince counts entries for (userID, action) at or after since.
// An empty action counts across all actions.
func (s *UsageStore) CountSince(ctx context.Context, userID, action string, since time.Time) (int64, error) {
	query := `
		SELECT COUNT(*) FROM usage_entries
		WHERE user_id = ? AND datetime(timestamp) >= datetime(?)
	`
	args := []any{userID, sqlTime(since)}
	if action != "" {
		query += ` AND action = ?`
		args = append(args, action)
	}
	var n int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

// CountByIPSince counts entries from an IP at or after since.
func (s *UsageStore) CountByIPSince(ctx context.Context, ip string, since time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM usage_entries
		WHERE ip = ? AND datetime(timestamp) >= datetime(?)
	`, ip, sqlTime(since)).Scan(&n)
	return n, err
}

// LastEntry returns the most recent entry for (userID, action) at or
// after since.
func (s *UsageStore) LastEntry(ctx context.Context, userID, action string, since time.Time) (usage.Entry, error) {
	row := s.db.QueryRowContext(ctx, selectEntry+`
		WHERE user_id = ? AND action = ? AND datetime(timestamp) >= datetime(?)
		ORDER BY timestamp DESC
		LIMIT 1
	`, userID, action, sqlTime(since))
	return scanEntry(row)
}

// LatestPending returns the most recent pending entry for
// (userID, action) at or after since.
func (s *UsageStore) LatestPending(ctx context.Context, userID, action string, since time.Time) (usage.Entry, error) {
	row := s.db.QueryRowContext(ctx, selectEntry+`
		WHERE user_id = ? AND action = ? AND status = ?
		  AND datetime(timestamp) >= datetime(?)
		ORDER BY timestamp DESC
		LIMIT 1
	`, userID, action, string(usage.StatusPending), sqlTime(since))
	return scanEntry(row)
}

// SumCostSince sums cost over finalized entries for a user.
func (s *UsageStore) SumCostSince(ctx context.Context, userID string, since time.Time) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(cost), 0) FROM usage_entries
		WHERE user_id = ? AND status = ? AND datetime(timestamp) >= datetime(?)
	`, userID, string(usage.StatusFinal), sqlTime(since)).Scan(&total)
	return total, err
}

// Recent returns the last n entries for a user, newest first.
func (s *UsageStore) Recent(ctx context.Context, userID string, n int) ([]usage.Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectEntry+`
		WHERE user_id = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, userID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []usage.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteOlderThan removes entries strictly older than cutoff.
func (s *UsageStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM usage_entries WHERE datetime(timestamp) < datetime(?)
	`, sqlTime(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const selectEntry = `
	SELECT id, user_id, ip, action, provider, tokens_used, cost,
	       success, error_message, status, timestamp
	FROM usage_entries
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (usage.Entry, error) {
	var e usage.Entry
	var ip, provider, errMsg sql.NullString
	var success int
	var status string

	err := row.Scan(&e.ID, &e.UserID, &ip, &e.Action, &provider,
		&e.TokensUsed, &e.Cost, &success, &errMsg, &status, &e.Timestamp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return usage.Entry{}, ports.ErrNotFound
		}
		return usage.Entry{}, err
	}

	e.IP = ip.String
	e.Provider = provider.String
	e.ErrorMessage = errMsg.String
	e.Success = success != 0
	e.Status = usage.Status(status)
	return e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ensure interface compliance.
var _ ports.UsageStore = (*UsageStore)(nil)
