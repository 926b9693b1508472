// Package usage provides usage entry types and calendar window functions.
// All functions are pure - no side effects.
package usage

import "time"

// Status tracks the lifecycle of a usage entry.
type Status string

const (
	// StatusPending marks a reservation created at admission time,
	// before the metered call has completed.
	StatusPending Status = "pending"

	// StatusFinal marks an entry whose outcome and cost are recorded.
	// Final entries are immutable.
	StatusFinal Status = "final"
)

// Entry represents a single metered operation (value type).
// Created pending at admission, finalized once the external call returns.
// The quota path never deletes entries; only retention policies do.
type Entry struct {
	ID           string
	UserID       string
	IP           string
	Action       string
	Provider     string
	TokensUsed   int64
	Cost         float64
	Success      bool
	ErrorMessage string
	Status       Status
	Timestamp    time.Time
}

// IsPending reports whether the entry is an unfinalized reservation.
func (e Entry) IsPending() bool {
	return e.Status == StatusPending
}

// Finalized returns a copy of the entry with outcome and cost recorded.
func (e Entry) Finalized(provider string, tokensUsed int64, cost float64, success bool, errorMessage string) Entry {
	e.Provider = provider
	e.TokensUsed = tokensUsed
	e.Cost = cost
	e.Success = success
	e.ErrorMessage = errorMessage
	e.Status = StatusFinal
	return e
}

// NewReservation creates a pending entry for an admitted request.
func NewReservation(id, userID, ip, action string, at time.Time) Entry {
	return Entry{
		ID:        id,
		UserID:    userID,
		IP:        ip,
		Action:    action,
		Status:    StatusPending,
		Timestamp: at.UTC(),
	}
}

// Stats summarizes a user's consumption for display.
type Stats struct {
	UserID           string
	DailyCount       int64
	MonthlyCount     int64
	DailyLimit       int64
	MonthlyLimit     int64
	DailyRemaining   int64
	MonthlyRemaining int64
	TotalCostMonth   float64
	RecentActivity   []Entry
}
