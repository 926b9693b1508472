// Package app provides application services that orchestrate domain
// logic over the store ports.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/metergate/adapters/metrics"
	"github.com/artpar/metergate/domain/cost"
	"github.com/artpar/metergate/domain/quota"
	"github.com/artpar/metergate/domain/usage"
	"github.com/artpar/metergate/ports"
)

const (
	defaultFinalizeLookback = 60 * time.Second
	defaultStoreTimeout     = 5 * time.Second
	defaultRecentActivity   = 10
)

// LimiterService is the admission-control and ledger service. Counts
// are derived from the ledger per call; no in-memory counters exist, so
// there is nothing to drift from ground truth.
type LimiterService struct {
	usage   ports.UsageStore
	clock   ports.Clock
	idGen   ports.IDGenerator
	logger  zerolog.Logger
	metrics *metrics.Collector

	finalizeLookback time.Duration
	storeTimeout     time.Duration

	// Hot-reloadable limits and rates.
	dynamic atomic.Pointer[limiterDynamic]
}

type limiterDynamic struct {
	limits quota.Limits
	costs  cost.Table
}

// LimiterDeps contains dependencies for LimiterService.
type LimiterDeps struct {
	Usage   ports.UsageStore
	Clock   ports.Clock
	IDGen   ports.IDGenerator
	Logger  zerolog.Logger
	Metrics *metrics.Collector // optional
}

// LimiterConfig contains configuration for LimiterService.
type LimiterConfig struct {
	Limits           quota.Limits
	Costs            cost.Table
	FinalizeLookback time.Duration // default 60s
	StoreTimeout     time.Duration // per store call, default 5s
}

// NewLimiterService creates a new limiter service.
func NewLimiterService(deps LimiterDeps, cfg LimiterConfig) *LimiterService {
	s := &LimiterService{
		usage:            deps.Usage,
		clock:            deps.Clock,
		idGen:            deps.IDGen,
		logger:           deps.Logger,
		metrics:          deps.Metrics,
		finalizeLookback: cfg.FinalizeLookback,
		storeTimeout:     cfg.StoreTimeout,
	}
	if s.finalizeLookback <= 0 {
		s.finalizeLookback = defaultFinalizeLookback
	}
	if s.storeTimeout <= 0 {
		s.storeTimeout = defaultStoreTimeout
	}
	s.UpdateConfig(cfg.Limits, cfg.Costs)
	return s
}

// UpdateConfig swaps limits and rates. Thread-safe; callable while
// admissions are in flight.
func (s *LimiterService) UpdateConfig(limits quota.Limits, costs cost.Table) {
	s.dynamic.Store(&limiterDynamic{limits: limits, costs: costs})
}

// CheckResult is the outcome of an admission attempt. ReservationID is
// set only when Allowed; pass it back to Finalize.
type CheckResult struct {
	quota.Decision
	ReservationID string
}

// CheckAndReserve runs the admission sequence for one metered call:
// cooldown, then daily window, then monthly window, each short-circuiting
// on denial; on admission it inserts a pending reservation.
//
// The count-then-insert sequence is not protected by a lock or
// transaction, so two concurrent calls for the same (user, action) can
// both be admitted at count == limit-1. At the volume of metered AI
// calls this overshoot of one is tolerated; see DESIGN.md.
func (s *LimiterService) CheckAndReserve(ctx context.Context, userID, ip, action string) (CheckResult, error) {
	dyn := s.dynamic.Load()
	limits := dyn.limits
	now := s.clock.Now().UTC()

	// Cooldown window.
	last, err := s.lastEntry(ctx, userID, action, now.Add(-limits.Cooldown))
	hasLast := err == nil
	if err != nil && !errors.Is(err, ports.ErrNotFound) {
		return CheckResult{}, fmt.Errorf("cooldown lookup: %w", err)
	}
	if d := quota.CheckCooldown(last.Timestamp, hasLast, now, limits); !d.Allowed {
		return s.denied(userID, action, d), nil
	}

	// Daily window.
	daily, err := s.countSince(ctx, userID, action, usage.DayStart(now))
	if err != nil {
		return CheckResult{}, fmt.Errorf("daily count: %w", err)
	}
	if d := quota.CheckDaily(daily, now, limits); !d.Allowed {
		return s.denied(userID, action, d), nil
	}

	// Monthly window.
	monthly, err := s.countSince(ctx, userID, action, usage.MonthStart(now))
	if err != nil {
		return CheckResult{}, fmt.Errorf("monthly count: %w", err)
	}
	if d := quota.CheckMonthly(monthly, now, limits); !d.Allowed {
		return s.denied(userID, action, d), nil
	}

	// Admit: insert the pending reservation.
	entry := usage.NewReservation(s.idGen.New(), userID, ip, action, now)
	ictx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.usage.Insert(ictx, entry); err != nil {
		return CheckResult{}, fmt.Errorf("insert reservation: %w", err)
	}

	decision := quota.Admit(daily, now, limits)
	s.countAdmission(action, decision)
	s.logger.Debug().
		Str("user_id", userID).
		Str("action", action).
		Str("reservation_id", entry.ID).
		Int64("remaining", decision.Remaining).
		Msg("admission granted")

	return CheckResult{Decision: decision, ReservationID: entry.ID}, nil
}

// CheckIP evaluates the trailing-hour gate for a caller IP. Orthogonal
// to the per-user windows; reserves nothing.
func (s *LimiterService) CheckIP(ctx context.Context, ip string) (quota.Decision, error) {
	limits := s.dynamic.Load().limits
	now := s.clock.Now().UTC()

	cctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	count, err := s.usage.CountByIPSince(cctx, ip, now.Add(-time.Hour))
	if err != nil {
		return quota.Decision{}, fmt.Errorf("ip count: %w", err)
	}

	d := quota.CheckIP(count, now, limits)
	if s.metrics != nil {
		s.metrics.IPChecksTotal.WithLabelValues(outcome(d.Allowed)).Inc()
	}
	return d, nil
}

// FinalizeInput carries the outcome of the external metered call.
// ReservationID is the handle returned by CheckAndReserve; when empty,
// the most recent pending entry for (UserID, Action) inside the
// finalize lookback is used instead, and the call is a no-op when
// nothing matches.
type FinalizeInput struct {
	ReservationID string
	UserID        string
	Action        string
	Provider      string
	TokensUsed    int64
	Success       bool
	ErrorMessage  string
}

// Finalize attributes outcome and cost to a reservation. Finalized
// entries are immutable; finalizing twice is a no-op.
func (s *LimiterService) Finalize(ctx context.Context, in FinalizeInput) error {
	entry, err := s.findReservation(ctx, in)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			// Outcome stays unattributed; the admission itself was
			// already counted against the quota windows.
			s.logger.Warn().
				Str("user_id", in.UserID).
				Str("action", in.Action).
				Str("reservation_id", in.ReservationID).
				Msg("no pending reservation to finalize")
			return nil
		}
		return fmt.Errorf("find reservation: %w", err)
	}
	if !entry.IsPending() {
		s.logger.Debug().Str("reservation_id", entry.ID).Msg("reservation already finalized")
		return nil
	}

	estimated := s.dynamic.Load().costs.Estimate(in.Provider, in.TokensUsed)
	final := entry.Finalized(in.Provider, in.TokensUsed, estimated, in.Success, in.ErrorMessage)

	uctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.usage.Update(uctx, final); err != nil {
		return fmt.Errorf("finalize reservation: %w", err)
	}

	if s.metrics != nil {
		s.metrics.ReservationsFinalized.WithLabelValues(in.Provider, outcome(in.Success)).Inc()
		s.metrics.TokensUsed.WithLabelValues(in.Provider).Add(float64(in.TokensUsed))
		s.metrics.CostTotal.WithLabelValues(in.Provider).Add(estimated)
	}
	return nil
}

// UserStats returns a user's windowed counts, remaining quota, month
// cost total, and recent activity.
func (s *LimiterService) UserStats(ctx context.Context, userID string) (usage.Stats, error) {
	limits := s.dynamic.Load().limits
	now := s.clock.Now().UTC()

	daily, err := s.countSince(ctx, userID, "", usage.DayStart(now))
	if err != nil {
		return usage.Stats{}, fmt.Errorf("daily count: %w", err)
	}
	monthly, err := s.countSince(ctx, userID, "", usage.MonthStart(now))
	if err != nil {
		return usage.Stats{}, fmt.Errorf("monthly count: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	costMonth, err := s.usage.SumCostSince(cctx, userID, usage.MonthStart(now))
	if err != nil {
		return usage.Stats{}, fmt.Errorf("cost total: %w", err)
	}

	rctx, rcancel := context.WithTimeout(ctx, s.storeTimeout)
	defer rcancel()
	recent, err := s.usage.Recent(rctx, userID, defaultRecentActivity)
	if err != nil {
		return usage.Stats{}, fmt.Errorf("recent activity: %w", err)
	}

	return usage.Stats{
		UserID:           userID,
		DailyCount:       daily,
		MonthlyCount:     monthly,
		DailyLimit:       limits.DailyLimit,
		MonthlyLimit:     limits.MonthlyLimit,
		DailyRemaining:   quota.Remaining(limits.DailyLimit, daily),
		MonthlyRemaining: quota.Remaining(limits.MonthlyLimit, monthly),
		TotalCostMonth:   costMonth,
		RecentActivity:   recent,
	}, nil
}

func (s *LimiterService) findReservation(ctx context.Context, in FinalizeInput) (usage.Entry, error) {
	fctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if in.ReservationID != "" {
		return s.usage.Get(fctx, in.ReservationID)
	}
	since := s.clock.Now().UTC().Add(-s.finalizeLookback)
	return s.usage.LatestPending(fctx, in.UserID, in.Action, since)
}

func (s *LimiterService) lastEntry(ctx context.Context, userID, action string, since time.Time) (usage.Entry, error) {
	lctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.usage.LastEntry(lctx, userID, action, since)
}

func (s *LimiterService) countSince(ctx context.Context, userID, action string, since time.Time) (int64, error) {
	cctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.usage.CountSince(cctx, userID, action, since)
}

func (s *LimiterService) denied(userID, action string, d quota.Decision) CheckResult {
	s.countAdmission(action, d)
	s.logger.Debug().
		Str("user_id", userID).
		Str("action", action).
		Str("reason", string(d.Reason)).
		Time("reset_at", d.ResetAt).
		Msg("admission denied")
	return CheckResult{Decision: d}
}

func (s *LimiterService) countAdmission(action string, d quota.Decision) {
	if s.metrics == nil {
		return
	}
	s.metrics.AdmissionsTotal.WithLabelValues(action, outcome(d.Allowed), string(d.Reason)).Inc()
}

func outcome(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}
