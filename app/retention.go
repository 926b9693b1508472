package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/metergate/adapters/metrics"
	"github.com/artpar/metergate/domain/retention"
	"github.com/artpar/metergate/ports"
)

// Job names reported in retention run results.
const (
	JobExpire = "expire"
	JobDedup  = "dedup"
	JobRollup = "rollup"
)

// usageLedgerPolicy is the result name for the built-in usage ledger
// cleanup.
const usageLedgerPolicy = "usage_ledger"

// RetentionService walks the configured policies and applies expiry,
// dedup, and rollup against each policy's collection. Runs are
// idempotent in effect: cutoffs are computed fresh each invocation, and
// each entity write is an atomic unit, so an interrupted run is simply
// continued by the next one.
type RetentionService struct {
	logs    ports.LogStore
	usage   ports.UsageStore
	clock   ports.Clock
	logger  zerolog.Logger
	metrics *metrics.Collector

	policies           []retention.Policy
	usageRetentionDays int
	storeTimeout       time.Duration
}

// RetentionDeps contains dependencies for RetentionService.
type RetentionDeps struct {
	Logs    ports.LogStore
	Usage   ports.UsageStore
	Clock   ports.Clock
	Logger  zerolog.Logger
	Metrics *metrics.Collector // optional
}

// RetentionConfig contains configuration for RetentionService.
type RetentionConfig struct {
	Policies []retention.Policy

	// UsageRetentionDays expires usage ledger entries; 0 keeps them
	// forever.
	UsageRetentionDays int

	StoreTimeout time.Duration // per store call, default 5s
}

// NewRetentionService creates a new retention service.
func NewRetentionService(deps RetentionDeps, cfg RetentionConfig) *RetentionService {
	s := &RetentionService{
		logs:               deps.Logs,
		usage:              deps.Usage,
		clock:              deps.Clock,
		logger:             deps.Logger,
		metrics:            deps.Metrics,
		policies:           cfg.Policies,
		usageRetentionDays: cfg.UsageRetentionDays,
		storeTimeout:       cfg.StoreTimeout,
	}
	if s.storeTimeout <= 0 {
		s.storeTimeout = defaultStoreTimeout
	}
	return s
}

// JobResult records one job's outcome within a run. Error is a message
// rather than an error value so the report serializes cleanly.
type JobResult struct {
	Policy        string `json:"policy"`
	Job           string `json:"job"`
	ItemsAffected int64  `json:"items_affected"`
	Error         string `json:"error,omitempty"`
}

// Report summarizes a full retention run.
type Report struct {
	Results  []JobResult   `json:"results"`
	Duration time.Duration `json:"duration"`
}

// RunAll executes every policy's jobs sequentially. Each job runs in
// its own error boundary: a failing job yields an error entry in the
// report and the run moves on to the next job and policy.
func (s *RetentionService) RunAll(ctx context.Context) Report {
	started := s.clock.Now()
	var report Report

	for _, policy := range s.policies {
		report.Results = append(report.Results, s.runPolicy(ctx, policy)...)
	}

	if s.usageRetentionDays > 0 {
		cutoff := s.clock.Now().UTC().AddDate(0, 0, -s.usageRetentionDays)
		report.Results = append(report.Results, s.runJob(usageLedgerPolicy, JobExpire, func() (int64, error) {
			jctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
			defer cancel()
			return s.usage.DeleteOlderThan(jctx, cutoff)
		}))
	}

	report.Duration = s.clock.Now().Sub(started)
	if s.metrics != nil {
		s.metrics.RetentionRuns.Inc()
		s.metrics.RetentionRunDuration.Observe(report.Duration.Seconds())
	}
	s.logger.Info().
		Int("jobs", len(report.Results)).
		Dur("duration", report.Duration).
		Msg("retention run complete")
	return report
}

// runPolicy applies one policy's jobs in order: hard expiry first, then
// dedup or rollup of the surviving stale data. Steps run sequentially
// against the policy's collection so the rollup conservation invariant
// holds.
func (s *RetentionService) runPolicy(ctx context.Context, policy retention.Policy) []JobResult {
	now := s.clock.Now()
	results := []JobResult{
		s.runJob(policy.Name, JobExpire, func() (int64, error) {
			jctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
			defer cancel()
			return s.logs.DeleteOlderThan(jctx, policy.Collection, policy.Cutoff(now))
		}),
	}

	if !policy.Aggregates() {
		return results
	}

	switch policy.Kind {
	case retention.KindEvents:
		results = append(results, s.runJob(policy.Name, JobDedup, func() (int64, error) {
			return s.dedup(ctx, policy, now)
		}))
	case retention.KindSeries:
		results = append(results, s.runJob(policy.Name, JobRollup, func() (int64, error) {
			return s.rollup(ctx, policy, now)
		}))
	}
	return results
}

// runJob is the per-job error boundary.
func (s *RetentionService) runJob(policy, job string, fn func() (int64, error)) JobResult {
	result := JobResult{Policy: policy, Job: job}
	n, err := fn()
	result.ItemsAffected = n
	if err != nil {
		result.Error = err.Error()
		if s.metrics != nil {
			s.metrics.RetentionJobErrors.WithLabelValues(policy, job).Inc()
		}
		s.logger.Error().
			Err(err).
			Str("policy", policy).
			Str("job", job).
			Msg("retention job failed")
		return result
	}
	if s.metrics != nil {
		s.metrics.RetentionItems.WithLabelValues(policy, job).Add(float64(n))
	}
	s.logger.Debug().
		Str("policy", policy).
		Str("job", job).
		Int64("items", n).
		Msg("retention job done")
	return result
}

// dedup collapses repeated stale events sharing a grouping key into one
// canonical record per group. The canonical record is the group's first
// member by insertion order, not the chronologically earliest one.
func (s *RetentionService) dedup(ctx context.Context, policy retention.Policy, now time.Time) (int64, error) {
	fctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	records, err := s.logs.EventsOlderThan(fctx, policy.Collection, policy.AggregateCutoff(now))
	cancel()
	if err != nil {
		return 0, fmt.Errorf("load stale events: %w", err)
	}

	plan := retention.PlanDedup(records)
	var items int64
	for _, rw := range plan.Rewrites {
		wctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
		err := s.logs.RewriteCanonical(wctx, policy.Collection, rw)
		cancel()
		if err != nil {
			return items, fmt.Errorf("rewrite canonical %s: %w", rw.ID, err)
		}
		items++
	}

	dctx, dcancel := context.WithTimeout(ctx, s.storeTimeout)
	defer dcancel()
	deleted, err := s.logs.DeleteByID(dctx, policy.Collection, plan.DeleteIDs)
	if err != nil {
		return items, fmt.Errorf("delete duplicates: %w", err)
	}
	return items + deleted, nil
}

// rollup folds each entity's stale daily samples into weekly buckets.
// Returns the number of entities rewritten.
func (s *RetentionService) rollup(ctx context.Context, policy retention.Policy, now time.Time) (int64, error) {
	lctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	ids, err := s.logs.SeriesIDs(lctx, policy.Collection)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("list series: %w", err)
	}

	cutoff := policy.AggregateCutoff(now)
	var items int64
	for _, id := range ids {
		rctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
		samples, err := s.logs.Series(rctx, policy.Collection, id)
		cancel()
		if err != nil {
			return items, fmt.Errorf("load series %s: %w", id, err)
		}

		folded, changed := retention.Fold(samples, cutoff)
		if !changed {
			continue
		}

		wctx, wcancel := context.WithTimeout(ctx, s.storeTimeout)
		err = s.logs.ReplaceSeries(wctx, policy.Collection, id, folded)
		wcancel()
		if err != nil {
			return items, fmt.Errorf("replace series %s: %w", id, err)
		}
		items++
	}
	return items, nil
}
