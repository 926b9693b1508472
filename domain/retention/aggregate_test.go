package retention_test

import (
	"testing"
	"time"

	"github.com/artpar/metergate/domain/retention"
)

// March 1 2026 is a Sunday, so March 1-14 spans exactly two
// Sunday-anchored weeks.
var rollupCutoff = time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)

func dailySamples(from, to int) []retention.Sample {
	var out []retention.Sample
	for d := from; d <= to; d++ {
		out = append(out, retention.Sample{
			Date:        day(d),
			Position:    float64(d),
			Clicks:      10,
			Impressions: 100,
			CTR:         0.1,
		})
	}
	return out
}

func TestWeekStart_SundayAnchor(t *testing.T) {
	// Wednesday March 4 belongs to the week starting Sunday March 1.
	if got := retention.WeekStart(day(4)); !got.Equal(day(1)) {
		t.Errorf("WeekStart(Mar 4) = %v, want %v", got, day(1))
	}
	// A Sunday is its own week start.
	if got := retention.WeekStart(day(8)); !got.Equal(day(8)) {
		t.Errorf("WeekStart(Mar 8) = %v, want %v", got, day(8))
	}
}

func TestWeekStart_NormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+13", 13*3600)
	// 01:00 Monday March 2 in UTC+13 is 12:00 Sunday March 1 UTC.
	local := time.Date(2026, 3, 2, 1, 0, 0, 0, loc)

	if got := retention.WeekStart(local); !got.Equal(day(1)) {
		t.Errorf("WeekStart = %v, want %v", got, day(1))
	}
}

func TestFold_TwoWeeksOfDailies(t *testing.T) {
	samples := dailySamples(1, 14)

	result, changed := retention.Fold(samples, rollupCutoff)

	if !changed {
		t.Fatal("expected fold to report a change")
	}
	if len(result) != 2 {
		t.Fatalf("buckets = %d, want 2", len(result))
	}

	week1 := result[0]
	if !week1.Date.Equal(day(1)) {
		t.Errorf("week1 date = %v, want Sunday %v", week1.Date, day(1))
	}
	if !week1.Aggregated {
		t.Error("week1 should be marked aggregated")
	}
	if week1.OriginalCount != 7 {
		t.Errorf("week1 originalCount = %d, want 7", week1.OriginalCount)
	}
	if week1.Clicks != 70 || week1.Impressions != 700 {
		t.Errorf("week1 clicks/impressions = %d/%d, want 70/700", week1.Clicks, week1.Impressions)
	}
	// Position mean of 1..7 is 4.
	if week1.Position != 4 {
		t.Errorf("week1 position = %g, want 4", week1.Position)
	}

	week2 := result[1]
	if !week2.Date.Equal(day(8)) {
		t.Errorf("week2 date = %v, want Sunday %v", week2.Date, day(8))
	}
	// Position mean of 8..14 is 11.
	if week2.Position != 11 {
		t.Errorf("week2 position = %g, want 11", week2.Position)
	}

	// Conservation: produced buckets account for every raw sample.
	if week1.OriginalCount+week2.OriginalCount != 14 {
		t.Errorf("sum originalCount = %d, want 14", week1.OriginalCount+week2.OriginalCount)
	}
}

func TestFold_RecentSamplesVerbatim(t *testing.T) {
	samples := append(dailySamples(1, 7), retention.Sample{
		Date: day(25), Position: 2, Clicks: 3, Impressions: 30, CTR: 0.1,
	})

	result, changed := retention.Fold(samples, rollupCutoff)

	if !changed {
		t.Fatal("expected fold to report a change")
	}
	if len(result) != 2 {
		t.Fatalf("samples = %d, want 1 bucket + 1 recent", len(result))
	}
	recent := result[1]
	if recent.Aggregated {
		t.Error("recent sample must pass through verbatim")
	}
	if !recent.Date.Equal(day(25)) || recent.Clicks != 3 {
		t.Errorf("recent sample = %+v, want original values", recent)
	}
}

func TestFold_ExistingBucketsPassThrough(t *testing.T) {
	samples := []retention.Sample{
		{Date: day(1), Position: 4, Clicks: 70, Impressions: 700, CTR: 0.1, Aggregated: true, OriginalCount: 7},
	}
	samples = append(samples, dailySamples(8, 14)...)

	result, changed := retention.Fold(samples, rollupCutoff)

	if !changed {
		t.Fatal("expected fold to report a change")
	}
	if len(result) != 2 {
		t.Fatalf("samples = %d, want 2", len(result))
	}
	if result[0].OriginalCount != 7 || !result[0].Aggregated {
		t.Errorf("existing bucket = %+v, want untouched", result[0])
	}
	if result[1].OriginalCount != 7 {
		t.Errorf("new bucket originalCount = %d, want 7", result[1].OriginalCount)
	}
}

func TestFold_NothingToFold(t *testing.T) {
	samples := []retention.Sample{
		{Date: day(25), Position: 1},
		{Date: day(1), Aggregated: true, OriginalCount: 7},
	}

	result, changed := retention.Fold(samples, rollupCutoff)

	if changed {
		t.Error("expected no change with nothing foldable")
	}
	if len(result) != 2 {
		t.Errorf("samples = %d, want input returned as-is", len(result))
	}
}

func TestFold_ResultSortedAscending(t *testing.T) {
	samples := append(dailySamples(8, 10), dailySamples(1, 3)...)
	samples = append(samples, retention.Sample{Date: day(28)})

	result, _ := retention.Fold(samples, rollupCutoff)

	for i := 1; i < len(result); i++ {
		if result[i].Date.Before(result[i-1].Date) {
			t.Fatalf("result not sorted at %d: %v before %v", i, result[i].Date, result[i-1].Date)
		}
	}
}

func TestPolicy_Cutoffs(t *testing.T) {
	p := retention.Policy{
		Name:               "rank-history",
		Collection:         "rank_history",
		Kind:               retention.KindSeries,
		RetentionDays:      365,
		AggregateAfterDays: 90,
	}
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	if !p.Aggregates() {
		t.Error("policy with aggregate_after_days should aggregate")
	}
	if got, want := p.Cutoff(now), now.AddDate(0, 0, -365); !got.Equal(want) {
		t.Errorf("Cutoff = %v, want %v", got, want)
	}
	if got, want := p.AggregateCutoff(now), now.AddDate(0, 0, -90); !got.Equal(want) {
		t.Errorf("AggregateCutoff = %v, want %v", got, want)
	}

	expireOnly := retention.Policy{Kind: retention.KindSnapshots, RetentionDays: 30}
	if expireOnly.Aggregates() {
		t.Error("policy without aggregate_after_days should not aggregate")
	}
}
