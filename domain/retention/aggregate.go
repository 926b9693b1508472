package retention

import (
	"sort"
	"time"
)

// Sample is one dated data point in an entity's embedded series
// (e.g. a day of search-ranking metrics). A sample produced by rollup
// carries Aggregated=true and OriginalCount = raw samples folded in;
// such samples are never folded again.
type Sample struct {
	Date          time.Time
	Position      float64 // rank-like metric, averaged on rollup
	Clicks        int64   // count-like, summed
	Impressions   int64   // count-like, summed
	CTR           float64 // rate-like, averaged
	Aggregated    bool
	OriginalCount int64
}

// WeekStart returns 00:00 UTC on the Sunday beginning the week that
// contains t.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -int(day.Weekday()))
}

// Fold replaces samples older than cutoff with weekly rollup buckets and
// keeps recent samples verbatim. Per bucket: Position and CTR are
// arithmetic means, Clicks and Impressions are sums, Date is the week's
// Sunday, and OriginalCount is the number of raw samples folded, so the
// sum of OriginalCount over produced buckets equals the raw sample count
// in the folded window. Old samples already marked Aggregated pass
// through untouched. The result is sorted by date ascending. Folding is
// destructive of per-day granularity; changed reports whether the series
// needs to be written back.
func Fold(samples []Sample, cutoff time.Time) (result []Sample, changed bool) {
	var recent, keptBuckets []Sample
	byWeek := make(map[time.Time][]Sample)
	weeks := make([]time.Time, 0)

	for _, s := range samples {
		switch {
		case !s.Date.Before(cutoff):
			recent = append(recent, s)
		case s.Aggregated:
			keptBuckets = append(keptBuckets, s)
		default:
			wk := WeekStart(s.Date)
			if _, ok := byWeek[wk]; !ok {
				weeks = append(weeks, wk)
			}
			byWeek[wk] = append(byWeek[wk], s)
		}
	}

	if len(byWeek) == 0 {
		return samples, false
	}

	result = append(result, keptBuckets...)
	for _, wk := range weeks {
		result = append(result, foldWeek(wk, byWeek[wk]))
	}
	result = append(result, recent...)

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Date.Before(result[j].Date)
	})
	return result, true
}

func foldWeek(week time.Time, members []Sample) Sample {
	bucket := Sample{
		Date:          week,
		Aggregated:    true,
		OriginalCount: int64(len(members)),
	}
	for _, s := range members {
		bucket.Position += s.Position
		bucket.CTR += s.CTR
		bucket.Clicks += s.Clicks
		bucket.Impressions += s.Impressions
	}
	n := float64(len(members))
	bucket.Position /= n
	bucket.CTR /= n
	return bucket
}
