// Package aggregate folds online-count samples into dashboard summaries.
package aggregate

import (
	"math"
	"sort"
	"time"

	"guild-bridge/internal/domain"
)

const (
	Days  = 7
	Hours = 24
)

// Report summarises an event log. Heatmap rows are weekdays starting on
// Monday, columns are local hours.
type Report struct {
	PeakOnline    int
	CurrentOnline int
	Heatmap       [Days][Hours]int
}

// Aggregate sorts a copy of events by timestamp, then reports the peak, the
// latest count and the mean count per (weekday, hour) bucket rounded to the
// nearest integer. Samples without a timestamp count toward peak and current
// but have no bucket.
func Aggregate(events []domain.EventSample, loc *time.Location) Report {
	if loc == nil {
		loc = time.Local
	}

	sorted := make([]domain.EventSample, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Timestamp != sorted[j].Timestamp {
			return sorted[i].Timestamp < sorted[j].Timestamp
		}
		return sorted[i].OnlineCount < sorted[j].OnlineCount
	})

	var (
		report Report
		sums   [Days][Hours]int
		counts [Days][Hours]int
	)
	if len(sorted) > 0 {
		report.CurrentOnline = sorted[len(sorted)-1].OnlineCount
	}

	for _, ev := range sorted {
		if ev.OnlineCount > report.PeakOnline {
			report.PeakOnline = ev.OnlineCount
		}
		if ev.Timestamp <= 0 {
			continue
		}
		t := ev.Time(loc)
		day := Weekday(t)
		sums[day][t.Hour()] += ev.OnlineCount
		counts[day][t.Hour()]++
	}

	for d := 0; d < Days; d++ {
		for h := 0; h < Hours; h++ {
			if counts[d][h] == 0 {
				continue
			}
			report.Heatmap[d][h] = int(math.Round(float64(sums[d][h]) / float64(counts[d][h])))
		}
	}
	return report
}

// Weekday maps t to 0=Monday .. 6=Sunday.
func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// HourTotals sums every weekday per hour, used for the intensity row.
func (r Report) HourTotals() [Hours]int {
	var totals [Hours]int
	for d := 0; d < Days; d++ {
		for h := 0; h < Hours; h++ {
			totals[h] += r.Heatmap[d][h]
		}
	}
	return totals
}
