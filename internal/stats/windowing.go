package stats

import (
	"fmt"
	"time"
)

// Granularity is the period size of a rollup record.
type Granularity string

const (
	Total   Granularity = "total"
	Daily   Granularity = "daily"
	Weekly  Granularity = "weekly"
	Monthly Granularity = "monthly"
)

// Granularities lists every granularity a recomputation publishes.
var Granularities = []Granularity{Total, Daily, Weekly, Monthly}

// ParseGranularity accepts the canonical names and the short bucket names.
func ParseGranularity(s string) (Granularity, error) {
	switch s {
	case "", "total", "range":
		return Total, nil
	case "daily", "day":
		return Daily, nil
	case "weekly", "week":
		return Weekly, nil
	case "monthly", "month":
		return Monthly, nil
	}
	return "", fmt.Errorf("unknown granularity %q", s)
}

// Period is one bucket of a rollup.
type Period struct {
	Granularity Granularity `json:"granularity"`
	Start       time.Time   `json:"start"`
	End         time.Time   `json:"end"`
}

// Label returns a human-readable label (e.g. "2024-03-05", "2024-W10", "Mar 2024").
func (p Period) Label() string {
	switch p.Granularity {
	case Monthly:
		return p.Start.Format("Jan 2006")
	case Weekly:
		year, week := p.Start.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case Daily:
		return p.Start.Format("2006-01-02")
	default:
		if p.Start.IsZero() && p.End.IsZero() {
			return "all"
		}
		return fmt.Sprintf("%s..%s", p.Start.Format("2006-01-02"), p.End.Format("2006-01-02"))
	}
}

// PeriodOf returns the bucket containing t. Total periods span the whole
// recomputation window [start, end].
func PeriodOf(t time.Time, g Granularity, start, end time.Time) Period {
	if g == Total {
		return Period{Granularity: Total, Start: start, End: end}
	}
	return Period{
		Granularity: g,
		Start:       SnapToStart(t, g),
		End:         SnapToEnd(t, g),
	}
}

// SnapToStart normalizes a timestamp to the beginning of its bucket (0:00:00 UTC).
func SnapToStart(t time.Time, g Granularity) time.Time {
	if t.IsZero() {
		return t
	}
	t = t.UTC()
	switch g {
	case Monthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case Weekly:
		// Snap to Monday
		weekday := int(t.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		return time.Date(t.Year(), t.Month(), t.Day()-(weekday-1), 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
}

// SnapToEnd normalizes a timestamp to the last nanosecond of its bucket.
func SnapToEnd(t time.Time, g Granularity) time.Time {
	if t.IsZero() {
		return t
	}
	t = t.UTC()
	switch g {
	case Monthly:
		nextMonth := time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
		return nextMonth.Add(-time.Nanosecond)
	case Weekly:
		weekday := int(t.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		return time.Date(t.Year(), t.Month(), t.Day()+(7-weekday), 23, 59, 59, 999999999, time.UTC)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999999999, time.UTC)
	}
}
