package clock

import (
	"time"

	"github.com/rickb777/date/v2/timespan"
)

type TimeSpan = timespan.TimeSpan

func NewTimeSpan(from, to time.Time) TimeSpan {
	return timespan.BetweenTimes(from, to)
}

// MinCost is the smallest cost ever reported, so stored costs stay positive
// even when the clock did not tick.
const MinCost = 1e-9

// Since is the span from start until now.
func Since(start time.Time) TimeSpan {
	return timespan.BetweenTimes(start, time.Now())
}

// Seconds is the length of span in seconds, never below MinCost.
func Seconds(span TimeSpan) float64 {
	return max(span.Duration().Seconds(), MinCost)
}

// Date is the calendar day of t in UTC, formatted for use as a key segment.
func Date(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
