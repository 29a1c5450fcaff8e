package timeutil

import (
	"fmt"
	"time"
)

// Overlaps reports whether the half-open intervals [aStart,aEnd) and
// [bStart,bEnd) intersect. Intervals that merely touch do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// DayBounds converts a calendar date (YYYY-MM-DD) in the given location into
// UTC day boundaries: local midnight inclusive to next local midnight
// exclusive. The clinic's business timezone decides what "same day" means,
// not the UTC date.
func DayBounds(date string, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	start := day
	end := day.AddDate(0, 0, 1)
	return start.UTC(), end.UTC(), nil
}

// DayBoundsAt returns the UTC bounds of the local day containing t.
func DayBoundsAt(t time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start.UTC(), start.AddDate(0, 0, 1).UTC()
}
