// Package timeutil converts between epoch milliseconds, wall-clock times and
// local calendar days, and formats accumulated seconds for display.
//
// Days are always keyed by their local calendar date string. A DST transition
// produces a 23 or 25 hour day but never changes which date an instant belongs to.
package timeutil

import (
	"fmt"
	"time"
)

// DateLayout is the layout of a local date key (YYYY-MM-DD).
const DateLayout = "2006-01-02"

// DaySpan is the portion of an interval that falls on one local date.
type DaySpan struct {
	Date    string
	Seconds int64
}

// LocalDate returns the calendar date of t in loc.
func LocalDate(t time.Time, loc *time.Location) string {
	return t.In(location(loc)).Format(DateLayout)
}

// ParseDate parses a local date key into the midnight that starts it.
func ParseDate(date string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, date, location(loc))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return t, nil
}

// StartOfDay returns local midnight at the start of t's date.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(location(loc))
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
}

// NextDay returns local midnight at the start of the date after t's date.
func NextDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(location(loc))
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, local.Location())
}

// DaysAgo returns the date key n days before t's date.
func DaysAgo(t time.Time, n int, loc *time.Location) string {
	local := t.In(location(loc))
	return time.Date(local.Year(), local.Month(), local.Day()-n, 12, 0, 0, 0, local.Location()).Format(DateLayout)
}

// FromEpochMs converts epoch milliseconds to a time.
func FromEpochMs(ms int64) time.Time {
	return time.UnixMilli(ms)
}

// ToEpochMs converts a time to epoch milliseconds.
func ToEpochMs(t time.Time) int64 {
	return t.UnixMilli()
}

// WholeSeconds counts the epoch-second boundaries crossed between from and to.
// Summing it over consecutive intervals equals WholeSeconds over their union, so
// frequent sub-second flushes neither lose nor invent time. Returns 0 when to is
// not after from.
func WholeSeconds(from, to time.Time) int64 {
	if !to.After(from) {
		return 0
	}
	return to.Unix() - from.Unix()
}

// Segment is a sub-interval of [From, To) lying within one local date.
type Segment struct {
	Date string
	From time.Time
	To   time.Time
}

// Seconds returns the whole seconds of the segment.
func (s Segment) Seconds() int64 {
	return WholeSeconds(s.From, s.To)
}

// Segments divides [from, to) at every local midnight.
func Segments(from, to time.Time, loc *time.Location) []Segment {
	if !to.After(from) {
		return nil
	}

	var segs []Segment
	cursor := from
	for cursor.Before(to) {
		end := NextDay(cursor, loc)
		if end.After(to) {
			end = to
		}
		segs = append(segs, Segment{Date: LocalDate(cursor, loc), From: cursor, To: end})
		cursor = end
	}
	return segs
}

// SplitByDay returns the whole seconds of [from, to) attributed to each local
// date, in order. Dates that receive no seconds are omitted.
func SplitByDay(from, to time.Time, loc *time.Location) []DaySpan {
	var spans []DaySpan
	for _, seg := range Segments(from, to, loc) {
		if secs := seg.Seconds(); secs > 0 {
			spans = append(spans, DaySpan{Date: seg.Date, Seconds: secs})
		}
	}
	return spans
}

func location(loc *time.Location) *time.Location {
	if loc == nil {
		return time.Local
	}
	return loc
}
