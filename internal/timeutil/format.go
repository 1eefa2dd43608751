package timeutil

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	MinuteInSeconds = 60
	HourInSeconds   = 60 * MinuteInSeconds
	DayInSeconds    = 24 * HourInSeconds
)

// HHMM is an hours and minutes pair.
type HHMM struct {
	Hours   int64
	Minutes int64
}

// HHMMToSeconds converts hours and minutes to seconds.
func HHMMToSeconds(hours, minutes int64) int64 {
	return hours*HourInSeconds + minutes*MinuteInSeconds
}

// HHMMToMilliseconds converts hours and minutes to milliseconds.
func HHMMToMilliseconds(hours, minutes int64) int64 {
	return HHMMToSeconds(hours, minutes) * 1000
}

// SecondsToHHMM splits seconds into whole hours and minutes, dropping seconds.
func SecondsToHHMM(seconds int64) HHMM {
	return HHMM{
		Hours:   seconds / HourInSeconds,
		Minutes: (seconds % HourInSeconds) / MinuteInSeconds,
	}
}

// MillisecondsToHHMM splits milliseconds into whole hours and minutes.
func MillisecondsToHHMM(ms int64) HHMM {
	return SecondsToHHMM(ms / 1000)
}

// ParseInterval parses an "HH:MM:SS" interval into seconds.
func ParseInterval(interval string) (int64, error) {
	parts := strings.Split(interval, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid interval %q: expected HH:MM:SS", interval)
	}
	var values [3]int64
	for i, part := range parts {
		v, err := strconv.ParseInt(part, 10, 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid interval %q: bad component %q", interval, part)
		}
		values[i] = v
	}
	return values[0]*HourInSeconds + values[1]*MinuteInSeconds + values[2], nil
}

// BadgeString renders a short total for a toolbar badge.
// Under a minute it shows seconds ("42s"), under an hour minutes and seconds
// ("5m7s"), and from one hour decimal hours plus the seconds part ("1.50h0s").
func BadgeString(seconds int64) string {
	secs := seconds % MinuteInSeconds
	switch {
	case seconds >= HourInSeconds:
		return fmt.Sprintf("%.2fh%ds", float64(seconds)/HourInSeconds, secs)
	case seconds >= MinuteInSeconds:
		return fmt.Sprintf("%dm%ds", seconds/MinuteInSeconds, secs)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}

// Units labels the parts of a formatted duration. Localised labels are
// supplied by the caller; DefaultUnits is used otherwise.
type Units struct {
	Day    string
	Hour   string
	Minute string
	Second string
}

// DefaultUnits are the short English unit labels.
var DefaultUnits = Units{Day: "d", Hour: "h", Minute: "m", Second: "s"}

// Summary renders seconds as "1 d 02 h 03 m 04 s". Zero parts are omitted and
// a part is zero-padded when a larger part precedes it.
func (u Units) Summary(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	values := []struct {
		n     int64
		label string
	}{
		{seconds / DayInSeconds, u.Day},
		{(seconds % DayInSeconds) / HourInSeconds, u.Hour},
		{(seconds % HourInSeconds) / MinuteInSeconds, u.Minute},
		{seconds % MinuteInSeconds, u.Second},
	}

	parts := make([]string, 0, len(values))
	padded := false
	for _, v := range values {
		if v.n <= 0 {
			padded = false
			continue
		}
		if padded {
			parts = append(parts, fmt.Sprintf("%02d %s", v.n, v.label))
		} else {
			parts = append(parts, fmt.Sprintf("%d %s", v.n, v.label))
		}
		padded = true
	}
	if len(parts) == 0 {
		return fmt.Sprintf("0 %s", u.Second)
	}
	return strings.Join(parts, " ")
}

// Limit renders a daily limit as "1 h 05 m", ignoring whole days and seconds.
func (u Units) Limit(seconds int64) string {
	hhmm := SecondsToHHMM(seconds % DayInSeconds)
	return fmt.Sprintf("%d %s %02d %s", hhmm.Hours, u.Hour, hhmm.Minutes, u.Minute)
}

// SummaryString formats seconds with DefaultUnits.
func SummaryString(seconds int64) string {
	return DefaultUnits.Summary(seconds)
}

// MinutesSummaryString formats a fractional minute count, such as an
// average, with DefaultUnits. Partial seconds are dropped.
func MinutesSummaryString(minutes float64) string {
	return DefaultUnits.Summary(int64(math.Floor(minutes * MinuteInSeconds)))
}

// Seconds converts a duration to whole seconds.
func Seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}
