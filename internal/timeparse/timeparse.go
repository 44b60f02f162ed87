// Package timeparse converts participation timestamps ("07월 15일 09시 00분")
// into instants.
//
// The source format carries no year. Callers pass the anchor year
// explicitly; see Year for the usual resolution.
package timeparse

import (
	"regexp"
	"strconv"
	"time"
)

var pattern = regexp.MustCompile(`(\d{2})월 (\d{2})일 (\d{2})시 (\d{2})분`)

// Parse returns the instant described by s in the given year and location.
// It reports false when s does not contain the expected pattern or the
// fields do not form a real calendar date.
func Parse(s string, year int, loc *time.Location) (time.Time, bool) {
	m := pattern.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}

	var f [4]int
	for i := range f {
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return time.Time{}, false
		}
		f[i] = n
	}
	month, day, hour, minute := f[0], f[1], f[2], f[3]

	t := time.Date(year, time.Month(month), day, hour, minute, 0, 0, loc)
	// time.Date normalizes overflow (13월 -> January next year); reject instead.
	if int(t.Month()) != month || t.Day() != day || t.Hour() != hour || t.Minute() != minute {
		return time.Time{}, false
	}
	return t, true
}

// Year resolves the anchor year: a configured non-zero year wins,
// otherwise the year of now in loc.
func Year(configured int, now time.Time, loc *time.Location) int {
	if configured != 0 {
		return configured
	}
	if loc == nil {
		loc = time.Local
	}
	return now.In(loc).Year()
}
