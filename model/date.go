package model

import (
	"strings"
	"time"
)

// DayLayout is the canonical calendar-date form used in submissions.
const DayLayout = "2006-01-02"

var dayLayouts = []string{DayLayout, "01/02/2006", "1/2/2006"}

// ParseDay reads the calendar date of s, ignoring any time-of-day or zone
// suffix. The result is midnight UTC on that date, so two days compare with
// Equal regardless of how they were written.
func ParseDay(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "T "); i > 0 {
		s = s[:i]
	}
	for _, layout := range dayLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// CanonicalDay rewrites a parseable date as DayLayout. Anything else is
// returned trimmed but otherwise unchanged.
func CanonicalDay(s string) string {
	d, ok := ParseDay(s)
	if !ok {
		return strings.TrimSpace(s)
	}
	return d.Format(DayLayout)
}
