package validation

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pitabwire/eapp/model"
)

var relativeDate = regexp.MustCompile(`^today\s*(?:([+-])\s*(\d+)\s*([dmy]?))?$`)

// dayOf truncates t to its calendar date in its own location, expressed as
// midnight UTC so it compares with model.ParseDay results.
func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// resolveBound resolves an absolute date or a relative expression such as
// "today", "today+30" or "today-18y" against today.
func resolveBound(bound string, today time.Time) (time.Time, bool) {
	expr := strings.ToLower(strings.TrimSpace(bound))
	m := relativeDate.FindStringSubmatch(expr)
	if m == nil {
		return model.ParseDay(bound)
	}
	if m[1] == "" {
		return today, true
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return time.Time{}, false
	}
	if m[1] == "-" {
		n = -n
	}
	switch m[3] {
	case "m":
		return today.AddDate(0, n, 0), true
	case "y":
		return today.AddDate(n, 0, 0), true
	default:
		return today.AddDate(0, 0, n), true
	}
}
