package model

import (
	"testing"
	"time"
)

func TestParseDay(t *testing.T) {
	march4 := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2026-03-04", march4, true},
		{" 2026-03-04 ", march4, true},
		{"2026-03-04T23:30:00-05:00", march4, true},
		{"2026-03-04 08:00", march4, true},
		{"03/04/2026", march4, true},
		{"3/4/2026", march4, true},
		{"04.03.2026", time.Time{}, false},
		{"", time.Time{}, false},
	}
	for _, tt := range tests {
		got, ok := ParseDay(tt.in)
		if ok != tt.ok || !got.Equal(tt.want) {
			t.Errorf("ParseDay(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestCanonicalDay(t *testing.T) {
	for in, want := range map[string]string{
		"03/04/2026":                "2026-03-04",
		"2026-03-04T08:00:00-05:00": "2026-03-04",
		" next week ":               "next week",
		"":                          "",
	} {
		if got := CanonicalDay(in); got != want {
			t.Errorf("CanonicalDay(%q) = %q, want %q", in, got, want)
		}
	}
}
