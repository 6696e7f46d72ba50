package routing

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Window is one open interval on a weekday, in "HH:MM" local time. Close may be "24:00".
type Window struct {
	Day   time.Weekday `json:"day"`
	Open  string       `json:"open"`
	Close string       `json:"close"`
}

// BusinessHours is a weekly schedule. No windows means always open.
type BusinessHours struct {
	Timezone string   `json:"timezone,omitempty"`
	Windows  []Window `json:"windows,omitempty"`
}

// OpenAt reports whether at falls inside any window, evaluated in the schedule's timezone.
// An unknown timezone falls back to UTC.
func (h BusinessHours) OpenAt(at time.Time) bool {
	if len(h.Windows) == 0 {
		return true
	}
	loc := time.UTC
	if h.Timezone != "" {
		if l, err := time.LoadLocation(h.Timezone); err == nil {
			loc = l
		}
	}
	local := at.In(loc)
	minute := local.Hour()*60 + local.Minute()
	for _, w := range h.Windows {
		if w.Day != local.Weekday() {
			continue
		}
		open, err := parseClock(w.Open)
		if err != nil {
			continue
		}
		closeAt, err := parseClock(w.Close)
		if err != nil {
			continue
		}
		if minute >= open && minute < closeAt {
			return true
		}
	}
	return false
}

// Validate checks every window parses and closes after it opens.
func (h BusinessHours) Validate() error {
	if h.Timezone != "" {
		if _, err := time.LoadLocation(h.Timezone); err != nil {
			return fmt.Errorf("routing: timezone %q: %w", h.Timezone, err)
		}
	}
	for i, w := range h.Windows {
		open, err := parseClock(w.Open)
		if err != nil {
			return fmt.Errorf("routing: window %d open: %w", i, err)
		}
		closeAt, err := parseClock(w.Close)
		if err != nil {
			return fmt.Errorf("routing: window %d close: %w", i, err)
		}
		if closeAt <= open {
			return fmt.Errorf("routing: window %d closes before it opens", i)
		}
	}
	return nil
}

func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("bad clock %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("bad clock %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return 0, fmt.Errorf("bad clock %q", s)
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("bad clock %q", s)
	}
	return h*60 + m, nil
}
