package game

import (
	"fmt"
	"strings"
	"time"
)

// TimeWindow is an allowed time-of-day range "HH:MM-HH:MM". The start is
// inclusive, the end exclusive, and the range may wrap past midnight. The
// zero value allows every time.
type TimeWindow struct {
	start, end int // minutes since midnight
	set        bool
}

func ParseTimeWindow(s string) (TimeWindow, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return TimeWindow{}, nil
	}
	from, to, ok := strings.Cut(s, "-")
	if !ok {
		return TimeWindow{}, fmt.Errorf("time window %q: want HH:MM-HH:MM", s)
	}
	start, err := parseClock(from)
	if err != nil {
		return TimeWindow{}, fmt.Errorf("time window %q: %w", s, err)
	}
	end, err := parseClock(to)
	if err != nil {
		return TimeWindow{}, fmt.Errorf("time window %q: %w", s, err)
	}
	if start == end {
		return TimeWindow{}, nil
	}
	return TimeWindow{start: start, end: end, set: true}, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Contains reports whether t's wall-clock time (in t's location) is inside the window.
func (w TimeWindow) Contains(t time.Time) bool {
	if !w.set {
		return true
	}
	m := t.Hour()*60 + t.Minute()
	if w.start < w.end {
		return m >= w.start && m < w.end
	}
	return m >= w.start || m < w.end
}

func (w TimeWindow) String() string {
	if !w.set {
		return ""
	}
	return fmt.Sprintf("%02d:%02d-%02d:%02d", w.start/60, w.start%60, w.end/60, w.end%60)
}
