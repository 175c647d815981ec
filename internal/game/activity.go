package game

import (
	"sync"
	"time"
)

const defaultActivityCap = 512

// ActivityTracker is a per-channel sliding window of inbound event times.
// It only feeds readiness; it is never persisted.
type ActivityTracker struct {
	mu     sync.Mutex
	max    int
	events map[string][]time.Time
}

func NewActivityTracker(maxPerChannel int) *ActivityTracker {
	if maxPerChannel <= 0 {
		maxPerChannel = defaultActivityCap
	}
	return &ActivityTracker{max: maxPerChannel, events: map[string][]time.Time{}}
}

// Record appends an event and drops entries older than window.
func (a *ActivityTracker) Record(channel string, at time.Time, window time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ev := append(a.events[channel], at)
	ev = prune(ev, at.Add(-window))
	if len(ev) > a.max {
		ev = append(ev[:0:0], ev[len(ev)-a.max:]...)
	}
	a.events[channel] = ev
}

// Count returns the number of events within window of now.
func (a *ActivityTracker) Count(channel string, window time.Duration, now time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	ev := prune(a.events[channel], now.Add(-window))
	a.events[channel] = ev
	return len(ev)
}

// prune drops the leading entries before cutoff. Entries are time-ordered.
func prune(ev []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ev) && ev[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return ev
	}
	return append(ev[:0], ev[i:]...)
}
