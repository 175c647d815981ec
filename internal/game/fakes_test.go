package game

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gamebot/internal/storage"
)

var t0 = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward, firing due timers in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()
		next.fn()
	}
}

type recordingSink struct {
	mu        sync.Mutex
	announced []Prompt
	reveals   []Outcome
	hints     []HintNote
	rewarded  []string
	announce  error
}

func (s *recordingSink) Announce(_ context.Context, _ string, p Prompt) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.announce != nil {
		return "", s.announce
	}
	s.announced = append(s.announced, p)
	return "-100:0:" + p.SessionID, nil
}

func (s *recordingSink) Reveal(_ context.Context, _ string, o Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reveals = append(s.reveals, o)
	return nil
}

func (s *recordingSink) Hint(_ context.Context, _ string, h HintNote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hints = append(s.hints, h)
	return nil
}

func (s *recordingSink) Rewarded(_ context.Context, _ string, _ int64, grantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rewarded = append(s.rewarded, grantID)
	return nil
}

func (s *recordingSink) counts() (announced, reveals, hints int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.announced), len(s.reveals), len(s.hints)
}

func (s *recordingSink) lastReveal() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.reveals) == 0 {
		return Outcome{}
	}
	return s.reveals[len(s.reveals)-1]
}

var errProviderDown = errors.New("provider down")

// scriptedProvider serves fixed specs; kinds in fail always error.
type scriptedProvider struct {
	mu    sync.Mutex
	specs map[string]AnswerSpec
	fail  map[string]bool
	calls []string
}

func (p *scriptedProvider) Fetch(_ context.Context, kind string) (AnswerSpec, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, kind)
	if p.fail[kind] {
		return AnswerSpec{}, errProviderDown
	}
	spec, ok := p.specs[kind]
	if !ok {
		return AnswerSpec{}, errProviderDown
	}
	return spec, nil
}

func numberSpec() AnswerSpec { return AnswerSpec{Min: 1, Max: 100, Number: 57} }

type harness struct {
	s     *Scheduler
	clock *fakeClock
	sink  *recordingSink
	store storage.Store
	prov  *scriptedProvider
}

const testChannel = "-100:0"

func newHarness(t *testing.T, cfg ChannelConfig, prov *scriptedProvider) *harness {
	t.Helper()
	return newHarnessWith(t, cfg, prov, storage.NewMemory(), newFakeClock(t0))
}

func newHarnessWith(t *testing.T, cfg ChannelConfig, prov *scriptedProvider, store storage.Store, clock *fakeClock) *harness {
	t.Helper()
	if cfg.Key == "" {
		cfg.Key = testChannel
	}
	if prov == nil {
		prov = &scriptedProvider{specs: map[string]AnswerSpec{KindNumber: numberSpec()}}
	}
	if len(cfg.Kinds) == 0 {
		cfg.Kinds = []string{KindNumber}
	}
	sink := &recordingSink{}
	ledger := NewRewardLedger("main", []Threshold{{Points: 100, GrantID: "bronze"}}, LedgerDeps{Grants: store, Out: sink, Clock: clock})
	s, err := New(Options{
		Scope: "main",
		Kinds: map[string]KindRules{KindNumber: {Duration: 3 * time.Minute, Reward: 100}},
	}, []ChannelConfig{cfg}, Deps{
		Store:    store,
		Scores:   store,
		Provider: prov,
		Out:      sink,
		Ledger:   ledger,
		Clock:    clock,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return &harness{s: s, clock: clock, sink: sink, store: store, prov: prov}
}

func (h *harness) guess(t *testing.T, user int64, text string) Verdict {
	t.Helper()
	v, err := h.s.OnEvent(context.Background(), Event{Channel: testChannel, Player: Player{ID: user, Name: "p"}, Text: text})
	if err != nil {
		t.Fatalf("OnEvent: %v", err)
	}
	return v
}

func (h *harness) persisted(t *testing.T) bool {
	t.Helper()
	_, ok, err := h.store.LoadSession(context.Background(), storage.Key{Scope: "main", Channel: testChannel})
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	return ok
}
