package game

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"gamebot/internal/eventbus"
	logx "gamebot/pkg/logx"
)

// Threshold grants GrantID once a user's total reaches Points.
type Threshold struct {
	Points  int64
	GrantID string
}

// RewardLedger applies threshold grants exactly once per (scope, user, grant).
type RewardLedger struct {
	mu         sync.Mutex
	scope      string
	thresholds []Threshold
	grants     GrantStore
	sink       RewardSink
	out        OutputSink
	clock      Clock
	log        logx.Logger
	bus        eventbus.Bus

	// applied covers grants whose PutGrant failed, so a flaky store does not
	// cause a second grant within this process.
	applied map[string]struct{}
}

type LedgerDeps struct {
	Grants GrantStore
	Sink   RewardSink
	Out    OutputSink
	Clock  Clock
	Log    logx.Logger
	Bus    eventbus.Bus
}

func NewRewardLedger(scope string, thresholds []Threshold, deps LedgerDeps) *RewardLedger {
	ts := append([]Threshold(nil), thresholds...)
	sort.SliceStable(ts, func(i, j int) bool { return ts[i].Points < ts[j].Points })
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	return &RewardLedger{
		scope:      scope,
		thresholds: ts,
		grants:     deps.Grants,
		sink:       deps.Sink,
		out:        deps.Out,
		clock:      deps.Clock,
		log:        deps.Log,
		bus:        deps.Bus,
		applied:    map[string]struct{}{},
	}
}

// Reached returns the highest threshold at or below total.
func (l *RewardLedger) Reached(total int64) (Threshold, bool) {
	i := sort.Search(len(l.thresholds), func(i int) bool { return l.thresholds[i].Points > total })
	if i == 0 {
		return Threshold{}, false
	}
	return l.thresholds[i-1], true
}

// CheckAndGrant applies the highest threshold reached by total unless the
// user already holds it. It returns the applied grant ID, or "" when nothing
// was granted.
func (l *RewardLedger) CheckAndGrant(ctx context.Context, channel string, userID, total int64) (string, error) {
	th, ok := l.Reached(total)
	if !ok || l.grants == nil {
		return "", nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	memKey := strconv.FormatInt(userID, 10) + "/" + th.GrantID
	if _, done := l.applied[memKey]; done {
		return "", nil
	}
	has, err := l.grants.HasGrant(ctx, l.scope, userID, th.GrantID)
	if err != nil {
		return "", fmt.Errorf("grant lookup: %w", err)
	}
	if has {
		return "", nil
	}

	if l.sink != nil {
		if err := l.sink.Grant(ctx, userID, th.GrantID); err != nil {
			return "", fmt.Errorf("grant %s: %w", th.GrantID, err)
		}
	}
	l.applied[memKey] = struct{}{}
	if err := l.grants.PutGrant(ctx, l.scope, userID, th.GrantID, l.clock.Now()); err != nil {
		l.log.Error("grant record failed", logx.Int64("user_id", userID), logx.String("grant", th.GrantID), logx.Err(err))
		publish(l.bus, eventbus.StoreWriteFailed, eventbus.FailureEvent{Channel: channel, Op: "put_grant", Error: err.Error()})
	}

	l.log.Info("reward granted", logx.String("channel", channel), logx.Int64("user_id", userID), logx.String("grant", th.GrantID), logx.Int64("total", total))
	publish(l.bus, eventbus.RewardGranted, eventbus.RewardEvent{Channel: channel, UserID: userID, GrantID: th.GrantID, Total: total})
	if l.out != nil {
		if err := l.out.Rewarded(ctx, channel, userID, th.GrantID); err != nil {
			l.log.Warn("reward notice failed", logx.Int64("user_id", userID), logx.Err(err))
		}
	}
	return th.GrantID, nil
}

func publish(bus eventbus.Bus, topic string, data any) {
	if bus == nil {
		return
	}
	bus.Publish(eventbus.Event{Type: topic, Data: data})
}
