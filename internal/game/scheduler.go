package game

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"gamebot/internal/eventbus"
	"gamebot/internal/storage"
	logx "gamebot/pkg/logx"
)

var (
	ErrSessionActive  = errors.New("session already active")
	ErrStartInFlight  = errors.New("session start already in progress")
	ErrUnknownChannel = errors.New("unknown channel")
	ErrNoContent      = errors.New("no challenge content available")
)

const (
	HintLead        = 30 * time.Second
	HintMinDuration = 60 * time.Second

	defaultDuration        = 3 * time.Minute
	defaultReward          = 100
	defaultProviderTimeout = 10 * time.Second
	defaultSinkTimeout     = 15 * time.Second
)

// ChannelConfig is the per-channel scheduling policy. Key is the channel
// scope id used for persistence and for every Scheduler call.
type ChannelConfig struct {
	Key            string
	Interval       time.Duration
	ActivityWindow time.Duration
	MinEvents      int
	Failsafe       time.Duration
	Kinds          []string
	Mention        string
	Hours          TimeWindow
}

// KindRules sets the duration and reward of sessions of one kind.
type KindRules struct {
	Duration time.Duration
	Reward   int64
}

type Options struct {
	Scope           string
	Location        *time.Location
	ProviderTimeout time.Duration
	SinkTimeout     time.Duration
	HintLead        time.Duration
	HintMinDuration time.Duration
	Kinds           map[string]KindRules
	// StartOnEvent lets inbound messages trigger a start check between ticks.
	StartOnEvent bool
	ActivityCap  int
}

type Deps struct {
	Store    SessionStore
	Scores   ScoreStore
	Provider ContentProvider
	Out      OutputSink
	Ledger   *RewardLedger
	Clock    Clock
	Log      logx.Logger
	Bus      eventbus.Bus
}

// Scheduler decides when sessions start and drives them to resolution.
type Scheduler struct {
	opts     Options
	store    SessionStore
	scores   ScoreStore
	provider ContentProvider
	out      OutputSink
	ledger   *RewardLedger
	activity *ActivityTracker
	rotation *RotationSelector
	clock    Clock
	log      logx.Logger
	bus      eventbus.Bus

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	bootAt   time.Time
	channels map[string]*channelState // fixed after New
}

type channelState struct {
	cfg ChannelConfig

	// starting is the single-flight marker, held across content lookup.
	starting atomic.Bool

	mu        sync.Mutex
	active    *Session
	lastStart time.Time
}

func New(opts Options, channels []ChannelConfig, deps Deps) (*Scheduler, error) {
	if deps.Store == nil || deps.Provider == nil || deps.Out == nil {
		return nil, errors.New("game: store, provider and output sink are required")
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = defaultProviderTimeout
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = defaultSinkTimeout
	}
	if opts.HintLead <= 0 {
		opts.HintLead = HintLead
	}
	if opts.HintMinDuration <= 0 {
		opts.HintMinDuration = HintMinDuration
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	log := deps.Log.With(logx.String("comp", "game"))

	s := &Scheduler{
		opts:     opts,
		store:    deps.Store,
		scores:   deps.Scores,
		provider: deps.Provider,
		out:      deps.Out,
		ledger:   deps.Ledger,
		activity: NewActivityTracker(opts.ActivityCap),
		clock:    deps.Clock,
		log:      log,
		bus:      deps.Bus,
		bootAt:   deps.Clock.Now(),
		channels: make(map[string]*channelState, len(channels)),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.rotation = NewRotationSelector(deps.Store, opts.Scope, opts.Location, log.With(logx.String("sub", "rotation")))
	s.rotation.onWriteFail = func(channel string, err error) { s.reportWriteFailure(channel, "save_rotation", err) }

	for _, c := range channels {
		if c.Key == "" {
			return nil, errors.New("game: channel key is required")
		}
		if _, dup := s.channels[c.Key]; dup {
			return nil, fmt.Errorf("game: duplicate channel %q", c.Key)
		}
		for _, k := range c.Kinds {
			if !KnownKind(k) {
				return nil, fmt.Errorf("game: channel %q: %w: %q", c.Key, ErrUnknownKind, k)
			}
		}
		c.Kinds = append([]string(nil), c.Kinds...)
		s.channels[c.Key] = &channelState{cfg: c}
	}
	return s, nil
}

// Channels returns the configured channel keys in lexical order.
func (s *Scheduler) Channels() []string {
	out := make([]string, 0, len(s.channels))
	for k := range s.channels {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *Scheduler) channel(key string) (*channelState, error) {
	st, ok := s.channels[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, key)
	}
	return st, nil
}

// Active returns a copy of the channel's active session.
func (s *Scheduler) Active(channel string) (Snapshot, bool) {
	st, err := s.channel(channel)
	if err != nil {
		return Snapshot{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.active == nil {
		return Snapshot{}, false
	}
	return st.active.snapshot(), true
}

// Tick runs one scheduling pass for channel and reports whether a session started.
// Gate misses, an active session and a concurrent start are not errors.
func (s *Scheduler) Tick(ctx context.Context, channel string) (bool, error) {
	st, err := s.channel(channel)
	if err != nil {
		return false, err
	}
	started, err := s.tryStart(ctx, st, false)
	if errors.Is(err, ErrSessionActive) || errors.Is(err, ErrStartInFlight) || errors.Is(err, ErrNoContent) {
		return false, nil
	}
	return started, err
}

// ForceStart starts a session now, bypassing the hours, interval and
// readiness gates but not the single-flight guard.
func (s *Scheduler) ForceStart(ctx context.Context, channel string) error {
	st, err := s.channel(channel)
	if err != nil {
		return err
	}
	_, err = s.tryStart(ctx, st, true)
	return err
}

// OnEvent feeds an inbound message into the activity window and, when a
// session is active, checks it as a guess.
func (s *Scheduler) OnEvent(ctx context.Context, ev Event) (Verdict, error) {
	st, err := s.channel(ev.Channel)
	if err != nil {
		return NoMatch, err
	}
	now := s.clock.Now()
	s.activity.Record(ev.Channel, now, st.cfg.ActivityWindow)

	v := s.checkGuess(ctx, st, ev, now)
	if v != Won && s.opts.StartOnEvent && s.worthTrying(st, now) {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if _, err := s.Tick(s.ctx, ev.Channel); err != nil {
				s.log.Warn("event-driven start failed", logx.String("channel", ev.Channel), logx.Err(err))
			}
		}()
	}
	return v, nil
}

// OnAuxInteraction resolves action-based challenges. It reports whether ref won.
func (s *Scheduler) OnAuxInteraction(ctx context.Context, channel, ref string, actor Player) (bool, error) {
	st, err := s.channel(channel)
	if err != nil {
		return false, err
	}
	now := s.clock.Now()

	st.mu.Lock()
	sess := st.active
	if sess == nil || sess.status != StatusActive || !now.Before(sess.EndsAt) {
		st.mu.Unlock()
		return false, nil
	}
	m, ok := sess.Challenge.(AuxMatcher)
	if !ok || !m.MatchAux(ref) {
		st.mu.Unlock()
		return false, nil
	}
	out := s.resolveLocked(ctx, st, sess, StatusWon, actor, now)
	st.mu.Unlock()

	s.finishWin(ctx, st, out)
	return true, nil
}

// Shutdown stops all timers without resolving sessions; persisted records
// stay in place for Recover on the next start.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.cancel()
	for _, st := range s.channels {
		st.mu.Lock()
		if st.active != nil {
			st.active.stopTimers()
		}
		st.mu.Unlock()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) checkGuess(ctx context.Context, st *channelState, ev Event, now time.Time) Verdict {
	st.mu.Lock()
	sess := st.active
	if sess == nil || sess.status != StatusActive || !now.Before(sess.EndsAt) {
		st.mu.Unlock()
		return NoMatch
	}
	v := sess.Challenge.Check(ev.Text)
	switch v {
	case Won:
		out := s.resolveLocked(ctx, st, sess, StatusWon, ev.Player, now)
		st.mu.Unlock()
		s.finishWin(ctx, st, out)
	case Higher, Lower:
		note := HintNote{
			SessionID: sess.ID,
			Kind:      sess.Challenge.Kind(),
			Verdict:   v,
			Guess:     ev.Text,
			Player:    ev.Player,
			AuxRefs:   append([]string(nil), sess.AuxRefs...),
		}
		st.mu.Unlock()
		s.emitHint(st.cfg.Key, note)
	default:
		st.mu.Unlock()
	}
	return v
}

// worthTrying is a cheap pre-check so every message does not spawn a start attempt.
func (s *Scheduler) worthTrying(st *channelState, now time.Time) bool {
	if st.starting.Load() {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.active != nil {
		return false
	}
	return s.gateLocked(st, now) == ""
}

// gateLocked returns the name of the first failing gate, or "" when a start is allowed.
func (s *Scheduler) gateLocked(st *channelState, now time.Time) string {
	cfg := st.cfg
	if !cfg.Hours.Contains(now.In(s.opts.Location)) {
		return "hours"
	}
	if !st.lastStart.IsZero() && now.Sub(st.lastStart) < cfg.Interval {
		return "interval"
	}
	if s.activity.Count(cfg.Key, cfg.ActivityWindow, now) >= cfg.MinEvents {
		return ""
	}
	base := st.lastStart
	if base.IsZero() {
		base = s.bootAt
	}
	if cfg.Failsafe > 0 && now.Sub(base) >= cfg.Failsafe {
		return ""
	}
	return "idle"
}

func (s *Scheduler) tryStart(ctx context.Context, st *channelState, forced bool) (bool, error) {
	key := st.cfg.Key
	now := s.clock.Now()

	st.mu.Lock()
	if sess := st.active; sess != nil {
		if now.Before(sess.EndsAt) {
			st.mu.Unlock()
			return false, ErrSessionActive
		}
		// The timeout timer was missed; resolve now and continue.
		s.log.Warn("overdue session resolved on tick", logx.String("channel", key), logx.String("session", sess.ID))
		out := s.resolveLocked(ctx, st, sess, StatusTimedOut, Player{}, now)
		st.mu.Unlock()
		s.finishTimeout(st, out)
		st.mu.Lock()
	}
	if !forced {
		if gate := s.gateLocked(st, now); gate != "" {
			st.mu.Unlock()
			s.log.Debug("tick gated", logx.String("channel", key), logx.String("gate", gate))
			publish(s.bus, eventbus.TickSkipped, eventbus.FailureEvent{Channel: key, Op: gate})
			return false, nil
		}
	}
	st.mu.Unlock()

	if !st.starting.CompareAndSwap(false, true) {
		return false, ErrStartInFlight
	}
	defer st.starting.Store(false)

	// Another start may have begun and resolved since the first check.
	st.mu.Lock()
	busy := st.active != nil
	gate := ""
	if !busy && !forced {
		gate = s.gateLocked(st, s.clock.Now())
	}
	st.mu.Unlock()
	if busy {
		return false, ErrSessionActive
	}
	if gate != "" {
		s.log.Debug("tick gated", logx.String("channel", key), logx.String("gate", gate))
		publish(s.bus, eventbus.TickSkipped, eventbus.FailureEvent{Channel: key, Op: gate})
		return false, nil
	}

	ch, err := s.fetchChallenge(ctx, st)
	if err != nil {
		s.log.Warn("tick skipped", logx.String("channel", key), logx.Err(err))
		publish(s.bus, eventbus.TickSkipped, eventbus.FailureEvent{Channel: key, Op: "fetch", Error: err.Error()})
		return false, err
	}
	return s.launch(ctx, st, ch)
}

// fetchChallenge walks the rotation until a provider call succeeds, trying
// each available kind at most once.
func (s *Scheduler) fetchChallenge(ctx context.Context, st *channelState) (Challenge, error) {
	kinds := st.cfg.Kinds
	if len(kinds) == 0 {
		return nil, ErrNoContent
	}
	tried := make(map[string]bool, len(kinds))
	// A refill mid-walk can return already tried kinds, so allow up to two passes.
	for attempt := 0; attempt < 2*len(kinds) && len(tried) < len(kinds); attempt++ {
		kind, ok := s.rotation.Next(ctx, st.cfg.Key, kinds, s.clock.Now())
		if !ok {
			return nil, ErrNoContent
		}
		if tried[kind] {
			// Popped again after a refill; keep it in today's cycle.
			s.rotation.Requeue(ctx, st.cfg.Key, kind, s.clock.Now())
			continue
		}
		tried[kind] = true

		fctx, cancel := context.WithTimeout(ctx, s.opts.ProviderTimeout)
		spec, err := s.provider.Fetch(fctx, kind)
		cancel()
		if err == nil {
			var ch Challenge
			if ch, err = NewChallenge(kind, spec); err == nil {
				return ch, nil
			}
		}
		s.log.Warn("content provider failed", logx.String("channel", st.cfg.Key), logx.String("kind", kind), logx.Err(err))
		publish(s.bus, eventbus.ProviderFailed, eventbus.FailureEvent{Channel: st.cfg.Key, Op: "fetch", Kind: kind, Error: err.Error()})
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%w: %d kinds tried", ErrNoContent, len(tried))
}

func (s *Scheduler) rules(kind string) KindRules {
	r := s.opts.Kinds[kind]
	if r.Duration <= 0 {
		r.Duration = defaultDuration
	}
	if r.Reward <= 0 {
		r.Reward = defaultReward
	}
	return r
}

func (s *Scheduler) launch(ctx context.Context, st *channelState, ch Challenge) (bool, error) {
	key := st.cfg.Key
	rules := s.rules(ch.Kind())
	now := s.clock.Now()
	sess := &Session{
		ID:        uuid.NewString(),
		Channel:   key,
		Challenge: ch,
		Reward:    rules.Reward,
		StartedAt: now,
		EndsAt:    now.Add(rules.Duration),
	}
	if rules.Duration > s.opts.HintMinDuration {
		sess.HintAt = sess.EndsAt.Add(-s.opts.HintLead)
	}

	st.mu.Lock()
	if st.active != nil {
		st.mu.Unlock()
		return false, ErrSessionActive
	}
	prevStart := st.lastStart
	st.active = sess
	st.lastStart = now
	s.persistLocked(ctx, st, sess)
	s.armLocked(st, sess, now)
	st.mu.Unlock()

	prompt := ch.Prompt()
	prompt.SessionID = sess.ID
	prompt.Mention = st.cfg.Mention
	prompt.Reward = sess.Reward
	prompt.EndsAt = sess.EndsAt
	prompt.Duration = rules.Duration

	actx, cancel := context.WithTimeout(ctx, s.opts.SinkTimeout)
	ref, err := s.out.Announce(actx, key, prompt)
	cancel()
	if err != nil {
		// Nobody saw the prompt; drop the session quietly.
		st.mu.Lock()
		if st.active == sess {
			sess.status = StatusTimedOut
			sess.stopTimers()
			st.active = nil
			st.lastStart = prevStart
			s.deleteLocked(ctx, st)
		}
		st.mu.Unlock()
		publish(s.bus, eventbus.ProviderFailed, eventbus.FailureEvent{Channel: key, Op: "announce", Kind: ch.Kind(), Error: err.Error()})
		return false, fmt.Errorf("announce: %w", err)
	}

	st.mu.Lock()
	if ref != "" && st.active == sess && sess.status == StatusActive {
		sess.AuxRefs = append(sess.AuxRefs, ref)
		s.persistLocked(ctx, st, sess)
	}
	st.mu.Unlock()

	s.log.Info("session started",
		logx.String("channel", key),
		logx.String("session", sess.ID),
		logx.String("kind", ch.Kind()),
		logx.Duration("duration", rules.Duration),
	)
	publish(s.bus, eventbus.SessionStarted, eventbus.SessionEvent{Channel: key, Session: sess.ID, Kind: ch.Kind(), Duration: rules.Duration})
	return true, nil
}

// armLocked schedules the timeout and, when still ahead, the hint.
func (s *Scheduler) armLocked(st *channelState, sess *Session, now time.Time) {
	sess.timeout = Schedule(s.clock, sess.EndsAt.Sub(now), func() { s.onTimeout(st, sess) })
	if !sess.HintAt.IsZero() && sess.HintAt.After(now) {
		sess.hint = Schedule(s.clock, sess.HintAt.Sub(now), func() { s.onHint(st, sess) })
	}
}

func (s *Scheduler) onTimeout(st *channelState, sess *Session) {
	st.mu.Lock()
	if st.active != sess || sess.status != StatusActive {
		st.mu.Unlock()
		return
	}
	out := s.resolveLocked(s.ctx, st, sess, StatusTimedOut, Player{}, s.clock.Now())
	st.mu.Unlock()
	s.finishTimeout(st, out)
}

func (s *Scheduler) onHint(st *channelState, sess *Session) {
	st.mu.Lock()
	if st.active != sess || sess.status != StatusActive {
		st.mu.Unlock()
		return
	}
	note := HintNote{
		SessionID: sess.ID,
		Kind:      sess.Challenge.Kind(),
		Text:      sess.Challenge.Hint(),
		AuxRefs:   append([]string(nil), sess.AuxRefs...),
	}
	st.mu.Unlock()
	if note.Text != "" {
		s.emitHint(st.cfg.Key, note)
	}
}

// resolveLocked moves sess to a terminal status, cancels its timers, clears
// the channel and deletes the persisted record.
func (s *Scheduler) resolveLocked(ctx context.Context, st *channelState, sess *Session, status Status, winner Player, now time.Time) Outcome {
	sess.status = status
	sess.stopTimers()
	st.active = nil
	s.deleteLocked(ctx, st)
	return Outcome{
		SessionID: sess.ID,
		Kind:      sess.Challenge.Kind(),
		Status:    status,
		Answer:    sess.Challenge.Reveal(),
		Winner:    winner,
		Points:    sess.Reward,
		AuxRefs:   append([]string(nil), sess.AuxRefs...),
		Duration:  now.Sub(sess.StartedAt),
	}
}

func (s *Scheduler) finishWin(ctx context.Context, st *channelState, out Outcome) {
	key := st.cfg.Key
	if s.scores != nil {
		total, err := s.scores.IncrementScore(ctx, s.opts.Scope, out.Winner.ID, out.Points)
		if err != nil {
			s.log.Error("score increment failed", logx.String("channel", key), logx.Int64("user_id", out.Winner.ID), logx.Err(err))
			s.reportWriteFailure(key, "increment_score", err)
		} else {
			out.Total = total
		}
	}

	s.log.Info("session won",
		logx.String("channel", key),
		logx.String("session", out.SessionID),
		logx.Int64("user_id", out.Winner.ID),
		logx.Duration("after", out.Duration),
	)
	publish(s.bus, eventbus.SessionWon, eventbus.SessionEvent{
		Channel: key, Session: out.SessionID, Kind: out.Kind, UserID: out.Winner.ID, Points: out.Points, Duration: out.Duration,
	})
	s.emitReveal(key, out)

	if s.ledger != nil && out.Total > 0 {
		if _, err := s.ledger.CheckAndGrant(ctx, key, out.Winner.ID, out.Total); err != nil {
			s.log.Warn("reward check failed", logx.String("channel", key), logx.Int64("user_id", out.Winner.ID), logx.Err(err))
		}
	}
}

func (s *Scheduler) finishTimeout(st *channelState, out Outcome) {
	key := st.cfg.Key
	s.log.Info("session timed out", logx.String("channel", key), logx.String("session", out.SessionID), logx.String("kind", out.Kind))
	publish(s.bus, eventbus.SessionTimedOut, eventbus.SessionEvent{Channel: key, Session: out.SessionID, Kind: out.Kind, Duration: out.Duration})
	s.emitReveal(key, out)
}

func (s *Scheduler) emitReveal(channel string, out Outcome) {
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.SinkTimeout)
	defer cancel()
	if err := s.out.Reveal(ctx, channel, out); err != nil {
		s.log.Warn("reveal failed", logx.String("channel", channel), logx.String("session", out.SessionID), logx.Err(err))
	}
}

func (s *Scheduler) emitHint(channel string, note HintNote) {
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.SinkTimeout)
	defer cancel()
	if err := s.out.Hint(ctx, channel, note); err != nil {
		s.log.Warn("hint failed", logx.String("channel", channel), logx.String("session", note.SessionID), logx.Err(err))
	}
}

func (s *Scheduler) key(channel string) storage.Key {
	return storage.Key{Scope: s.opts.Scope, Channel: channel}
}

func (s *Scheduler) persistLocked(ctx context.Context, st *channelState, sess *Session) {
	rec, err := sess.record()
	if err == nil {
		err = s.store.SaveSession(ctx, s.key(st.cfg.Key), rec)
	}
	if err != nil {
		s.reportWriteFailure(st.cfg.Key, "save_session", err)
	}
}

func (s *Scheduler) deleteLocked(ctx context.Context, st *channelState) {
	if err := s.store.DeleteSession(ctx, s.key(st.cfg.Key)); err != nil {
		s.reportWriteFailure(st.cfg.Key, "delete_session", err)
	}
}

// reportWriteFailure logs and publishes a persistence failure; the in-memory
// transition that caused it proceeds regardless.
func (s *Scheduler) reportWriteFailure(channel, op string, err error) {
	s.log.Error("state write failed", logx.String("channel", channel), logx.String("op", op), logx.Err(err))
	publish(s.bus, eventbus.StoreWriteFailed, eventbus.FailureEvent{Channel: channel, Op: op, Error: err.Error()})
}
