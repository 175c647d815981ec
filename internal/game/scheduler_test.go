package game

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gamebot/internal/eventbus"
	"gamebot/internal/storage"
)

func TestNumberSessionWin(t *testing.T) {
	h := newHarness(t, ChannelConfig{}, nil)
	ctx := context.Background()

	if err := h.s.ForceStart(ctx, testChannel); err != nil {
		t.Fatalf("ForceStart: %v", err)
	}
	if !h.persisted(t) {
		t.Fatal("session not persisted after start")
	}
	snap, ok := h.s.Active(testChannel)
	if !ok || snap.Kind != KindNumber || len(snap.AuxRefs) != 1 {
		t.Fatalf("Active = %+v, %v", snap, ok)
	}
	if !snap.HintAt.Equal(t0.Add(150 * time.Second)) {
		t.Fatalf("HintAt = %v, want ends-30s", snap.HintAt)
	}

	h.clock.Advance(5 * time.Second)
	if v := h.guess(t, 7, "56"); v != Higher {
		t.Fatalf("guess 56 = %v, want higher", v)
	}
	if _, ok := h.s.Active(testChannel); !ok {
		t.Fatal("session resolved by a directional miss")
	}
	if _, _, hints := h.sink.counts(); hints != 1 || h.sink.hints[0].Verdict != Higher {
		t.Fatalf("expected one higher hint, got %+v", h.sink.hints)
	}

	h.clock.Advance(5 * time.Second)
	if v := h.guess(t, 7, " 57 "); v != Won {
		t.Fatalf("guess 57 = %v, want won", v)
	}
	if _, ok := h.s.Active(testChannel); ok {
		t.Fatal("session still active after win")
	}
	if h.persisted(t) {
		t.Fatal("record not deleted after win")
	}
	out := h.sink.lastReveal()
	if out.Status != StatusWon || out.Answer != "57" || out.Winner.ID != 7 || out.Total != 100 {
		t.Fatalf("reveal = %+v", out)
	}
	if n, _ := h.store.Score(ctx, "main", 7); n != 100 {
		t.Fatalf("score = %d, want 100", n)
	}
	if len(h.sink.rewarded) != 1 || h.sink.rewarded[0] != "bronze" {
		t.Fatalf("rewarded = %v, want [bronze]", h.sink.rewarded)
	}

	// Late timers are no-ops.
	h.clock.Advance(time.Hour)
	if _, reveals, hints := h.sink.counts(); reveals != 1 || hints != 1 {
		t.Fatalf("late timers fired: reveals=%d hints=%d", reveals, hints)
	}
}

func TestNumberSessionTimeout(t *testing.T) {
	h := newHarness(t, ChannelConfig{}, nil)
	if err := h.s.ForceStart(context.Background(), testChannel); err != nil {
		t.Fatalf("ForceStart: %v", err)
	}

	h.clock.Advance(149 * time.Second)
	if _, _, hints := h.sink.counts(); hints != 0 {
		t.Fatalf("hint fired early")
	}
	h.clock.Advance(time.Second)
	if _, _, hints := h.sink.counts(); hints != 1 || h.sink.hints[0].Text == "" {
		t.Fatalf("timed hint missing: %+v", h.sink.hints)
	}

	h.clock.Advance(30 * time.Second)
	out := h.sink.lastReveal()
	if out.Status != StatusTimedOut || out.Answer != "57" {
		t.Fatalf("reveal = %+v", out)
	}
	if h.persisted(t) {
		t.Fatal("record not deleted after timeout")
	}
	if v := h.guess(t, 7, "57"); v != NoMatch {
		t.Fatalf("guess after timeout = %v", v)
	}
}

func TestWinBeforeTimeout(t *testing.T) {
	h := newHarness(t, ChannelConfig{}, nil)
	if err := h.s.ForceStart(context.Background(), testChannel); err != nil {
		t.Fatalf("ForceStart: %v", err)
	}
	h.clock.Advance(3*time.Minute - time.Millisecond)
	if v := h.guess(t, 9, "57"); v != Won {
		t.Fatalf("guess = %v, want won", v)
	}
	h.clock.Advance(time.Second)
	_, reveals, _ := h.sink.counts()
	if reveals != 1 || h.sink.lastReveal().Status != StatusWon {
		t.Fatalf("reveals=%d last=%+v", reveals, h.sink.lastReveal())
	}
}

func TestShortSessionHasNoHint(t *testing.T) {
	h := newHarness(t, ChannelConfig{}, nil)
	h.s.opts.Kinds[KindNumber] = KindRules{Duration: 45 * time.Second, Reward: 10}
	if err := h.s.ForceStart(context.Background(), testChannel); err != nil {
		t.Fatalf("ForceStart: %v", err)
	}
	snap, _ := h.s.Active(testChannel)
	if !snap.HintAt.IsZero() {
		t.Fatalf("HintAt = %v, want none", snap.HintAt)
	}
	h.clock.Advance(time.Minute)
	if _, reveals, hints := h.sink.counts(); hints != 0 || reveals != 1 {
		t.Fatalf("hints=%d reveals=%d", hints, reveals)
	}
}

type blockingProvider struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *blockingProvider) Fetch(ctx context.Context, kind string) (AnswerSpec, error) {
	p.once.Do(func() { close(p.entered) })
	select {
	case <-p.release:
	case <-ctx.Done():
		return AnswerSpec{}, ctx.Err()
	}
	return numberSpec(), nil
}

func TestSingleFlightHeldAcrossLookup(t *testing.T) {
	clock := newFakeClock(t0)
	store := storage.NewMemory()
	sink := &recordingSink{}
	prov := &blockingProvider{entered: make(chan struct{}), release: make(chan struct{})}
	s, err := New(Options{Scope: "main"}, []ChannelConfig{{Key: testChannel, Kinds: []string{KindNumber}}}, Deps{
		Store: store, Scores: store, Provider: prov, Out: sink, Clock: clock,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	first := make(chan error, 1)
	go func() { first <- s.ForceStart(ctx, testChannel) }()
	<-prov.entered

	for i := 0; i < 5; i++ {
		if err := s.ForceStart(ctx, testChannel); !errors.Is(err, ErrStartInFlight) {
			t.Fatalf("concurrent ForceStart = %v, want ErrStartInFlight", err)
		}
	}
	if started, err := s.Tick(ctx, testChannel); started || err != nil {
		t.Fatalf("concurrent Tick = %v, %v", started, err)
	}

	close(prov.release)
	if err := <-first; err != nil {
		t.Fatalf("first ForceStart: %v", err)
	}
	if err := s.ForceStart(ctx, testChannel); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("ForceStart with active session = %v", err)
	}
	if announced, _, _ := sink.counts(); announced != 1 {
		t.Fatalf("announced %d sessions, want 1", announced)
	}
}

func TestSingleFlightUnderContention(t *testing.T) {
	h := newHarness(t, ChannelConfig{}, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	started := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.s.ForceStart(ctx, testChannel); err == nil {
				mu.Lock()
				started++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if started != 1 {
		t.Fatalf("%d sessions started, want 1", started)
	}
}

func TestTickGates(t *testing.T) {
	h := newHarness(t, ChannelConfig{
		Interval:       10 * time.Minute,
		ActivityWindow: 5 * time.Minute,
		MinEvents:      3,
		Failsafe:       time.Hour,
	}, nil)
	ctx := context.Background()

	if started, _ := h.s.Tick(ctx, testChannel); started {
		t.Fatal("quiet channel started without failsafe")
	}
	for i := 0; i < 3; i++ {
		h.guess(t, int64(i+1), "hello")
	}
	if started, err := h.s.Tick(ctx, testChannel); !started || err != nil {
		t.Fatalf("active channel Tick = %v, %v", started, err)
	}
	h.guess(t, 1, "57")

	for i := 0; i < 3; i++ {
		h.guess(t, int64(i+1), "again")
	}
	if started, _ := h.s.Tick(ctx, testChannel); started {
		t.Fatal("interval gate ignored")
	}

	h.clock.Advance(20 * time.Minute)
	if started, _ := h.s.Tick(ctx, testChannel); started {
		t.Fatal("stale activity counted")
	}
	h.clock.Advance(40 * time.Minute)
	if started, _ := h.s.Tick(ctx, testChannel); !started {
		t.Fatal("failsafe did not start a session")
	}
}

func TestTickHoursGate(t *testing.T) {
	w, err := ParseTimeWindow("08:00-11:00")
	if err != nil {
		t.Fatalf("ParseTimeWindow: %v", err)
	}
	h := newHarness(t, ChannelConfig{Hours: w}, nil)
	ctx := context.Background()
	if started, _ := h.s.Tick(ctx, testChannel); started {
		t.Fatal("started outside allowed hours")
	}
	if err := h.s.ForceStart(ctx, testChannel); err != nil {
		t.Fatalf("ForceStart ignores hours: %v", err)
	}
}

func TestTickResolvesOverdueSession(t *testing.T) {
	h := newHarness(t, ChannelConfig{}, nil)
	ctx := context.Background()
	if err := h.s.ForceStart(ctx, testChannel); err != nil {
		t.Fatalf("ForceStart: %v", err)
	}
	// Simulate a missed timer: stop it and move past the deadline.
	st := h.s.channels[testChannel]
	st.mu.Lock()
	st.active.stopTimers()
	st.mu.Unlock()
	h.clock.Advance(4 * time.Minute)

	started, err := h.s.Tick(ctx, testChannel)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if !started {
		t.Fatal("Tick did not start after resolving overdue session")
	}
	if out := h.sink.reveals[0]; out.Status != StatusTimedOut {
		t.Fatalf("first reveal = %+v, want timed out", out)
	}
}

func TestProviderFailover(t *testing.T) {
	bus := eventbus.New()
	failures, unsub := bus.Subscribe(16, eventbus.ProviderFailed)
	defer unsub()

	prov := &scriptedProvider{
		specs: map[string]AnswerSpec{KindNumber: numberSpec()},
		fail:  map[string]bool{KindWord: true, KindFlag: true},
	}
	h := newHarness(t, ChannelConfig{Kinds: []string{KindWord, KindFlag, KindNumber}}, prov)
	h.s.bus = bus
	if err := h.s.ForceStart(context.Background(), testChannel); err != nil {
		t.Fatalf("ForceStart: %v", err)
	}
	snap, _ := h.s.Active(testChannel)
	if snap.Kind != KindNumber {
		t.Fatalf("started kind %q, want number", snap.Kind)
	}
	seen := map[string]int{}
	for _, k := range prov.calls {
		seen[k]++
	}
	for k, n := range seen {
		if n != 1 {
			t.Fatalf("kind %q fetched %d times", k, n)
		}
	}
	if len(failures) != len(prov.calls)-1 {
		t.Fatalf("failure events = %d, calls = %v", len(failures), prov.calls)
	}
}

func TestAllProvidersFailSkipsTick(t *testing.T) {
	prov := &scriptedProvider{fail: map[string]bool{KindWord: true, KindNumber: true}}
	h := newHarness(t, ChannelConfig{Kinds: []string{KindWord, KindNumber}}, prov)
	ctx := context.Background()
	if started, err := h.s.Tick(ctx, testChannel); started || err != nil {
		t.Fatalf("Tick = %v, %v; want skipped", started, err)
	}
	if err := h.s.ForceStart(ctx, testChannel); !errors.Is(err, ErrNoContent) {
		t.Fatalf("ForceStart = %v, want ErrNoContent", err)
	}
	if len(prov.calls) != 4 {
		t.Fatalf("provider calls = %v, want each kind once per attempt", prov.calls)
	}
}

func TestAnnounceFailureDropsSession(t *testing.T) {
	h := newHarness(t, ChannelConfig{}, nil)
	h.sink.announce = errors.New("chat unavailable")
	if err := h.s.ForceStart(context.Background(), testChannel); err == nil {
		t.Fatal("expected announce error")
	}
	if _, ok := h.s.Active(testChannel); ok {
		t.Fatal("session kept after failed announce")
	}
	if h.persisted(t) {
		t.Fatal("record kept after failed announce")
	}
}

func TestFindResolvedByInteraction(t *testing.T) {
	spec := AnswerSpec{
		Display: "Find the frog",
		Token:   "tok-frog",
		Choices: []Choice{{Label: "🐸", Ref: "tok-frog"}, {Label: "🐢", Ref: "tok-a"}, {Label: "🐍", Ref: "tok-b"}},
	}
	prov := &scriptedProvider{specs: map[string]AnswerSpec{KindFind: spec}}
	h := newHarness(t, ChannelConfig{Kinds: []string{KindFind}}, prov)
	ctx := context.Background()
	if err := h.s.ForceStart(ctx, testChannel); err != nil {
		t.Fatalf("ForceStart: %v", err)
	}
	if got := h.sink.announced[0].Choices; len(got) != 3 {
		t.Fatalf("prompt choices = %v", got)
	}
	if v := h.guess(t, 1, "frog"); v != NoMatch {
		t.Fatalf("text guess on find = %v", v)
	}
	if won, err := h.s.OnAuxInteraction(ctx, testChannel, "tok-a", Player{ID: 1}); won || err != nil {
		t.Fatalf("wrong pick = %v, %v", won, err)
	}
	if won, err := h.s.OnAuxInteraction(ctx, testChannel, "tok-frog", Player{ID: 2}); !won || err != nil {
		t.Fatalf("right pick = %v, %v", won, err)
	}
	if won, _ := h.s.OnAuxInteraction(ctx, testChannel, "tok-frog", Player{ID: 3}); won {
		t.Fatal("second pick won a resolved session")
	}
	if out := h.sink.lastReveal(); out.Winner.ID != 2 || out.Answer != "🐸" {
		t.Fatalf("reveal = %+v", out)
	}
}

func TestUnknownChannel(t *testing.T) {
	h := newHarness(t, ChannelConfig{}, nil)
	if _, err := h.s.Tick(context.Background(), "nope"); !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("Tick = %v, want ErrUnknownChannel", err)
	}
}

func TestNewRejectsUnknownKind(t *testing.T) {
	store := storage.NewMemory()
	_, err := New(Options{}, []ChannelConfig{{Key: "c", Kinds: []string{"trivia"}}}, Deps{
		Store: store, Provider: &scriptedProvider{}, Out: &recordingSink{},
	})
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("New = %v, want ErrUnknownKind", err)
	}
}

var errDiskFull = errors.New("disk full")

// brokenStore fails every session and rotation write.
type brokenStore struct{ storage.Store }

func (brokenStore) SaveSession(context.Context, storage.Key, storage.SessionRecord) error {
	return errDiskFull
}

func (brokenStore) DeleteSession(context.Context, storage.Key) error { return errDiskFull }

func (brokenStore) SaveRotation(context.Context, storage.Key, storage.RotationRecord) error {
	return errDiskFull
}

func TestWriteFailuresDoNotBlockTransitions(t *testing.T) {
	bus := eventbus.New()
	failures, unsub := bus.Subscribe(16, eventbus.StoreWriteFailed)
	defer unsub()

	h := newHarnessWith(t, ChannelConfig{}, nil, brokenStore{storage.NewMemory()}, newFakeClock(t0))
	h.s.bus = bus
	ctx := context.Background()

	if err := h.s.ForceStart(ctx, testChannel); err != nil {
		t.Fatalf("ForceStart: %v", err)
	}
	if _, ok := h.s.Active(testChannel); !ok {
		t.Fatal("session not active after failed persist")
	}
	if v := h.guess(t, 7, "57"); v != Won {
		t.Fatalf("guess 57 = %v, want won", v)
	}
	if _, ok := h.s.Active(testChannel); ok {
		t.Fatal("session still active after win")
	}
	if n, _ := h.store.Score(ctx, "main", 7); n != 100 {
		t.Fatalf("score = %d, want 100", n)
	}

	ops := map[string]bool{}
	for len(failures) > 0 {
		ev := <-failures
		ops[ev.Data.(eventbus.FailureEvent).Op] = true
	}
	for _, op := range []string{"save_rotation", "save_session", "delete_session"} {
		if !ops[op] {
			t.Fatalf("no write_failed event for %s; got %v", op, ops)
		}
	}
}

func TestRefillKeepsSkippedKindsQueued(t *testing.T) {
	prov := &scriptedProvider{specs: map[string]AnswerSpec{KindNumber: numberSpec()}}
	store := storage.NewMemory()
	ctx := context.Background()
	key := storage.Key{Scope: "main", Channel: testChannel}
	if err := store.SaveRotation(ctx, key, storage.RotationRecord{DateKey: DateKey(t0, time.UTC), Queue: []string{KindWord}}); err != nil {
		t.Fatalf("SaveRotation: %v", err)
	}
	h := newHarnessWith(t, ChannelConfig{Kinds: []string{KindNumber, KindWord}}, prov, store, newFakeClock(t0))

	// Word fails from the old queue, the refill may hand it out again first.
	h.s.rotation.shuffle = func(n int, swap func(i, j int)) { swap(0, n-1) }
	if err := h.s.ForceStart(ctx, testChannel); err != nil {
		t.Fatalf("ForceStart: %v", err)
	}
	if snap, _ := h.s.Active(testChannel); snap.Kind != KindNumber {
		t.Fatalf("started kind %q, want number", snap.Kind)
	}
	rec, ok, err := store.LoadRotation(ctx, key)
	if err != nil || !ok {
		t.Fatalf("LoadRotation = %v, %v", ok, err)
	}
	if len(rec.Queue) != 1 || rec.Queue[0] != KindWord {
		t.Fatalf("queue = %v, want [word] kept for today", rec.Queue)
	}
}

// stallingSink blocks announces until the context gives up.
type stallingSink struct{ *recordingSink }

func (stallingSink) Announce(ctx context.Context, _ string, _ Prompt) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestAnnounceBoundedBySinkTimeout(t *testing.T) {
	store := storage.NewMemory()
	s, err := New(Options{Scope: "main", SinkTimeout: 20 * time.Millisecond}, []ChannelConfig{{Key: testChannel, Kinds: []string{KindNumber}}}, Deps{
		Store:    store,
		Scores:   store,
		Provider: &scriptedProvider{specs: map[string]AnswerSpec{KindNumber: numberSpec()}},
		Out:      stallingSink{&recordingSink{}},
		Clock:    newFakeClock(t0),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	done := make(chan error, 1)
	go func() { done <- s.ForceStart(context.Background(), testChannel) }()
	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("ForceStart = %v, want deadline exceeded", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("announce not bounded by the sink timeout")
	}
	if _, ok := s.Active(testChannel); ok {
		t.Fatal("session kept after timed out announce")
	}
	if err := s.ForceStart(context.Background(), testChannel); errors.Is(err, ErrStartInFlight) {
		t.Fatal("start marker still held")
	}
}

func TestTicksNeverOutrunInterval(t *testing.T) {
	h := newHarness(t, ChannelConfig{Interval: 30 * time.Minute}, nil)
	ctx := context.Background()

	stop := make(chan struct{})
	var guesser sync.WaitGroup
	guesser.Add(1)
	go func() {
		defer guesser.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_, _ = h.s.OnEvent(ctx, Event{Channel: testChannel, Player: Player{ID: 1}, Text: "57"})
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = h.s.Tick(ctx, testChannel)
			}
		}()
	}
	wg.Wait()
	close(stop)
	guesser.Wait()

	if announced, _, _ := h.sink.counts(); announced != 1 {
		t.Fatalf("%d sessions started within one interval, want 1", announced)
	}
}
