package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"gamebot/internal/announce"
	"gamebot/internal/config"
	"gamebot/internal/content"
	"gamebot/internal/game"
	"gamebot/internal/storage"
	kit "gamebot/internal/transport"
	"gamebot/internal/transport/telegram/router"
	logx "gamebot/pkg/logx"
)

type fakeAdapter struct {
	mu      sync.Mutex
	sent    []string
	answers []string
	nextID  int
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, text)
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: f.nextID}, nil
}

func (f *fakeAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeAdapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}

func (f *fakeAdapter) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1]
}

const testChannel = "-1001:0"

func newTestApp(t *testing.T) (*App, *fakeAdapter) {
	t.Helper()
	ctx := context.Background()
	store, err := storage.Open(ctx, storage.Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	tx := &fakeAdapter{}
	sink, err := announce.New(tx, announce.Config{RatePerSec: 1000, Burst: 100}, logx.Nop())
	if err != nil {
		t.Fatalf("announce.New: %v", err)
	}
	cfgm := config.NewConfigManager("unused.yaml")
	cfgm.Commit(&config.Config{Games: config.GamesConfig{Scope: "test"}})

	a := &App{
		cfgm:     cfgm,
		log:      logx.Nop(),
		store:    store,
		sink:     sink,
		provider: content.NewStatic(content.Catalog{Words: []string{"gopher"}}, 1),
	}
	a.games, err = game.New(game.Options{
		Scope: "test",
		Kinds: map[string]game.KindRules{game.KindWord: {Duration: time.Minute, Reward: 100}},
	}, []game.ChannelConfig{{Key: testChannel, Interval: time.Hour, Kinds: []string{game.KindWord}}}, game.Deps{
		Store:    store,
		Scores:   store,
		Provider: a.provider,
		Out:      sink,
	})
	if err != nil {
		t.Fatalf("game.New: %v", err)
	}
	t.Cleanup(func() { _ = a.games.Shutdown(context.Background()) })
	return a, tx
}

func newReq(tx kit.Adapter, from int64, text string, args ...string) *router.Request {
	return &router.Request{
		Chat:     kit.ChatTarget{ChatID: -1001},
		FromID:   from,
		FromName: "ann",
		Text:     text,
		Args:     args,
		At:       time.Now(),
		Adapter:  tx,
		Logger:   logx.Nop(),
		IsOwner:  true,
	}
}

func TestGameRoundThroughHandlers(t *testing.T) {
	a, tx := newTestApp(t)
	ctx := context.Background()

	if err := a.cmdGame(ctx, newReq(tx, 1, "/game")); err != nil {
		t.Fatalf("cmdGame: %v", err)
	}
	if _, ok := a.games.Active(testChannel); !ok {
		t.Fatal("expected an active session after /game")
	}

	if err := a.cmdGame(ctx, newReq(tx, 1, "/game")); err != nil {
		t.Fatalf("second cmdGame: %v", err)
	}
	if got := tx.last(); !strings.Contains(got, "already running") {
		t.Fatalf("reply = %q", got)
	}

	if err := a.cmdGame(ctx, newReq(tx, 1, "/game status", "status")); err != nil {
		t.Fatalf("status: %v", err)
	}
	if got := tx.last(); !strings.Contains(got, "Active round") {
		t.Fatalf("status reply = %q", got)
	}

	if err := a.onText(ctx, newReq(tx, 7, "Gopher")); err != nil {
		t.Fatalf("onText: %v", err)
	}
	if _, ok := a.games.Active(testChannel); ok {
		t.Fatal("session should be resolved after the winning guess")
	}

	if err := a.cmdScore(ctx, newReq(tx, 7, "/score")); err != nil {
		t.Fatalf("cmdScore: %v", err)
	}
	if got := tx.last(); !strings.Contains(got, "<b>100</b>") {
		t.Fatalf("score reply = %q", got)
	}
}

func TestTextFromUnknownChannelIgnored(t *testing.T) {
	a, tx := newTestApp(t)
	req := newReq(tx, 7, "hello")
	req.Chat = kit.ChatTarget{ChatID: 555}
	if err := a.onText(context.Background(), req); err != nil {
		t.Fatalf("onText: %v", err)
	}
}

func TestPickWithoutSessionAnswersCallback(t *testing.T) {
	a, tx := newTestApp(t)
	req := newReq(tx, 7, "")
	req.CallbackID = "cb1"
	req.Update = kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "cb1", Data: "g:pick:abc"}}
	if err := a.onPick(context.Background(), req); err != nil {
		t.Fatalf("onPick: %v", err)
	}
	if len(tx.answers) != 1 || tx.answers[0] != "Not this one." {
		t.Fatalf("answers = %v", tx.answers)
	}
}

func TestMapLogConfigGroupLog(t *testing.T) {
	cfg := &config.Config{}
	cfg.Logging.Telegram.Enabled = true
	cfg.Telegram.GroupLog = "-100200:9"
	lc := mapLogConfig(cfg)
	if !lc.Telegram.Enabled || lc.Telegram.ChatID != -100200 {
		t.Fatalf("telegram = %+v", lc.Telegram)
	}

	cfg.Telegram.GroupLog = ""
	if lc := mapLogConfig(cfg); lc.Telegram.Enabled {
		t.Fatal("telegram logging must be disabled without a target chat")
	}
}

const checkYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [42]
storage:
  driver: memory
games:
  timezone: UTC
  tick: 15s
  thresholds:
    - points: 500
      grant_id: silver
  kinds:
    word: { duration: 2m, reward: 50 }
  content:
    words: [gopher]
  channels:
    - chat: -1001
      interval: 20m
      failsafe: 2h
      kinds: [word]
      hours: "22:00-02:00"
`

func TestCheckAndMapGameConfig(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(checkYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Check(p)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	gs, err := mapGameConfig(cfg)
	if err != nil {
		t.Fatalf("mapGameConfig: %v", err)
	}
	if gs.tick != 15*time.Second {
		t.Fatalf("tick = %v", gs.tick)
	}
	if len(gs.channels) != 1 || gs.channels[0].Key != testChannel || gs.channels[0].Failsafe != 2*time.Hour {
		t.Fatalf("channels = %+v", gs.channels)
	}
	if gs.opts.Kinds[game.KindWord].Duration != 2*time.Minute || gs.opts.Location.String() != "UTC" {
		t.Fatalf("opts = %+v", gs.opts)
	}
	if len(gs.thresholds) != 1 || gs.thresholds[0].GrantID != "silver" {
		t.Fatalf("thresholds = %+v", gs.thresholds)
	}
}

func TestCheckRejectsBadConfig(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	body := strings.Replace(checkYAML, "interval: 20m", "interval: soon", 1)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Check(p); err == nil {
		t.Fatal("expected an error for a bad interval")
	}
}
