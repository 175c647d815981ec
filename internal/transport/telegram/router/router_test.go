package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	kit "gamebot/internal/transport"
	logx "gamebot/pkg/logx"
)

type fakeAdapter struct {
	mu       sync.Mutex
	sent     []string
	answered []string
	menu     chan []kit.BotCommand
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }
func (f *fakeAdapter) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return kit.MessageRef{MessageID: len(f.sent)}, nil
}
func (f *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}
func (f *fakeAdapter) AnswerCallback(_ context.Context, id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, id+"="+text)
	return nil
}
func (f *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	if f.menu != nil {
		f.menu <- cmds
	}
	return nil
}

func (f *fakeAdapter) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func message(from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: -100, FromID: from, FromName: "Ann", Text: text}}
}

func startRouter(t *testing.T, r *Router) chan kit.Update {
	t.Helper()
	updates := make(chan kit.Update, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx, updates)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// Run publishes its queues before reading updates; wait for them.
	deadline := time.Now().Add(time.Second)
	for {
		r.runMu.Lock()
		ready := r.queues != nil
		r.runMu.Unlock()
		if ready || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	return updates
}

func TestRouterDispatch(t *testing.T) {
	ad := &fakeAdapter{menu: make(chan []kit.BotCommand, 1)}
	r := New(logx.Nop(), ad, []int64{1}, WithWorkers(2))

	got := make(chan *Request, 8)
	handle := func(ctx context.Context, req *Request) error { got <- req; return nil }
	r.SetRegistry(context.Background(), []Command{
		{Name: "score", Description: "your points", Handle: handle},
		{Name: "game", Aliases: []string{"g"}, Access: AccessOwnerOnly, Handle: handle},
	}, []CallbackRoute{
		{Prefix: "g", Action: "pick", Handle: handle},
	}, handle)

	select {
	case menu := <-ad.menu:
		if len(menu) != 3 {
			t.Fatalf("menu = %+v", menu)
		}
	case <-time.After(time.Second):
		t.Fatal("menu not published")
	}

	updates := startRouter(t, r)
	recv := func() *Request {
		t.Helper()
		select {
		case req := <-got:
			return req
		case <-time.After(2 * time.Second):
			t.Fatal("handler not called")
			return nil
		}
	}

	updates <- message(2, "/score@GameBot extra")
	if req := recv(); req.Command != "score" || len(req.Args) != 1 || req.FromName != "Ann" {
		t.Fatalf("score req = %+v", req)
	}

	updates <- message(1, "/g status")
	if req := recv(); req.Command != "game" || !req.IsOwner {
		t.Fatalf("alias req = %+v", req)
	}

	updates <- message(2, "  fifty seven ")
	if req := recv(); req.Command != "text" || req.Text != "fifty seven" {
		t.Fatalf("text req = %+v", req)
	}

	updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "cb1", ChatID: -100, FromID: 3, Data: "g:pick:abc"}}
	if req := recv(); req.Payload != "abc" || req.CallbackID != "cb1" {
		t.Fatalf("callback req = %+v", req)
	}
}

func TestRouterOwnerOnly(t *testing.T) {
	ad := &fakeAdapter{}
	r := New(logx.Nop(), ad, []int64{1})
	called := false
	r.SetRegistry(context.Background(), []Command{
		{Name: "game", Access: AccessOwnerOnly, Handle: func(context.Context, *Request) error { called = true; return nil }},
	}, nil, nil)

	r.Route(context.Background(), message(2, "/game"))
	if called {
		t.Fatal("owner-only command ran for non-owner")
	}
	if sent := ad.sentTexts(); len(sent) != 1 || sent[0] != "unauthorized" {
		t.Fatalf("sent = %v", sent)
	}

	// Unknown commands are ignored silently.
	r.Route(context.Background(), message(2, "/nope"))
	if sent := ad.sentTexts(); len(sent) != 1 {
		t.Fatalf("unknown command replied: %v", sent)
	}
}

func TestHelpHidesOwnerCommands(t *testing.T) {
	r := New(logx.Nop(), &fakeAdapter{}, nil)
	noop := func(context.Context, *Request) error { return nil }
	r.SetRegistry(context.Background(), []Command{
		{Name: "score", Description: "your points", Handle: noop},
		{Name: "game", Description: "start now", Access: AccessOwnerOnly, Handle: noop},
	}, nil, nil)

	public := r.helpText(false)
	if !strings.Contains(public, "/score") || strings.Contains(public, "/game") {
		t.Fatalf("public help = %q", public)
	}
	if owner := r.helpText(true); !strings.Contains(owner, "/game") {
		t.Fatalf("owner help = %q", owner)
	}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		name string
		args int
		ok   bool
	}{
		{"/score", "score", 0, true},
		{"/Game@Bot status now", "game", 2, true},
		{"/", "", 0, false},
		{"57", "", 0, false},
	}
	for _, tt := range tests {
		name, args, ok := parseCommand(tt.in)
		if name != tt.name || len(args) != tt.args || ok != tt.ok {
			t.Fatalf("parseCommand(%q) = %q %v %v", tt.in, name, args, ok)
		}
	}
}

func TestSanitizeTelegramCommand(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]string{
		"Score":    "score",
		"top-list": "top_list",
		"9lives":   "cmd_9lives",
		"  ":       "",
		"a__b//c":  "a_b_c",
	} {
		if got := sanitizeTelegramCommand(in); got != want {
			t.Fatalf("sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}
