// Package router dispatches chat updates to command, callback and free-text
// handlers on a small sharded worker pool.
package router

import (
	"context"
	"hash/fnv"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "gamebot/internal/runtime/supervisor"
	kit "gamebot/internal/transport"
	logx "gamebot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration
	Handle      HandlerFunc
}

// CallbackRoute handles inline button data "<prefix>:<action>:<payload>".
type CallbackRoute struct {
	Prefix  string
	Action  string
	Access  Access
	Timeout time.Duration
	Handle  HandlerFunc
}

type Request struct {
	Update   kit.Update
	Chat     kit.ChatTarget
	FromID   int64
	FromName string
	Command  string
	Args     []string
	Text     string
	// Payload and CallbackID are set for callback updates.
	Payload    string
	CallbackID string
	At         time.Time
	ReqID      string

	Adapter kit.Adapter
	Logger  logx.Logger
	IsOwner bool
}

// Reply sends text (HTML) to the request's chat.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

type Router struct {
	mu        sync.RWMutex
	cmds      map[string]Command
	list      []Command
	callbacks map[string]CallbackRoute // "<prefix>:<action>"
	text      HandlerFunc
	owners    []int64

	log     logx.Logger
	adapter kit.Adapter
	workers int
	queue   int

	runMu  sync.Mutex
	queues []chan func()
	sup    *rtsup.Supervisor
}

type Option func(*Router)

// WithWorkers sets the number of shards. Updates of one chat always land on the same shard.
func WithWorkers(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.workers = n
		}
	}
}

func New(log logx.Logger, adapter kit.Adapter, owners []int64, opts ...Option) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		cmds:      map[string]Command{},
		callbacks: map[string]CallbackRoute{},
		owners:    slices.Clone(owners),
		log:       log.With(logx.String("comp", "telegram.router")),
		adapter:   adapter,
		workers:   4,
		queue:     128,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetOwners updates the owner list used for AccessOwnerOnly checks. Safe during hot reload.
func (r *Router) SetOwners(owners []int64) {
	r.mu.Lock()
	r.owners = slices.Clone(owners)
	r.mu.Unlock()
}

func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.owners, id)
}

// SetRegistry installs commands, callback routes and the free-text handler,
// and publishes the command menu when the adapter supports it.
func (r *Router) SetRegistry(ctx context.Context, cmds []Command, cbs []CallbackRoute, text HandlerFunc) {
	cmds = append(slices.Clone(cmds), Command{
		Name:        "help",
		Description: "list commands",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, r.helpText(req.IsOwner))
		},
	})

	byName := map[string]Command{}
	for _, c := range cmds {
		name := sanitizeTelegramCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		byName[name] = c
		for _, a := range c.Aliases {
			if a = sanitizeTelegramCommand(a); a != "" {
				if _, exists := byName[a]; !exists {
					byName[a] = c
				}
			}
		}
	}
	list := make([]Command, 0, len(cmds))
	for name, c := range byName {
		if name == c.Name {
			list = append(list, c)
		}
	}
	slices.SortFunc(list, func(a, b Command) int { return strings.Compare(a.Name, b.Name) })

	cb := map[string]CallbackRoute{}
	for _, route := range cbs {
		if route.Handle == nil || route.Prefix == "" || route.Action == "" {
			continue
		}
		cb[route.Prefix+":"+route.Action] = route
	}

	r.mu.Lock()
	r.cmds, r.list, r.callbacks, r.text = byName, list, cb, text
	r.mu.Unlock()

	if up, ok := r.adapter.(kit.CommandMenuUpdater); ok {
		menu := buildMenu(list)
		go func() {
			mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(mctx, menu); err != nil {
				r.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

// Run consumes updates until ctx is done or updates is closed.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(r.log), rtsup.WithCancelOnError(false))
	queues := make([]chan func(), r.workers)
	for i := range queues {
		q := make(chan func(), r.queue)
		queues[i] = q
		sup.Go0("router.worker."+strconv.Itoa(i), func(c context.Context) { r.work(c, q) })
	}
	r.runMu.Lock()
	r.queues, r.sup = queues, sup
	r.runMu.Unlock()

	r.log.Info("dispatcher started", logx.Int("workers", r.workers), logx.Int("queue_cap", r.queue))
	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.runMu.Lock()
		r.queues, r.sup = nil, nil
		r.runMu.Unlock()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.Route(ctx, up)
		}
	}
}

func (r *Router) work(ctx context.Context, q <-chan func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q:
			func() {
				defer func() {
					if rec := recover(); rec != nil {
						r.log.Error("panic in router job", logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
					}
				}()
				job()
			}()
		}
	}
}

// enqueue places job on the shard of chat. Returns false when the shard is
// full or the router is not running.
func (r *Router) enqueue(chat int64, job func()) bool {
	r.runMu.Lock()
	queues := r.queues
	r.runMu.Unlock()
	if len(queues) == 0 {
		return false
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(strconv.FormatInt(chat, 10)))
	select {
	case queues[int(h.Sum32()%uint32(len(queues)))] <- job:
		return true
	default:
		return false
	}
}

// Route resolves one update to a handler and queues it.
func (r *Router) Route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			r.routeMessage(ctx, up)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			r.routeCallback(ctx, up)
		}
	}
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	req := r.newRequest(up, kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}, msg.FromID)
	req.FromName = msg.FromName
	req.Text = strings.TrimSpace(msg.Text)
	if msg.Unix > 0 {
		req.At = time.Unix(msg.Unix, 0)
	}

	var (
		h       HandlerFunc
		timeout time.Duration
	)
	if name, args, ok := parseCommand(req.Text); ok {
		r.mu.RLock()
		cmd, found := r.cmds[name]
		r.mu.RUnlock()
		if !found {
			// Unknown commands may be meant for another bot in the group.
			return
		}
		if cmd.Access == AccessOwnerOnly && !req.IsOwner {
			_ = req.Reply(ctx, "unauthorized")
			return
		}
		req.Command, req.Args = cmd.Name, args
		h, timeout = cmd.Handle, cmd.Timeout
	} else {
		r.mu.RLock()
		h = r.text
		r.mu.RUnlock()
		if h == nil || req.Text == "" {
			return
		}
		req.Command = "text"
	}

	final := Chain(h, MWPanicRecover(r.log), MWRequestLog(r.log), MWTimeout(timeout))
	if !r.enqueue(msg.ChatID, func() { _ = final(ctx, req) }) {
		r.log.Warn("update dropped (router busy)", logx.Int64("chat_id", msg.ChatID), logx.String("cmd", req.Command))
	}
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	prefix, rest, _ := strings.Cut(strings.TrimSpace(cb.Data), ":")
	action, payload, _ := strings.Cut(rest, ":")

	r.mu.RLock()
	route, ok := r.callbacks[prefix+":"+action]
	r.mu.RUnlock()
	if !ok {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}

	req := r.newRequest(up, kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}, cb.FromID)
	req.FromName = cb.FromUsername
	req.Command = "cb:" + prefix + ":" + action
	req.Payload = payload
	req.CallbackID = cb.ID
	if route.Access == AccessOwnerOnly && !req.IsOwner {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "forbidden")
		return
	}

	final := Chain(route.Handle, MWPanicRecover(r.log), MWRequestLog(r.log), MWTimeout(route.Timeout))
	if !r.enqueue(cb.ChatID, func() { _ = final(ctx, req) }) {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "busy")
	}
}

func (r *Router) newRequest(up kit.Update, chat kit.ChatTarget, from int64) *Request {
	rid := uuid.NewString()[:8]
	return &Request{
		Update:  up,
		Chat:    chat,
		FromID:  from,
		At:      time.Now(),
		ReqID:   rid,
		Adapter: r.adapter,
		IsOwner: r.isOwner(from),
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int("thread_id", chat.ThreadID),
			logx.Int64("from_id", from),
		),
	}
}

// parseCommand splits "/name@bot arg1 arg2" into ("name", [arg1 arg2]).
func parseCommand(text string) (string, []string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text)
	name := strings.TrimPrefix(fields[0], "/")
	name, _, _ = strings.Cut(name, "@")
	name = strings.ToLower(name)
	if name == "" {
		return "", nil, false
	}
	return name, fields[1:], true
}
