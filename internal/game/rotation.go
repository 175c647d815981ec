package game

import (
	"context"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"gamebot/internal/storage"
	logx "gamebot/pkg/logx"
)

// DateKey is the calendar day of now in loc, formatted YYYY-MM-DD.
func DateKey(now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return now.In(loc).Format(time.DateOnly)
}

// RotationSelector hands out challenge kinds from a shuffled per-day queue so
// no kind repeats until every kind was used.
type RotationSelector struct {
	mu      sync.Mutex
	store   SessionStore
	scope   string
	loc     *time.Location
	log     logx.Logger
	shuffle func(n int, swap func(i, j int))
	// onWriteFail reports a failed persist; the popped kind is still returned.
	onWriteFail func(channel string, err error)
}

func NewRotationSelector(store SessionStore, scope string, loc *time.Location, log logx.Logger) *RotationSelector {
	if loc == nil {
		loc = time.UTC
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &RotationSelector{store: store, scope: scope, loc: loc, log: log, shuffle: rand.Shuffle}
}

// Next pops the next kind for channel. It reports false only when kinds is empty.
func (r *RotationSelector) Next(ctx context.Context, channel string, kinds []string, now time.Time) (string, bool) {
	if len(kinds) == 0 {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := storage.Key{Scope: r.scope, Channel: channel}
	today := DateKey(now, r.loc)

	rec, ok, err := r.store.LoadRotation(ctx, key)
	if err != nil {
		r.log.Warn("rotation load failed; reshuffling", logx.String("channel", channel), logx.Err(err))
		ok = false
	}
	// Kinds removed from config since the queue was built are dropped.
	queue := slices.DeleteFunc(slices.Clone(rec.Queue), func(k string) bool { return !slices.Contains(kinds, k) })
	if !ok || rec.DateKey != today || len(queue) == 0 {
		queue = slices.Clone(kinds)
		r.shuffle(len(queue), func(i, j int) { queue[i], queue[j] = queue[j], queue[i] })
	}

	next := queue[0]
	rest := queue[1:]
	if err := r.store.SaveRotation(ctx, key, storage.RotationRecord{DateKey: today, Queue: rest}); err != nil {
		r.log.Warn("rotation persist failed", logx.String("channel", channel), logx.Err(err))
		if r.onWriteFail != nil {
			r.onWriteFail(channel, err)
		}
	}
	return next, true
}

// Requeue appends kind to the tail of today's queue unless it is already
// queued. A stale or missing queue is left alone.
func (r *RotationSelector) Requeue(ctx context.Context, channel, kind string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := storage.Key{Scope: r.scope, Channel: channel}
	rec, ok, err := r.store.LoadRotation(ctx, key)
	if err != nil || !ok || rec.DateKey != DateKey(now, r.loc) || slices.Contains(rec.Queue, kind) {
		return
	}
	rec.Queue = append(rec.Queue, kind)
	if err := r.store.SaveRotation(ctx, key, rec); err != nil {
		r.log.Warn("rotation persist failed", logx.String("channel", channel), logx.Err(err))
		if r.onWriteFail != nil {
			r.onWriteFail(channel, err)
		}
	}
}
