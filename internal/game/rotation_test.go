package game

import (
	"context"
	"sort"
	"testing"
	"time"
	_ "time/tzdata"

	"gamebot/internal/storage"
	logx "gamebot/pkg/logx"
)

func TestRotationExhaustion(t *testing.T) {
	store := storage.NewMemory()
	r := NewRotationSelector(store, "main", time.UTC, logx.Nop())
	kinds := []string{KindNumber, KindWord, KindFlag, KindPlayer}
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < len(kinds); i++ {
		k, ok := r.Next(ctx, "c", kinds, t0)
		if !ok {
			t.Fatal("Next reported no kind")
		}
		if seen[k] {
			t.Fatalf("kind %q repeated within one cycle", k)
		}
		seen[k] = true
	}
	if len(seen) != len(kinds) {
		t.Fatalf("cycle covered %d kinds, want %d", len(seen), len(kinds))
	}

	if _, ok := r.Next(ctx, "c", kinds, t0); !ok {
		t.Fatal("Next after exhaustion reported no kind")
	}
	rec, ok, err := store.LoadRotation(ctx, storage.Key{Scope: "main", Channel: "c"})
	if err != nil || !ok || len(rec.Queue) != len(kinds)-1 {
		t.Fatalf("rotation after refill = %+v ok %v err %v", rec, ok, err)
	}
}

func TestRotationEmptyKinds(t *testing.T) {
	r := NewRotationSelector(storage.NewMemory(), "main", time.UTC, logx.Nop())
	if k, ok := r.Next(context.Background(), "c", nil, t0); ok || k != "" {
		t.Fatalf("Next(nil) = %q, %v", k, ok)
	}
}

func TestRotationDayBoundaryInReferenceZone(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Jakarta")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	// 16:59 UTC is 23:59 in Jakarta (UTC+7); 17:00 UTC is already the next day.
	before := time.Date(2026, 10, 19, 16, 59, 0, 0, time.UTC)
	after := before.Add(time.Minute)
	if got := DateKey(before, loc); got != "2026-10-19" {
		t.Fatalf("DateKey(before) = %s", got)
	}
	if got := DateKey(after, loc); got != "2026-10-20" {
		t.Fatalf("DateKey(after) = %s", got)
	}

	store := storage.NewMemory()
	r := NewRotationSelector(store, "main", loc, logx.Nop())
	kinds := []string{KindNumber, KindWord, KindFlag}
	ctx := context.Background()
	key := storage.Key{Scope: "main", Channel: "c"}

	r.Next(ctx, "c", kinds, before)
	rec, _, _ := store.LoadRotation(ctx, key)
	if rec.DateKey != "2026-10-19" || len(rec.Queue) != 2 {
		t.Fatalf("rotation before midnight = %+v", rec)
	}
	r.Next(ctx, "c", kinds, after)
	rec, _, _ = store.LoadRotation(ctx, key)
	if rec.DateKey != "2026-10-20" || len(rec.Queue) != 2 {
		t.Fatalf("rotation after midnight = %+v, want a fresh day queue", rec)
	}
}

func TestRotationDropsRemovedKinds(t *testing.T) {
	store := storage.NewMemory()
	ctx := context.Background()
	key := storage.Key{Scope: "main", Channel: "c"}
	if err := store.SaveRotation(ctx, key, storage.RotationRecord{DateKey: DateKey(t0, time.UTC), Queue: []string{"song", "word"}}); err != nil {
		t.Fatalf("SaveRotation: %v", err)
	}
	r := NewRotationSelector(store, "main", time.UTC, logx.Nop())
	r.shuffle = func(n int, swap func(i, j int)) {}

	k, _ := r.Next(ctx, "c", []string{KindWord, KindNumber}, t0)
	if k != KindWord {
		t.Fatalf("Next = %q, want word (song no longer configured)", k)
	}
	k, _ = r.Next(ctx, "c", []string{KindWord, KindNumber}, t0)
	got := []string{k}
	k, _ = r.Next(ctx, "c", []string{KindWord, KindNumber}, t0)
	got = append(got, k)
	sort.Strings(got)
	if got[0] != KindNumber || got[1] != KindWord {
		t.Fatalf("refilled cycle = %v", got)
	}
}
