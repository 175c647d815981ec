package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	logx "gamebot/pkg/logx"
)

func testSession() SessionRecord {
	return SessionRecord{
		ID:        "s-1",
		Kind:      "number",
		Answer:    json.RawMessage(`{"min":1,"max":100,"target":57}`),
		Reward:    100,
		StartedAt: 1_700_000_000_000,
		EndsAt:    1_700_000_180_000,
		HintAt:    1_700_000_150_000,
		AuxRefs:   []string{"-100:0:42"},
	}
}

func openers(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"file": func(t *testing.T) Store {
			st, err := Open(context.Background(), Config{Driver: "file", Path: filepath.Join(t.TempDir(), "state.json")}, logx.Nop())
			if err != nil {
				t.Fatalf("open file: %v", err)
			}
			return st
		},
		"sqlite": func(t *testing.T) Store {
			st, err := Open(context.Background(), Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "state.db")}, logx.Nop())
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			return st
		},
		"redis": func(t *testing.T) Store {
			mr, err := miniredis.Run()
			if err != nil {
				t.Fatalf("failed to start miniredis: %v", err)
			}
			t.Cleanup(mr.Close)
			return newRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "", logx.Nop())
		},
	}
}

func TestStoreConformance(t *testing.T) {
	for name, open := range openers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open(t)
			t.Cleanup(func() { _ = st.Close() })
			k := Key{Scope: "main", Channel: "-100:0"}

			if _, ok, err := st.LoadSession(ctx, k); err != nil || ok {
				t.Fatalf("empty LoadSession = ok %v err %v", ok, err)
			}

			want := testSession()
			if err := st.SaveSession(ctx, k, want); err != nil {
				t.Fatalf("SaveSession: %v", err)
			}
			got, ok, err := st.LoadSession(ctx, k)
			if err != nil || !ok {
				t.Fatalf("LoadSession = ok %v err %v", ok, err)
			}
			if got.ID != want.ID || got.EndsAt != want.EndsAt || got.HintAt != want.HintAt || len(got.AuxRefs) != 1 {
				t.Fatalf("LoadSession = %+v, want %+v", got, want)
			}
			if err := st.DeleteSession(ctx, k); err != nil {
				t.Fatalf("DeleteSession: %v", err)
			}
			if _, ok, _ := st.LoadSession(ctx, k); ok {
				t.Fatal("session still present after delete")
			}

			rot := RotationRecord{DateKey: "2026-10-19", Queue: []string{"word", "flag"}}
			if err := st.SaveRotation(ctx, k, rot); err != nil {
				t.Fatalf("SaveRotation: %v", err)
			}
			gotRot, ok, err := st.LoadRotation(ctx, k)
			if err != nil || !ok || gotRot.DateKey != rot.DateKey || len(gotRot.Queue) != 2 {
				t.Fatalf("LoadRotation = %+v ok %v err %v", gotRot, ok, err)
			}

			total, err := st.IncrementScore(ctx, "main", 7, 40)
			if err != nil || total != 40 {
				t.Fatalf("IncrementScore = %d, %v", total, err)
			}
			total, err = st.IncrementScore(ctx, "main", 7, 60)
			if err != nil || total != 100 {
				t.Fatalf("IncrementScore = %d, %v", total, err)
			}
			if n, err := st.Score(ctx, "main", 7); err != nil || n != 100 {
				t.Fatalf("Score = %d, %v", n, err)
			}
			if n, err := st.Score(ctx, "other", 7); err != nil || n != 0 {
				t.Fatalf("Score(other scope) = %d, %v", n, err)
			}

			if has, err := st.HasGrant(ctx, "main", 7, "bronze"); err != nil || has {
				t.Fatalf("HasGrant before put = %v, %v", has, err)
			}
			if err := st.PutGrant(ctx, "main", 7, "bronze", time.Now()); err != nil {
				t.Fatalf("PutGrant: %v", err)
			}
			if err := st.PutGrant(ctx, "main", 7, "bronze", time.Now()); err != nil {
				t.Fatalf("PutGrant twice: %v", err)
			}
			if has, err := st.HasGrant(ctx, "main", 7, "bronze"); err != nil || !has {
				t.Fatalf("HasGrant after put = %v, %v", has, err)
			}
		})
	}
}

func TestMalformedSessionIsAbsent(t *testing.T) {
	bad := []SessionRecord{
		{Kind: "number", Answer: json.RawMessage(`{}`), StartedAt: 10, EndsAt: 5},
		{Kind: "", Answer: json.RawMessage(`{}`), StartedAt: 10, EndsAt: 20},
		{Kind: "number", StartedAt: 10, EndsAt: 20},
		{Kind: "number", Answer: json.RawMessage(`{}`), StartedAt: 10, EndsAt: 20, HintAt: 25},
	}
	for name, open := range openers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open(t)
			t.Cleanup(func() { _ = st.Close() })
			for i, rec := range bad {
				k := Key{Scope: "main", Channel: string(rune('a' + i))}
				if err := st.SaveSession(ctx, k, rec); err != nil {
					t.Fatalf("SaveSession: %v", err)
				}
				if _, ok, err := st.LoadSession(ctx, k); ok || err != nil {
					t.Fatalf("record %d: LoadSession ok=%v err=%v, want absent", i, ok, err)
				}
			}
		})
	}
}

func TestFileStoreSurvivesReopenAndTornJournal(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	cfg := Config{Driver: "file", Path: path}
	k := Key{Scope: "main", Channel: "-100:0"}

	st, err := Open(ctx, cfg, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := st.SaveSession(ctx, k, testSession()); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if _, err := st.IncrementScore(ctx, "main", 1, 5); err != nil {
		t.Fatalf("IncrementScore: %v", err)
	}
	// Simulate a crash: append a torn line without closing (no compaction).
	fs := st.(*fileStore)
	if _, err := fs.journal.WriteString(`{"op":"put_session","key":"main/x","da`); err != nil {
		t.Fatalf("write torn line: %v", err)
	}

	st2, err := Open(ctx, cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = st2.Close() })
	rec, ok, err := st2.LoadSession(ctx, k)
	if err != nil || !ok || rec.ID != "s-1" {
		t.Fatalf("LoadSession after reopen = %+v ok %v err %v", rec, ok, err)
	}
	if n, _ := st2.Score(ctx, "main", 1); n != 5 {
		t.Fatalf("Score after reopen = %d, want 5", n)
	}
	_ = fs.journal.Close()
}

func TestFileStoreCompactsOnClose(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	st, err := Open(ctx, Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := st.SaveRotation(ctx, Key{Scope: "main", Channel: "c"}, RotationRecord{DateKey: "2026-10-19", Queue: []string{"word"}}); err != nil {
		t.Fatalf("SaveRotation: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	fi, err := os.Stat(filepath.Join(filepath.Dir(path), "state.journal.jsonl"))
	if err != nil {
		t.Fatalf("stat journal: %v", err)
	}
	if fi.Size() != 0 {
		t.Fatalf("journal size = %d after close, want 0", fi.Size())
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(path), "state.snapshot.json")); err != nil {
		t.Fatalf("snapshot missing: %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestOpenEmptyDriverIsMemory(t *testing.T) {
	st, err := Open(context.Background(), Config{}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := st.(*memoryStore); !ok {
		t.Fatalf("Open with empty driver = %T, want memory store", st)
	}
}

func TestRedisGrantKeepsFirstTime(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	st := newRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "", logx.Nop())
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()

	first := time.UnixMilli(1_700_000_000_000)
	if err := st.PutGrant(ctx, "main", 7, "bronze", first); err != nil {
		t.Fatalf("PutGrant: %v", err)
	}
	if err := st.PutGrant(ctx, "main", 7, "bronze", first.Add(time.Hour)); err != nil {
		t.Fatalf("PutGrant again: %v", err)
	}
	if got := mr.HGet(st.key("grants", scoreKey("main", 7)), "bronze"); got != "1700000000000" {
		t.Fatalf("grant time = %q, want first grant kept", got)
	}
	if has, err := st.HasGrant(ctx, "main", 8, "bronze"); err != nil || has {
		t.Fatalf("HasGrant other user = %v, %v", has, err)
	}
}
