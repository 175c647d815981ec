package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

var (
	ErrClosed    = errors.New("storage closed")
	ErrBadDriver = errors.New("unknown storage driver")
)

// Config configures storage.
//
// Driver values:
//   - "memory": in-process maps; nothing survives a restart
//   - "file": JSON snapshot + append-only journal next to Path
//   - "sqlite": SQLite database file at Path
//   - "redis": Redis server at Redis.Addr
//
// The config layer fills an omitted driver with "sqlite" before Open sees it.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Redis       RedisConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Key addresses per-channel records.
type Key struct {
	Scope   string
	Channel string
}

func (k Key) String() string { return k.Scope + "/" + k.Channel }

// SessionRecord is the persisted form of one in-flight session.
// Times are unix milliseconds; HintAt is 0 when no hint is scheduled.
type SessionRecord struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Answer    json.RawMessage `json:"answer"`
	Reward    int64           `json:"reward"`
	StartedAt int64           `json:"started_at"`
	EndsAt    int64           `json:"ends_at"`
	HintAt    int64           `json:"hint_at,omitempty"`
	AuxRefs   []string        `json:"aux_refs,omitempty"`
}

// Valid reports whether the record is complete enough to be recovered.
func (r SessionRecord) Valid() bool {
	answer := bytes.TrimSpace(r.Answer)
	if r.Kind == "" || len(answer) == 0 || string(answer) == "null" || !json.Valid(answer) {
		return false
	}
	if r.StartedAt <= 0 || r.EndsAt <= r.StartedAt {
		return false
	}
	if r.HintAt != 0 && (r.HintAt <= r.StartedAt || r.HintAt >= r.EndsAt) {
		return false
	}
	return true
}

// RotationRecord is the per-channel queue of challenge kinds not yet used today.
type RotationRecord struct {
	DateKey string   `json:"date_key"`
	Queue   []string `json:"queue"`
}

// Store is the persistence API used by the game engine.
//
// Load* methods return ok=false (and a nil error) for records that are missing,
// malformed or partially written. Errors are reserved for I/O failures.
type Store interface {
	SaveSession(ctx context.Context, k Key, rec SessionRecord) error
	LoadSession(ctx context.Context, k Key) (rec SessionRecord, ok bool, err error)
	DeleteSession(ctx context.Context, k Key) error

	SaveRotation(ctx context.Context, k Key, rec RotationRecord) error
	LoadRotation(ctx context.Context, k Key) (rec RotationRecord, ok bool, err error)

	IncrementScore(ctx context.Context, scope string, userID int64, delta int64) (total int64, err error)
	Score(ctx context.Context, scope string, userID int64) (int64, error)

	HasGrant(ctx context.Context, scope string, userID int64, grantID string) (bool, error)
	PutGrant(ctx context.Context, scope string, userID int64, grantID string, at time.Time) error

	Close() error
}

func decodeSession(b []byte) (SessionRecord, bool) {
	var rec SessionRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return SessionRecord{}, false
	}
	if !rec.Valid() {
		return SessionRecord{}, false
	}
	return rec, true
}

func decodeRotation(b []byte) (RotationRecord, bool) {
	var rec RotationRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return RotationRecord{}, false
	}
	if rec.DateKey == "" {
		return RotationRecord{}, false
	}
	return rec, true
}

func scoreKey(scope string, userID int64) string {
	return scope + "/" + strconv.FormatInt(userID, 10)
}

func grantKey(scope string, userID int64, grantID string) string {
	return scoreKey(scope, userID) + "/" + grantID
}
