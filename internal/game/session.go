package game

import (
	"encoding/json"
	"fmt"
	"time"

	"gamebot/internal/storage"
)

type Status int

const (
	StatusActive Status = iota
	StatusWon
	StatusTimedOut
)

func (s Status) String() string {
	switch s {
	case StatusWon:
		return "won"
	case StatusTimedOut:
		return "timed_out"
	default:
		return "active"
	}
}

// Session is one running challenge in a channel. All mutable fields are
// guarded by the owning channel's mutex.
type Session struct {
	ID        string
	Channel   string
	Challenge Challenge
	Reward    int64
	StartedAt time.Time
	EndsAt    time.Time
	HintAt    time.Time // zero when no hint is scheduled
	AuxRefs   []string

	status  Status
	timeout *Deferred
	hint    *Deferred
}

func (s *Session) Status() Status { return s.status }

// stopTimers cancels the main and hint timers.
func (s *Session) stopTimers() {
	s.timeout.Cancel()
	s.hint.Cancel()
}

func (s *Session) record() (storage.SessionRecord, error) {
	answer, err := json.Marshal(s.Challenge.Spec())
	if err != nil {
		return storage.SessionRecord{}, err
	}
	rec := storage.SessionRecord{
		ID:        s.ID,
		Kind:      s.Challenge.Kind(),
		Answer:    answer,
		Reward:    s.Reward,
		StartedAt: s.StartedAt.UnixMilli(),
		EndsAt:    s.EndsAt.UnixMilli(),
		AuxRefs:   append([]string(nil), s.AuxRefs...),
	}
	if !s.HintAt.IsZero() {
		rec.HintAt = s.HintAt.UnixMilli()
	}
	return rec, nil
}

func sessionFromRecord(channel string, rec storage.SessionRecord) (*Session, error) {
	if !rec.Valid() {
		return nil, fmt.Errorf("%w: incomplete session record", ErrBadAnswer)
	}
	ch, err := DecodeChallenge(rec.Kind, rec.Answer)
	if err != nil {
		return nil, err
	}
	s := &Session{
		ID:        rec.ID,
		Channel:   channel,
		Challenge: ch,
		Reward:    rec.Reward,
		StartedAt: time.UnixMilli(rec.StartedAt),
		EndsAt:    time.UnixMilli(rec.EndsAt),
		AuxRefs:   append([]string(nil), rec.AuxRefs...),
	}
	if rec.HintAt != 0 {
		s.HintAt = time.UnixMilli(rec.HintAt)
	}
	return s, nil
}

// Snapshot is a read-only copy of an active session.
type Snapshot struct {
	ID        string
	Kind      string
	Reward    int64
	StartedAt time.Time
	EndsAt    time.Time
	HintAt    time.Time
	AuxRefs   []string
}

func (s *Session) snapshot() Snapshot {
	return Snapshot{
		ID:        s.ID,
		Kind:      s.Challenge.Kind(),
		Reward:    s.Reward,
		StartedAt: s.StartedAt,
		EndsAt:    s.EndsAt,
		HintAt:    s.HintAt,
		AuxRefs:   append([]string(nil), s.AuxRefs...),
	}
}
