package game

import (
	"context"
	"time"

	"gamebot/internal/storage"
)

// ContentProvider produces the answer for a challenge kind. It may be slow;
// the scheduler bounds each call with Options.ProviderTimeout.
type ContentProvider interface {
	Fetch(ctx context.Context, kind string) (AnswerSpec, error)
}

// OutputSink renders session side effects to users.
type OutputSink interface {
	// Announce publishes the prompt and returns an opaque reference to the
	// announcement (stored in the session's aux refs).
	Announce(ctx context.Context, channel string, p Prompt) (ref string, err error)
	Reveal(ctx context.Context, channel string, o Outcome) error
	Hint(ctx context.Context, channel string, h HintNote) error
	Rewarded(ctx context.Context, channel string, userID int64, grantID string) error
}

// RewardSink applies a one-time grant to a user.
type RewardSink interface {
	Grant(ctx context.Context, userID int64, grantID string) error
}

type ScoreStore interface {
	IncrementScore(ctx context.Context, scope string, userID int64, delta int64) (int64, error)
}

type GrantStore interface {
	HasGrant(ctx context.Context, scope string, userID int64, grantID string) (bool, error)
	PutGrant(ctx context.Context, scope string, userID int64, grantID string, at time.Time) error
}

// SessionStore is the subset of storage.Store the scheduler persists through.
type SessionStore interface {
	SaveSession(ctx context.Context, k storage.Key, rec storage.SessionRecord) error
	LoadSession(ctx context.Context, k storage.Key) (storage.SessionRecord, bool, error)
	DeleteSession(ctx context.Context, k storage.Key) error
	SaveRotation(ctx context.Context, k storage.Key, rec storage.RotationRecord) error
	LoadRotation(ctx context.Context, k storage.Key) (storage.RotationRecord, bool, error)
}

// Player identifies the author of a guess or an interaction.
type Player struct {
	ID   int64
	Name string
}

// Event is one inbound chat message.
type Event struct {
	Channel string
	Player  Player
	Text    string
	At      time.Time
}

// Prompt is what Announce renders.
type Prompt struct {
	SessionID string
	Kind      string
	Title     string
	Body      string
	Choices   []Choice
	Columns   int
	Mention   string
	Reward    int64
	EndsAt    time.Time
	Duration  time.Duration
}

// Outcome describes a resolved session.
type Outcome struct {
	SessionID string
	Kind      string
	Status    Status
	Answer    string
	Winner    Player
	Points    int64
	// Total is the winner's score after the win; 0 if the increment failed.
	Total    int64
	AuxRefs  []string
	Duration time.Duration
}

// HintNote is either the timed partial reveal (Verdict NoMatch) or a
// directional response to a single guess (Higher/Lower).
type HintNote struct {
	SessionID string
	Kind      string
	Text      string
	Verdict   Verdict
	Guess     string
	Player    Player
	AuxRefs   []string
}
