package eventbus

import "time"

// Game lifecycle topics.
const (
	SessionStarted   = "game.session.started"
	SessionWon       = "game.session.won"
	SessionTimedOut  = "game.session.timed_out"
	SessionRecovered = "game.session.recovered"
	ProviderFailed   = "game.provider.failed"
	StoreWriteFailed = "game.store.write_failed"
	RewardGranted    = "game.reward.granted"
	TickSkipped      = "game.tick.skipped"
)

// SessionEvent is the Data payload of the game.session.* topics.
type SessionEvent struct {
	Channel  string        `json:"channel"`
	Session  string        `json:"session"`
	Kind     string        `json:"kind"`
	UserID   int64         `json:"user_id,omitempty"`
	Points   int64         `json:"points,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// FailureEvent is the Data payload of failure topics.
type FailureEvent struct {
	Channel string `json:"channel"`
	Op      string `json:"op"`
	Kind    string `json:"kind,omitempty"`
	Error   string `json:"error"`
}

// RewardEvent is the Data payload of game.reward.granted.
type RewardEvent struct {
	Channel string `json:"channel"`
	UserID  int64  `json:"user_id"`
	GrantID string `json:"grant_id"`
	Total   int64  `json:"total"`
}
