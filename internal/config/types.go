package config

import "gamebot/internal/content"

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Debug    DebugConfig    `json:"debug,omitempty"`
	Storage  StorageConfig  `json:"storage"`
	Games    GamesConfig    `json:"games"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// DebugConfig controls the optional debug HTTP server (/healthz, /metrics, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}

// StorageConfig selects the session/score backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/gamebot.db" }
type StorageConfig struct {
	Driver      string      `json:"driver"`
	Path        string      `json:"path,omitempty"`
	BusyTimeout string      `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	Redis       RedisConfig `json:"redis,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"` // do not log
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

// GamesConfig drives the session scheduler.
type GamesConfig struct {
	// Scope namespaces persisted records and scores; one deployment, one scope.
	Scope string `json:"scope"`
	// Timezone is the IANA zone for rotation day keys and channel hours.
	Timezone string `json:"timezone,omitempty"`
	// Tick is how often each channel's gate is evaluated (default "1m").
	Tick            string `json:"tick,omitempty"`
	ProviderTimeout string `json:"provider_timeout,omitempty"`
	SinkTimeout     string `json:"sink_timeout,omitempty"`
	// StartOnEvent lets chat traffic trigger a gate check between ticks.
	StartOnEvent bool `json:"start_on_event,omitempty"`

	Thresholds []ThresholdConfig    `json:"thresholds,omitempty"`
	Kinds      map[string]KindRules `json:"kinds"`
	Content    content.Catalog      `json:"content"`
	Channels   []ChannelConfig      `json:"channels"`
	Announce   AnnounceConfig       `json:"announce,omitempty"`
}

type ThresholdConfig struct {
	Points  int64  `json:"points"`
	GrantID string `json:"grant_id"`
}

// KindRules sets the per-kind session length and win reward.
type KindRules struct {
	Duration string `json:"duration,omitempty"`
	Reward   int64  `json:"reward,omitempty"`
}

// ChannelConfig describes one game channel.
//
// Chat is the numeric chat id; Thread is the forum topic (0 for none).
type ChannelConfig struct {
	Chat           int64    `json:"chat"`
	Thread         int      `json:"thread,omitempty"`
	Interval       string   `json:"interval"`
	ActivityWindow string   `json:"activity_window,omitempty"`
	MinEvents      int      `json:"min_events,omitempty"`
	Failsafe       string   `json:"failsafe,omitempty"`
	Kinds          []string `json:"kinds"`
	Mention        string   `json:"mention,omitempty"`
	Hours          string   `json:"hours,omitempty"` // "HH:MM-HH:MM", empty = always
}

type AnnounceConfig struct {
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
	Retries    uint64  `json:"retries,omitempty"`
	AuditChat  string  `json:"audit_chat,omitempty"`
}
