package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"gamebot/internal/game"
	kit "gamebot/internal/transport"
)

const (
	DefaultScope       = "main"
	DefaultTick        = time.Minute
	DefaultStoragePath = "./data/gamebot.db"
)

var storageDrivers = []string{"memory", "file", "sqlite", "redis"}

// ApplyDefaults fills omitted fields that have a single sensible value.
func ApplyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Storage.Driver) == "" {
		cfg.Storage.Driver = "sqlite"
	}
	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if (cfg.Storage.Driver == "sqlite" || cfg.Storage.Driver == "file") && strings.TrimSpace(cfg.Storage.Path) == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
	if strings.TrimSpace(cfg.Games.Scope) == "" {
		cfg.Games.Scope = DefaultScope
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate reports every problem found in cfg, joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) time.Duration {
		d, err := ParseDurationField(path, raw)
		add(err)
		return d
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(errors.New("telegram.token is required (or set GAMEBOT_TELEGRAM_TOKEN)"))
	}
	dur("telegram.poll_timeout", cfg.Telegram.PollTimeout)

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		add(fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		add(errors.New("logging.file.path is required when file logging is enabled"))
	}

	dur("debug.read_timeout", cfg.Debug.ReadTimeout)
	dur("debug.write_timeout", cfg.Debug.WriteTimeout)
	dur("debug.idle_timeout", cfg.Debug.IdleTimeout)

	add(validateStorage(cfg.Storage))
	add(validateGames(cfg.Games, dur))

	return errors.Join(errs...)
}

func validateStorage(s StorageConfig) error {
	driver := strings.ToLower(strings.TrimSpace(s.Driver))
	if !slices.Contains(storageDrivers, driver) {
		return fmt.Errorf("storage.driver: %q is not one of %s", s.Driver, strings.Join(storageDrivers, "|"))
	}
	if (driver == "file" || driver == "sqlite") && strings.TrimSpace(s.Path) == "" {
		return fmt.Errorf("storage.path is required for driver %s", driver)
	}
	if driver == "redis" && strings.TrimSpace(s.Redis.Addr) == "" {
		return errors.New("storage.redis.addr is required for driver redis")
	}
	if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
		return err
	}
	return nil
}

func validateGames(g GamesConfig, dur func(path, raw string) time.Duration) error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if tz := strings.TrimSpace(g.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("games.timezone: %w", err)
		}
	}
	dur("games.tick", g.Tick)
	dur("games.provider_timeout", g.ProviderTimeout)
	dur("games.sink_timeout", g.SinkTimeout)

	grants := map[string]struct{}{}
	for i, th := range g.Thresholds {
		id := strings.TrimSpace(th.GrantID)
		switch {
		case th.Points <= 0:
			add("games.thresholds[%d].points must be > 0", i)
		case id == "":
			add("games.thresholds[%d].grant_id is required", i)
		}
		if _, dup := grants[id]; dup && id != "" {
			add("games.thresholds[%d].grant_id %q is duplicated", i, id)
		}
		grants[id] = struct{}{}
	}

	for kind, r := range g.Kinds {
		if !game.KnownKind(kind) {
			add("games.kinds.%s: unknown kind (known: %s)", kind, strings.Join(game.Kinds(), ", "))
			continue
		}
		if r.Reward < 0 {
			add("games.kinds.%s.reward must be >= 0", kind)
		}
		dur("games.kinds."+kind+".duration", r.Duration)
	}

	available := g.Content.Kinds()
	if len(g.Channels) == 0 {
		add("games.channels: at least one channel is required")
	}
	seen := map[string]struct{}{}
	for i, ch := range g.Channels {
		p := fmt.Sprintf("games.channels[%d]", i)
		if ch.Chat == 0 {
			add("%s.chat is required", p)
		}
		key := ChannelKey(ch)
		if _, dup := seen[key]; dup {
			add("%s: channel %s is listed twice", p, key)
		}
		seen[key] = struct{}{}

		if d := dur(p+".interval", ch.Interval); d <= 0 {
			add("%s.interval must be > 0", p)
		}
		dur(p+".activity_window", ch.ActivityWindow)
		dur(p+".failsafe", ch.Failsafe)
		if ch.MinEvents < 0 {
			add("%s.min_events must be >= 0", p)
		}
		if _, err := game.ParseTimeWindow(ch.Hours); err != nil {
			add("%s.hours: %w", p, err)
		}
		if len(ch.Kinds) == 0 {
			add("%s.kinds: at least one kind is required", p)
		}
		for _, k := range ch.Kinds {
			switch {
			case !game.KnownKind(k):
				add("%s.kinds: unknown kind %q", p, k)
			case !slices.Contains(available, k):
				add("%s.kinds: %q has no content in games.content", p, k)
			}
		}
	}
	return errors.Join(errs...)
}

// ChannelKey is the engine channel key of ch ("<chat>:<thread>").
func ChannelKey(ch ChannelConfig) string {
	return kit.ChatTarget{ChatID: ch.Chat, ThreadID: ch.Thread}.Key()
}
