package app

import (
	"fmt"
	"strings"
	"time"

	"gamebot/internal/announce"
	"gamebot/internal/config"
	"gamebot/internal/game"
	"gamebot/internal/observability/debugsrv"
	"gamebot/internal/storage"
	kit "gamebot/internal/transport"
	logx "gamebot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
	if t, err := kit.ParseChatTarget(cfg.Telegram.GroupLog); err == nil {
		lc.Telegram.ChatID = t.ChatID
	} else {
		lc.Telegram.Enabled = false
	}
	return lc
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      sc.Driver,
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
		Redis: storage.RedisConfig{
			Addr:     sc.Redis.Addr,
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
			Prefix:   sc.Redis.Prefix,
		},
	}, nil
}

func mapDebugConfig(cfg *config.Config) (debugsrv.Config, error) {
	d := cfg.Debug
	read, err := config.ParseDurationField("debug.read_timeout", d.ReadTimeout)
	if err != nil {
		return debugsrv.Config{}, err
	}
	write, err := config.ParseDurationField("debug.write_timeout", d.WriteTimeout)
	if err != nil {
		return debugsrv.Config{}, err
	}
	idle, err := config.ParseDurationField("debug.idle_timeout", d.IdleTimeout)
	if err != nil {
		return debugsrv.Config{}, err
	}
	return debugsrv.Config{
		Enabled:              d.Enabled,
		Addr:                 d.Addr,
		Prefix:               d.Prefix,
		Token:                d.Token,
		AllowInsecure:        d.AllowInsecure,
		ReadTimeout:          read,
		WriteTimeout:         write,
		IdleTimeout:          idle,
		MutexProfileFraction: d.MutexProfileFraction,
		BlockProfileRate:     d.BlockProfileRate,
		MemProfileRate:       d.MemProfileRate,
	}, nil
}

func mapAnnounceConfig(cfg *config.Config) announce.Config {
	a := cfg.Games.Announce
	return announce.Config{
		RatePerSec: a.RatePerSec,
		Burst:      a.Burst,
		Retries:    a.Retries,
		AuditChat:  a.AuditChat,
	}
}

// gameSetup is the engine configuration derived from the games section.
type gameSetup struct {
	opts       game.Options
	channels   []game.ChannelConfig
	thresholds []game.Threshold
	tick       time.Duration
}

func mapGameConfig(cfg *config.Config) (gameSetup, error) {
	g := cfg.Games
	loc := time.Local
	if tz := strings.TrimSpace(g.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return gameSetup{}, fmt.Errorf("games.timezone: %w", err)
		}
		loc = l
	}
	tick, err := config.ParseDurationOrDefault("games.tick", g.Tick, config.DefaultTick)
	if err != nil {
		return gameSetup{}, err
	}
	providerTimeout, err := config.ParseDurationField("games.provider_timeout", g.ProviderTimeout)
	if err != nil {
		return gameSetup{}, err
	}
	sinkTimeout, err := config.ParseDurationField("games.sink_timeout", g.SinkTimeout)
	if err != nil {
		return gameSetup{}, err
	}

	kinds := make(map[string]game.KindRules, len(g.Kinds))
	for kind, r := range g.Kinds {
		d, err := config.ParseDurationField("games.kinds."+kind+".duration", r.Duration)
		if err != nil {
			return gameSetup{}, err
		}
		kinds[kind] = game.KindRules{Duration: d, Reward: r.Reward}
	}

	out := gameSetup{
		opts: game.Options{
			Scope:           g.Scope,
			Location:        loc,
			ProviderTimeout: providerTimeout,
			SinkTimeout:     sinkTimeout,
			Kinds:           kinds,
			StartOnEvent:    g.StartOnEvent,
		},
		tick: tick,
	}
	for _, th := range g.Thresholds {
		out.thresholds = append(out.thresholds, game.Threshold{Points: th.Points, GrantID: strings.TrimSpace(th.GrantID)})
	}
	for i, ch := range g.Channels {
		p := fmt.Sprintf("games.channels[%d]", i)
		interval, err := config.ParseDurationField(p+".interval", ch.Interval)
		if err != nil {
			return gameSetup{}, err
		}
		window, err := config.ParseDurationField(p+".activity_window", ch.ActivityWindow)
		if err != nil {
			return gameSetup{}, err
		}
		failsafe, err := config.ParseDurationField(p+".failsafe", ch.Failsafe)
		if err != nil {
			return gameSetup{}, err
		}
		hours, err := game.ParseTimeWindow(ch.Hours)
		if err != nil {
			return gameSetup{}, fmt.Errorf("%s.hours: %w", p, err)
		}
		out.channels = append(out.channels, game.ChannelConfig{
			Key:            config.ChannelKey(ch),
			Interval:       interval,
			ActivityWindow: window,
			MinEvents:      ch.MinEvents,
			Failsafe:       failsafe,
			Kinds:          append([]string(nil), ch.Kinds...),
			Mention:        ch.Mention,
			Hours:          hours,
		})
	}
	return out, nil
}
