package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gamebot/internal/announce"
	"gamebot/internal/config"
	"gamebot/internal/content"
	"gamebot/internal/eventbus"
	"gamebot/internal/game"
	"gamebot/internal/observability/debugsrv"
	"gamebot/internal/observability/metrics"
	rtsup "gamebot/internal/runtime/supervisor"
	"gamebot/internal/storage"
	"gamebot/internal/task/scheduler"
	kit "gamebot/internal/transport"
	telegram "gamebot/internal/transport/telegram/adapter"
	"gamebot/internal/transport/telegram/router"
	logx "gamebot/pkg/logx"
)

type StopReason string

const (
	StopSignal StopReason = "signal"
	StopFatal  StopReason = "fatal"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter  *telegram.Adapter
	provider *content.Static
	sink     *announce.Sink
	games    *game.Scheduler
	tick     time.Duration

	sched   *scheduler.Service
	router  *router.Router
	metrics *metrics.Collector
	debug   *debugsrv.Service

	updates chan kit.Update
}

func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg), ad)
	appLog := log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	appLog.Info("storage opened", logx.String("driver", sc.Driver))

	a := &App{
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     eventbus.New(),
		store:   store,
		adapter: ad,
		sched:   scheduler.New(scheduler.Config{Timezone: cfg.Games.Timezone}, log.With(logx.String("comp", "scheduler"))),
		router:  router.New(log, ad, cfg.Telegram.OwnerUserIDs),
		metrics: metrics.New(log.With(logx.String("comp", "metrics"))),
		updates: make(chan kit.Update, 256),
	}
	if err := a.buildGames(cfg, log); err != nil {
		_ = store.Close()
		return nil, err
	}

	dc, err := mapDebugConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.debug = debugsrv.New(dc, log.With(logx.String("comp", "debug")),
		debugsrv.WithMetrics(a.metrics.Handler()),
		debugsrv.WithHealth(a.health),
	)
	return a, nil
}

func (a *App) buildGames(cfg *config.Config, log logx.Logger) error {
	gs, err := mapGameConfig(cfg)
	if err != nil {
		return err
	}
	sink, err := announce.New(a.adapter, mapAnnounceConfig(cfg), log.With(logx.String("comp", "announce")))
	if err != nil {
		return err
	}
	a.sink = sink
	a.provider = content.NewStatic(cfg.Games.Content, 0)
	a.tick = gs.tick

	gameLog := log.With(logx.String("comp", "game"))
	ledger := game.NewRewardLedger(gs.opts.Scope, gs.thresholds, game.LedgerDeps{
		Grants: a.store,
		Sink:   sink,
		Out:    sink,
		Log:    gameLog,
		Bus:    a.bus,
	})
	a.games, err = game.New(gs.opts, gs.channels, game.Deps{
		Store:    a.store,
		Scores:   a.store,
		Provider: a.provider,
		Out:      sink,
		Ledger:   ledger,
		Log:      gameLog,
		Bus:      a.bus,
	})
	return err
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) health(ctx context.Context) error {
	if a.sup == nil {
		return errors.New("not started")
	}
	if err := a.sup.Err(); err != nil {
		return err
	}
	return a.sup.Context().Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if _, err := mapGameConfig(cfg); err != nil {
			return err
		}
		if _, err := mapDebugConfig(cfg); err != nil {
			return err
		}
		_, err := mapStorageConfig(cfg)
		return err
	})

	a.sup.Go("metrics", func(c context.Context) error { return a.metrics.Run(c, a.bus) })
	a.sup.Go0("eventbus.audit", a.auditLoop)

	// Recovery finishes before any trigger can start a session.
	if err := a.games.Recover(runCtx); err != nil {
		return fmt.Errorf("recover sessions: %w", err)
	}

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}

	if err := a.scheduleTicks(); err != nil {
		return err
	}
	a.sched.Start(runCtx)

	a.router.SetRegistry(runCtx, a.commands(), a.callbacks(), a.onText)
	a.sup.Go("router", func(c context.Context) error { return a.router.Run(c, a.updates) })

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.debug.Start(runCtx)

	a.log.Info("app started", logx.Strings("channels", a.games.Channels()), logx.Duration("tick", a.tick))
	return nil
}

func (a *App) scheduleTicks() error {
	every := "every:" + a.tick.String()
	for _, ch := range a.games.Channels() {
		err := a.sched.AddSchedule("game.tick:"+ch, every, a.tick, func(c context.Context) error {
			_, err := a.games.Tick(c, ch)
			return err
		})
		if err != nil {
			return fmt.Errorf("schedule %s: %w", ch, err)
		}
	}
	return nil
}

func (a *App) auditLoop(c context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-c.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			switch d := e.Data.(type) {
			case eventbus.SessionEvent:
				a.log.Info("session event", logx.String("type", e.Type), logx.String("channel", d.Channel),
					logx.String("session", d.Session), logx.String("kind", d.Kind), logx.Int64("user", d.UserID))
			case eventbus.RewardEvent:
				a.log.Info("reward granted", logx.String("channel", d.Channel), logx.Int64("user", d.UserID),
					logx.String("grant", d.GrantID), logx.Int64("total", d.Total))
			default:
				// Tick skips are frequent.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	}
}

func (a *App) reloadLoop(c context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(c, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(c context.Context, old, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(old, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogConfig(newCfg))
	a.router.SetOwners(newCfg.Telegram.OwnerUserIDs)
	a.provider.Update(newCfg.Games.Content)

	if dc, err := mapDebugConfig(newCfg); err != nil {
		a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
	} else {
		a.debug.Reconfigure(c, dc)
	}

	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.Strings("sections", restart))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
				max = time.Until(dl)
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("games", 3*time.Second, a.games.Shutdown)
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	a.logs.Close()
	return nil
}

// Check loads and validates the configuration at path without starting anything.
func Check(path string) (*config.Config, error) {
	cfg, err := config.NewConfigManager(path).Parse()
	if err != nil {
		return nil, err
	}
	if _, err := mapGameConfig(cfg); err != nil {
		return nil, err
	}
	if _, err := mapDebugConfig(cfg); err != nil {
		return nil, err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
