// Package app assembles the daemon: config to components, lifecycle in one
// place. Construction is pure wiring; Start and Stop own ordering.
package app

import (
	"context"
	"fmt"

	"github.com/VectorBarks/openclaw-plugin-nightshift/internal/config"
	"github.com/VectorBarks/openclaw-plugin-nightshift/internal/eventbus"
	"github.com/VectorBarks/openclaw-plugin-nightshift/internal/gateway"
	"github.com/VectorBarks/openclaw-plugin-nightshift/internal/nightshift"
	"github.com/VectorBarks/openclaw-plugin-nightshift/internal/notifier"
	"github.com/VectorBarks/openclaw-plugin-nightshift/internal/runner"
	rtsup "github.com/VectorBarks/openclaw-plugin-nightshift/internal/runtime/supervisor"
	"github.com/VectorBarks/openclaw-plugin-nightshift/internal/services/ticker"
	"github.com/VectorBarks/openclaw-plugin-nightshift/internal/storage"
	kit "github.com/VectorBarks/openclaw-plugin-nightshift/internal/transport"
	"github.com/VectorBarks/openclaw-plugin-nightshift/internal/transport/telegram"
	logx "github.com/VectorBarks/openclaw-plugin-nightshift/pkg/logx"
)

type App struct {
	cfgPath string

	logSvc *logx.Service
	log    logx.Logger

	bus   eventbus.Bus
	store storage.Store

	core     *nightshift.Service
	adapter  *telegram.Adapter
	gateway  *gateway.Service
	notifier *notifier.Service
	ticker   *ticker.Service

	sup *rtsup.Supervisor
}

// New wires all components from a loaded config. cfgPath enables hot reload
// of the logging section; pass "" to disable watching.
func New(cfg *config.Config, cfgPath string) (*App, error) {
	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	a := &App{cfgPath: cfgPath, logSvc: logSvc, log: log}

	bus := eventbus.New()
	a.bus = bus

	if err := a.wire(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(cfg *config.Config) error {
	n := cfg.Night

	if cfg.Storage != nil {
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
		if err != nil {
			return err
		}
		store, err := storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busy,
		}, a.log)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		a.store = store
	}

	buffer, err := config.ParseDurationOrDefault("night.good_night_buffer", n.GoodNightBuffer, config.DefaultGoodNightBuffer)
	if err != nil {
		return err
	}
	threshold, err := config.ParseDurationOrDefault("night.activity_threshold", n.ActivityThreshold, config.DefaultActivityThreshold)
	if err != nil {
		return err
	}
	tickEvery, err := config.ParseDurationOrDefault("night.tick_interval", n.TickInterval, config.DefaultTickInterval)
	if err != nil {
		return err
	}

	coreCfg := nightshift.Config{
		Timezone:          n.Timezone,
		WindowStart:       n.WindowStart,
		WindowEnd:         n.WindowEnd,
		GoodNightBuffer:   buffer,
		ActivityThreshold: threshold,
		MaxCyclesPerNight: n.MaxCyclesPerNight,
		RetryMax:          n.RetryMax,
		GoodNightPhrases:  n.GoodNightPhrases,
		MorningPhrases:    n.MorningPhrases,
	}
	if len(n.Tasks) > 0 {
		coreCfg.Tasks = make(map[string]nightshift.TypePolicy, len(n.Tasks))
		for typ, tc := range n.Tasks {
			coreCfg.Tasks[typ] = nightshift.TypePolicy{
				Enabled:     tc.Enabled,
				Priority:    tc.Priority,
				MaxPerNight: tc.MaxPerNight,
			}
		}
	}
	a.core = nightshift.New(coreCfg, a.log.With(logx.String("comp", "core")), a.bus, a.store)

	np := runner.NewNetProbe(runner.NetProbeConfig{}, a.log.With(logx.String("comp", "netprobe")))
	a.core.RegisterRunner(runner.TypeNetProbe, np.Runner())

	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 0)
	if err != nil {
		return err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: poll,
	}, a.log.With(logx.String("comp", "telegram")))
	if err != nil {
		return fmt.Errorf("telegram adapter: %w", err)
	}
	a.adapter = adapter

	a.gateway = gateway.New(gateway.Config{
		OwnerIDs: cfg.Telegram.OwnerUserIDs,
	}, adapter, a.core, a.log)

	a.notifier = a.buildNotifier(cfg, adapter)

	a.ticker = ticker.New(ticker.Config{
		Interval: tickEvery,
		Timezone: n.Timezone,
	}, a.log.With(logx.String("comp", "ticker")), a.core)

	return nil
}

// buildNotifier resolves the notifier config. An omitted section means
// enabled with morning reports; without an owner chat there is nowhere to
// send, so the notifier stays off.
func (a *App) buildNotifier(cfg *config.Config, adapter kit.Adapter) *notifier.Service {
	nc := notifier.Config{Enabled: true, MorningReport: true}
	if cfg.Notifier != nil {
		dedup, err := config.ParseDurationOrDefault("notifier.dedup_window", cfg.Notifier.DedupWindow, 0)
		if err != nil {
			a.log.Warn("invalid notifier dedup window, disabling dedup", logx.Err(err))
			dedup = 0
		}
		nc = notifier.Config{
			Enabled:       cfg.Notifier.Enabled,
			QueueSize:     cfg.Notifier.QueueSize,
			RatePerSec:    cfg.Notifier.RatePerSec,
			MorningReport: cfg.Notifier.MorningReport,
			DedupWindow:   dedup,
		}
	}
	if len(cfg.Telegram.OwnerUserIDs) > 0 {
		nc.Chat = kit.ChatTarget{ChatID: cfg.Telegram.OwnerUserIDs[0]}
	} else if nc.Enabled {
		a.log.Warn("notifier disabled: no owner chat configured")
		nc.Enabled = false
	}
	return notifier.New(nc, adapter, a.log.With(logx.String("comp", "notifier")), a.bus)
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log))

	if a.notifier.Enabled() {
		a.notifier.Start(a.sup.Context())
	}
	if err := a.gateway.Start(a.sup.Context()); err != nil {
		return err
	}
	if err := a.ticker.Start(a.sup.Context()); err != nil {
		return err
	}

	if a.cfgPath != "" {
		a.sup.Go0("config.watch", func(c context.Context) {
			config.Watch(c, a.cfgPath, a.log, a.applyReload)
		})
	}

	a.log.Info("nightshift started")
	return nil
}

// applyReload applies the hot-reloadable subset of a changed config file.
// Scheduling settings are immutable for the process lifetime.
func (a *App) applyReload(cfg *config.Config) {
	a.logSvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	a.log.Info("logging configuration applied")
}

func (a *App) Stop(ctx context.Context) {
	a.ticker.Stop(ctx)
	a.gateway.Stop(ctx)
	a.notifier.Stop(ctx)

	if a.sup != nil {
		a.sup.Cancel()
		_ = a.sup.Wait(ctx)
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	}
	a.log.Info("nightshift stopped")
	_ = a.logSvc.Close()
}

// Core exposes the scheduling engine for host integration and tests.
func (a *App) Core() *nightshift.Service { return a.core }
