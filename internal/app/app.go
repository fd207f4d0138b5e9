// Package app wires configuration, storage, the Telegram dispatcher, the
// fetch/cycle machinery and the scheduler into one process.
package app

import (
	"context"
	"fmt"
	"sync"

	"notewatch/internal/config"
	"notewatch/internal/content"
	"notewatch/internal/history"
	"notewatch/internal/metrics"
	"notewatch/internal/notify"
	"notewatch/internal/scheduler"
	"notewatch/internal/watch"
	"notewatch/pkg/logx"
)

type App struct {
	cfgs *config.Manager

	logs *logx.Service
	log  logx.Logger

	backend history.Backend
	hist    *history.Store
	disp    *notify.Telegram
	alerts  *watch.Alerter
	runner  *watch.Runner
	sched   *scheduler.Service
	mets    *metrics.Set

	bg     sync.WaitGroup
	cancel context.CancelFunc
}

func New(cfgPath string) (*App, error) {
	bootLog := logx.NewConsole("info")

	cfgs := config.NewManager(cfgPath, bootLog)
	cfg, err := cfgs.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	disp, err := notify.NewTelegram(notify.TelegramConfig{
		Token:       cfg.Telegram.Token,
		PollTimeout: config.DurationOr(cfg.Telegram.PollTimeout, 0),
		RatePerSec:  cfg.Telegram.RatePerSec,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	backend, err := history.Open(history.Config{
		Driver: cfg.Storage.Driver,
		Path:   cfg.Storage.Path,
	}, log.With(logx.String("comp", "history")))
	if err != nil {
		return nil, fmt.Errorf("open state storage: %w", err)
	}
	hist := history.NewStore(backend, log.With(logx.String("comp", "history")))

	var mets *metrics.Set
	if cfg.Metrics.Enabled {
		mets = metrics.New()
	}

	alertOpts := watch.AlerterOptions{
		LastAt: hist.LastAlertAt(),
		OnMark: hist.SetLastAlertAt,
	}
	if mets != nil {
		alertOpts.OnSent = mets.AlertsTotal.Inc
	}
	alerts := watch.NewAlerter(disp, cfgs.AdminChatID, log.With(logx.String("comp", "alerts")), alertOpts)

	src, err := content.NewHTTPSource(content.HTTPConfig{
		BaseURL: cfg.Source.BaseURL,
		Token:   cfg.Source.Token,
		Timeout: config.DurationOr(cfg.Source.Timeout, 0),
	}, log.With(logx.String("comp", "source")))
	if err != nil {
		return nil, err
	}

	var runner *watch.Runner
	fetcher := watch.NewFetcher(src, log.With(logx.String("comp", "fetch")),
		func(ctx context.Context, cat content.Category, err error) {
			runner.OnCategoryError(ctx, cat, err)
		})
	runner = watch.NewRunner(cfgs, fetcher, hist, disp, alerts,
		log.With(logx.String("comp", "cycle")), watch.RunnerOptions{Metrics: mets})

	sched := scheduler.New(scheduler.Config{
		CheckAt:  cfg.Watch.CheckAt,
		Timezone: cfg.Watch.Timezone,
	}, log.With(logx.String("comp", "scheduler")))

	cfgs.SetLogger(log.With(logx.String("comp", "config")))

	return &App{
		cfgs:    cfgs,
		logs:    logSvc,
		log:     log.With(logx.String("comp", "app")),
		backend: backend,
		hist:    hist,
		disp:    disp,
		alerts:  alerts,
		runner:  runner,
		sched:   sched,
		mets:    mets,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	cfg := a.cfgs.Get()

	days, err := scheduler.ParseDays(cfg.Watch.Days)
	if err != nil {
		cancel()
		return err
	}
	if err := a.sched.Register(scheduler.Params{Days: days}, a.runner.RunCycle); err != nil {
		cancel()
		return err
	}

	a.disp.Start(runCtx, a.cfgs)
	a.sched.Start(runCtx)

	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		if err := a.cfgs.Watch(runCtx); err != nil && runCtx.Err() == nil {
			a.log.Warn("config watcher exited", logx.Err(err))
		}
	}()

	if a.mets != nil {
		addr := cfg.Metrics.Addr
		a.bg.Add(1)
		go func() {
			defer a.bg.Done()
			if err := a.mets.Serve(runCtx, addr, a.log.With(logx.String("comp", "metrics"))); err != nil && runCtx.Err() == nil {
				a.log.Warn("metrics server exited", logx.Err(err))
			}
		}()
	}

	if admin := cfg.Telegram.AdminChatID; admin != 0 {
		if err := a.disp.SendAdmin(runCtx, admin, "notewatch started"); err != nil {
			a.log.Warn("startup admin message failed", logx.Err(err))
		}
	}

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if admin := a.cfgs.AdminChatID(); admin != 0 {
		if err := a.disp.SendAdmin(ctx, admin, "notewatch stopping"); err != nil {
			a.log.Warn("shutdown admin message failed", logx.Err(err))
		}
	}

	a.sched.Stop(ctx)
	if a.cancel != nil {
		a.cancel()
	}
	a.disp.Stop(ctx)

	done := make(chan struct{})
	go func() {
		a.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("background tasks still draining at shutdown deadline")
	}

	if err := a.backend.Close(); err != nil {
		a.log.Warn("state storage close failed", logx.Err(err))
	}
	_ = a.logs.Close()
	a.log.Info("stopped")
	return nil
}
