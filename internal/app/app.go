// Package app wires the bot together: config, logging, storage, the
// Telegram gateway and the services on top of it.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"mailbot/internal/config"
	"mailbot/internal/router"
	"mailbot/internal/services/autodelete"
	"mailbot/internal/services/census"
	"mailbot/internal/services/dispatch"
	"mailbot/internal/services/funnel"
	"mailbot/internal/services/wizard"
	"mailbot/internal/storage"
	"mailbot/internal/transport"
	"mailbot/internal/transport/telegram"
	logx "mailbot/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store   *storage.Store
	adapter *telegram.Adapter
	deleter *autodelete.Service
	router  *router.Router

	updates chan transport.Update
}

// audienceStore adapts the sqlite store to the wizard's audience lookup.
type audienceStore struct{ store *storage.Store }

func (a audienceStore) RecipientIDs(ctx context.Context, step int) ([]int64, error) {
	recipients, err := a.store.ListRecipients(ctx, step)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(recipients))
	for _, r := range recipients {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
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
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	busyTimeout, _ := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	pollTimeout, _ := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, fmt.Errorf("telegram adapter: %w", err)
	}

	sweepEvery, _ := config.ParseDurationOrDefault("dispatch.sweep_every", cfg.Dispatch.SweepEvery, 15*time.Second)
	deleter := autodelete.New(autodelete.Config{SweepEvery: sweepEvery},
		store, adapter, log.With(logx.String("comp", "autodelete")))

	sendInterval, _ := config.ParseDurationField("dispatch.send_interval", cfg.Dispatch.SendInterval)
	batchPause, _ := config.ParseDurationField("dispatch.batch_pause", cfg.Dispatch.BatchPause)
	engine := dispatch.New(dispatch.Config{
		SendInterval:  sendInterval,
		ProgressEvery: cfg.Dispatch.ProgressEvery,
		BatchSize:     cfg.Dispatch.BatchSize,
		BatchPause:    batchPause,
	}, adapter, deleter, log.With(logx.String("comp", "dispatch")))

	wiz := wizard.New(adapter, engine, audienceStore{store: store},
		log.With(logx.String("comp", "wizard")))

	funnelSvc := funnel.New(store, adapter, deleter, cfg.Telegram.AdminUserIDs,
		log.With(logx.String("comp", "funnel")))
	settingsWiz := funnel.NewSettingsWizard(funnelSvc, telegram.MarkupJSON)

	censusSvc := census.New(census.Config{
		BatchSize:  cfg.Dispatch.BatchSize,
		BatchPause: batchPause,
	}, store, adapter, log.With(logx.String("comp", "census")))

	rt := router.New(router.Config{
		AdminUserIDs:  cfg.Telegram.AdminUserIDs,
		FunnelEnabled: !cfg.Funnel.Disabled,
	}, adapter, store, wiz, settingsWiz, funnelSvc, censusSvc,
		log.With(logx.String("comp", "router")))

	return &App{
		cfgMgr:  mgr,
		logSvc:  logSvc,
		log:     log,
		store:   store,
		adapter: adapter,
		deleter: deleter,
		router:  rt,
		updates: make(chan transport.Update, 128),
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	if err := a.deleter.Start(ctx); err != nil {
		return fmt.Errorf("start autodelete: %w", err)
	}
	if err := a.adapter.Start(ctx, a.updates); err != nil {
		return fmt.Errorf("start telegram: %w", err)
	}
	go a.router.Run(ctx, a.updates)

	// Live logging-level changes; other sections need a restart.
	go func() {
		_ = a.cfgMgr.Watch(ctx, func(cfg *config.Config) {
			a.logSvc.SetLevel(cfg.Logging.Level)
		})
	}()

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("mailbot started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err := a.adapter.Stop(ctx); err != nil {
		a.log.Warn("telegram stop failed", logx.Err(err))
	}
	if err := a.deleter.Stop(ctx); err != nil {
		a.log.Warn("autodelete stop failed", logx.Err(err))
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}
	a.log.Info("mailbot stopped")
	return a.logSvc.Close()
}
