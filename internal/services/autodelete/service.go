// Package autodelete schedules and executes delayed message deletions.
//
// Deletions are persisted in sqlite before they are due, so a process
// restart never loses an armed deletion: the first sweep after start fires
// whatever came due while the bot was down. Firing is best-effort; a message
// the platform already removed is not an error worth surfacing.
package autodelete

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mailbot/internal/storage"
	"mailbot/internal/transport"
	logx "mailbot/pkg/logx"
)

type Config struct {
	// SweepEvery is how often due rows are fired. Default 15s.
	SweepEvery time.Duration
}

type Service struct {
	cfg   Config
	store *storage.Store
	gw    transport.Gateway
	log   logx.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID

	runCtx    context.Context
	runCancel context.CancelFunc
}

func New(cfg Config, store *storage.Store, gw transport.Gateway, log logx.Logger) *Service {
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, store: store, gw: gw, log: log}
}

// Schedule arms a deletion of (chatID, messageID) at fireAt. Idempotent per
// message: re-scheduling overwrites the fire time.
func (s *Service) Schedule(ctx context.Context, chatID int64, messageID int, fireAt time.Time) error {
	d := storage.ScheduledDeletion{
		Key:       storage.DeletionKey(chatID, messageID),
		ChatID:    chatID,
		MessageID: messageID,
		FireAt:    fireAt,
	}
	if err := s.store.PutDeletion(ctx, d); err != nil {
		return fmt.Errorf("persist scheduled deletion: %w", err)
	}
	s.log.Debug("deletion scheduled",
		logx.String("key", d.Key), logx.Time("fire_at", fireAt))
	return nil
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	c := cron.New()
	id, err := c.AddFunc(fmt.Sprintf("@every %s", s.cfg.SweepEvery), func() {
		s.Sweep(s.runCtx, time.Now())
	})
	if err != nil {
		s.runCancel()
		s.runCtx, s.runCancel = nil, nil
		return err
	}
	s.cron = c
	s.entryID = id
	c.Start()

	// Catch up on anything that came due while we were down.
	go s.Sweep(s.runCtx, time.Now())

	s.log.Info("autodelete sweep started", logx.Duration("every", s.cfg.SweepEvery))
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	cancel := s.runCancel
	s.cron = nil
	s.runCtx, s.runCancel = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c == nil {
		return nil
	}
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	return nil
}

// Sweep fires every due deletion once and removes its row. Gateway errors
// only log: the row is still removed, since retrying a delete that the
// platform rejected (message gone, chat gone) will never succeed.
func (s *Service) Sweep(ctx context.Context, now time.Time) {
	due, err := s.store.DueDeletions(ctx, now, 200)
	if err != nil {
		s.log.Warn("deletion sweep query failed", logx.Err(err))
		return
	}
	for _, d := range due {
		if ctx.Err() != nil {
			return
		}
		ref := transport.MessageRef{ChatID: d.ChatID, MessageID: d.MessageID}
		if err := s.gw.Delete(ctx, ref); err != nil {
			s.log.Debug("scheduled deletion failed",
				logx.String("key", d.Key), logx.Err(err))
		}
		if err := s.store.RemoveDeletion(ctx, d.Key); err != nil {
			s.log.Warn("failed removing fired deletion", logx.String("key", d.Key), logx.Err(err))
		}
	}
	if len(due) > 0 {
		s.log.Debug("deletion sweep done", logx.Int("fired", len(due)))
	}
}
