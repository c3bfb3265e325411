// Package census counts how many recipients are still reachable and can
// prune those who are not. Reachability is probed with a chat action, which
// fails once a user has blocked or deleted the bot.
package census

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"mailbot/internal/storage"
	"mailbot/internal/transport"
	logx "mailbot/pkg/logx"
)

type Config struct {
	// BatchSize is the fast-count fan-out width. Default 25.
	BatchSize int
	// BatchPause separates fast-count batches. Default 1s.
	BatchPause time.Duration
	// ProgressEvery is the sequential progress period. Default 10.
	ProgressEvery int
}

type Service struct {
	cfg   Config
	store *storage.Store
	gw    transport.Gateway
	log   logx.Logger
}

// Result is a liveness tally. Removed is non-zero only for prune runs.
type Result struct {
	Total   int
	Active  int
	Removed int
}

type Progress func(Result)

func New(cfg Config, store *storage.Store, gw transport.Gateway, log logx.Logger) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.BatchPause <= 0 {
		cfg.BatchPause = time.Second
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = 10
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, store: store, gw: gw, log: log}
}

// Count probes every recipient sequentially.
func (s *Service) Count(ctx context.Context, progress Progress) (Result, error) {
	recipients, err := s.store.ListRecipients(ctx, 0)
	if err != nil {
		return Result{}, err
	}
	var res Result
	for _, r := range recipients {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if progress != nil && res.Total%s.cfg.ProgressEvery == 0 {
			progress(res)
		}
		res.Total++
		if s.gw.Probe(ctx, transport.ChatTarget{ChatID: r.ID}) == nil {
			res.Active++
		}
	}
	return res, nil
}

// CountFast probes in concurrent batches, pausing between batches — the same
// crude flow control the fast broadcast mode uses.
func (s *Service) CountFast(ctx context.Context, progress Progress) (Result, error) {
	recipients, err := s.store.ListRecipients(ctx, 0)
	if err != nil {
		return Result{}, err
	}
	var total, active atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < len(recipients); i += s.cfg.BatchSize {
		if ctx.Err() != nil {
			break
		}
		end := i + s.cfg.BatchSize
		if end > len(recipients) {
			end = len(recipients)
		}
		for _, r := range recipients[i:end] {
			wg.Add(1)
			go func(id int64) {
				defer wg.Done()
				if s.gw.Probe(ctx, transport.ChatTarget{ChatID: id}) == nil {
					active.Add(1)
				}
				total.Add(1)
			}(r.ID)
		}
		select {
		case <-ctx.Done():
		case <-time.After(s.cfg.BatchPause):
		}
		if progress != nil {
			progress(Result{Total: int(total.Load()), Active: int(active.Load())})
		}
	}
	wg.Wait()
	return Result{Total: int(total.Load()), Active: int(active.Load())}, ctx.Err()
}

// PruneInactive deletes recipients whose probe fails permanently. A
// rate-limit response is not treated as inactive; the recipient is skipped
// and stays in the store.
func (s *Service) PruneInactive(ctx context.Context, progress Progress) (Result, error) {
	recipients, err := s.store.ListRecipients(ctx, 0)
	if err != nil {
		return Result{}, err
	}
	var res Result
	for _, r := range recipients {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if progress != nil && res.Total%50 == 0 {
			progress(res)
		}
		res.Total++
		err := s.gw.Probe(ctx, transport.ChatTarget{ChatID: r.ID})
		if err == nil {
			res.Active++
			continue
		}
		var rl *transport.RateLimitedError
		if errors.As(err, &rl) {
			continue
		}
		if derr := s.store.DeleteRecipient(ctx, r.ID); derr != nil {
			s.log.Warn("failed deleting inactive recipient", logx.Int64("recipient", r.ID), logx.Err(derr))
			continue
		}
		res.Removed++
	}
	return res, nil
}
