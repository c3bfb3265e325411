// Package dispatch executes broadcast jobs against the messaging gateway.
//
// The engine owns the retry/backoff policy and the partial-failure
// bookkeeping: rate-limit errors suspend only the current recipient and
// retry it, permanent errors are recorded and skipped, and no single
// recipient can abort a run. Cancellation is cooperative — checked between
// recipients in throttled mode and between batches in concurrent mode.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"mailbot/internal/transport"
	logx "mailbot/pkg/logx"
)

type Config struct {
	// SendInterval paces throttled mode. Default 50ms.
	SendInterval time.Duration
	// ProgressEvery is the throttled-mode snapshot period in attempts.
	// Default 50.
	ProgressEvery int
	// BatchSize is the concurrent-mode fan-out width. Default 25.
	BatchSize int
	// BatchPause separates concurrent-mode batches. Default 1s.
	BatchPause time.Duration
}

func (c Config) withDefaults() Config {
	if c.SendInterval <= 0 {
		c.SendInterval = 50 * time.Millisecond
	}
	if c.ProgressEvery <= 0 {
		c.ProgressEvery = 50
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 25
	}
	if c.BatchPause <= 0 {
		c.BatchPause = time.Second
	}
	return c
}

// Deleter arms a scheduled deletion for a delivered copy. Submission errors
// are swallowed by the engine: a missed auto-delete is not a dispatch
// failure.
type Deleter interface {
	Schedule(ctx context.Context, chatID int64, messageID int, fireAt time.Time) error
}

type Engine struct {
	cfg     Config
	gw      transport.Gateway
	deleter Deleter
	log     logx.Logger
}

func New(cfg Config, gw transport.Gateway, deleter Deleter, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{cfg: cfg.withDefaults(), gw: gw, deleter: deleter, log: log}
}

// Execute runs one job to completion and returns the final summary. It never
// returns an error: an empty audience is an immediately-complete run and
// per-recipient failures are part of the summary.
func (e *Engine) Execute(ctx context.Context, job Job, recipients []int64, run *Run, progress Progress) Summary {
	log := e.log.With(logx.String("run", run.ID), logx.String("mode", string(job.Mode)))
	log.Info("broadcast started",
		logx.Int("recipients", len(recipients)),
		logx.Int("count_limit", job.CountLimit),
		logx.Int("step", job.Step))

	switch job.Mode {
	case ModeConcurrent:
		e.runConcurrent(ctx, job, recipients, run, progress)
	default:
		e.runThrottled(ctx, job, recipients, run, progress)
	}

	sum := run.Snapshot()
	log.Info("broadcast finished",
		logx.Int("attempted", sum.Attempted),
		logx.Int("succeeded", sum.Succeeded),
		logx.Int("failed", sum.Failed),
		logx.Bool("cancelled", run.Cancelled()))
	return sum
}

func (e *Engine) runThrottled(ctx context.Context, job Job, recipients []int64, run *Run, progress Progress) {
	limiter := rate.NewLimiter(rate.Every(e.cfg.SendInterval), 1)
	for _, id := range recipients {
		if run.Cancelled() || ctx.Err() != nil {
			return
		}
		if !run.acquire() {
			// Count limit reached: stop launching new attempts.
			return
		}
		if err := limiter.Wait(ctx); err != nil {
			run.release()
			return
		}
		e.sendOne(ctx, job, id, run)
		if progress != nil {
			if sum := run.Snapshot(); sum.Attempted%e.cfg.ProgressEvery == 0 {
				progress(sum)
			}
		}
	}
}

func (e *Engine) runConcurrent(ctx context.Context, job Job, recipients []int64, run *Run, progress Progress) {
	var wg sync.WaitGroup
	// In-flight sends from an already-launched batch always run to
	// completion, even on cancel.
	defer wg.Wait()

	for _, batch := range chunks(recipients, e.cfg.BatchSize) {
		if run.Cancelled() || run.capExhausted() || ctx.Err() != nil {
			return
		}
		for _, id := range batch {
			if !run.acquire() {
				break
			}
			wg.Add(1)
			go func(id int64) {
				defer wg.Done()
				e.sendOne(ctx, job, id, run)
			}(id)
		}
		if !sleepCtx(ctx, e.cfg.BatchPause) {
			return
		}
		if progress != nil {
			progress(run.Snapshot())
		}
	}
}

// sendOne delivers the payload to a single recipient. The caller has already
// reserved success budget; it is returned on permanent failure. Rate-limit
// errors retry the same recipient indefinitely — a recipient is never marked
// failed solely because of rate limiting.
func (e *Engine) sendOne(ctx context.Context, job Job, recipientID int64, run *Run) {
	to := transport.ChatTarget{ChatID: recipientID}
	opt := &transport.SendOptions{Buttons: job.Buttons}

	for {
		ref, err := e.gw.Copy(ctx, to, job.Source, opt)
		if err == nil {
			run.recordSuccess()
			if job.DeleteAfter > 0 {
				fireAt := time.Now().Add(job.DeleteAfter)
				if derr := e.deleter.Schedule(ctx, recipientID, ref.MessageID, fireAt); derr != nil {
					e.log.Warn("failed scheduling auto-delete",
						logx.Int64("recipient", recipientID), logx.Err(derr))
				}
			}
			return
		}

		var rl *transport.RateLimitedError
		if errors.As(err, &rl) {
			if !sleepCtx(ctx, rl.RetryAfter) {
				run.release()
				run.recordFailure()
				return
			}
			continue
		}

		run.release()
		run.recordFailure()
		e.log.Debug("send failed", logx.Int64("recipient", recipientID), logx.Err(err))
		return
	}
}

func chunks(ids []int64, n int) [][]int64 {
	if n <= 0 {
		return [][]int64{ids}
	}
	var out [][]int64
	for i := 0; i < len(ids); i += n {
		end := i + n
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[i:end])
	}
	return out
}

// sleepCtx sleeps for d, returning false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
