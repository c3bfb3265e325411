package dispatch

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"mailbot/internal/transport"
)

// Mode selects the delivery strategy for one broadcast run.
type Mode string

const (
	// ModeThrottled delivers sequentially, paced under the platform's rate
	// ceiling. Recipients are attempted in input order.
	ModeThrottled Mode = "throttled"
	// ModeConcurrent fans out in fixed-size batches with a pause between
	// batches. No ordering guarantees within a batch.
	ModeConcurrent Mode = "concurrent"
)

// Job is the fully-specified description of one broadcast. It is immutable
// once built by the wizard and consumed exactly once by the engine.
type Job struct {
	// Source identifies the payload to replicate per recipient: the admin's
	// original message in the admin's chat.
	Source transport.MessageRef
	// Buttons is the optional inline keyboard, one button per row.
	Buttons []transport.Button
	// DeleteAfter, when > 0, schedules every delivered copy for deletion
	// that long after send.
	DeleteAfter time.Duration
	// CountLimit, when > 0, caps successful deliveries; the run stops early
	// once the cap is reached.
	CountLimit int
	// Step filters the audience by funnel step; 0 means everyone.
	Step int
	Mode Mode
}

// Summary is a consistent snapshot of a run's counters.
type Summary struct {
	Attempted int
	Succeeded int
	Failed    int
}

// Progress receives periodic snapshots during a run.
type Progress func(Summary)

// Run is the cancellable handle for one in-flight broadcast.
//
// Outcome counts live in a single packed word: succeeded in the high 32
// bits, failed in the low 32, attempted derived as their sum. One word means
// a snapshot taken while concurrent sends are recording can never observe a
// torn pair where attempted != succeeded + failed.
//
// The success budget is reserved before a send and returned on permanent
// failure, so Succeeded can never overshoot the job's CountLimit even while
// a whole batch is in flight.
type Run struct {
	ID string

	outcomes atomic.Uint64

	cancelled atomic.Bool

	limited bool
	budget  atomic.Int64
}

func NewRun(countLimit int) *Run {
	r := &Run{ID: uuid.NewString(), limited: countLimit > 0}
	if r.limited {
		r.budget.Store(int64(countLimit))
	}
	return r
}

// Cancel requests a cooperative stop: no further recipients are attempted,
// in-flight sends complete.
func (r *Run) Cancel()         { r.cancelled.Store(true) }
func (r *Run) Cancelled() bool { return r.cancelled.Load() }

func (r *Run) Snapshot() Summary {
	v := r.outcomes.Load()
	succeeded := int(v >> 32)
	failed := int(v & (1<<32 - 1))
	return Summary{
		Attempted: succeeded + failed,
		Succeeded: succeeded,
		Failed:    failed,
	}
}

// acquire reserves one unit of success budget. It returns false once the
// count limit is exhausted; callers must not attempt that recipient.
func (r *Run) acquire() bool {
	if !r.limited {
		return true
	}
	for {
		cur := r.budget.Load()
		if cur <= 0 {
			return false
		}
		if r.budget.CompareAndSwap(cur, cur-1) {
			return true
		}
	}
}

func (r *Run) release() {
	if r.limited {
		r.budget.Add(1)
	}
}

func (r *Run) capExhausted() bool {
	return r.limited && r.budget.Load() <= 0
}

func (r *Run) recordSuccess() { r.outcomes.Add(1 << 32) }
func (r *Run) recordFailure() { r.outcomes.Add(1) }
