package wizard

import (
	"context"
	"sync"
	"time"

	"mailbot/internal/services/dispatch"
	"mailbot/internal/transport"
)

// State enumerates the broadcast wizard's conversation states. One state
// machine instance exists per admin session; sessions never share state.
type State int

const (
	StateIdle State = iota
	StateAwaitingMessage
	StateActionMenu
	StateAwaitingKeyboardEdit
	StateAwaitingDeleteTime
	StateAwaitingAmount
	StateAwaitingAudienceFilter
	StateAwaitingMode
	StateDispatching
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingMessage:
		return "awaiting_message"
	case StateActionMenu:
		return "action_menu"
	case StateAwaitingKeyboardEdit:
		return "awaiting_keyboard"
	case StateAwaitingDeleteTime:
		return "awaiting_delete_time"
	case StateAwaitingAmount:
		return "awaiting_amount"
	case StateAwaitingAudienceFilter:
		return "awaiting_audience"
	case StateAwaitingMode:
		return "awaiting_mode"
	case StateDispatching:
		return "dispatching"
	default:
		return "unknown"
	}
}

// draft accumulates the job under construction. Each transition fills only
// the fields it owns; Cancel discards the whole thing.
type draft struct {
	source      transport.MessageRef
	buttons     []transport.Button
	deleteAfter time.Duration
	countLimit  int // 0 = send to all
	step        int // 0 = no filter
}

// session state is mutated from two sides: the update-handling path and the
// run-completion goroutine. mu guards every read and write of the fields
// below it.
type session struct {
	adminID int64

	mu     sync.Mutex
	chatID int64
	state  State
	draft  draft
}

// Callback data values the wizard owns. The router forwards any callback
// with these payloads to HandleCallback.
const (
	CBEditKeyboard  = "bc_kb"
	CBDeleteTime    = "bc_delete"
	CBConfirm       = "bc_confirm"
	CBCancel        = "bc_cancel"
	CBSendAll       = "bc_all"
	CBModeThrottled = "bc_mode_slow"
	CBModeFast      = "bc_mode_fast"
)

// Audience resolves the recipient set for a run. Step 0 means everyone.
type Audience interface {
	RecipientIDs(ctx context.Context, step int) ([]int64, error)
}

// Engine executes a constructed job. Satisfied by *dispatch.Engine.
type Engine interface {
	Execute(ctx context.Context, job dispatch.Job, recipients []int64, run *dispatch.Run, progress dispatch.Progress) dispatch.Summary
}
