// Package wizard drives an admin through composing a broadcast job: payload
// message, optional inline keyboard, optional auto-delete delay, optional
// success cap, audience filter and delivery mode. The finished job is handed
// to the dispatch engine; a cancel from any state discards the draft.
package wizard

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"mailbot/internal/services/dispatch"
	"mailbot/internal/transport"
	logx "mailbot/pkg/logx"
)

// Manager holds one wizard session per admin. Sessions are keyed by admin
// user ID, so state never leaks across unrelated conversations. m.mu guards
// only the session map; each session has its own mutex, held across every
// state transition, so a cancel can never race the run-completion reset.
type Manager struct {
	gw       transport.Gateway
	engine   Engine
	audience Audience
	log      logx.Logger

	mu       sync.Mutex
	sessions map[int64]*session

	runMu     sync.Mutex
	activeRun *dispatch.Run
}

func New(gw transport.Gateway, engine Engine, audience Audience, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		gw:       gw,
		engine:   engine,
		audience: audience,
		log:      log,
		sessions: map[int64]*session{},
	}
}

func (m *Manager) session(adminID int64) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[adminID]
	if !ok {
		s = &session{adminID: adminID, state: StateIdle}
		m.sessions[adminID] = s
	}
	return s
}

// StateOf reports the current state of an admin's session (Idle if none).
func (m *Manager) StateOf(adminID int64) State {
	s := m.session(adminID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Begin starts a new composition, discarding any previous draft.
func (m *Manager) Begin(ctx context.Context, adminID, chatID int64) {
	s := m.session(adminID)
	s.mu.Lock()
	s.chatID = chatID
	s.state = StateAwaitingMessage
	s.draft = draft{}
	s.mu.Unlock()
	m.send(ctx, chatID, "Send the message to broadcast", nil)
}

// Cancel aborts the session from any state and drops accumulated data.
func (m *Manager) Cancel(ctx context.Context, adminID int64) bool {
	s := m.session(adminID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return m.cancelLocked(ctx, s)
}

// cancelLocked is Cancel for callers already holding s.mu.
func (m *Manager) cancelLocked(ctx context.Context, s *session) bool {
	if s.state == StateIdle {
		return false
	}
	chatID := s.chatID
	s.state = StateIdle
	s.draft = draft{}
	m.send(ctx, chatID, "Cancelled", nil)
	return true
}

// StopActive cancels the in-flight broadcast run, if any.
func (m *Manager) StopActive() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.activeRun == nil {
		return false
	}
	m.activeRun.Cancel()
	return true
}

// HandleMessage feeds an admin message into the session. Returns false when
// the session is idle and the message is none of the wizard's business.
func (m *Manager) HandleMessage(ctx context.Context, msg *transport.Message) bool {
	s := m.session(msg.FromID)
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateAwaitingMessage:
		m.onPayload(ctx, s, msg)
	case StateAwaitingKeyboardEdit:
		m.onKeyboard(ctx, s, msg)
	case StateAwaitingDeleteTime:
		m.onDeleteTime(ctx, s, msg)
	case StateAwaitingAmount:
		m.onAmount(ctx, s, msg)
	case StateAwaitingAudienceFilter:
		m.onAudienceStep(ctx, s, msg)
	default:
		return false
	}
	return true
}

// HandleCallback feeds a menu button press into the session. Returns false
// for callback data the wizard doesn't own.
func (m *Manager) HandleCallback(ctx context.Context, cb *transport.Callback) bool {
	s := m.session(cb.FromID)
	s.mu.Lock()
	defer s.mu.Unlock()
	switch cb.Data {
	case CBEditKeyboard:
		if s.state != StateActionMenu {
			return false
		}
		s.state = StateAwaitingKeyboardEdit
		m.send(ctx, s.chatID,
			"Send the keyboard, one button per line, as\nlabel;url\nExample:\nGoogle;google.com\nFacebook;facebook.com", nil)
	case CBDeleteTime:
		if s.state != StateActionMenu {
			return false
		}
		s.state = StateAwaitingDeleteTime
		m.send(ctx, s.chatID,
			"Enter the delay before delivered copies are deleted, as HH:MM:SS. Send 0 to keep them forever", nil)
	case CBCancel:
		return m.cancelLocked(ctx, s)
	case CBConfirm:
		if s.state != StateActionMenu {
			return false
		}
		s.state = StateAwaitingAmount
		m.send(ctx, s.chatID, "How many recipients? Enter a number or press the button to send to all",
			[]transport.MenuButton{{Label: "Send to all", Data: CBSendAll}})
	case CBSendAll:
		if s.state != StateAwaitingAmount {
			return false
		}
		s.draft.countLimit = 0
		m.askAudience(ctx, s)
	case CBModeThrottled, CBModeFast:
		if s.state != StateAwaitingMode {
			return false
		}
		mode := dispatch.ModeThrottled
		if cb.Data == CBModeFast {
			mode = dispatch.ModeConcurrent
		}
		m.startDispatch(ctx, s, mode)
	default:
		return false
	}
	return true
}

func (m *Manager) onPayload(ctx context.Context, s *session, msg *transport.Message) {
	s.draft.source = transport.MessageRef{ChatID: msg.ChatID, MessageID: msg.ID}
	s.state = StateActionMenu
	m.sendActionMenu(ctx, s)
}

func (m *Manager) onKeyboard(ctx context.Context, s *session, msg *transport.Message) {
	buttons, err := ParseKeyboard(msg.Text)
	if err != nil {
		// Input error: re-prompt, state unchanged.
		m.send(ctx, s.chatID, "Bad keyboard format, try again", nil)
		return
	}
	// Re-render the payload with the new controls so the admin sees the
	// final result, and track that copy as the new payload.
	ref, err := m.gw.Copy(ctx, transport.ChatTarget{ChatID: s.chatID}, s.draft.source,
		&transport.SendOptions{Buttons: buttons})
	if err != nil {
		m.log.Warn("keyboard preview failed", logx.Int64("admin", s.adminID), logx.Err(err))
		m.send(ctx, s.chatID, "Could not attach the keyboard, try again", nil)
		return
	}
	s.draft.buttons = buttons
	s.draft.source = ref
	s.state = StateActionMenu
	m.sendActionMenu(ctx, s)
}

func (m *Manager) onDeleteTime(ctx context.Context, s *session, msg *transport.Message) {
	text := strings.TrimSpace(msg.Text)
	if text == "0" {
		s.draft.deleteAfter = 0
		s.state = StateActionMenu
		m.sendActionMenu(ctx, s)
		return
	}
	d, err := ParseClockDuration(text)
	if err != nil {
		m.send(ctx, s.chatID, "Bad time format, want HH:MM:SS", nil)
		return
	}
	s.draft.deleteAfter = d
	s.state = StateActionMenu
	m.sendActionMenu(ctx, s)
}

func (m *Manager) onAmount(ctx context.Context, s *session, msg *transport.Message) {
	text := strings.TrimSpace(msg.Text)
	n, err := strconv.Atoi(text)
	if err != nil || !isDigits(text) {
		m.send(ctx, s.chatID, "That's not a number", nil)
		return
	}
	if n <= 0 {
		m.send(ctx, s.chatID, "Enter a number above zero", nil)
		return
	}
	s.draft.countLimit = n
	m.askAudience(ctx, s)
}

func (m *Manager) onAudienceStep(ctx context.Context, s *session, msg *transport.Message) {
	text := strings.TrimSpace(msg.Text)
	if !isDigits(text) {
		m.send(ctx, s.chatID, "That's not a number", nil)
		return
	}
	step, err := strconv.Atoi(text)
	if err != nil {
		m.send(ctx, s.chatID, "That's not a number", nil)
		return
	}
	s.draft.step = step
	s.state = StateAwaitingMode
	m.send(ctx, s.chatID, "Choose the delivery mode", []transport.MenuButton{
		{Label: "Throttled", Data: CBModeThrottled},
		{Label: "Fast (concurrent)", Data: CBModeFast},
	})
}

func (m *Manager) askAudience(ctx context.Context, s *session) {
	s.state = StateAwaitingAudienceFilter
	m.send(ctx, s.chatID,
		"Enter the funnel step to target (only recipients on that step get the broadcast). Send 0 to target everyone", nil)
}

func (m *Manager) sendActionMenu(ctx context.Context, s *session) {
	m.send(ctx, s.chatID, "Broadcast menu", []transport.MenuButton{
		{Label: "Edit keyboard", Data: CBEditKeyboard},
		{Label: "Set auto-delete", Data: CBDeleteTime},
		{Label: "Cancel broadcast", Data: CBCancel},
		{Label: "Confirm broadcast", Data: CBConfirm},
	})
}

// startDispatch builds the DispatchJob from the draft and runs it. The run
// executes in its own goroutine; progress is reported by editing a status
// message in the admin chat.
func (m *Manager) startDispatch(ctx context.Context, s *session, mode dispatch.Mode) {
	m.runMu.Lock()
	if m.activeRun != nil {
		m.runMu.Unlock()
		m.send(ctx, s.chatID, "Another broadcast is already running, /stop it first", nil)
		return
	}
	run := dispatch.NewRun(s.draft.countLimit)
	m.activeRun = run
	m.runMu.Unlock()

	job := dispatch.Job{
		Source:      s.draft.source,
		Buttons:     s.draft.buttons,
		DeleteAfter: s.draft.deleteAfter,
		CountLimit:  s.draft.countLimit,
		Step:        s.draft.step,
		Mode:        mode,
	}
	s.state = StateDispatching
	chatID := s.chatID

	recipients, err := m.audience.RecipientIDs(ctx, job.Step)
	if err != nil {
		m.clearActive()
		s.state = StateIdle
		m.log.Error("audience lookup failed", logx.Err(err))
		m.send(ctx, chatID, "Could not load the recipient list", nil)
		return
	}

	statusRef, _ := m.gw.SendText(ctx, transport.ChatTarget{ChatID: chatID}, "Broadcasting..", nil)
	progress := func(sum dispatch.Summary) {
		text := fmt.Sprintf("Sent: %d, ok: %d, failed: %d", sum.Attempted, sum.Succeeded, sum.Failed)
		if err := m.gw.EditText(ctx, statusRef, text, nil); err != nil {
			m.log.Debug("progress edit failed", logx.Err(err))
		}
	}

	go func() {
		defer m.clearActive()
		sum := m.engine.Execute(ctx, job, recipients, run, progress)
		final := fmt.Sprintf("Broadcast finished\nTotal: %d\nDelivered: %d\nFailed: %d",
			sum.Attempted, sum.Succeeded, sum.Failed)
		if _, err := m.gw.SendText(ctx, transport.ChatTarget{ChatID: chatID}, final, nil); err != nil {
			m.log.Warn("summary send failed", logx.Err(err))
		}
		// Reset only if nothing else (a cancel, a fresh Begin) already moved
		// the session on.
		s.mu.Lock()
		if s.state == StateDispatching {
			s.state = StateIdle
			s.draft = draft{}
		}
		s.mu.Unlock()
	}()
}

func (m *Manager) clearActive() {
	m.runMu.Lock()
	m.activeRun = nil
	m.runMu.Unlock()
}

func (m *Manager) send(ctx context.Context, chatID int64, text string, menu []transport.MenuButton) {
	var opt *transport.SendOptions
	if len(menu) > 0 {
		opt = &transport.SendOptions{Menu: menu}
	}
	if _, err := m.gw.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text, opt); err != nil {
		m.log.Warn("wizard prompt failed", logx.Int64("chat", chatID), logx.Err(err))
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
