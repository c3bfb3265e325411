package funnel

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"mailbot/internal/services/wizard"
	"mailbot/internal/storage"
	"mailbot/internal/transport"
	logx "mailbot/pkg/logx"
)

// Settings wizard states. Separate from the broadcast wizard: an admin
// configuring starter messages is a different conversation.
type settingsState int

const (
	stateIdle settingsState = iota
	stateAwaitingStep
	stateAwaitingMessage
	stateAwaitingKeyboard
	stateAwaitingDeleteTime
)

// Callback data owned by the settings wizard.
const (
	CBOpen          = "fs_open"
	CBChangeMessage = "fs_msg"
	CBChangeDelete  = "fs_delete"
	CBToggle        = "fs_toggle"
	CBEditKeyboard  = "fs_kb"
	CBSave          = "fs_save"
)

type settingsSession struct {
	chatID int64
	state  settingsState
	step   int

	draftSource  transport.MessageRef
	draftButtons []transport.Button
	draftKB      string // serialized markup for storage
}

// SettingsWizard drives the per-step starter message configuration menu.
type SettingsWizard struct {
	svc *Service
	// MarkupJSON serializes buttons for the settings blob. Injected so the
	// funnel package stays transport-implementation agnostic.
	markupJSON func([]transport.Button) string

	mu       sync.Mutex
	sessions map[int64]*settingsSession
}

func NewSettingsWizard(svc *Service, markupJSON func([]transport.Button) string) *SettingsWizard {
	return &SettingsWizard{
		svc:        svc,
		markupJSON: markupJSON,
		sessions:   map[int64]*settingsSession{},
	}
}

func (w *SettingsWizard) session(adminID int64) *settingsSession {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.sessions[adminID]
	if !ok {
		s = &settingsSession{}
		w.sessions[adminID] = s
	}
	return s
}

// Cancel drops the admin's settings session, if any.
func (w *SettingsWizard) Cancel(adminID int64) bool {
	s := w.session(adminID)
	if s.state == stateIdle {
		return false
	}
	*s = settingsSession{}
	return true
}

// Open starts the settings conversation: pick a step or create a new one.
func (w *SettingsWizard) Open(ctx context.Context, adminID, chatID int64) {
	s := w.session(adminID)
	*s = settingsSession{chatID: chatID, state: stateAwaitingStep}

	n, err := w.svc.store.StepCount(ctx)
	if err != nil {
		w.svc.log.Warn("step count failed", logx.Err(err))
	}
	w.send(ctx, chatID, fmt.Sprintf(
		"You have %d starter messages\nSend the number of the one to edit (1 to %d)\nSend 0 to add a new starter message", n, n), nil)
}

func (w *SettingsWizard) HandleMessage(ctx context.Context, msg *transport.Message) bool {
	s := w.session(msg.FromID)
	switch s.state {
	case stateAwaitingStep:
		w.onStepNumber(ctx, s, msg)
	case stateAwaitingMessage:
		w.onStarterMessage(ctx, s, msg)
	case stateAwaitingKeyboard:
		w.onStarterKeyboard(ctx, s, msg)
	case stateAwaitingDeleteTime:
		w.onDeleteTime(ctx, s, msg)
	default:
		return false
	}
	return true
}

func (w *SettingsWizard) HandleCallback(ctx context.Context, cb *transport.Callback) bool {
	s := w.session(cb.FromID)
	switch cb.Data {
	case CBChangeMessage:
		if s.step == 0 {
			return false
		}
		s.state = stateAwaitingMessage
		w.send(ctx, s.chatID, "Send the starter message", nil)
	case CBChangeDelete:
		if s.step == 0 {
			return false
		}
		s.state = stateAwaitingDeleteTime
		w.send(ctx, s.chatID,
			"Enter the delay before the starter message is deleted, as HH:MM:SS. Send 0 to keep it forever", nil)
	case CBToggle:
		if s.step == 0 {
			return false
		}
		w.toggle(ctx, s)
	case CBEditKeyboard:
		if s.state != stateAwaitingMessage && s.draftSource.MessageID == 0 {
			return false
		}
		s.state = stateAwaitingKeyboard
		w.send(ctx, s.chatID,
			"Send the keyboard, one button per line, as\nlabel;url\nExample:\nGoogle;google.com\nFacebook;facebook.com", nil)
	case CBSave:
		if s.draftSource.MessageID == 0 {
			return false
		}
		w.save(ctx, cb.FromID, s)
	default:
		return false
	}
	return true
}

func (w *SettingsWizard) onStepNumber(ctx context.Context, s *settingsSession, msg *transport.Message) {
	text := strings.TrimSpace(msg.Text)
	step, err := strconv.Atoi(text)
	if err != nil || step < 0 {
		w.send(ctx, s.chatID, "That's not a number", nil)
		return
	}
	if step == 0 {
		step, err = w.svc.store.CreateStep(ctx)
		if err != nil {
			w.svc.log.Error("create step failed", logx.Err(err))
			w.send(ctx, s.chatID, "Could not create a new starter message", nil)
			return
		}
	}
	vals, err := w.svc.store.GetSettings(ctx, []string{storage.SettingStartMessageID}, step)
	if err != nil || vals[0] == nil {
		w.send(ctx, s.chatID, "There is no such starter message!", nil)
		return
	}
	s.step = step
	s.state = stateIdle
	w.sendStepMenu(ctx, s)
}

func (w *SettingsWizard) sendStepMenu(ctx context.Context, s *settingsSession) {
	toggleLabel := "Disable starter message"
	if !w.svc.Enabled(ctx, s.step) {
		toggleLabel = "Enable starter message"
	}
	w.send(ctx, s.chatID, fmt.Sprintf("Starter message %d", s.step), []transport.MenuButton{
		{Label: "Change starter message", Data: CBChangeMessage},
		{Label: "Configure deletion", Data: CBChangeDelete},
		{Label: toggleLabel, Data: CBToggle},
	})
}

func (w *SettingsWizard) onStarterMessage(ctx context.Context, s *settingsSession, msg *transport.Message) {
	s.draftSource = transport.MessageRef{ChatID: msg.ChatID, MessageID: msg.ID}
	s.draftButtons = nil
	s.draftKB = ""
	s.state = stateIdle
	w.sendSaveMenu(ctx, s)
}

func (w *SettingsWizard) onStarterKeyboard(ctx context.Context, s *settingsSession, msg *transport.Message) {
	buttons, err := wizard.ParseKeyboard(msg.Text)
	if err != nil {
		w.send(ctx, s.chatID, "Bad keyboard format, try again", nil)
		return
	}
	ref, err := w.svc.gw.Copy(ctx, transport.ChatTarget{ChatID: s.chatID}, s.draftSource,
		&transport.SendOptions{Buttons: buttons})
	if err != nil {
		w.svc.log.Warn("starter keyboard preview failed", logx.Err(err))
		w.send(ctx, s.chatID, "Could not attach the keyboard, try again", nil)
		return
	}
	s.draftSource = ref
	s.draftButtons = buttons
	s.draftKB = w.markupJSON(buttons)
	s.state = stateIdle
	w.sendSaveMenu(ctx, s)
}

func (w *SettingsWizard) sendSaveMenu(ctx context.Context, s *settingsSession) {
	w.send(ctx, s.chatID, "Starter message menu", []transport.MenuButton{
		{Label: "Edit keyboard", Data: CBEditKeyboard},
		{Label: "Save", Data: CBSave},
	})
}

func (w *SettingsWizard) save(ctx context.Context, adminID int64, s *settingsSession) {
	err := w.svc.store.SetSettings(ctx, map[string]string{
		storage.SettingStartMessageID: strconv.Itoa(s.draftSource.MessageID),
		storage.SettingStartFromChat:  strconv.FormatInt(s.draftSource.ChatID, 10),
		storage.SettingStartKeyboard:  s.draftKB,
	}, s.step)
	if err != nil {
		w.svc.log.Error("starter message save failed", logx.Err(err))
		w.send(ctx, s.chatID, "Could not save the starter message", nil)
		return
	}
	w.send(ctx, s.chatID, "Starter message saved. It looks like this:", nil)
	// Preview by emitting to the admin; channel 0 skips the idempotency
	// check and the relationship record.
	w.svc.Emit(ctx, adminID, s.step, 0)
	s.draftSource = transport.MessageRef{}
	s.draftButtons = nil
	s.draftKB = ""
}

func (w *SettingsWizard) onDeleteTime(ctx context.Context, s *settingsSession, msg *transport.Message) {
	text := strings.TrimSpace(msg.Text)
	if text != "0" {
		if _, err := wizard.ParseClockDuration(text); err != nil {
			w.send(ctx, s.chatID, "Bad time format, want HH:MM:SS", nil)
			return
		}
	}
	if err := w.svc.store.SetSettings(ctx, map[string]string{storage.SettingStartDelete: text}, s.step); err != nil {
		w.svc.log.Error("delete delay save failed", logx.Err(err))
		w.send(ctx, s.chatID, "Could not save the delay", nil)
		return
	}
	s.state = stateIdle
	w.send(ctx, s.chatID, "Done!", nil)
}

func (w *SettingsWizard) toggle(ctx context.Context, s *settingsSession) {
	enabled := w.svc.Enabled(ctx, s.step)
	next := "1"
	text := "Starter message enabled!"
	if enabled {
		next = "0"
		text = "Starter message disabled!"
	}
	if err := w.svc.store.SetSettings(ctx, map[string]string{storage.SettingSendStart: next}, s.step); err != nil {
		w.svc.log.Error("toggle failed", logx.Err(err))
		return
	}
	w.send(ctx, s.chatID, text, nil)
}

func (w *SettingsWizard) send(ctx context.Context, chatID int64, text string, menu []transport.MenuButton) {
	var opt *transport.SendOptions
	if len(menu) > 0 {
		opt = &transport.SendOptions{Menu: menu}
	}
	if _, err := w.svc.gw.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text, opt); err != nil {
		w.svc.log.Warn("settings prompt failed", logx.Int64("chat", chatID), logx.Err(err))
	}
}
