// Package funnel manages per-step onboarding ("starter") messages: their
// configuration by admins and their delivery when a user asks to join a
// tracked channel.
package funnel

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"mailbot/internal/services/wizard"
	"mailbot/internal/storage"
	"mailbot/internal/transport"
	logx "mailbot/pkg/logx"
)

// Deleter arms scheduled deletions for delivered starter messages.
type Deleter interface {
	Schedule(ctx context.Context, chatID int64, messageID int, fireAt time.Time) error
}

type Service struct {
	store   *storage.Store
	gw      transport.Gateway
	deleter Deleter
	admins  []int64
	log     logx.Logger
}

func New(store *storage.Store, gw transport.Gateway, deleter Deleter, admins []int64, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, gw: gw, deleter: deleter, admins: admins, log: log}
}

// Enabled reports whether step's starter message is switched on.
func (s *Service) Enabled(ctx context.Context, step int) bool {
	vals, err := s.store.GetSettings(ctx, []string{storage.SettingSendStart}, step)
	if err != nil || vals[0] == nil {
		return false
	}
	return *vals[0] == "1"
}

// HandleJoinRequest records the requester as a recipient and, when the next
// funnel step has an enabled starter message, emits it.
func (s *Service) HandleJoinRequest(ctx context.Context, req *transport.JoinRequest) {
	if err := s.store.UpsertRecipient(ctx, req.FromID, req.FromUsername); err != nil {
		s.log.Warn("failed recording join requester", logx.Int64("user", req.FromID), logx.Err(err))
		return
	}
	r, ok, err := s.store.GetRecipient(ctx, req.FromID)
	if err != nil || !ok {
		s.log.Warn("failed loading join requester", logx.Int64("user", req.FromID), logx.Err(err))
		return
	}
	if !s.Enabled(ctx, r.Step+1) {
		return
	}
	s.Emit(ctx, req.FromID, r.Step+1, req.ChatID)
}

// Emit delivers the starter message configured for step to the recipient.
//
// It is idempotent per recipient+channel: once a relationship is recorded
// for channelID, later calls are no-ops. Configuration problems (missing
// source message, malformed delete delay) are reported to the admin
// audience instead of the triggering caller.
func (s *Service) Emit(ctx context.Context, recipientID int64, step int, channelID int64) {
	vals, err := s.store.GetSettings(ctx, []string{
		storage.SettingStartMessageID,
		storage.SettingStartFromChat,
		storage.SettingStartKeyboard,
		storage.SettingStartDelete,
	}, step)
	if err != nil {
		s.log.Error("failed loading funnel settings", logx.Int("step", step), logx.Err(err))
		return
	}
	msgID := strVal(vals[0])
	fromChat := strVal(vals[1])
	kbJSON := strVal(vals[2])
	delRaw := strVal(vals[3])

	if channelID != 0 {
		seen, err := s.store.HasChannel(ctx, recipientID, channelID)
		if err != nil {
			s.log.Warn("channel relationship lookup failed", logx.Err(err))
			return
		}
		if seen {
			return
		}
	}

	var deleteAfter time.Duration
	if delRaw != "" && delRaw != "0" {
		d, err := wizard.ParseClockDuration(delRaw)
		if err != nil {
			s.notifyAdmins(ctx, fmt.Sprintf("Bad starter auto-delete format: %s", delRaw))
		} else {
			deleteAfter = d
		}
	}

	srcMsg, _ := strconv.Atoi(msgID)
	srcChat, _ := strconv.ParseInt(fromChat, 10, 64)
	if srcMsg == 0 || srcChat == 0 {
		s.notifyAdmins(ctx, fmt.Sprintf("Starter message for step %d is not configured", step))
		return
	}

	opt := &transport.SendOptions{MarkupJSON: kbJSON}
	ref, err := s.gw.Copy(ctx, transport.ChatTarget{ChatID: recipientID},
		transport.MessageRef{ChatID: srcChat, MessageID: srcMsg}, opt)
	if err != nil {
		s.log.Warn("starter message delivery failed",
			logx.Int64("recipient", recipientID), logx.Int("step", step), logx.Err(err))
		return
	}

	if err := s.store.AdvanceRecipientStep(ctx, recipientID); err != nil {
		s.log.Warn("failed advancing funnel step", logx.Int64("recipient", recipientID), logx.Err(err))
	}
	if channelID != 0 {
		if err := s.store.AddChannel(ctx, recipientID, channelID); err != nil {
			s.log.Warn("failed recording channel relationship", logx.Err(err))
		}
	}
	if deleteAfter > 0 {
		if err := s.deleter.Schedule(ctx, recipientID, ref.MessageID, time.Now().Add(deleteAfter)); err != nil {
			s.log.Warn("failed scheduling starter auto-delete", logx.Err(err))
		}
	}
}

func (s *Service) notifyAdmins(ctx context.Context, text string) {
	for _, id := range s.admins {
		if _, err := s.gw.SendText(ctx, transport.ChatTarget{ChatID: id}, text, nil); err != nil {
			s.log.Debug("admin notice failed", logx.Int64("admin", id), logx.Err(err))
		}
	}
}

func strVal(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
