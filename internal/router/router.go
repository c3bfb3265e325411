// Package router consumes gateway updates and routes them: recipient
// tracking, admin commands and menus, the broadcast wizard, the starter
// message settings wizard and join-request funnel triggers.
package router

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"mailbot/internal/services/census"
	"mailbot/internal/services/funnel"
	"mailbot/internal/services/wizard"
	"mailbot/internal/storage"
	"mailbot/internal/transport"
	logx "mailbot/pkg/logx"
)

type Config struct {
	AdminUserIDs  []int64
	FunnelEnabled bool
}

type Router struct {
	cfg      Config
	gw       transport.Gateway
	store    *storage.Store
	wiz      *wizard.Manager
	settings *funnel.SettingsWizard
	funnel   *funnel.Service
	census   *census.Service
	log      logx.Logger

	admins map[int64]bool
}

func New(cfg Config, gw transport.Gateway, store *storage.Store, wiz *wizard.Manager,
	settings *funnel.SettingsWizard, fn *funnel.Service, cs *census.Service, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	admins := make(map[int64]bool, len(cfg.AdminUserIDs))
	for _, id := range cfg.AdminUserIDs {
		admins[id] = true
	}
	return &Router{
		cfg: cfg, gw: gw, store: store, wiz: wiz,
		settings: settings, funnel: fn, census: cs,
		log: log, admins: admins,
	}
}

// Run consumes updates until ctx ends.
func (r *Router) Run(ctx context.Context, updates <-chan transport.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-updates:
			if !ok {
				return
			}
			r.handle(ctx, up)
		}
	}
}

func (r *Router) handle(ctx context.Context, up transport.Update) {
	switch up.Kind {
	case transport.UpdateMessage:
		if up.Message != nil {
			r.handleMessage(ctx, up.Message)
		}
	case transport.UpdateCallback:
		if up.Callback != nil {
			r.handleCallback(ctx, up.Callback)
		}
	case transport.UpdateJoinRequest:
		if up.JoinRequest != nil && r.cfg.FunnelEnabled {
			r.funnel.HandleJoinRequest(ctx, up.JoinRequest)
		}
	}
}

func (r *Router) handleMessage(ctx context.Context, msg *transport.Message) {
	// Every private-chat sender becomes a broadcast recipient.
	if msg.IsPrivate {
		if err := r.store.UpsertRecipient(ctx, msg.FromID, msg.FromUsername); err != nil {
			r.log.Warn("recipient upsert failed", logx.Int64("user", msg.FromID), logx.Err(err))
		}
	}

	if cmd := command(msg.Text); cmd != "" {
		r.handleCommand(ctx, cmd, msg)
		return
	}
	if !r.admins[msg.FromID] {
		return
	}
	if r.wiz.HandleMessage(ctx, msg) {
		return
	}
	r.settings.HandleMessage(ctx, msg)
}

func (r *Router) handleCommand(ctx context.Context, cmd string, msg *transport.Message) {
	switch cmd {
	case "id":
		r.reply(ctx, msg.ChatID, strconv.FormatInt(msg.FromID, 10), nil)
	case "adm", "admin":
		if !r.admins[msg.FromID] {
			return
		}
		r.reply(ctx, msg.ChatID, "Admin panel", adminMenu())
	case "stop":
		if !r.admins[msg.FromID] {
			return
		}
		if r.wiz.StopActive() {
			r.reply(ctx, msg.ChatID, "Stopping the broadcast..", nil)
		} else {
			r.reply(ctx, msg.ChatID, "No broadcast is running", nil)
		}
	default:
		// Unknown commands fall through to the wizards: a wizard prompt
		// answer could plausibly start with a slash.
		if r.admins[msg.FromID] {
			if r.wiz.HandleMessage(ctx, msg) {
				return
			}
			r.settings.HandleMessage(ctx, msg)
		}
	}
}

func (r *Router) handleCallback(ctx context.Context, cb *transport.Callback) {
	if err := r.gw.AnswerCallback(ctx, cb.ID, ""); err != nil {
		r.log.Debug("callback ack failed", logx.Err(err))
	}
	if !r.admins[cb.FromID] {
		return
	}

	switch cb.Data {
	case cbQuit:
		cancelled := r.wiz.Cancel(ctx, cb.FromID)
		if r.settings.Cancel(cb.FromID) && !cancelled {
			r.reply(ctx, cb.ChatID, "Cancelled", nil)
		}
	case cbBroadcast:
		r.wiz.Begin(ctx, cb.FromID, cb.ChatID)
	case cbSettings:
		r.settings.Open(ctx, cb.FromID, cb.ChatID)
	// Census runs can take minutes over a large recipient set; keep the
	// update loop responsive while they grind.
	case cbCount:
		go r.runCount(ctx, cb.ChatID, false)
	case cbCountFast:
		go r.runCount(ctx, cb.ChatID, true)
	case cbPrune:
		go r.runPrune(ctx, cb.ChatID)
	default:
		if r.wiz.HandleCallback(ctx, cb) {
			return
		}
		r.settings.HandleCallback(ctx, cb)
	}
}

func (r *Router) runCount(ctx context.Context, chatID int64, fast bool) {
	ref, _ := r.gw.SendText(ctx, transport.ChatTarget{ChatID: chatID}, "Counting..", nil)
	progress := func(res census.Result) {
		text := fmt.Sprintf("Counting.. %d total, %d active", res.Total, res.Active)
		_ = r.gw.EditText(ctx, ref, text, nil)
	}
	var (
		res census.Result
		err error
	)
	if fast {
		res, err = r.census.CountFast(ctx, progress)
	} else {
		res, err = r.census.Count(ctx, progress)
	}
	if err != nil {
		r.log.Warn("census failed", logx.Err(err))
		return
	}
	r.reply(ctx, chatID, fmt.Sprintf("Total: %d\nActive: %d", res.Total, res.Active), nil)
}

func (r *Router) runPrune(ctx context.Context, chatID int64) {
	ref, _ := r.gw.SendText(ctx, transport.ChatTarget{ChatID: chatID}, "Pruning inactive..", nil)
	progress := func(res census.Result) {
		text := fmt.Sprintf("Checking.. %d total, %d active, %d removed", res.Total, res.Active, res.Removed)
		_ = r.gw.EditText(ctx, ref, text, nil)
	}
	res, err := r.census.PruneInactive(ctx, progress)
	if err != nil {
		r.log.Warn("prune failed", logx.Err(err))
		return
	}
	r.reply(ctx, chatID,
		fmt.Sprintf("Total: %d\nActive: %d, inactive removed: %d", res.Total, res.Active, res.Removed), nil)
}

func (r *Router) reply(ctx context.Context, chatID int64, text string, menu []transport.MenuButton) {
	var opt *transport.SendOptions
	if len(menu) > 0 {
		opt = &transport.SendOptions{Menu: menu}
	}
	if _, err := r.gw.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text, opt); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat", chatID), logx.Err(err))
	}
}

// command extracts a bare command name: "/stop" and "/stop@botname" both
// yield "stop"; non-commands yield "".
func command(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	cmd := strings.Fields(text)[0][1:]
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd)
}
