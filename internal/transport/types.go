package transport

import (
	"context"
	"fmt"
	"time"
)

type UpdateKind string

const (
	UpdateMessage     UpdateKind = "message"
	UpdateCallback    UpdateKind = "callback"
	UpdateJoinRequest UpdateKind = "join_request"
)

type Update struct {
	Kind        UpdateKind
	Message     *Message
	Callback    *Callback
	JoinRequest *JoinRequest
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	IsPrivate    bool
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
}

// JoinRequest is a pending request of a user to join a chat the bot
// administers. It is the trigger for funnel starter messages.
type JoinRequest struct {
	ChatID       int64
	FromID       int64
	FromUsername string
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Button is one inline URL button. The wizard renders one button per row.
type Button struct {
	Label string
	URL   string
}

// MenuButton is one inline callback button (menu row). Data is delivered
// back verbatim in a Callback update.
type MenuButton struct {
	Label string
	Data  string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Buttons        []Button
	// Menu renders callback buttons, one per row, below any Buttons.
	Menu []MenuButton
	// MarkupJSON is a serialized inline keyboard (Telegram wire format).
	// When set it takes precedence over Buttons; used to replay a stored
	// funnel keyboard blob without re-parsing it into Buttons.
	MarkupJSON string
}

// RateLimitedError signals the platform asked us to back off. Retrying the
// same operation after RetryAfter is expected to make progress.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
}

// Gateway is the messaging transport used by all services.
//
// Copy replicates an existing message (the broadcast payload) to another
// chat and returns the new message's ref. Errors other than
// *RateLimitedError are permanent for that recipient.
type Gateway interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error

	Copy(ctx context.Context, to ChatTarget, src MessageRef, opt *SendOptions) (MessageRef, error)
	Delete(ctx context.Context, ref MessageRef) error
	Probe(ctx context.Context, to ChatTarget) error
}
