// Package messaging provides the chat platform gateway for DistressWatch.
//
// It defines a pluggable delivery abstraction plus a Telegram-backed
// implementation. Delivery failures are classified so the questionnaire
// flow can distinguish "patient blocked the bot" from transient errors.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/DistressWatch/DistressWatch/internal/models"
)

// ErrRecipientBlocked marks a permanent delivery failure: the recipient has
// blocked the bot at the platform level. Transient errors are never wrapped
// with it.
var ErrRecipientBlocked = errors.New("recipient has blocked the bot")

// IsRecipientBlocked reports whether err is a blocked-by-user delivery failure.
func IsRecipientBlocked(err error) bool {
	return errors.Is(err, ErrRecipientBlocked)
}

// EventKind tags an inbound event from the chat platform.
type EventKind string

const (
	// EventCommand is a slash command such as /register or /questionnaire.
	EventCommand EventKind = "command"
	// EventCallback is an inline keyboard button press.
	EventCallback EventKind = "callback"
	// EventText is any other inbound text message.
	EventText EventKind = "text"
)

// Event is one inbound interaction from a chat user.
type Event struct {
	Kind         EventKind
	ChatID       string
	FirstName    string
	FamilyName   string
	Command      string // without leading slash, valid for EventCommand
	Args         string // command arguments, valid for EventCommand
	Text         string // valid for EventText
	CallbackData string // raw payload, valid for EventCallback
	Time         time.Time
}

// Service defines a pluggable message delivery abstraction.
// It supports sending questionnaire questions and plain text, and provides
// a channel of inbound events (commands, button presses, free text).
type Service interface {
	// ValidateAndCanonicalizeRecipient validates a recipient identifier and
	// returns its canonical form.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendText sends a plain text message to a recipient.
	SendText(ctx context.Context, to string, body string) error

	// SendQuestion sends a questionnaire question with its answer buttons.
	// firstName personalizes the distress check greeting.
	SendQuestion(ctx context.Context, to string, question models.QuestionType, firstName string) error

	// Start begins background processing (e.g., long polling for updates).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the event channel.
	Stop() error

	// Events returns a channel of inbound events.
	Events() <-chan Event
}

// CanonicalizeChatID validates a Telegram chat identifier: a base-10 signed
// integer rendered as text.
func CanonicalizeChatID(recipient string) (string, error) {
	id, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid chat id %q: %w", recipient, err)
	}
	return strconv.FormatInt(id, 10), nil
}
