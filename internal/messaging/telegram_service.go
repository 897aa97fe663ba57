package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/DistressWatch/DistressWatch/internal/models"
)

// Constants for TelegramService configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for the event channel
	DefaultChannelBufferSize = 100
	// DefaultUpdateTimeoutSeconds is the long-poll timeout for GetUpdates
	DefaultUpdateTimeoutSeconds = 30
)

// Question texts sent by the questionnaire flow.
const (
	distressQuestionText = "Hi %s! Are you experiencing diabetes-related distress today?"
	severityQuestionText = "On a scale of 1-5, how severe is your distress right now?"
)

// telegramAPI is the minimal surface of the Telegram client used by the
// service, allowing a fake in tests.
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// TelegramService implements Service over the Telegram Bot API.
type TelegramService struct {
	api    telegramAPI
	events chan Event
	done   chan struct{}
}

// NewTelegramService creates a TelegramService from a bot token.
func NewTelegramService(token string) (*TelegramService, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		slog.Error("TelegramService failed to create bot client", "error", err)
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	slog.Info("TelegramService authorized", "username", bot.Self.UserName)
	return newTelegramService(bot), nil
}

func newTelegramService(api telegramAPI) *TelegramService {
	return &TelegramService{
		api:    api,
		events: make(chan Event, DefaultChannelBufferSize),
		done:   make(chan struct{}),
	}
}

// ValidateAndCanonicalizeRecipient validates a Telegram chat ID.
func (s *TelegramService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizeChatID(recipient)
}

// Start begins long polling for Telegram updates. The update pump owns the
// event channel and closes it once polling stops, so a late inbound update
// can never hit a closed channel.
func (s *TelegramService) Start(ctx context.Context) error {
	slog.Debug("TelegramService Start invoked")
	u := tgbotapi.NewUpdate(0)
	u.Timeout = DefaultUpdateTimeoutSeconds
	updates := s.api.GetUpdatesChan(u)

	go func() {
		defer close(s.events)
		s.pumpUpdates(ctx, updates)
	}()
	slog.Debug("TelegramService update pump started")
	return nil
}

// Stop stops polling. The event channel is closed by the update pump after
// it finishes any in-flight update.
func (s *TelegramService) Stop() error {
	slog.Info("TelegramService Stop invoked")
	s.api.StopReceivingUpdates()
	close(s.done)
	return nil
}

// SendText sends a plain text message.
func (s *TelegramService) SendText(ctx context.Context, to string, body string) error {
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", to, err)
	}
	msg := tgbotapi.NewMessage(chatID, body)
	if _, err := s.api.Send(msg); err != nil {
		classified := classifyDeliveryError(err)
		slog.Error("TelegramService SendText failed", "error", classified, "to", to)
		return classified
	}
	slog.Debug("TelegramService SendText succeeded", "to", to, "body_length", len(body))
	return nil
}

// SendQuestion sends a questionnaire question with its inline keyboard.
func (s *TelegramService) SendQuestion(ctx context.Context, to string, question models.QuestionType, firstName string) error {
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", to, err)
	}

	var msg tgbotapi.MessageConfig
	switch question {
	case models.QuestionDistressCheck:
		msg = tgbotapi.NewMessage(chatID, fmt.Sprintf(distressQuestionText, firstName))
		msg.ReplyMarkup = distressKeyboard()
	case models.QuestionSeverityRating:
		msg = tgbotapi.NewMessage(chatID, severityQuestionText)
		msg.ReplyMarkup = severityKeyboard()
	default:
		return fmt.Errorf("unknown question type %q", question)
	}

	if _, err := s.api.Send(msg); err != nil {
		classified := classifyDeliveryError(err)
		slog.Error("TelegramService SendQuestion failed", "error", classified, "to", to, "question", question)
		return classified
	}
	slog.Info("TelegramService question sent", "to", to, "question", question)
	return nil
}

// Events returns the inbound event channel.
func (s *TelegramService) Events() <-chan Event {
	return s.events
}

// distressKeyboard builds the yes/no keyboard for the distress check.
func distressKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Yes", models.CallbackDistressYes),
			tgbotapi.NewInlineKeyboardButtonData("No", models.CallbackDistressNo),
		),
	)
}

// severityKeyboard builds the 1-5 keyboard for the severity rating.
func severityKeyboard() tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	row := tgbotapi.NewInlineKeyboardRow()
	for n := models.MinSeverity; n <= models.MaxSeverity; n++ {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(strconv.Itoa(n), models.SeverityCallback(n)))
		if len(row) == 3 {
			rows = append(rows, row)
			row = tgbotapi.NewInlineKeyboardRow()
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// classifyDeliveryError wraps Telegram 403 errors with ErrRecipientBlocked
// so callers can transition the patient; anything else passes through as a
// transient failure.
func classifyDeliveryError(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == 403 {
		return fmt.Errorf("%w: %s", ErrRecipientBlocked, apiErr.Message)
	}
	return err
}

// pumpUpdates converts Telegram updates into Events until the context is
// cancelled or Stop is called.
func (s *TelegramService) pumpUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	slog.Debug("TelegramService pumpUpdates starting")
	for {
		select {
		case <-ctx.Done():
			slog.Debug("TelegramService pumpUpdates stopping due to context cancellation")
			return
		case <-s.done:
			slog.Debug("TelegramService pumpUpdates stopping")
			return
		case update, ok := <-updates:
			if !ok {
				slog.Debug("TelegramService updates channel closed")
				return
			}
			s.handleUpdate(update)
		}
	}
}

func (s *TelegramService) handleUpdate(update tgbotapi.Update) {
	event, ack, ok := translateUpdate(update)
	if !ok {
		return
	}
	if ack != "" {
		// Answer the callback query so the client stops its spinner.
		if _, err := s.api.Request(tgbotapi.NewCallback(ack, "")); err != nil {
			slog.Warn("TelegramService callback ack failed", "error", err)
		}
	}
	select {
	case s.events <- event:
		slog.Debug("TelegramService event queued", "kind", event.Kind, "chatID", event.ChatID)
	default:
		slog.Warn("TelegramService event channel full, dropping event", "kind", event.Kind, "chatID", event.ChatID)
	}
}

// translateUpdate maps a Telegram update to an Event. The second return
// value is the callback query ID to acknowledge, when present.
func translateUpdate(update tgbotapi.Update) (Event, string, bool) {
	now := time.Now()
	switch {
	case update.CallbackQuery != nil:
		cq := update.CallbackQuery
		if cq.From == nil || cq.Message == nil || cq.Message.Chat == nil {
			return Event{}, "", false
		}
		return Event{
			Kind:         EventCallback,
			ChatID:       strconv.FormatInt(cq.Message.Chat.ID, 10),
			FirstName:    cq.From.FirstName,
			FamilyName:   cq.From.LastName,
			CallbackData: cq.Data,
			Time:         now,
		}, cq.ID, true
	case update.Message != nil:
		msg := update.Message
		if msg.From == nil || msg.Chat == nil {
			return Event{}, "", false
		}
		event := Event{
			ChatID:     strconv.FormatInt(msg.Chat.ID, 10),
			FirstName:  msg.From.FirstName,
			FamilyName: msg.From.LastName,
			Time:       now,
		}
		if msg.IsCommand() {
			event.Kind = EventCommand
			event.Command = msg.Command()
			event.Args = msg.CommandArguments()
		} else {
			event.Kind = EventText
			event.Text = msg.Text
		}
		return event, "", true
	}
	return Event{}, "", false
}
