package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/DistressWatch/DistressWatch/internal/models"
)

// fakeTelegramAPI feeds updates from a plain channel and accepts all sends.
type fakeTelegramAPI struct {
	updates chan tgbotapi.Update
}

func (f *fakeTelegramAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return tgbotapi.Message{}, nil
}

func (f *fakeTelegramAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeTelegramAPI) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeTelegramAPI) StopReceivingUpdates() {}

func TestCanonicalizeChatID(t *testing.T) {
	got, err := CanonicalizeChatID("123456789")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "123456789" {
		t.Errorf("expected 123456789, got %q", got)
	}

	// Group chats have negative IDs.
	if _, err := CanonicalizeChatID("-100200300"); err != nil {
		t.Errorf("negative chat id should be valid: %v", err)
	}

	for _, bad := range []string{"", "abc", "12.5"} {
		if _, err := CanonicalizeChatID(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestClassifyDeliveryError(t *testing.T) {
	blocked := &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}
	if !IsRecipientBlocked(classifyDeliveryError(blocked)) {
		t.Error("403 should classify as recipient blocked")
	}

	badRequest := &tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"}
	if IsRecipientBlocked(classifyDeliveryError(badRequest)) {
		t.Error("400 should not classify as recipient blocked")
	}

	plain := errors.New("connection reset")
	if IsRecipientBlocked(classifyDeliveryError(plain)) {
		t.Error("network error should not classify as recipient blocked")
	}
}

func TestDistressKeyboard(t *testing.T) {
	kb := distressKeyboard()
	if len(kb.InlineKeyboard) != 1 || len(kb.InlineKeyboard[0]) != 2 {
		t.Fatalf("expected one row of two buttons, got %+v", kb.InlineKeyboard)
	}
	yes, no := kb.InlineKeyboard[0][0], kb.InlineKeyboard[0][1]
	if yes.CallbackData == nil || *yes.CallbackData != models.CallbackDistressYes {
		t.Errorf("unexpected yes callback: %v", yes.CallbackData)
	}
	if no.CallbackData == nil || *no.CallbackData != models.CallbackDistressNo {
		t.Errorf("unexpected no callback: %v", no.CallbackData)
	}
}

func TestSeverityKeyboard(t *testing.T) {
	kb := severityKeyboard()
	var buttons []tgbotapi.InlineKeyboardButton
	for _, row := range kb.InlineKeyboard {
		buttons = append(buttons, row...)
	}
	if len(buttons) != 5 {
		t.Fatalf("expected 5 severity buttons, got %d", len(buttons))
	}
	for i, b := range buttons {
		want := models.SeverityCallback(i + 1)
		if b.CallbackData == nil || *b.CallbackData != want {
			t.Errorf("button %d: expected callback %q, got %v", i, want, b.CallbackData)
		}
	}
}

func TestTranslateUpdateCommand(t *testing.T) {
	update := tgbotapi.Update{
		Message: &tgbotapi.Message{
			Text:     "/register now",
			Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 9}},
			From:     &tgbotapi.User{ID: 42, FirstName: "Dana", LastName: "Levi"},
			Chat:     &tgbotapi.Chat{ID: 42},
		},
	}
	event, ack, ok := translateUpdate(update)
	if !ok {
		t.Fatal("expected event")
	}
	if ack != "" {
		t.Errorf("commands need no callback ack, got %q", ack)
	}
	if event.Kind != EventCommand || event.Command != "register" || event.Args != "now" {
		t.Errorf("unexpected event: %+v", event)
	}
	if event.ChatID != "42" || event.FirstName != "Dana" || event.FamilyName != "Levi" {
		t.Errorf("unexpected identity: %+v", event)
	}
}

func TestTranslateUpdateCallback(t *testing.T) {
	update := tgbotapi.Update{
		CallbackQuery: &tgbotapi.CallbackQuery{
			ID:      "cb-1",
			Data:    models.CallbackDistressYes,
			From:    &tgbotapi.User{ID: 42, FirstName: "Dana"},
			Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 42}},
		},
	}
	event, ack, ok := translateUpdate(update)
	if !ok {
		t.Fatal("expected event")
	}
	if ack != "cb-1" {
		t.Errorf("expected callback ack id cb-1, got %q", ack)
	}
	if event.Kind != EventCallback || event.CallbackData != models.CallbackDistressYes {
		t.Errorf("unexpected event: %+v", event)
	}
}

func TestTranslateUpdateText(t *testing.T) {
	update := tgbotapi.Update{
		Message: &tgbotapi.Message{
			Text: "hello",
			From: &tgbotapi.User{ID: 42, FirstName: "Dana"},
			Chat: &tgbotapi.Chat{ID: 42},
		},
	}
	event, _, ok := translateUpdate(update)
	if !ok {
		t.Fatal("expected event")
	}
	if event.Kind != EventText || event.Text != "hello" {
		t.Errorf("unexpected event: %+v", event)
	}
}

func TestTranslateUpdateIgnoresEmpty(t *testing.T) {
	if _, _, ok := translateUpdate(tgbotapi.Update{}); ok {
		t.Error("empty update should be ignored")
	}
}

func TestStopClosesEventsViaPump(t *testing.T) {
	api := &fakeTelegramAPI{updates: make(chan tgbotapi.Update, 1)}
	s := newTelegramService(api)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	api.updates <- tgbotapi.Update{
		Message: &tgbotapi.Message{
			Text: "hello",
			From: &tgbotapi.User{ID: 42, FirstName: "Dana"},
			Chat: &tgbotapi.Chat{ID: 42},
		},
	}
	select {
	case event := <-s.Events():
		if event.Kind != EventText || event.Text != "hello" {
			t.Fatalf("unexpected event: %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The pump owns the channel; it must close after Stop, not Stop itself.
	select {
	case _, ok := <-s.Events():
		if ok {
			t.Fatal("expected closed events channel, got an event")
		}
	case <-time.After(time.Second):
		t.Fatal("events channel not closed after Stop")
	}
}
