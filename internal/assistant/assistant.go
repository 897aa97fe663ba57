// Package assistant provides the /support conversation: short empathetic
// replies generated via the OpenAI API, with recent exchanges kept as
// conversation context.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/DistressWatch/DistressWatch/internal/models"
	"github.com/DistressWatch/DistressWatch/internal/store"
)

// historyLimit is how many past exchanges are replayed as context.
const historyLimit = 10

const systemPrompt = "You are a warm, supportive companion for people living with diabetes. " +
	"Listen, validate feelings, and offer gentle encouragement in a few short sentences. " +
	"You are not a clinician: never give medical advice, diagnoses, or dosage guidance. " +
	"When someone describes severe or persistent distress, encourage them to talk to their care team."

// ErrEmptyMessage is returned when /support is sent with nothing to say.
var ErrEmptyMessage = errors.New("support message is empty")

// completionClient is the slice of the OpenAI chat API the assistant uses.
type completionClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Assistant generates supportive replies and records each exchange.
type Assistant struct {
	store store.Store
	chat  completionClient
	model openai.ChatModel
}

// New creates an Assistant backed by the OpenAI API. An empty API key is an
// error; the caller runs without the assistant in that case.
func New(st store.Store, apiKey string) (*Assistant, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key not set")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	slog.Debug("Assistant created", "model", openai.ChatModelGPT4oMini)
	return &Assistant{
		store: st,
		chat:  &client.Chat.Completions,
		model: openai.ChatModelGPT4oMini,
	}, nil
}

// Reply generates a supportive reply to the patient's message, replaying the
// patient's recent exchanges as conversation context, and persists the
// exchange.
func (a *Assistant) Reply(ctx context.Context, patient models.Patient, message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", ErrEmptyMessage
	}
	slog.Debug("Assistant Reply invoked", "patientID", patient.ID)

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
	}
	history, err := a.store.RecentAssistantInteractions(patient.ID, historyLimit)
	if err != nil {
		slog.Warn("Assistant failed to load history, replying without context", "error", err, "patientID", patient.ID)
	}
	// History is newest-first; replay it chronologically.
	for i := len(history) - 1; i >= 0; i-- {
		messages = append(messages,
			openai.UserMessage(history[i].Prompt),
			openai.AssistantMessage(history[i].Reply),
		)
	}
	messages = append(messages, openai.UserMessage(message))

	completion, err := a.chat.New(ctx, openai.ChatCompletionNewParams{
		Model:    a.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate support reply: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("no completion choices returned")
	}
	reply := completion.Choices[0].Message.Content

	if err := a.store.AddAssistantInteraction(models.AssistantInteraction{
		PatientID: patient.ID,
		Prompt:    message,
		Reply:     reply,
		CreatedAt: time.Now(),
	}); err != nil {
		// The patient still gets the reply; only the history entry is lost.
		slog.Error("Assistant failed to record exchange", "error", err, "patientID", patient.ID)
	}

	slog.Info("Assistant replied", "patientID", patient.ID, "historyTurns", len(history))
	return reply, nil
}
