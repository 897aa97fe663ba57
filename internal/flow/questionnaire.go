// Package flow implements the questionnaire state machine and patient
// lifecycle operations for DistressWatch.
//
// The state machine has three states per patient: Idle (no open prompt row),
// AwaitingDistressAnswer (open prompt with question_type=distress_check) and
// AwaitingSeverityAnswer (open prompt with question_type=severity_rating).
// The open_prompts table is the persisted representation of that state, so a
// restart loses nothing.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/DistressWatch/DistressWatch/internal/cache"
	"github.com/DistressWatch/DistressWatch/internal/messaging"
	"github.com/DistressWatch/DistressWatch/internal/models"
	"github.com/DistressWatch/DistressWatch/internal/store"
)

// Acknowledgement texts sent on terminal transitions.
const (
	noDistressAck  = "Glad to hear it! I'll check in again later. Take care! 💙"
	mildAck        = "Thanks for letting me know. Mild distress is very common - a short walk or a few deep breaths can help. 💙"
	moderateAck    = "Thank you for sharing. Moderate distress is worth paying attention to - consider taking a break and doing something you enjoy today."
	highAck        = "I'm sorry you're having such a hard time. Please consider reaching out to your care team - they are there for you."
	supportHint    = "\n\nIf you'd like to talk, I'm here: just send /support followed by what's on your mind."
	answerRecorded = "Your answer has been recorded. Thank you!"
)

// Questionnaire drives prompt cycles: issuing questions, correlating
// answers, and abandoning timed-out prompts.
type Questionnaire struct {
	store   store.Store
	msg     messaging.Service
	cache   cache.PromptCache
	timeout time.Duration
}

// NewQuestionnaire creates a Questionnaire. timeout is the window after
// which an unanswered prompt is abandoned.
func NewQuestionnaire(st store.Store, msg messaging.Service, pc cache.PromptCache, timeout time.Duration) *Questionnaire {
	slog.Debug("Creating Questionnaire flow", "timeout", timeout)
	if pc == nil {
		pc = cache.NoopCache{}
	}
	return &Questionnaire{store: st, msg: msg, cache: pc, timeout: timeout}
}

// Timeout returns the configured prompt timeout.
func (q *Questionnaire) Timeout() time.Duration {
	return q.timeout
}

// Issue starts a new prompt cycle for the patient: claims the open prompt
// slot and sends the distress check question.
//
// Returns models.ErrPromptAlreadyOpen if a non-expired prompt is already
// open (the caller treats this as a no-op), and models.ErrPatientBlocked if
// the patient must not be messaged.
func (q *Questionnaire) Issue(ctx context.Context, patient models.Patient) error {
	slog.Debug("Questionnaire Issue invoked", "patientID", patient.ID)

	if patient.Status == models.StatusBlocked {
		return models.ErrPatientBlocked
	}

	// Lazily abandon an expired prompt so a new cycle can start.
	existing, err := q.store.GetOpenPrompt(patient.ID)
	if err != nil {
		return fmt.Errorf("failed to check open prompt: %w", err)
	}
	if existing != nil {
		if !existing.Expired(q.timeout, time.Now()) {
			slog.Debug("Questionnaire Issue skipped, prompt already open", "patientID", patient.ID, "cycleID", existing.CycleID)
			return models.ErrPromptAlreadyOpen
		}
		slog.Info("Questionnaire abandoning expired prompt", "patientID", patient.ID, "cycleID", existing.CycleID, "issuedAt", existing.IssuedAt)
		if err := q.clearPrompt(ctx, patient.ID); err != nil {
			return err
		}
	}

	prompt := models.OpenPrompt{
		PatientID: patient.ID,
		CycleID:   uuid.NewString(),
		Question:  models.QuestionDistressCheck,
		IssuedAt:  time.Now(),
	}
	claimed, err := q.store.ClaimOpenPrompt(prompt)
	if err != nil {
		return fmt.Errorf("failed to claim open prompt: %w", err)
	}
	if !claimed {
		// Lost a race against a concurrent Issue; the winner's prompt stands.
		slog.Debug("Questionnaire Issue lost claim race", "patientID", patient.ID)
		return models.ErrPromptAlreadyOpen
	}
	q.mirrorPrompt(ctx, prompt)

	if err := q.msg.SendQuestion(ctx, patient.TelegramID, models.QuestionDistressCheck, patient.FirstName); err != nil {
		return q.handleSendFailure(ctx, patient, err)
	}

	slog.Info("Questionnaire cycle started", "patientID", patient.ID, "cycleID", prompt.CycleID)
	return nil
}

// HandleAnswer correlates an answer to the patient's open prompt, records
// the response, and advances or ends the cycle.
//
// Answers without a matching open prompt (none open, expired, or answering
// the wrong question) are discarded: models.ErrNoOpenPrompt or
// models.ErrUnrecognizedCallback is returned and no state changes.
func (q *Questionnaire) HandleAnswer(ctx context.Context, patient models.Patient, answer models.Answer) error {
	slog.Debug("Questionnaire HandleAnswer invoked", "patientID", patient.ID, "kind", answer.Kind)

	prompt, err := q.openPrompt(ctx, patient.ID)
	if err != nil {
		return err
	}
	if prompt == nil {
		slog.Warn("Questionnaire discarding answer with no open prompt", "patientID", patient.ID, "kind", answer.Kind)
		return models.ErrNoOpenPrompt
	}
	if prompt.Expired(q.timeout, time.Now()) {
		slog.Info("Questionnaire discarding answer to expired prompt", "patientID", patient.ID, "cycleID", prompt.CycleID)
		if err := q.clearPrompt(ctx, patient.ID); err != nil {
			return err
		}
		return models.ErrNoOpenPrompt
	}
	if answer.QuestionType() != prompt.Question {
		slog.Warn("Questionnaire discarding answer to wrong question", "patientID", patient.ID, "expected", prompt.Question, "got", answer.QuestionType())
		return models.ErrUnrecognizedCallback
	}

	response := models.Response{
		PatientID:    patient.ID,
		QuestionType: prompt.Question,
		Value:        answer.Value(),
		RespondedAt:  time.Now(),
	}
	if err := q.store.AddResponse(response); err != nil {
		return fmt.Errorf("failed to record response: %w", err)
	}
	slog.Info("Questionnaire response recorded", "patientID", patient.ID, "cycleID", prompt.CycleID, "questionType", response.QuestionType, "value", response.Value)

	switch {
	case answer.Kind == models.AnswerDistress && answer.Distress:
		return q.askSeverity(ctx, patient, *prompt)
	case answer.Kind == models.AnswerDistress:
		return q.endCycle(ctx, patient, noDistressAck)
	default:
		return q.endCycle(ctx, patient, severityAck(answer.Severity))
	}
}

// ExpireTimedOut abandons all prompts older than the timeout window.
// Called by the scheduler at the start of every sweep.
func (q *Questionnaire) ExpireTimedOut(ctx context.Context) (int, error) {
	return q.store.ExpireOpenPrompts(time.Now().Add(-q.timeout))
}

// askSeverity advances the cycle to AwaitingSeverityAnswer.
func (q *Questionnaire) askSeverity(ctx context.Context, patient models.Patient, prompt models.OpenPrompt) error {
	prompt.Question = models.QuestionSeverityRating
	prompt.IssuedAt = time.Now()
	if err := q.store.UpdateOpenPrompt(prompt); err != nil {
		return fmt.Errorf("failed to advance prompt: %w", err)
	}
	q.mirrorPrompt(ctx, prompt)

	if err := q.msg.SendQuestion(ctx, patient.TelegramID, models.QuestionSeverityRating, patient.FirstName); err != nil {
		return q.handleSendFailure(ctx, patient, err)
	}
	slog.Debug("Questionnaire severity question sent", "patientID", patient.ID, "cycleID", prompt.CycleID)
	return nil
}

// endCycle returns the patient to Idle and sends the acknowledgement.
func (q *Questionnaire) endCycle(ctx context.Context, patient models.Patient, ack string) error {
	if err := q.clearPrompt(ctx, patient.ID); err != nil {
		return err
	}
	if err := q.msg.SendText(ctx, patient.TelegramID, ack); err != nil {
		return q.handleSendFailure(ctx, patient, err)
	}
	slog.Info("Questionnaire cycle completed", "patientID", patient.ID)
	return nil
}

// severityAck picks the acknowledgement tier for a 1-5 rating and offers
// the support assistant on high ratings.
func severityAck(severity int) string {
	switch {
	case severity <= 2:
		return mildAck
	case severity == 3:
		return moderateAck
	default:
		return highAck + supportHint
	}
}

// handleSendFailure classifies a delivery error: blocked recipients are
// transitioned to status=blocked with the open prompt cleared (no Response
// is recorded for the failed send); transient errors just clear the prompt
// so the next sweep can retry.
func (q *Questionnaire) handleSendFailure(ctx context.Context, patient models.Patient, sendErr error) error {
	if clearErr := q.clearPrompt(ctx, patient.ID); clearErr != nil {
		slog.Error("Questionnaire failed to clear prompt after send failure", "error", clearErr, "patientID", patient.ID)
	}
	if messaging.IsRecipientBlocked(sendErr) {
		slog.Warn("Questionnaire recipient blocked the bot, blocking patient", "patientID", patient.ID)
		if err := q.store.UpdatePatientStatus(patient.ID, models.StatusBlocked); err != nil {
			slog.Error("Questionnaire failed to block patient", "error", err, "patientID", patient.ID)
		}
		return fmt.Errorf("delivery to patient %d failed: %w", patient.ID, sendErr)
	}
	return fmt.Errorf("delivery to patient %d failed: %w", patient.ID, sendErr)
}

// openPrompt consults the cache first and falls back to the authoritative
// store on a miss or cache error.
func (q *Questionnaire) openPrompt(ctx context.Context, patientID int64) (*models.OpenPrompt, error) {
	cached, err := q.cache.GetOpen(ctx, patientID)
	if err != nil {
		slog.Warn("Questionnaire prompt cache read failed, using store", "error", err, "patientID", patientID)
	} else if cached != nil {
		return cached, nil
	}
	prompt, err := q.store.GetOpenPrompt(patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to load open prompt: %w", err)
	}
	return prompt, nil
}

// mirrorPrompt writes the prompt to the cache, best effort.
func (q *Questionnaire) mirrorPrompt(ctx context.Context, prompt models.OpenPrompt) {
	if err := q.cache.StoreOpen(ctx, prompt); err != nil {
		slog.Warn("Questionnaire prompt cache write failed", "error", err, "patientID", prompt.PatientID)
	}
}

// clearPrompt removes the open prompt from store and cache.
func (q *Questionnaire) clearPrompt(ctx context.Context, patientID int64) error {
	if err := q.store.ClearOpenPrompt(patientID); err != nil {
		return fmt.Errorf("failed to clear open prompt: %w", err)
	}
	if err := q.cache.Clear(ctx, patientID); err != nil {
		slog.Warn("Questionnaire prompt cache clear failed", "error", err, "patientID", patientID)
	}
	return nil
}
