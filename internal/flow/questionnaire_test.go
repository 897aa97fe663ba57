package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/DistressWatch/DistressWatch/internal/messaging"
	"github.com/DistressWatch/DistressWatch/internal/models"
)

func TestIssueSendsDistressQuestion(t *testing.T) {
	q, st, msg, patient := newTestFixture(t, time.Hour)
	ctx := context.Background()

	if err := q.Issue(ctx, patient); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msg.questions) != 1 {
		t.Fatalf("expected exactly one question sent, got %d", len(msg.questions))
	}
	if msg.questions[0].Question != models.QuestionDistressCheck || msg.questions[0].To != "1001" {
		t.Errorf("unexpected question: %+v", msg.questions[0])
	}

	prompt, _ := st.GetOpenPrompt(patient.ID)
	if prompt == nil || prompt.Question != models.QuestionDistressCheck {
		t.Errorf("expected open distress prompt, got %+v", prompt)
	}
}

func TestIssueRejectsSecondPrompt(t *testing.T) {
	q, _, msg, patient := newTestFixture(t, time.Hour)
	ctx := context.Background()

	if err := q.Issue(ctx, patient); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := q.Issue(ctx, patient)
	if !errors.Is(err, models.ErrPromptAlreadyOpen) {
		t.Fatalf("expected ErrPromptAlreadyOpen, got %v", err)
	}
	if len(msg.questions) != 1 {
		t.Errorf("second issue must not send, got %d sends", len(msg.questions))
	}
}

func TestIssueRefusesBlockedPatient(t *testing.T) {
	q, _, msg, patient := newTestFixture(t, time.Hour)
	patient.Status = models.StatusBlocked

	err := q.Issue(context.Background(), patient)
	if !errors.Is(err, models.ErrPatientBlocked) {
		t.Fatalf("expected ErrPatientBlocked, got %v", err)
	}
	if len(msg.questions) != 0 {
		t.Error("blocked patient must not receive a prompt")
	}
}

func TestNoDistressCycle(t *testing.T) {
	q, st, msg, patient := newTestFixture(t, time.Hour)
	ctx := context.Background()

	if err := q.Issue(ctx, patient); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	answer, _ := models.ParseCallbackData(models.CallbackDistressNo)
	if err := q.HandleAnswer(ctx, patient, answer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	responses, _ := st.ListResponsesByPatient(patient.ID)
	if len(responses) != 1 {
		t.Fatalf("expected exactly one response, got %d", len(responses))
	}
	if responses[0].QuestionType != models.QuestionDistressCheck || responses[0].Value != models.ResponseNo {
		t.Errorf("unexpected response: %+v", responses[0])
	}

	// Back to Idle, no severity question sent.
	if prompt, _ := st.GetOpenPrompt(patient.ID); prompt != nil {
		t.Errorf("expected no open prompt, got %+v", prompt)
	}
	if len(msg.questions) != 1 {
		t.Errorf("no severity question should follow a 'no', got %d questions", len(msg.questions))
	}
	if len(msg.texts) != 1 {
		t.Errorf("expected one acknowledgement text, got %d", len(msg.texts))
	}
}

func TestYesThenSeverityCycle(t *testing.T) {
	q, st, msg, patient := newTestFixture(t, time.Hour)
	ctx := context.Background()

	if err := q.Issue(ctx, patient); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	yes, _ := models.ParseCallbackData(models.CallbackDistressYes)
	if err := q.HandleAnswer(ctx, patient, yes); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Cycle advanced to the severity question.
	prompt, _ := st.GetOpenPrompt(patient.ID)
	if prompt == nil || prompt.Question != models.QuestionSeverityRating {
		t.Fatalf("expected open severity prompt, got %+v", prompt)
	}
	if len(msg.questions) != 2 || msg.questions[1].Question != models.QuestionSeverityRating {
		t.Fatalf("expected severity question sent, got %+v", msg.questions)
	}

	four, _ := models.ParseCallbackData(models.SeverityCallback(4))
	if err := q.HandleAnswer(ctx, patient, four); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	responses, _ := st.ListResponsesByPatient(patient.ID)
	if len(responses) != 2 {
		t.Fatalf("expected two responses, got %d", len(responses))
	}
	if responses[0].QuestionType != models.QuestionDistressCheck || responses[0].Value != models.ResponseYes {
		t.Errorf("unexpected first response: %+v", responses[0])
	}
	if responses[1].QuestionType != models.QuestionSeverityRating || responses[1].Value != "4" {
		t.Errorf("unexpected second response: %+v", responses[1])
	}
	if prompt, _ := st.GetOpenPrompt(patient.ID); prompt != nil {
		t.Errorf("expected Idle after severity answer, got %+v", prompt)
	}

	// High severity offers the support assistant.
	if len(msg.texts) != 1 || !strings.Contains(msg.texts[0], "/support") {
		t.Errorf("expected high-severity ack with support hint, got %+v", msg.texts)
	}
}

func TestSeverityAckTiers(t *testing.T) {
	cases := []struct {
		severity int
		want     string
	}{
		{1, mildAck},
		{2, mildAck},
		{3, moderateAck},
		{4, highAck + supportHint},
		{5, highAck + supportHint},
	}
	for _, c := range cases {
		if got := severityAck(c.severity); got != c.want {
			t.Errorf("severityAck(%d) = %q, want %q", c.severity, got, c.want)
		}
	}
}

func TestAnswerWithoutOpenPromptDiscarded(t *testing.T) {
	q, st, _, patient := newTestFixture(t, time.Hour)

	answer, _ := models.ParseCallbackData(models.CallbackDistressYes)
	err := q.HandleAnswer(context.Background(), patient, answer)
	if !errors.Is(err, models.ErrNoOpenPrompt) {
		t.Fatalf("expected ErrNoOpenPrompt, got %v", err)
	}
	responses, _ := st.ListResponsesByPatient(patient.ID)
	if len(responses) != 0 {
		t.Errorf("discarded answer must not create responses, got %d", len(responses))
	}
}

func TestSeverityAnswerToDistressPromptDiscarded(t *testing.T) {
	q, st, _, patient := newTestFixture(t, time.Hour)
	ctx := context.Background()

	if err := q.Issue(ctx, patient); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A severity button press while the distress check is open must not be
	// recorded: severity responses only follow a "yes".
	answer, _ := models.ParseCallbackData(models.SeverityCallback(3))
	err := q.HandleAnswer(ctx, patient, answer)
	if !errors.Is(err, models.ErrUnrecognizedCallback) {
		t.Fatalf("expected ErrUnrecognizedCallback, got %v", err)
	}
	responses, _ := st.ListResponsesByPatient(patient.ID)
	if len(responses) != 0 {
		t.Errorf("mismatched answer must not create responses, got %d", len(responses))
	}
	if prompt, _ := st.GetOpenPrompt(patient.ID); prompt == nil {
		t.Error("open prompt must survive a discarded answer")
	}
}

func TestTimedOutPromptAbandoned(t *testing.T) {
	q, st, msg, patient := newTestFixture(t, time.Minute)
	ctx := context.Background()

	if err := q.Issue(ctx, patient); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Backdate the prompt past the timeout window.
	prompt, _ := st.GetOpenPrompt(patient.ID)
	prompt.IssuedAt = time.Now().Add(-2 * time.Minute)
	if err := st.UpdateOpenPrompt(*prompt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	n, err := q.ExpireTimedOut(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 expired prompt, got %d", n)
	}
	if p, _ := st.GetOpenPrompt(patient.ID); p != nil {
		t.Error("expired prompt should be cleared")
	}
	// No partial Response for the abandoned cycle.
	responses, _ := st.ListResponsesByPatient(patient.ID)
	if len(responses) != 0 {
		t.Errorf("abandoned cycle must not record responses, got %d", len(responses))
	}
	// A new cycle can start immediately.
	if err := q.Issue(ctx, patient); err != nil {
		t.Fatalf("expected new issue to succeed, got %v", err)
	}
	if len(msg.questions) != 2 {
		t.Errorf("expected a fresh question after expiry, got %d sends", len(msg.questions))
	}
}

func TestLateAnswerToExpiredPromptDiscarded(t *testing.T) {
	q, st, _, patient := newTestFixture(t, time.Minute)
	ctx := context.Background()

	if err := q.Issue(ctx, patient); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	prompt, _ := st.GetOpenPrompt(patient.ID)
	prompt.IssuedAt = time.Now().Add(-2 * time.Minute)
	st.UpdateOpenPrompt(*prompt)

	answer, _ := models.ParseCallbackData(models.CallbackDistressYes)
	err := q.HandleAnswer(ctx, patient, answer)
	if !errors.Is(err, models.ErrNoOpenPrompt) {
		t.Fatalf("expected ErrNoOpenPrompt for late answer, got %v", err)
	}
	responses, _ := st.ListResponsesByPatient(patient.ID)
	if len(responses) != 0 {
		t.Errorf("late answer must not create responses, got %d", len(responses))
	}
}

func TestBlockedSendTransitionsPatient(t *testing.T) {
	q, st, msg, patient := newTestFixture(t, time.Hour)
	msg.sendErr = fmt.Errorf("%w: Forbidden", messaging.ErrRecipientBlocked)

	err := q.Issue(context.Background(), patient)
	if err == nil {
		t.Fatal("expected delivery error")
	}
	got, _ := st.GetPatient(patient.ID)
	if got.Status != models.StatusBlocked {
		t.Errorf("expected patient blocked, got %s", got.Status)
	}
	if prompt, _ := st.GetOpenPrompt(patient.ID); prompt != nil {
		t.Error("open prompt must be cleared on blocked delivery")
	}
	responses, _ := st.ListResponsesByPatient(patient.ID)
	if len(responses) != 0 {
		t.Errorf("blocked delivery must not create responses, got %d", len(responses))
	}
}

func TestTransientSendFailureClearsPromptOnly(t *testing.T) {
	q, st, msg, patient := newTestFixture(t, time.Hour)
	msg.sendErr = errors.New("connection reset")

	err := q.Issue(context.Background(), patient)
	if err == nil {
		t.Fatal("expected delivery error")
	}
	got, _ := st.GetPatient(patient.ID)
	if got.Status != models.StatusActive {
		t.Errorf("transient failure must not change status, got %s", got.Status)
	}
	if prompt, _ := st.GetOpenPrompt(patient.ID); prompt != nil {
		t.Error("prompt should be cleared so the next sweep can retry")
	}
}
