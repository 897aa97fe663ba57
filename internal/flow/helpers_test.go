package flow

import (
	"context"
	"testing"
	"time"

	"github.com/DistressWatch/DistressWatch/internal/messaging"
	"github.com/DistressWatch/DistressWatch/internal/models"
	"github.com/DistressWatch/DistressWatch/internal/store"
)

// sentQuestion records one SendQuestion call on the fake messenger.
type sentQuestion struct {
	To       string
	Question models.QuestionType
}

// fakeMessenger implements messaging.Service for tests, recording sends and
// optionally failing them.
type fakeMessenger struct {
	questions []sentQuestion
	texts     []string
	textTo    []string
	sendErr   error
	events    chan messaging.Event
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{events: make(chan messaging.Event, 10)}
}

func (f *fakeMessenger) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return messaging.CanonicalizeChatID(recipient)
}

func (f *fakeMessenger) SendText(ctx context.Context, to string, body string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.texts = append(f.texts, body)
	f.textTo = append(f.textTo, to)
	return nil
}

func (f *fakeMessenger) SendQuestion(ctx context.Context, to string, question models.QuestionType, firstName string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.questions = append(f.questions, sentQuestion{To: to, Question: question})
	return nil
}

func (f *fakeMessenger) Start(ctx context.Context) error { return nil }

func (f *fakeMessenger) Stop() error {
	close(f.events)
	return nil
}

func (f *fakeMessenger) Events() <-chan messaging.Event { return f.events }

// fakePromptCache implements cache.PromptCache in memory, recording clears.
type fakePromptCache struct {
	prompts map[int64]models.OpenPrompt
	cleared []int64
}

func newFakePromptCache() *fakePromptCache {
	return &fakePromptCache{prompts: make(map[int64]models.OpenPrompt)}
}

func (f *fakePromptCache) StoreOpen(ctx context.Context, p models.OpenPrompt) error {
	f.prompts[p.PatientID] = p
	return nil
}

func (f *fakePromptCache) GetOpen(ctx context.Context, patientID int64) (*models.OpenPrompt, error) {
	if p, ok := f.prompts[patientID]; ok {
		return &p, nil
	}
	return nil, nil
}

func (f *fakePromptCache) Clear(ctx context.Context, patientID int64) error {
	delete(f.prompts, patientID)
	f.cleared = append(f.cleared, patientID)
	return nil
}

// newTestFixture builds a Questionnaire over an in-memory store with one
// registered active patient.
func newTestFixture(t *testing.T, timeout time.Duration) (*Questionnaire, *store.InMemoryStore, *fakeMessenger, models.Patient) {
	t.Helper()
	st := store.NewInMemoryStore()
	msg := newFakeMessenger()
	q := NewQuestionnaire(st, msg, nil, timeout)
	patient, err := st.CreatePatient(models.Patient{
		TelegramID:   "1001",
		FirstName:    "Dana",
		FamilyName:   "Levi",
		Status:       models.StatusActive,
		RegisteredAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("failed to create patient: %v", err)
	}
	return q, st, msg, patient
}
