package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/DistressWatch/DistressWatch/internal/models"
	"github.com/DistressWatch/DistressWatch/internal/store"
)

func TestRegisterIsIdempotent(t *testing.T) {
	st := store.NewInMemoryStore()
	l := NewLifecycle(st, nil)
	ctx := context.Background()

	p1, created, err := l.Register(ctx, "42", "Dana", "Levi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Error("first register should create")
	}
	if p1.Status != models.StatusActive {
		t.Errorf("new patient should be active, got %s", p1.Status)
	}

	p2, created, err := l.Register(ctx, "42", "Dana", "Levi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Error("second register should be a no-op")
	}
	if p2.ID != p1.ID {
		t.Errorf("expected same patient row, got %d and %d", p1.ID, p2.ID)
	}

	patients, _ := st.ListPatients()
	if len(patients) != 1 {
		t.Errorf("expected exactly one patient row, got %d", len(patients))
	}
}

func TestRegisterDefaultsEmptyName(t *testing.T) {
	l := NewLifecycle(store.NewInMemoryStore(), nil)
	p, _, err := l.Register(context.Background(), "42", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.FirstName == "" {
		t.Error("first name should get a default")
	}
}

func TestPauseAndResume(t *testing.T) {
	st := store.NewInMemoryStore()
	l := NewLifecycle(st, nil)
	ctx := context.Background()

	p, _, _ := l.Register(ctx, "42", "Dana", "Levi")

	changed, err := l.Pause(ctx, p)
	if err != nil || !changed {
		t.Fatalf("expected pause to change status, got changed=%v err=%v", changed, err)
	}
	got, _ := st.GetPatient(p.ID)
	if got.Status != models.StatusInactive {
		t.Errorf("expected inactive, got %s", got.Status)
	}

	// Pausing again is a no-op.
	changed, err = l.Pause(ctx, *got)
	if err != nil || changed {
		t.Errorf("expected pause no-op, got changed=%v err=%v", changed, err)
	}

	changed, err = l.Resume(ctx, *got)
	if err != nil || !changed {
		t.Fatalf("expected resume to change status, got changed=%v err=%v", changed, err)
	}
	got, _ = st.GetPatient(p.ID)
	if got.Status != models.StatusActive {
		t.Errorf("expected active, got %s", got.Status)
	}

	// Resuming an active patient is a no-op.
	changed, err = l.Resume(ctx, *got)
	if err != nil || changed {
		t.Errorf("expected resume no-op, got changed=%v err=%v", changed, err)
	}
}

func TestResumeRefusesBlockedPatient(t *testing.T) {
	st := store.NewInMemoryStore()
	l := NewLifecycle(st, nil)
	ctx := context.Background()

	p, _, _ := l.Register(ctx, "42", "Dana", "Levi")
	if err := l.Block(ctx, p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := st.GetPatient(p.ID)
	if got.Status != models.StatusBlocked {
		t.Fatalf("expected blocked, got %s", got.Status)
	}

	_, err := l.Resume(ctx, *got)
	if !errors.Is(err, models.ErrPatientBlocked) {
		t.Errorf("expected ErrPatientBlocked, got %v", err)
	}

	if err := l.Unblock(ctx, p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ = st.GetPatient(p.ID)
	if got.Status != models.StatusActive {
		t.Errorf("expected active after unblock, got %s", got.Status)
	}
}

func TestBlockClearsOpenPrompt(t *testing.T) {
	st := store.NewInMemoryStore()
	l := NewLifecycle(st, nil)
	ctx := context.Background()

	p, _, _ := l.Register(ctx, "42", "Dana", "Levi")
	st.ClaimOpenPrompt(models.OpenPrompt{PatientID: p.ID, CycleID: "c1", Question: models.QuestionDistressCheck})

	if err := l.Block(ctx, p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prompt, _ := st.GetOpenPrompt(p.ID); prompt != nil {
		t.Error("blocking must clear the open prompt")
	}
}

func TestBlockClearsCachedPrompt(t *testing.T) {
	st := store.NewInMemoryStore()
	pc := newFakePromptCache()
	l := NewLifecycle(st, pc)
	ctx := context.Background()

	p, _, _ := l.Register(ctx, "42", "Dana", "Levi")
	prompt := models.OpenPrompt{PatientID: p.ID, CycleID: "c1", Question: models.QuestionDistressCheck}
	st.ClaimOpenPrompt(prompt)
	pc.StoreOpen(ctx, prompt)

	if err := l.Block(ctx, p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cached, _ := pc.GetOpen(ctx, p.ID); cached != nil {
		t.Error("blocking must clear the cached prompt mirror")
	}
}
