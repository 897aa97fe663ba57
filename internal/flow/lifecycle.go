package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DistressWatch/DistressWatch/internal/cache"
	"github.com/DistressWatch/DistressWatch/internal/models"
	"github.com/DistressWatch/DistressWatch/internal/store"
)

// Lifecycle implements the idempotent patient lifecycle operations:
// register, pause, resume, block, unblock.
type Lifecycle struct {
	store store.Store
	cache cache.PromptCache
}

// NewLifecycle creates a Lifecycle over the given store. The prompt cache
// mirror is cleared alongside the store on Block; pass nil when no cache is
// configured.
func NewLifecycle(st store.Store, pc cache.PromptCache) *Lifecycle {
	if pc == nil {
		pc = cache.NoopCache{}
	}
	return &Lifecycle{store: st, cache: pc}
}

// Register creates a patient with status=active if the external chat
// identity is unknown. Returns the patient and whether it was newly created;
// re-registering is a no-op.
func (l *Lifecycle) Register(ctx context.Context, telegramID, firstName, familyName string) (models.Patient, bool, error) {
	slog.Debug("Lifecycle Register invoked", "telegramID", telegramID)

	existing, err := l.store.GetPatientByTelegramID(telegramID)
	if err != nil {
		return models.Patient{}, false, fmt.Errorf("failed to look up patient: %w", err)
	}
	if existing != nil {
		slog.Debug("Lifecycle Register no-op, already registered", "patientID", existing.ID)
		return *existing, false, nil
	}

	if firstName == "" {
		firstName = "Patient"
	}
	patient, err := l.store.CreatePatient(models.Patient{
		TelegramID:   telegramID,
		FirstName:    firstName,
		FamilyName:   familyName,
		Status:       models.StatusActive,
		RegisteredAt: time.Now(),
	})
	if errors.Is(err, models.ErrDuplicatePatient) {
		// Lost a race against a concurrent registration; fetch the winner.
		existing, lookupErr := l.store.GetPatientByTelegramID(telegramID)
		if lookupErr == nil && existing != nil {
			return *existing, false, nil
		}
		return models.Patient{}, false, err
	}
	if err != nil {
		return models.Patient{}, false, fmt.Errorf("failed to register patient: %w", err)
	}

	slog.Info("Lifecycle patient registered", "patientID", patient.ID, "telegramID", telegramID)
	return patient, true, nil
}

// Pause sets status=inactive so the scheduler skips the patient. Returns
// whether the status changed; pausing an already-paused patient is a no-op.
func (l *Lifecycle) Pause(ctx context.Context, patient models.Patient) (bool, error) {
	if patient.Status == models.StatusInactive {
		slog.Debug("Lifecycle Pause no-op", "patientID", patient.ID)
		return false, nil
	}
	if err := l.store.UpdatePatientStatus(patient.ID, models.StatusInactive); err != nil {
		return false, fmt.Errorf("failed to pause patient %d: %w", patient.ID, err)
	}
	slog.Info("Lifecycle patient paused", "patientID", patient.ID)
	return true, nil
}

// Resume sets status=active. Only valid from inactive: resuming an active
// patient is a no-op, and a blocked patient must be unblocked instead.
func (l *Lifecycle) Resume(ctx context.Context, patient models.Patient) (bool, error) {
	switch patient.Status {
	case models.StatusActive:
		slog.Debug("Lifecycle Resume no-op", "patientID", patient.ID)
		return false, nil
	case models.StatusBlocked:
		return false, models.ErrPatientBlocked
	}
	if err := l.store.UpdatePatientStatus(patient.ID, models.StatusActive); err != nil {
		return false, fmt.Errorf("failed to resume patient %d: %w", patient.ID, err)
	}
	slog.Info("Lifecycle patient resumed", "patientID", patient.ID)
	return true, nil
}

// Block sets status=blocked and clears any open prompt, store and cache
// mirror both, so no stale correlation survives the transition.
func (l *Lifecycle) Block(ctx context.Context, patientID int64) error {
	if err := l.store.UpdatePatientStatus(patientID, models.StatusBlocked); err != nil {
		return fmt.Errorf("failed to block patient %d: %w", patientID, err)
	}
	if err := l.store.ClearOpenPrompt(patientID); err != nil {
		slog.Error("Lifecycle failed to clear open prompt on block", "error", err, "patientID", patientID)
	}
	if err := l.cache.Clear(ctx, patientID); err != nil {
		slog.Warn("Lifecycle prompt cache clear failed on block", "error", err, "patientID", patientID)
	}
	slog.Info("Lifecycle patient blocked", "patientID", patientID)
	return nil
}

// Unblock sets status=active for a blocked patient.
func (l *Lifecycle) Unblock(ctx context.Context, patientID int64) error {
	if err := l.store.UpdatePatientStatus(patientID, models.StatusActive); err != nil {
		return fmt.Errorf("failed to unblock patient %d: %w", patientID, err)
	}
	slog.Info("Lifecycle patient unblocked", "patientID", patientID)
	return nil
}
