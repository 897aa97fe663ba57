// Package store provides storage backends for DistressWatch.
//
// It includes SQLite and PostgreSQL stores for patients, responses, open
// prompts, and sweep slots, plus an in-memory store used in tests.
package store

import (
	"strings"
	"time"

	"github.com/DistressWatch/DistressWatch/internal/models"
)

// Store defines the persistence operations used by the questionnaire flow,
// the scheduler, and the admin reporting surface.
type Store interface {
	// CreatePatient inserts a new patient and returns it with its ID set.
	CreatePatient(p models.Patient) (models.Patient, error)
	// GetPatientByTelegramID returns the patient with the given external
	// chat identity, or nil if none exists.
	GetPatientByTelegramID(telegramID string) (*models.Patient, error)
	// GetPatient returns the patient with the given ID, or nil if none exists.
	GetPatient(id int64) (*models.Patient, error)
	// ListPatients returns all patients ordered by registration time.
	ListPatients() ([]models.Patient, error)
	// ActivePatients returns all patients with status=active.
	ActivePatients() ([]models.Patient, error)
	// UpdatePatientStatus sets the status for a patient.
	UpdatePatientStatus(id int64, status models.PatientStatus) error
	// TouchLastInteraction records the time of the patient's latest inbound
	// command or callback.
	TouchLastInteraction(id int64, at time.Time) error

	// AddResponse records one questionnaire answer.
	AddResponse(r models.Response) error
	// ListResponsesByPatient returns a patient's responses ordered by time.
	ListResponsesByPatient(patientID int64) ([]models.Response, error)
	// ListResponsesSince returns all responses recorded at or after the
	// given time, ordered by time.
	ListResponsesSince(since time.Time) ([]models.Response, error)

	// ClaimOpenPrompt inserts an open prompt for a patient. Returns false
	// if the patient already has one open (the at-most-one invariant).
	ClaimOpenPrompt(p models.OpenPrompt) (bool, error)
	// GetOpenPrompt returns the patient's open prompt, or nil if none.
	GetOpenPrompt(patientID int64) (*models.OpenPrompt, error)
	// UpdateOpenPrompt replaces the patient's open prompt in place; used to
	// advance a cycle from the distress check to the severity rating.
	UpdateOpenPrompt(p models.OpenPrompt) error
	// ClearOpenPrompt removes the patient's open prompt, if any.
	ClearOpenPrompt(patientID int64) error
	// ExpireOpenPrompts removes all open prompts issued before the cutoff
	// and returns how many were removed.
	ExpireOpenPrompts(before time.Time) (int, error)

	// ClaimSweepSlot records a cadence slot key. Returns false if the slot
	// was already claimed, making sweeps idempotent per slot.
	ClaimSweepSlot(slotKey string, at time.Time) (bool, error)

	// AddAssistantInteraction records one emotional-support exchange.
	AddAssistantInteraction(ai models.AssistantInteraction) error
	// RecentAssistantInteractions returns the patient's latest exchanges,
	// newest first, limited to limit rows.
	RecentAssistantInteractions(patientID int64, limit int) ([]models.AssistantInteraction, error)

	// Close releases the underlying database resources.
	Close() error
}

// Opts holds configuration for store construction.
type Opts struct {
	// DSN is the database connection string: a file path for SQLite or a
	// postgres:// URL / key=value DSN for PostgreSQL.
	DSN string
}

// Option configures store construction.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite".
// PostgreSQL DSNs are URLs (postgres://) or key=value strings (host=...);
// anything else is treated as a SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}
