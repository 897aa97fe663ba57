// Package store provides storage backends for DistressWatch.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/DistressWatch/DistressWatch/internal/models"
	"github.com/lib/pq"
)

// uniqueViolation is the Postgres error code for unique constraint failures.
const uniqueViolation = "23505"

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}

func (s *PostgresStore) CreatePatient(p models.Patient) (models.Patient, error) {
	if err := p.Validate(); err != nil {
		return p, err
	}
	err := s.db.QueryRow(
		`INSERT INTO patients (telegram_id, first_name, family_name, status, registered_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		p.TelegramID, p.FirstName, p.FamilyName, p.Status, p.RegisteredAt,
	).Scan(&p.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return p, models.ErrDuplicatePatient
		}
		slog.Error("PostgresStore CreatePatient failed", "error", err, "telegramID", p.TelegramID)
		return p, fmt.Errorf("failed to insert patient %s: %w", p.TelegramID, err)
	}
	slog.Debug("PostgresStore CreatePatient succeeded", "id", p.ID, "telegramID", p.TelegramID)
	return p, nil
}

func (s *PostgresStore) GetPatientByTelegramID(telegramID string) (*models.Patient, error) {
	row := s.db.QueryRow(
		`SELECT id, telegram_id, first_name, family_name, status, registered_at, last_interaction FROM patients WHERE telegram_id = $1`,
		telegramID,
	)
	return scanPatientRow(row)
}

func (s *PostgresStore) GetPatient(id int64) (*models.Patient, error) {
	row := s.db.QueryRow(
		`SELECT id, telegram_id, first_name, family_name, status, registered_at, last_interaction FROM patients WHERE id = $1`,
		id,
	)
	return scanPatientRow(row)
}

func (s *PostgresStore) ListPatients() ([]models.Patient, error) {
	rows, err := s.db.Query(
		`SELECT id, telegram_id, first_name, family_name, status, registered_at, last_interaction FROM patients ORDER BY registered_at`)
	if err != nil {
		slog.Error("PostgresStore ListPatients query failed", "error", err)
		return nil, fmt.Errorf("failed to query patients: %w", err)
	}
	defer rows.Close()
	return scanPatients(rows)
}

func (s *PostgresStore) ActivePatients() ([]models.Patient, error) {
	rows, err := s.db.Query(
		`SELECT id, telegram_id, first_name, family_name, status, registered_at, last_interaction FROM patients WHERE status = $1 ORDER BY registered_at`,
		models.StatusActive,
	)
	if err != nil {
		slog.Error("PostgresStore ActivePatients query failed", "error", err)
		return nil, fmt.Errorf("failed to query active patients: %w", err)
	}
	defer rows.Close()
	return scanPatients(rows)
}

func (s *PostgresStore) UpdatePatientStatus(id int64, status models.PatientStatus) error {
	res, err := s.db.Exec(`UPDATE patients SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		slog.Error("PostgresStore UpdatePatientStatus failed", "error", err, "id", id, "status", status)
		return fmt.Errorf("failed to update patient %d status: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrPatientNotFound
	}
	slog.Debug("PostgresStore UpdatePatientStatus succeeded", "id", id, "status", status)
	return nil
}

func (s *PostgresStore) TouchLastInteraction(id int64, at time.Time) error {
	_, err := s.db.Exec(`UPDATE patients SET last_interaction = $1 WHERE id = $2`, at, id)
	if err != nil {
		slog.Error("PostgresStore TouchLastInteraction failed", "error", err, "id", id)
		return fmt.Errorf("failed to touch last interaction for patient %d: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) AddResponse(r models.Response) error {
	_, err := s.db.Exec(
		`INSERT INTO responses (patient_id, question_type, response_value, responded_at) VALUES ($1, $2, $3, $4)`,
		r.PatientID, r.QuestionType, r.Value, r.RespondedAt,
	)
	if err != nil {
		slog.Error("PostgresStore AddResponse failed", "error", err, "patientID", r.PatientID)
		return fmt.Errorf("failed to insert response for patient %d: %w", r.PatientID, err)
	}
	slog.Debug("PostgresStore AddResponse succeeded", "patientID", r.PatientID, "questionType", r.QuestionType)
	return nil
}

func (s *PostgresStore) ListResponsesByPatient(patientID int64) ([]models.Response, error) {
	rows, err := s.db.Query(
		`SELECT id, patient_id, question_type, response_value, responded_at FROM responses WHERE patient_id = $1 ORDER BY responded_at`,
		patientID,
	)
	if err != nil {
		slog.Error("PostgresStore ListResponsesByPatient query failed", "error", err, "patientID", patientID)
		return nil, fmt.Errorf("failed to query responses for patient %d: %w", patientID, err)
	}
	defer rows.Close()
	return scanResponses(rows)
}

func (s *PostgresStore) ListResponsesSince(since time.Time) ([]models.Response, error) {
	rows, err := s.db.Query(
		`SELECT id, patient_id, question_type, response_value, responded_at FROM responses WHERE responded_at >= $1 ORDER BY responded_at`,
		since,
	)
	if err != nil {
		slog.Error("PostgresStore ListResponsesSince query failed", "error", err)
		return nil, fmt.Errorf("failed to query responses: %w", err)
	}
	defer rows.Close()
	return scanResponses(rows)
}

// ClaimOpenPrompt inserts an open prompt row. The primary key on patient_id
// makes the second claimant lose regardless of interleaving.
func (s *PostgresStore) ClaimOpenPrompt(p models.OpenPrompt) (bool, error) {
	res, err := s.db.Exec(
		`INSERT INTO open_prompts (patient_id, cycle_id, question_type, issued_at) VALUES ($1, $2, $3, $4) ON CONFLICT (patient_id) DO NOTHING`,
		p.PatientID, p.CycleID, p.Question, p.IssuedAt,
	)
	if err != nil {
		slog.Error("PostgresStore ClaimOpenPrompt failed", "error", err, "patientID", p.PatientID)
		return false, fmt.Errorf("failed to claim open prompt for patient %d: %w", p.PatientID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	claimed := n > 0
	slog.Debug("PostgresStore ClaimOpenPrompt", "patientID", p.PatientID, "claimed", claimed)
	return claimed, nil
}

func (s *PostgresStore) GetOpenPrompt(patientID int64) (*models.OpenPrompt, error) {
	var p models.OpenPrompt
	err := s.db.QueryRow(
		`SELECT patient_id, cycle_id, question_type, issued_at FROM open_prompts WHERE patient_id = $1`,
		patientID,
	).Scan(&p.PatientID, &p.CycleID, &p.Question, &p.IssuedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetOpenPrompt failed", "error", err, "patientID", patientID)
		return nil, fmt.Errorf("failed to get open prompt for patient %d: %w", patientID, err)
	}
	return &p, nil
}

func (s *PostgresStore) UpdateOpenPrompt(p models.OpenPrompt) error {
	res, err := s.db.Exec(
		`UPDATE open_prompts SET cycle_id = $1, question_type = $2, issued_at = $3 WHERE patient_id = $4`,
		p.CycleID, p.Question, p.IssuedAt, p.PatientID,
	)
	if err != nil {
		slog.Error("PostgresStore UpdateOpenPrompt failed", "error", err, "patientID", p.PatientID)
		return fmt.Errorf("failed to update open prompt for patient %d: %w", p.PatientID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNoOpenPrompt
	}
	return nil
}

func (s *PostgresStore) ClearOpenPrompt(patientID int64) error {
	_, err := s.db.Exec(`DELETE FROM open_prompts WHERE patient_id = $1`, patientID)
	if err != nil {
		slog.Error("PostgresStore ClearOpenPrompt failed", "error", err, "patientID", patientID)
		return fmt.Errorf("failed to clear open prompt for patient %d: %w", patientID, err)
	}
	return nil
}

func (s *PostgresStore) ExpireOpenPrompts(before time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM open_prompts WHERE issued_at < $1`, before)
	if err != nil {
		slog.Error("PostgresStore ExpireOpenPrompts failed", "error", err)
		return 0, fmt.Errorf("failed to expire open prompts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("PostgresStore expired open prompts", "count", n, "before", before)
	}
	return int(n), nil
}

func (s *PostgresStore) ClaimSweepSlot(slotKey string, at time.Time) (bool, error) {
	res, err := s.db.Exec(
		`INSERT INTO sweep_slots (slot_key, claimed_at) VALUES ($1, $2) ON CONFLICT (slot_key) DO NOTHING`,
		slotKey, at,
	)
	if err != nil {
		slog.Error("PostgresStore ClaimSweepSlot failed", "error", err, "slotKey", slotKey)
		return false, fmt.Errorf("failed to claim sweep slot %s: %w", slotKey, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	claimed := n > 0
	slog.Debug("PostgresStore ClaimSweepSlot", "slotKey", slotKey, "claimed", claimed)
	return claimed, nil
}

func (s *PostgresStore) AddAssistantInteraction(ai models.AssistantInteraction) error {
	_, err := s.db.Exec(
		`INSERT INTO assistant_interactions (patient_id, prompt, reply, created_at) VALUES ($1, $2, $3, $4)`,
		ai.PatientID, ai.Prompt, ai.Reply, ai.CreatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore AddAssistantInteraction failed", "error", err, "patientID", ai.PatientID)
		return fmt.Errorf("failed to insert assistant interaction for patient %d: %w", ai.PatientID, err)
	}
	return nil
}

func (s *PostgresStore) RecentAssistantInteractions(patientID int64, limit int) ([]models.AssistantInteraction, error) {
	rows, err := s.db.Query(
		`SELECT id, patient_id, prompt, reply, created_at FROM assistant_interactions WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2`,
		patientID, limit,
	)
	if err != nil {
		slog.Error("PostgresStore RecentAssistantInteractions query failed", "error", err, "patientID", patientID)
		return nil, fmt.Errorf("failed to query assistant interactions for patient %d: %w", patientID, err)
	}
	defer rows.Close()
	return scanAssistantInteractions(rows)
}
