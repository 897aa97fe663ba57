// Package store provides storage backends for DistressWatch.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"
	"errors"

	"github.com/DistressWatch/DistressWatch/internal/models"
	"github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}

func (s *SQLiteStore) CreatePatient(p models.Patient) (models.Patient, error) {
	if err := p.Validate(); err != nil {
		return p, err
	}
	res, err := s.db.Exec(
		`INSERT INTO patients (telegram_id, first_name, family_name, status, registered_at) VALUES (?, ?, ?, ?, ?)`,
		p.TelegramID, p.FirstName, p.FamilyName, p.Status, p.RegisteredAt,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return p, models.ErrDuplicatePatient
		}
		slog.Error("SQLiteStore CreatePatient failed", "error", err, "telegramID", p.TelegramID)
		return p, fmt.Errorf("failed to insert patient %s: %w", p.TelegramID, err)
	}
	p.ID, err = res.LastInsertId()
	if err != nil {
		return p, err
	}
	slog.Debug("SQLiteStore CreatePatient succeeded", "id", p.ID, "telegramID", p.TelegramID)
	return p, nil
}

func (s *SQLiteStore) GetPatientByTelegramID(telegramID string) (*models.Patient, error) {
	row := s.db.QueryRow(
		`SELECT id, telegram_id, first_name, family_name, status, registered_at, last_interaction FROM patients WHERE telegram_id = ?`,
		telegramID,
	)
	return scanPatientRow(row)
}

func (s *SQLiteStore) GetPatient(id int64) (*models.Patient, error) {
	row := s.db.QueryRow(
		`SELECT id, telegram_id, first_name, family_name, status, registered_at, last_interaction FROM patients WHERE id = ?`,
		id,
	)
	return scanPatientRow(row)
}

func (s *SQLiteStore) ListPatients() ([]models.Patient, error) {
	rows, err := s.db.Query(
		`SELECT id, telegram_id, first_name, family_name, status, registered_at, last_interaction FROM patients ORDER BY registered_at`)
	if err != nil {
		slog.Error("SQLiteStore ListPatients query failed", "error", err)
		return nil, fmt.Errorf("failed to query patients: %w", err)
	}
	defer rows.Close()
	return scanPatients(rows)
}

func (s *SQLiteStore) ActivePatients() ([]models.Patient, error) {
	rows, err := s.db.Query(
		`SELECT id, telegram_id, first_name, family_name, status, registered_at, last_interaction FROM patients WHERE status = ? ORDER BY registered_at`,
		models.StatusActive,
	)
	if err != nil {
		slog.Error("SQLiteStore ActivePatients query failed", "error", err)
		return nil, fmt.Errorf("failed to query active patients: %w", err)
	}
	defer rows.Close()
	return scanPatients(rows)
}

func (s *SQLiteStore) UpdatePatientStatus(id int64, status models.PatientStatus) error {
	res, err := s.db.Exec(`UPDATE patients SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		slog.Error("SQLiteStore UpdatePatientStatus failed", "error", err, "id", id, "status", status)
		return fmt.Errorf("failed to update patient %d status: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrPatientNotFound
	}
	slog.Debug("SQLiteStore UpdatePatientStatus succeeded", "id", id, "status", status)
	return nil
}

func (s *SQLiteStore) TouchLastInteraction(id int64, at time.Time) error {
	_, err := s.db.Exec(`UPDATE patients SET last_interaction = ? WHERE id = ?`, at, id)
	if err != nil {
		slog.Error("SQLiteStore TouchLastInteraction failed", "error", err, "id", id)
		return fmt.Errorf("failed to touch last interaction for patient %d: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) AddResponse(r models.Response) error {
	_, err := s.db.Exec(
		`INSERT INTO responses (patient_id, question_type, response_value, responded_at) VALUES (?, ?, ?, ?)`,
		r.PatientID, r.QuestionType, r.Value, r.RespondedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore AddResponse failed", "error", err, "patientID", r.PatientID)
		return fmt.Errorf("failed to insert response for patient %d: %w", r.PatientID, err)
	}
	slog.Debug("SQLiteStore AddResponse succeeded", "patientID", r.PatientID, "questionType", r.QuestionType)
	return nil
}

func (s *SQLiteStore) ListResponsesByPatient(patientID int64) ([]models.Response, error) {
	rows, err := s.db.Query(
		`SELECT id, patient_id, question_type, response_value, responded_at FROM responses WHERE patient_id = ? ORDER BY responded_at`,
		patientID,
	)
	if err != nil {
		slog.Error("SQLiteStore ListResponsesByPatient query failed", "error", err, "patientID", patientID)
		return nil, fmt.Errorf("failed to query responses for patient %d: %w", patientID, err)
	}
	defer rows.Close()
	return scanResponses(rows)
}

func (s *SQLiteStore) ListResponsesSince(since time.Time) ([]models.Response, error) {
	rows, err := s.db.Query(
		`SELECT id, patient_id, question_type, response_value, responded_at FROM responses WHERE responded_at >= ? ORDER BY responded_at`,
		since,
	)
	if err != nil {
		slog.Error("SQLiteStore ListResponsesSince query failed", "error", err)
		return nil, fmt.Errorf("failed to query responses: %w", err)
	}
	defer rows.Close()
	return scanResponses(rows)
}

// ClaimOpenPrompt inserts an open prompt row. The primary key on patient_id
// makes the second claimant lose regardless of interleaving.
func (s *SQLiteStore) ClaimOpenPrompt(p models.OpenPrompt) (bool, error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO open_prompts (patient_id, cycle_id, question_type, issued_at) VALUES (?, ?, ?, ?)`,
		p.PatientID, p.CycleID, p.Question, p.IssuedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore ClaimOpenPrompt failed", "error", err, "patientID", p.PatientID)
		return false, fmt.Errorf("failed to claim open prompt for patient %d: %w", p.PatientID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	claimed := n > 0
	slog.Debug("SQLiteStore ClaimOpenPrompt", "patientID", p.PatientID, "claimed", claimed)
	return claimed, nil
}

func (s *SQLiteStore) GetOpenPrompt(patientID int64) (*models.OpenPrompt, error) {
	var p models.OpenPrompt
	err := s.db.QueryRow(
		`SELECT patient_id, cycle_id, question_type, issued_at FROM open_prompts WHERE patient_id = ?`,
		patientID,
	).Scan(&p.PatientID, &p.CycleID, &p.Question, &p.IssuedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetOpenPrompt failed", "error", err, "patientID", patientID)
		return nil, fmt.Errorf("failed to get open prompt for patient %d: %w", patientID, err)
	}
	return &p, nil
}

func (s *SQLiteStore) UpdateOpenPrompt(p models.OpenPrompt) error {
	res, err := s.db.Exec(
		`UPDATE open_prompts SET cycle_id = ?, question_type = ?, issued_at = ? WHERE patient_id = ?`,
		p.CycleID, p.Question, p.IssuedAt, p.PatientID,
	)
	if err != nil {
		slog.Error("SQLiteStore UpdateOpenPrompt failed", "error", err, "patientID", p.PatientID)
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

func (s *SQLiteStore) ClearOpenPrompt(patientID int64) error {
	_, err := s.db.Exec(`DELETE FROM open_prompts WHERE patient_id = ?`, patientID)
	if err != nil {
		slog.Error("SQLiteStore ClearOpenPrompt failed", "error", err, "patientID", patientID)
		return fmt.Errorf("failed to clear open prompt for patient %d: %w", patientID, err)
	}
	return nil
}

func (s *SQLiteStore) ExpireOpenPrompts(before time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM open_prompts WHERE issued_at < ?`, before)
	if err != nil {
		slog.Error("SQLiteStore ExpireOpenPrompts failed", "error", err)
		return 0, fmt.Errorf("failed to expire open prompts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("SQLiteStore expired open prompts", "count", n, "before", before)
	}
	return int(n), nil
}

func (s *SQLiteStore) ClaimSweepSlot(slotKey string, at time.Time) (bool, error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO sweep_slots (slot_key, claimed_at) VALUES (?, ?)`,
		slotKey, at,
	)
	if err != nil {
		slog.Error("SQLiteStore ClaimSweepSlot failed", "error", err, "slotKey", slotKey)
		return false, fmt.Errorf("failed to claim sweep slot %s: %w", slotKey, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	claimed := n > 0
	slog.Debug("SQLiteStore ClaimSweepSlot", "slotKey", slotKey, "claimed", claimed)
	return claimed, nil
}

func (s *SQLiteStore) AddAssistantInteraction(ai models.AssistantInteraction) error {
	_, err := s.db.Exec(
		`INSERT INTO assistant_interactions (patient_id, prompt, reply, created_at) VALUES (?, ?, ?, ?)`,
		ai.PatientID, ai.Prompt, ai.Reply, ai.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore AddAssistantInteraction failed", "error", err, "patientID", ai.PatientID)
		return fmt.Errorf("failed to insert assistant interaction for patient %d: %w", ai.PatientID, err)
	}
	return nil
}

func (s *SQLiteStore) RecentAssistantInteractions(patientID int64, limit int) ([]models.AssistantInteraction, error) {
	rows, err := s.db.Query(
		`SELECT id, patient_id, prompt, reply, created_at FROM assistant_interactions WHERE patient_id = ? ORDER BY created_at DESC LIMIT ?`,
		patientID, limit,
	)
	if err != nil {
		slog.Error("SQLiteStore RecentAssistantInteractions query failed", "error", err, "patientID", patientID)
		return nil, fmt.Errorf("failed to query assistant interactions for patient %d: %w", patientID, err)
	}
	defer rows.Close()
	return scanAssistantInteractions(rows)
}
