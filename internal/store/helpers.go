package store

import (
	"database/sql"
	"fmt"

	"github.com/DistressWatch/DistressWatch/internal/models"
)

// scanPatientRow scans a Patient from a single sql.Row, returning nil when
// no row matched.
func scanPatientRow(row *sql.Row) (*models.Patient, error) {
	var p models.Patient
	var lastInteraction sql.NullTime
	err := row.Scan(&p.ID, &p.TelegramID, &p.FirstName, &p.FamilyName, &p.Status, &p.RegisteredAt, &lastInteraction)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan patient failed: %w", err)
	}
	if lastInteraction.Valid {
		p.LastInteraction = &lastInteraction.Time
	}
	return &p, nil
}

// scanPatients scans all Patients from sql.Rows.
func scanPatients(rows *sql.Rows) ([]models.Patient, error) {
	var patients []models.Patient
	for rows.Next() {
		var p models.Patient
		var lastInteraction sql.NullTime
		if err := rows.Scan(&p.ID, &p.TelegramID, &p.FirstName, &p.FamilyName, &p.Status, &p.RegisteredAt, &lastInteraction); err != nil {
			return nil, fmt.Errorf("scan patient row failed: %w", err)
		}
		if lastInteraction.Valid {
			p.LastInteraction = &lastInteraction.Time
		}
		patients = append(patients, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patient rows failed: %w", err)
	}
	return patients, nil
}

// scanResponses scans all Responses from sql.Rows.
func scanResponses(rows *sql.Rows) ([]models.Response, error) {
	var responses []models.Response
	for rows.Next() {
		var r models.Response
		if err := rows.Scan(&r.ID, &r.PatientID, &r.QuestionType, &r.Value, &r.RespondedAt); err != nil {
			return nil, fmt.Errorf("scan response row failed: %w", err)
		}
		responses = append(responses, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate response rows failed: %w", err)
	}
	return responses, nil
}

// scanAssistantInteractions scans all AssistantInteractions from sql.Rows.
func scanAssistantInteractions(rows *sql.Rows) ([]models.AssistantInteraction, error) {
	var interactions []models.AssistantInteraction
	for rows.Next() {
		var ai models.AssistantInteraction
		if err := rows.Scan(&ai.ID, &ai.PatientID, &ai.Prompt, &ai.Reply, &ai.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan assistant interaction row failed: %w", err)
		}
		interactions = append(interactions, ai)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assistant interaction rows failed: %w", err)
	}
	return interactions, nil
}
