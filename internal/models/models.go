// Package models defines the core data structures for DistressWatch.
//
// It includes types for patients, questionnaire responses, and open prompt
// correlation records, which are shared across modules.
package models

import (
	"errors"
	"time"
)

// PatientStatus represents the lifecycle state of a patient.
type PatientStatus string

const (
	// StatusActive means the patient receives scheduled questionnaires.
	StatusActive PatientStatus = "active"
	// StatusInactive means the patient paused scheduled questionnaires.
	StatusInactive PatientStatus = "inactive"
	// StatusBlocked means the patient cannot receive messages (blocked the
	// bot at the platform level, or blocked by an administrator).
	StatusBlocked PatientStatus = "blocked"
)

// IsValidPatientStatus checks if the given status is supported.
func IsValidPatientStatus(s PatientStatus) bool {
	switch s {
	case StatusActive, StatusInactive, StatusBlocked:
		return true
	default:
		return false
	}
}

// QuestionType identifies which questionnaire question a prompt or response
// belongs to.
type QuestionType string

const (
	// QuestionDistressCheck is the first question: yes/no distress today.
	QuestionDistressCheck QuestionType = "distress_check"
	// QuestionSeverityRating is the follow-up question: 1-5 severity scale,
	// asked only after a "yes" distress check.
	QuestionSeverityRating QuestionType = "severity_rating"
)

// Severity bounds for the severity_rating scale.
const (
	MinSeverity = 1
	MaxSeverity = 5
)

// Response values recorded for distress_check questions.
const (
	ResponseYes = "yes"
	ResponseNo  = "no"
)

// Error variables for better error handling and testability
var (
	ErrPatientNotFound      = errors.New("patient not found")
	ErrDuplicatePatient     = errors.New("patient already registered")
	ErrPatientBlocked       = errors.New("patient is blocked")
	ErrPromptAlreadyOpen    = errors.New("a prompt is already open for this patient")
	ErrNoOpenPrompt         = errors.New("no open prompt for this patient")
	ErrUnrecognizedCallback = errors.New("unrecognized callback data")
	ErrSeverityOutOfRange   = errors.New("severity rating out of range")
	ErrEmptyTelegramID      = errors.New("telegram id cannot be empty")
)

// Patient represents a registered patient in the monitoring system.
// Patients are never hard-deleted; Status carries the soft lifecycle.
type Patient struct {
	ID              int64         `json:"id"`
	TelegramID      string        `json:"telegram_id"`
	FirstName       string        `json:"first_name"`
	FamilyName      string        `json:"family_name"`
	Status          PatientStatus `json:"status"`
	RegisteredAt    time.Time     `json:"registered_at"`
	LastInteraction *time.Time    `json:"last_interaction,omitempty"`
}

// Validate performs basic validation on a Patient structure.
func (p *Patient) Validate() error {
	if p.TelegramID == "" {
		return ErrEmptyTelegramID
	}
	if !IsValidPatientStatus(p.Status) {
		return errors.New("invalid patient status")
	}
	return nil
}

// Response represents one recorded questionnaire answer. Responses are
// created only by the questionnaire flow and are immutable thereafter.
type Response struct {
	ID           int64        `json:"id"`
	PatientID    int64        `json:"patient_id"`
	QuestionType QuestionType `json:"question_type"`
	Value        string       `json:"value"`
	RespondedAt  time.Time    `json:"responded_at"`
}

// OpenPrompt correlates an outstanding questionnaire question to a patient.
// At most one OpenPrompt exists per patient at any time; the row doubles as
// the persisted state of the questionnaire state machine (no row means Idle,
// Question tells which answer is awaited).
type OpenPrompt struct {
	PatientID int64        `json:"patient_id"`
	CycleID   string       `json:"cycle_id"`
	Question  QuestionType `json:"question"`
	IssuedAt  time.Time    `json:"issued_at"`
}

// Expired reports whether the prompt has been open longer than timeout.
func (p *OpenPrompt) Expired(timeout time.Duration, now time.Time) bool {
	return now.Sub(p.IssuedAt) > timeout
}

// AssistantInteraction stores one emotional-support exchange: the patient's
// message and the generated reply.
type AssistantInteraction struct {
	ID        int64     `json:"id"`
	PatientID int64     `json:"patient_id"`
	Prompt    string    `json:"prompt"`
	Reply     string    `json:"reply"`
	CreatedAt time.Time `json:"created_at"`
}
