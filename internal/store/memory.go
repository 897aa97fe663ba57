// Package store provides storage backends for DistressWatch.
//
// This file implements an in-memory store used by tests and as a fallback
// when no database DSN is configured.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/DistressWatch/DistressWatch/internal/models"
)

// InMemoryStore is a mutex-guarded in-memory Store implementation.
type InMemoryStore struct {
	mu           sync.Mutex
	nextID       int64
	patients     map[int64]models.Patient
	byTelegramID map[string]int64
	responses    []models.Response
	openPrompts  map[int64]models.OpenPrompt
	sweepSlots   map[string]time.Time
	interactions []models.AssistantInteraction
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		patients:     make(map[int64]models.Patient),
		byTelegramID: make(map[string]int64),
		openPrompts:  make(map[int64]models.OpenPrompt),
		sweepSlots:   make(map[string]time.Time),
	}
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) CreatePatient(p models.Patient) (models.Patient, error) {
	if err := p.Validate(); err != nil {
		return p, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byTelegramID[p.TelegramID]; exists {
		return p, models.ErrDuplicatePatient
	}
	s.nextID++
	p.ID = s.nextID
	s.patients[p.ID] = p
	s.byTelegramID[p.TelegramID] = p.ID
	return p, nil
}

func (s *InMemoryStore) GetPatientByTelegramID(telegramID string) (*models.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byTelegramID[telegramID]
	if !ok {
		return nil, nil
	}
	p := s.patients[id]
	return &p, nil
}

func (s *InMemoryStore) GetPatient(id int64) (*models.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *InMemoryStore) ListPatients() ([]models.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	patients := make([]models.Patient, 0, len(s.patients))
	for _, p := range s.patients {
		patients = append(patients, p)
	}
	sort.Slice(patients, func(i, j int) bool { return patients[i].RegisteredAt.Before(patients[j].RegisteredAt) })
	return patients, nil
}

func (s *InMemoryStore) ActivePatients() ([]models.Patient, error) {
	all, err := s.ListPatients()
	if err != nil {
		return nil, err
	}
	var active []models.Patient
	for _, p := range all {
		if p.Status == models.StatusActive {
			active = append(active, p)
		}
	}
	return active, nil
}

func (s *InMemoryStore) UpdatePatientStatus(id int64, status models.PatientStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[id]
	if !ok {
		return models.ErrPatientNotFound
	}
	p.Status = status
	s.patients[id] = p
	return nil
}

func (s *InMemoryStore) TouchLastInteraction(id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[id]
	if !ok {
		return models.ErrPatientNotFound
	}
	p.LastInteraction = &at
	s.patients[id] = p
	return nil
}

func (s *InMemoryStore) AddResponse(r models.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = int64(len(s.responses) + 1)
	s.responses = append(s.responses, r)
	return nil
}

func (s *InMemoryStore) ListResponsesByPatient(patientID int64) ([]models.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Response
	for _, r := range s.responses {
		if r.PatientID == patientID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListResponsesSince(since time.Time) ([]models.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Response
	for _, r := range s.responses {
		if !r.RespondedAt.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *InMemoryStore) ClaimOpenPrompt(p models.OpenPrompt) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.openPrompts[p.PatientID]; exists {
		return false, nil
	}
	s.openPrompts[p.PatientID] = p
	return true, nil
}

func (s *InMemoryStore) GetOpenPrompt(patientID int64) (*models.OpenPrompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.openPrompts[patientID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *InMemoryStore) UpdateOpenPrompt(p models.OpenPrompt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.openPrompts[p.PatientID]; !ok {
		return models.ErrNoOpenPrompt
	}
	s.openPrompts[p.PatientID] = p
	return nil
}

func (s *InMemoryStore) ClearOpenPrompt(patientID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.openPrompts, patientID)
	return nil
}

func (s *InMemoryStore) ExpireOpenPrompts(before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, p := range s.openPrompts {
		if p.IssuedAt.Before(before) {
			delete(s.openPrompts, id)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) ClaimSweepSlot(slotKey string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sweepSlots[slotKey]; exists {
		return false, nil
	}
	s.sweepSlots[slotKey] = at
	return true, nil
}

func (s *InMemoryStore) AddAssistantInteraction(ai models.AssistantInteraction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ai.ID = int64(len(s.interactions) + 1)
	s.interactions = append(s.interactions, ai)
	return nil
}

func (s *InMemoryStore) RecentAssistantInteractions(patientID int64, limit int) ([]models.AssistantInteraction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AssistantInteraction
	for i := len(s.interactions) - 1; i >= 0 && len(out) < limit; i-- {
		if s.interactions[i].PatientID == patientID {
			out = append(out, s.interactions[i])
		}
	}
	return out, nil
}
