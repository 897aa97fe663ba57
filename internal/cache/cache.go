// Package cache provides an optional fast-path mirror of open prompts.
//
// The store remains authoritative; the cache only lets the callback path
// skip a database round trip when correlating an answer to its prompt.
package cache

import (
	"context"
	"time"

	"github.com/DistressWatch/DistressWatch/internal/models"
)

// PromptCache mirrors the open-prompt table keyed by patient ID.
type PromptCache interface {
	// StoreOpen records an open prompt for a patient.
	StoreOpen(ctx context.Context, p models.OpenPrompt) error
	// GetOpen returns the mirrored open prompt, or nil if none is cached.
	GetOpen(ctx context.Context, patientID int64) (*models.OpenPrompt, error)
	// Clear removes the mirrored open prompt for a patient.
	Clear(ctx context.Context, patientID int64) error
}

// NoopCache is used when no Redis address is configured.
type NoopCache struct{}

func (NoopCache) StoreOpen(ctx context.Context, p models.OpenPrompt) error { return nil }
func (NoopCache) GetOpen(ctx context.Context, patientID int64) (*models.OpenPrompt, error) {
	return nil, nil
}
func (NoopCache) Clear(ctx context.Context, patientID int64) error { return nil }

// TTLForTimeout derives the cache entry TTL from the prompt timeout: entries
// may outlive the prompt slightly but must never linger indefinitely.
func TTLForTimeout(timeout time.Duration) time.Duration {
	return timeout + time.Minute
}
