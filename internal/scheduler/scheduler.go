// Package scheduler runs the questionnaire cadence: a dev-mode ticker or
// prod-mode clock times, each firing a sweep over the active patients.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/DistressWatch/DistressWatch/internal/models"
	"github.com/DistressWatch/DistressWatch/internal/store"
)

// Mode selects the cadence engine.
type Mode string

const (
	// ModeDev sweeps on a fixed short interval.
	ModeDev Mode = "dev"
	// ModeProd sweeps at fixed clock times in the configured timezone.
	ModeProd Mode = "prod"
)

// Default cadence values.
const (
	DefaultDevInterval = 2 * time.Minute
	defaultSendDelay   = 500 * time.Millisecond
)

// DefaultProdTimes are the clock times swept when none are configured.
var DefaultProdTimes = []string{"09:00", "15:00", "21:00"}

// Cadence holds the sweep cadence configuration.
type Cadence struct {
	Mode        Mode
	DevInterval time.Duration
	// ProdTimes are "HH:MM" clock times, prod mode only.
	ProdTimes []string
	// Timezone is an IANA zone name; empty means UTC.
	Timezone string
}

// Validate checks the cadence configuration. The caller treats an error as
// fatal at startup rather than falling back to a default cadence.
func (c Cadence) Validate() error {
	switch c.Mode {
	case ModeDev:
		if c.DevInterval <= 0 {
			return fmt.Errorf("dev interval must be positive, got %s", c.DevInterval)
		}
	case ModeProd:
		if len(c.ProdTimes) == 0 {
			return errors.New("prod mode requires at least one alert time")
		}
		for _, at := range c.ProdTimes {
			if _, _, err := parseClockTime(at); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown cadence mode %q", c.Mode)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the configured timezone, defaulting to UTC.
func (c Cadence) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// parseClockTime parses an "HH:MM" string.
func parseClockTime(s string) (hour, minute int, err error) {
	if _, err := fmt.Sscanf(s, "%02d:%02d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("invalid alert time %q, want HH:MM: %w", s, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid alert time %q, want HH:MM", s)
	}
	return hour, minute, nil
}

// PromptIssuer is the slice of the questionnaire flow the scheduler drives.
type PromptIssuer interface {
	// Issue starts a prompt cycle for the patient.
	Issue(ctx context.Context, patient models.Patient) error
	// ExpireTimedOut abandons prompts older than the timeout window.
	ExpireTimedOut(ctx context.Context) (int, error)
}

// Status is a point-in-time snapshot of scheduler liveness.
type Status struct {
	Running         bool      `json:"running"`
	Mode            Mode      `json:"mode"`
	Entries         []string  `json:"entries"`
	LastSweepStart  time.Time `json:"last_sweep_start"`
	LastSweepEnd    time.Time `json:"last_sweep_end"`
	LastSweepSent   int       `json:"last_sweep_sent"`
	LastSweepFailed int       `json:"last_sweep_failed"`
}

// Scheduler fires sweeps per the configured cadence. Each sweep expires
// timed-out prompts, claims its cadence slot, and issues one prompt per
// active patient.
type Scheduler struct {
	store     store.Store
	issuer    PromptIssuer
	cadence   Cadence
	loc       *time.Location
	sendDelay time.Duration

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	cron   *cron.Cron

	statusMu        sync.Mutex
	lastSweepStart  time.Time
	lastSweepEnd    time.Time
	lastSweepSent   int
	lastSweepFailed int
}

// New creates a Scheduler. The cadence must already be validated; New
// re-validates and refuses a bad one.
func New(st store.Store, issuer PromptIssuer, cadence Cadence) (*Scheduler, error) {
	if st == nil {
		return nil, errors.New("store must not be nil")
	}
	if issuer == nil {
		return nil, errors.New("issuer must not be nil")
	}
	if err := cadence.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cadence: %w", err)
	}
	loc, err := cadence.Location()
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		store:     st,
		issuer:    issuer,
		cadence:   cadence,
		loc:       loc,
		sendDelay: defaultSendDelay,
		done:      make(chan struct{}),
	}, nil
}

// Start launches the cadence engine. Returns false if already running.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	switch s.cadence.Mode {
	case ModeProd:
		s.startCron(ctx)
	default:
		s.startTicker(ctx)
	}
	return true
}

// startTicker runs the dev-mode loop: an immediate sweep, then one per
// interval.
func (s *Scheduler) startTicker(ctx context.Context) {
	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.cadence.DevInterval)
		defer ticker.Stop()

		slog.Info("Scheduler started", "mode", ModeDev, "interval", s.cadence.DevInterval.String())

		s.safeSweep(ctx, time.Now())

		for {
			select {
			case <-ctx.Done():
				slog.Info("Scheduler stopping")
				return
			case at := <-ticker.C:
				s.safeSweep(ctx, at)
			}
		}
	}()
}

// startCron registers one cron entry per configured clock time.
func (s *Scheduler) startCron(ctx context.Context) {
	c := cron.New(cron.WithLocation(s.loc))
	for _, at := range s.cadence.ProdTimes {
		hour, minute, _ := parseClockTime(at)
		spec := fmt.Sprintf("%d %d * * *", minute, hour)
		if _, err := c.AddFunc(spec, func() { s.safeSweep(ctx, time.Now()) }); err != nil {
			slog.Error("Scheduler failed to register cron entry", "error", err, "time", at)
		}
	}
	s.cron = c
	c.Start()
	slog.Info("Scheduler started", "mode", ModeProd, "times", s.cadence.ProdTimes, "timezone", s.loc.String())

	go func() {
		defer close(s.done)
		<-ctx.Done()
		slog.Info("Scheduler stopping")
		<-c.Stop().Done()
	}()
}

// Stop halts the cadence engine and waits for an in-flight sweep to finish.
// Returns false if not running.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	slog.Info("Scheduler stopped")
	return true
}

// IsRunning reports whether the cadence engine is live.
func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

// Status returns a liveness snapshot for the /health command and admin API.
func (s *Scheduler) Status() Status {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	return Status{
		Running:         s.running.Load(),
		Mode:            s.cadence.Mode,
		Entries:         s.entries(),
		LastSweepStart:  s.lastSweepStart,
		LastSweepEnd:    s.lastSweepEnd,
		LastSweepSent:   s.lastSweepSent,
		LastSweepFailed: s.lastSweepFailed,
	}
}

// entries describes the configured cadence in human-readable form.
func (s *Scheduler) entries() []string {
	if s.cadence.Mode == ModeProd {
		out := make([]string, len(s.cadence.ProdTimes))
		for i, at := range s.cadence.ProdTimes {
			out[i] = at + " " + s.loc.String()
		}
		return out
	}
	return []string{"every " + s.cadence.DevInterval.String()}
}

// safeSweep runs a sweep with panic recovery and duration logging so one bad
// sweep never takes the cadence loop down.
func (s *Scheduler) safeSweep(ctx context.Context, at time.Time) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Scheduler sweep panic recovered", "panic", r)
		}
	}()

	start := time.Now()
	s.Sweep(ctx, at)
	slog.Info("Scheduler sweep completed", "duration_ms", time.Since(start).Milliseconds())
}

// Sweep performs one cadence pass: expires timed-out prompts, claims the
// cadence slot, and issues a prompt to every active patient with a short
// delay between sends.
//
// The slot claim makes sweeps idempotent: two sweeps for the same slot key
// (restart mid-slot, overlapping ticks after a stall) issue prompts at most
// once. Missed slots are not backfilled; only the slot being swept runs.
func (s *Scheduler) Sweep(ctx context.Context, at time.Time) {
	s.markSweepStart()

	expired, err := s.issuer.ExpireTimedOut(ctx)
	if err != nil {
		slog.Error("Scheduler failed to expire prompts", "error", err)
	} else if expired > 0 {
		slog.Info("Scheduler expired timed-out prompts", "count", expired)
	}

	slotKey := s.slotKey(at)
	claimed, err := s.store.ClaimSweepSlot(slotKey, time.Now())
	if err != nil {
		slog.Error("Scheduler failed to claim sweep slot", "error", err, "slotKey", slotKey)
		s.markSweepEnd(0, 0)
		return
	}
	if !claimed {
		slog.Debug("Scheduler slot already swept", "slotKey", slotKey)
		s.markSweepEnd(0, 0)
		return
	}

	patients, err := s.store.ActivePatients()
	if err != nil {
		slog.Error("Scheduler failed to list active patients", "error", err)
		s.markSweepEnd(0, 0)
		return
	}
	slog.Info("Scheduler sweeping", "slotKey", slotKey, "patients", len(patients))

	var sent, failed int
	for i, patient := range patients {
		if i > 0 {
			select {
			case <-ctx.Done():
				slog.Info("Scheduler sweep interrupted", "slotKey", slotKey, "sent", sent)
				s.markSweepEnd(sent, failed)
				return
			case <-time.After(s.sendDelay):
			}
		}
		switch err := s.issuer.Issue(ctx, patient); {
		case err == nil:
			sent++
		case errors.Is(err, models.ErrPromptAlreadyOpen):
			slog.Debug("Scheduler skipping patient with open prompt", "patientID", patient.ID)
		default:
			// Per-patient failures never abort the sweep.
			failed++
			slog.Error("Scheduler failed to issue prompt", "error", err, "patientID", patient.ID)
		}
	}

	s.markSweepEnd(sent, failed)
	slog.Info("Scheduler sweep issued", "slotKey", slotKey, "sent", sent, "failed", failed)
}

// slotKey derives the cadence slot identifier for a sweep fired at the
// given time. Dev slots snap to the interval grid, prod slots to the minute,
// so retries within the same slot share a key.
func (s *Scheduler) slotKey(at time.Time) string {
	label := string(s.cadence.Mode)
	var slot time.Time
	if s.cadence.Mode == ModeProd {
		slot = at.In(s.loc).Truncate(time.Minute)
	} else {
		slot = at.UTC().Truncate(s.cadence.DevInterval)
	}
	return fmt.Sprintf("%s@%s", label, slot.Format(time.RFC3339))
}

func (s *Scheduler) markSweepStart() {
	s.statusMu.Lock()
	s.lastSweepStart = time.Now()
	s.statusMu.Unlock()
}

func (s *Scheduler) markSweepEnd(sent, failed int) {
	s.statusMu.Lock()
	s.lastSweepEnd = time.Now()
	s.lastSweepSent = sent
	s.lastSweepFailed = failed
	s.statusMu.Unlock()
}
