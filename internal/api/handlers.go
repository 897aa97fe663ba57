package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/DistressWatch/DistressWatch/internal/models"
	"github.com/DistressWatch/DistressWatch/internal/scheduler"
	"github.com/DistressWatch/DistressWatch/internal/store"
)

// summaryWindow is the lookback for the recent-responses count.
const summaryWindow = 7 * 24 * time.Hour

// Handler serves the read-only reporting endpoints.
type Handler struct {
	store       store.Store
	schedStatus func() scheduler.Status
}

// NewHandler creates a Handler over the store and scheduler snapshot source.
func NewHandler(st store.Store, schedStatus func() scheduler.Status) *Handler {
	return &Handler{store: st, schedStatus: schedStatus}
}

// ListPatients handles GET /api/patients.
func (h *Handler) ListPatients(w http.ResponseWriter, r *http.Request) {
	patients, err := h.store.ListPatients()
	if err != nil {
		slog.Error("API failed to list patients", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list patients")
		return
	}
	if patients == nil {
		patients = []models.Patient{}
	}
	writeJSON(w, http.StatusOK, patients)
}

// PatientResponses handles GET /api/patients/{patientID}/responses.
func (h *Handler) PatientResponses(w http.ResponseWriter, r *http.Request) {
	patientID, err := strconv.ParseInt(chi.URLParam(r, "patientID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid patient id")
		return
	}
	patient, err := h.store.GetPatient(patientID)
	if err != nil {
		slog.Error("API failed to load patient", "error", err, "patientID", patientID)
		writeError(w, http.StatusInternalServerError, "failed to load patient")
		return
	}
	if patient == nil {
		writeError(w, http.StatusNotFound, "patient not found")
		return
	}
	responses, err := h.store.ListResponsesByPatient(patientID)
	if err != nil {
		slog.Error("API failed to list responses", "error", err, "patientID", patientID)
		writeError(w, http.StatusInternalServerError, "failed to list responses")
		return
	}
	if responses == nil {
		responses = []models.Response{}
	}
	writeJSON(w, http.StatusOK, responses)
}

// ListResponses handles GET /api/responses?since=RFC3339. Without since, all
// responses are returned.
func (h *Handler) ListResponses(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since timestamp, want RFC3339")
			return
		}
		since = parsed
	}
	responses, err := h.store.ListResponsesSince(since)
	if err != nil {
		slog.Error("API failed to list responses", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list responses")
		return
	}
	if responses == nil {
		responses = []models.Response{}
	}
	writeJSON(w, http.StatusOK, responses)
}

// Summary is the GET /api/summary payload.
type Summary struct {
	Patients        map[string]int `json:"patients"`
	RecentResponses int            `json:"responses_last_7_days"`
}

// GetSummary handles GET /api/summary: patient counts by status plus the
// response count over the last seven days.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	patients, err := h.store.ListPatients()
	if err != nil {
		slog.Error("API failed to list patients", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to build summary")
		return
	}
	counts := map[string]int{
		string(models.StatusActive):   0,
		string(models.StatusInactive): 0,
		string(models.StatusBlocked):  0,
	}
	for _, p := range patients {
		counts[string(p.Status)]++
	}
	recent, err := h.store.ListResponsesSince(time.Now().Add(-summaryWindow))
	if err != nil {
		slog.Error("API failed to count recent responses", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to build summary")
		return
	}
	writeJSON(w, http.StatusOK, Summary{Patients: counts, RecentResponses: len(recent)})
}

// GetHealth handles GET /api/health with the scheduler liveness snapshot.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.schedStatus())
}
