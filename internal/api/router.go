package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the read-only admin router. No write paths are mounted;
// chi answers non-GET methods on these routes with 405.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.GetHealth)
		r.Get("/patients", h.ListPatients)
		r.Get("/patients/{patientID}/responses", h.PatientResponses)
		r.Get("/responses", h.ListResponses)
		r.Get("/summary", h.GetSummary)
	})

	return r
}
