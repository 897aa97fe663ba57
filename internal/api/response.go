// Package api provides the read-only admin reporting surface: patient
// rosters, recorded responses, aggregate summaries, and scheduler liveness.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// errorBody is the JSON shape of an error response.
type errorBody struct {
	Error string `json:"error"`
}

// fallback for the rare case marshaling a response itself fails.
var fallbackErrorResponse = []byte(`{"error":"internal server error"}`)

// writeJSON marshals first so encoding errors are caught before headers go out.
func writeJSON(w http.ResponseWriter, statusCode int, response any) {
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("API failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("API failed to write JSON response", "error", writeErr)
	}
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, errorBody{Error: message})
}
