package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DistressWatch/DistressWatch/internal/models"
	"github.com/DistressWatch/DistressWatch/internal/scheduler"
	"github.com/DistressWatch/DistressWatch/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	status := func() scheduler.Status {
		return scheduler.Status{Running: true, Mode: scheduler.ModeProd, Entries: []string{"09:00 UTC"}}
	}
	srv := httptest.NewServer(NewRouter(NewHandler(st, status)))
	t.Cleanup(srv.Close)
	return srv, st
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
	}
	return resp
}

func seedPatient(t *testing.T, st *store.InMemoryStore, telegramID string, status models.PatientStatus) models.Patient {
	t.Helper()
	p, err := st.CreatePatient(models.Patient{
		TelegramID:   telegramID,
		FirstName:    "Test",
		Status:       status,
		RegisteredAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("failed to seed patient: %v", err)
	}
	return p
}

func TestListPatients(t *testing.T) {
	srv, st := newTestServer(t)

	var empty []models.Patient
	resp := getJSON(t, srv.URL+"/api/patients", &empty)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(empty) != 0 {
		t.Errorf("expected empty roster, got %d", len(empty))
	}

	seedPatient(t, st, "1", models.StatusActive)
	seedPatient(t, st, "2", models.StatusBlocked)

	var patients []models.Patient
	getJSON(t, srv.URL+"/api/patients", &patients)
	if len(patients) != 2 {
		t.Errorf("expected 2 patients, got %d", len(patients))
	}
}

func TestPatientResponses(t *testing.T) {
	srv, st := newTestServer(t)
	p := seedPatient(t, st, "1", models.StatusActive)
	st.AddResponse(models.Response{PatientID: p.ID, QuestionType: models.QuestionDistressCheck, Value: models.ResponseNo, RespondedAt: time.Now()})

	var responses []models.Response
	resp := getJSON(t, srv.URL+"/api/patients/1/responses", &responses)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(responses) != 1 || responses[0].Value != models.ResponseNo {
		t.Errorf("unexpected responses: %+v", responses)
	}

	if resp := getJSON(t, srv.URL+"/api/patients/999/responses", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown patient, got %d", resp.StatusCode)
	}
	if resp := getJSON(t, srv.URL+"/api/patients/abc/responses", nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad id, got %d", resp.StatusCode)
	}
}

func TestListResponsesSince(t *testing.T) {
	srv, st := newTestServer(t)
	p := seedPatient(t, st, "1", models.StatusActive)
	st.AddResponse(models.Response{PatientID: p.ID, QuestionType: models.QuestionDistressCheck, Value: models.ResponseNo, RespondedAt: time.Now().Add(-48 * time.Hour)})
	st.AddResponse(models.Response{PatientID: p.ID, QuestionType: models.QuestionDistressCheck, Value: models.ResponseYes, RespondedAt: time.Now()})

	var all []models.Response
	getJSON(t, srv.URL+"/api/responses", &all)
	if len(all) != 2 {
		t.Errorf("expected 2 responses without since, got %d", len(all))
	}

	since := time.Now().Add(-time.Hour).Format(time.RFC3339)
	var recent []models.Response
	getJSON(t, srv.URL+"/api/responses?since="+since, &recent)
	if len(recent) != 1 || recent[0].Value != models.ResponseYes {
		t.Errorf("unexpected filtered responses: %+v", recent)
	}

	if resp := getJSON(t, srv.URL+"/api/responses?since=yesterday", nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad since, got %d", resp.StatusCode)
	}
}

func TestGetSummary(t *testing.T) {
	srv, st := newTestServer(t)
	seedPatient(t, st, "1", models.StatusActive)
	seedPatient(t, st, "2", models.StatusActive)
	p := seedPatient(t, st, "3", models.StatusInactive)
	st.AddResponse(models.Response{PatientID: p.ID, QuestionType: models.QuestionDistressCheck, Value: models.ResponseNo, RespondedAt: time.Now()})
	st.AddResponse(models.Response{PatientID: p.ID, QuestionType: models.QuestionDistressCheck, Value: models.ResponseNo, RespondedAt: time.Now().Add(-30 * 24 * time.Hour)})

	var summary Summary
	getJSON(t, srv.URL+"/api/summary", &summary)
	if summary.Patients["active"] != 2 || summary.Patients["inactive"] != 1 || summary.Patients["blocked"] != 0 {
		t.Errorf("unexpected patient counts: %+v", summary.Patients)
	}
	if summary.RecentResponses != 1 {
		t.Errorf("expected 1 recent response, got %d", summary.RecentResponses)
	}
}

func TestGetHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	var status scheduler.Status
	resp := getJSON(t, srv.URL+"/api/health", &status)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !status.Running || status.Mode != scheduler.ModeProd {
		t.Errorf("unexpected health snapshot: %+v", status)
	}
}

func TestWritePathsRejected(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/patients", "application/json", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for POST, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/patients/1/responses", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for DELETE, got %d", resp.StatusCode)
	}
}
