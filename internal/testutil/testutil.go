// Package testutil provides common test utilities and helpers for CarePing tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/CarePingHQ/CarePing/internal/models"
	"github.com/CarePingHQ/CarePing/internal/store"
)

// NewConsultation builds a scheduled consultation with a practitioner owner
// and a patient participant, both with phone numbers.
func NewConsultation(id string, scheduledDate time.Time) models.Consultation {
	return models.Consultation{
		ID:            id,
		Status:        models.ConsultationStatusScheduled,
		ScheduledDate: &scheduledDate,
		Owner:         models.User{ID: "prac-1", Name: "Dr. Osei", Phone: "+15550100"},
		Participants: []models.Participant{
			{User: models.User{ID: "pat-1", Name: "Maya Lindqvist", Phone: "+15550200"}, Role: models.RolePatient},
		},
	}
}

// SeedConsultation saves a consultation into the store, failing the test on error.
func SeedConsultation(t *testing.T, st store.Store, c models.Consultation) {
	t.Helper()
	if err := st.SaveConsultation(c); err != nil {
		t.Fatalf("failed to seed consultation %s: %v", c.ID, err)
	}
}

// AssertReminderStatus loads a reminder and checks its status.
func AssertReminderStatus(t *testing.T, st store.Store, id string, want models.ReminderStatus) {
	t.Helper()
	r, err := st.GetReminder(id)
	if err != nil {
		t.Fatalf("failed to get reminder %s: %v", id, err)
	}
	if r == nil {
		t.Fatalf("reminder %s not found", id)
	}
	if r.Status != want {
		t.Errorf("reminder %s: expected status %s, got %s", id, want, r.Status)
	}
}

// CountByStatus tallies a consultation's reminders by status.
func CountByStatus(t *testing.T, st store.Store, consultationID string) map[models.ReminderStatus]int {
	t.Helper()
	reminders, err := st.ListReminders(consultationID)
	if err != nil {
		t.Fatalf("failed to list reminders for %s: %v", consultationID, err)
	}
	counts := make(map[models.ReminderStatus]int)
	for _, r := range reminders {
		counts[r.Status]++
	}
	return counts
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes a JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}
