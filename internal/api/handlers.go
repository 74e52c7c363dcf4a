// Package api provides HTTP handlers for CarePing endpoints.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/CarePingHQ/CarePing/internal/models"
	"github.com/CarePingHQ/CarePing/internal/util"
)

// consultationRequest is the booking-workflow payload for creating or
// rescheduling a consultation.
type consultationRequest struct {
	ID            string                    `json:"id"`
	Status        models.ConsultationStatus `json:"status"`
	ScheduledDate *time.Time                `json:"scheduled_date"`
	Owner         models.User               `json:"owner"`
	Participants  []models.Participant      `json:"participants"`
	ReminderTypes []models.ReminderType     `json:"reminder_types,omitempty"`
}

// upsertConsultationHandler records a consultation and synchronously drives
// the reminder scheduler, the way the booking workflow would on create and
// reschedule.
func (s *Server) upsertConsultationHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req consultationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.upsertConsultationHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.ID == "" {
		req.ID = util.GenerateConsultationID()
	}
	if req.Status == "" {
		req.Status = models.ConsultationStatusScheduled
	}

	existing, err := s.store.GetConsultation(req.ID)
	if err != nil {
		slog.Error("Server.upsertConsultationHandler: consultation lookup failed", "error", err, "id", req.ID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load consultation"))
		return
	}
	consultation := models.Consultation{
		ID:            req.ID,
		Status:        req.Status,
		ScheduledDate: req.ScheduledDate,
		Owner:         req.Owner,
		Participants:  req.Participants,
	}
	if existing != nil {
		consultation.RemindersSent = existing.RemindersSent
	}

	if err := s.store.SaveConsultation(consultation); err != nil {
		slog.Error("Server.upsertConsultationHandler: save failed", "error", err, "id", req.ID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save consultation"))
		return
	}

	// Scheduling errors propagate to the caller: the booking workflow must
	// know its reminders were not set up.
	if consultation.Status == models.ConsultationStatusScheduled && consultation.ScheduledDate != nil {
		err = s.scheduler.ScheduleReminders(consultation.ID, *consultation.ScheduledDate, req.ReminderTypes...)
	} else {
		err = s.scheduler.CancelReminders(consultation.ID)
	}
	if err != nil {
		slog.Error("Server.upsertConsultationHandler: reminder scheduling failed", "error", err, "id", req.ID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to schedule reminders"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(consultation))
}

type cancelConsultationRequest struct {
	ConsultationID string `json:"consultation_id"`
}

// cancelConsultationHandler marks a consultation cancelled and cancels its
// outstanding reminders.
func (s *Server) cancelConsultationHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req cancelConsultationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.ConsultationID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("consultation_id is required"))
		return
	}

	consultation, err := s.store.GetConsultation(req.ConsultationID)
	if err != nil {
		slog.Error("Server.cancelConsultationHandler: lookup failed", "error", err, "id", req.ConsultationID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load consultation"))
		return
	}
	if consultation == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Consultation not found"))
		return
	}

	consultation.Status = models.ConsultationStatusCancelled
	if err := s.store.SaveConsultation(*consultation); err != nil {
		slog.Error("Server.cancelConsultationHandler: save failed", "error", err, "id", req.ConsultationID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save consultation"))
		return
	}

	if err := s.scheduler.CancelReminders(req.ConsultationID); err != nil {
		slog.Error("Server.cancelConsultationHandler: reminder cancellation failed", "error", err, "id", req.ConsultationID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to cancel reminders"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(consultation))
}

// listRemindersHandler returns the full reminder audit trail for a
// consultation, terminal rows included.
func (s *Server) listRemindersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	consultationID := r.URL.Query().Get("consultation_id")
	if consultationID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("consultation_id query parameter is required"))
		return
	}

	reminders, err := s.store.ListReminders(consultationID)
	if err != nil {
		slog.Error("Server.listRemindersHandler: list failed", "error", err, "consultation", consultationID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list reminders"))
		return
	}
	if reminders == nil {
		reminders = []models.Reminder{}
	}

	writeJSONResponse(w, http.StatusOK, models.Success(reminders))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success("healthy"))
}
