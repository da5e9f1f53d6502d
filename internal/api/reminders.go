package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/avdeyev/gembridge/internal/domain"
	"github.com/avdeyev/gembridge/internal/reminder"
)

type createReminderRequest struct {
	Kind           string `json:"kind"`
	Value          string `json:"value"`
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// RegisterReminderRoutes registers reminder CRUD endpoints.
func (h *Handler) RegisterReminderRoutes(r chi.Router) {
	r.Route("/api/reminders", func(r chi.Router) {
		r.Get("/", h.ListReminders)
		r.Post("/", h.CreateReminder)
		r.Delete("/{id}", h.DeleteReminder)
	})
}

// ListReminders returns all reminders, fired one-shots included.
func (h *Handler) ListReminders(w http.ResponseWriter, r *http.Request) {
	reminders, err := h.repo.ListReminders(r.Context(), false)
	if err != nil {
		slog.Error("Failed to list reminders", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list reminders")
		return
	}
	JSON(w, http.StatusOK, reminders)
}

// CreateReminder validates, persists, and schedules a new reminder.
func (h *Handler) CreateReminder(w http.ResponseWriter, r *http.Request) {
	var req createReminderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}
	if err := reminder.Validate(req.Kind, req.Value); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	rem := domain.NewReminder(req.Kind, req.Value, req.Message, req.ConversationID)
	if err := h.repo.CreateReminder(r.Context(), rem); err != nil {
		slog.Error("Failed to create reminder", "error", err)
		Error(w, http.StatusInternalServerError, "failed to create reminder")
		return
	}
	if err := h.sched.Schedule(rem); err != nil {
		slog.Error("Failed to schedule reminder", "id", rem.ID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to schedule reminder")
		return
	}

	slog.Info("Reminder created", "id", rem.ID, "kind", rem.Kind, "value", rem.Value)
	JSON(w, http.StatusCreated, rem)
}

// DeleteReminder unschedules and removes a reminder.
func (h *Handler) DeleteReminder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.sched.Remove(id)
	if err := h.repo.DeleteReminder(r.Context(), id); err != nil {
		slog.Error("Failed to delete reminder", "id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to delete reminder")
		return
	}
	JSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
