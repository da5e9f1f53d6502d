// Package api provides HTTP handlers for the bridge API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/avdeyev/gembridge/internal/bridge"
	"github.com/avdeyev/gembridge/internal/credential"
	"github.com/avdeyev/gembridge/internal/domain"
	"github.com/avdeyev/gembridge/internal/store"
	"github.com/avdeyev/gembridge/internal/upstream"
)

// originUser marks messages typed by a person in the browser.
const originUser = "user"

// Bridge is the slice of *bridge.Service the handlers need.
type Bridge interface {
	Send(ctx context.Context, conversationID, message, origin string) (bridge.SendResult, error)
	Speak(ctx context.Context, text string) (dataURL string, available bool, err error)
	CancelInflight(conversationID string) bool
	SetCredential(ctx context.Context, raw string, validateNow bool) (credential.State, error)
	ClearCredential(ctx context.Context) error
	CredentialState() credential.State
	ValidateCredential(ctx context.Context) (bool, string)
}

// ReminderScheduler is the slice of *reminder.Scheduler the handlers need.
type ReminderScheduler interface {
	Schedule(rem *domain.Reminder) error
	Remove(id string)
}

// Handler provides common handler dependencies.
type Handler struct {
	svc   Bridge
	repo  store.Repository
	sched ReminderScheduler
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(svc Bridge, repo store.Repository, sched ReminderScheduler) *Handler {
	return &Handler{svc: svc, repo: repo, sched: sched}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// bridgeError maps service errors onto HTTP status codes. Cancellation is
// handled separately by the chat handlers and never reaches this function.
func bridgeError(w http.ResponseWriter, err error) {
	var credErr *upstream.CredentialError
	var rateErr *upstream.RateLimitError
	var upErr *upstream.UpstreamError

	switch {
	case errors.Is(err, credential.ErrNoCredential),
		errors.Is(err, credential.ErrCredentialInvalid),
		errors.Is(err, credential.ErrCredentialExpired),
		errors.As(err, &credErr):
		Error(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &rateErr):
		Error(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, bridge.ErrConversationNotFound):
		Error(w, http.StatusNotFound, err.Error())
	case errors.As(err, &upErr):
		Error(w, http.StatusBadGateway, err.Error())
	default:
		Error(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
