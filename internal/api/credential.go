package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/avdeyev/gembridge/internal/credential"
	"github.com/avdeyev/gembridge/internal/upstream"
)

type setCredentialRequest struct {
	Cookies  string `json:"cookies"`
	Validate bool   `json:"validate,omitempty"`
}

type credentialStateResponse struct {
	Present     bool       `json:"present"`
	Status      string     `json:"status,omitempty"`
	SetAt       *time.Time `json:"set_at,omitempty"`
	ValidatedAt *time.Time `json:"validated_at,omitempty"`
}

type validateResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
}

// RegisterCredentialRoutes registers credential lifecycle endpoints. The raw
// cookie value is accepted once here and never returned by any endpoint.
func (h *Handler) RegisterCredentialRoutes(r chi.Router) {
	r.Route("/api/credential", func(r chi.Router) {
		r.Post("/", h.SetCredential)
		r.Delete("/", h.ClearCredential)
		r.Get("/status", h.CredentialStatus)
		r.Post("/validate", h.ValidateCredential)
	})
}

// SetCredential installs a pasted cookie blob as the active credential.
func (h *Handler) SetCredential(w http.ResponseWriter, r *http.Request) {
	var req setCredentialRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Cookies) == "" {
		Error(w, http.StatusBadRequest, "cookies is required")
		return
	}

	state, err := h.svc.SetCredential(r.Context(), req.Cookies, req.Validate)
	if err != nil {
		var credErr *upstream.CredentialError
		if errors.As(err, &credErr) {
			Error(w, http.StatusBadRequest, credErr.Reason)
			return
		}
		slog.Error("Failed to set credential", "error", err)
		Error(w, http.StatusInternalServerError, "failed to store credential")
		return
	}

	slog.Info("Credential installed", "status", state.Status)
	JSON(w, http.StatusOK, stateResponse(state))
}

// ClearCredential discards the stored credential (logout).
func (h *Handler) ClearCredential(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearCredential(r.Context()); err != nil {
		slog.Error("Failed to clear credential", "error", err)
		Error(w, http.StatusInternalServerError, "failed to clear credential")
		return
	}
	JSON(w, http.StatusOK, credentialStateResponse{Present: false})
}

// CredentialStatus reports the lifecycle snapshot without touching upstream.
func (h *Handler) CredentialStatus(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, stateResponse(h.svc.CredentialState()))
}

// ValidateCredential round-trips a probe exchange against upstream.
func (h *Handler) ValidateCredential(w http.ResponseWriter, r *http.Request) {
	valid, message := h.svc.ValidateCredential(r.Context())
	JSON(w, http.StatusOK, validateResponse{Valid: valid, Message: message})
}

func stateResponse(state credential.State) credentialStateResponse {
	resp := credentialStateResponse{
		Present:     state.Present,
		ValidatedAt: state.ValidatedAt,
	}
	if state.Present {
		resp.Status = string(state.Status)
		setAt := state.SetAt
		resp.SetAt = &setAt
	}
	return resp
}
