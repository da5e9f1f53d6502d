package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterConversationRoutes registers conversation history endpoints.
func (h *Handler) RegisterConversationRoutes(r chi.Router) {
	r.Route("/api/conversations", func(r chi.Router) {
		r.Get("/", h.ListConversations)
		r.Get("/{id}", h.GetConversation)
		r.Delete("/{id}", h.DeleteConversation)
	})
}

// ListConversations returns all conversations, newest first, without
// messages.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.repo.ListConversations(r.Context())
	if err != nil {
		slog.Error("Failed to list conversations", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	JSON(w, http.StatusOK, convs)
}

// GetConversation returns one conversation with its full message history.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conv, err := h.repo.GetConversation(r.Context(), id)
	if err != nil {
		slog.Error("Failed to load conversation", "id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	if conv == nil {
		Error(w, http.StatusNotFound, "conversation not found")
		return
	}
	JSON(w, http.StatusOK, conv)
}

// DeleteConversation removes a conversation and its messages.
func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.repo.DeleteConversation(r.Context(), id); err != nil {
		slog.Error("Failed to delete conversation", "id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}
	// Any in-flight exchange for this conversation is now pointless.
	h.svc.CancelInflight(id)
	JSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
