package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type chatResponse struct {
	Success        bool   `json:"success"`
	Canceled       bool   `json:"canceled,omitempty"`
	Response       string `json:"response,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
}

type ttsRequest struct {
	Text string `json:"text"`
}

type ttsResponse struct {
	Success      bool   `json:"success"`
	Canceled     bool   `json:"canceled,omitempty"`
	Available    bool   `json:"available"`
	AudioDataURL string `json:"audio_data_url,omitempty"`
}

type cancelRequest struct {
	ConversationID string `json:"conversation_id"`
}

// RegisterChatRoutes registers chat and speech endpoints.
func (h *Handler) RegisterChatRoutes(r chi.Router) {
	r.Post("/api/chat", h.Chat)
	r.Post("/api/chat/cancel", h.CancelChat)
	r.Post("/api/tts", h.Speak)
}

// Chat runs one exchange against the upstream model. A request superseded by
// a newer send for the same conversation resolves quietly as canceled.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}

	res, err := h.svc.Send(r.Context(), req.ConversationID, req.Message, originUser)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			JSON(w, http.StatusOK, chatResponse{Canceled: true})
			return
		}
		slog.Warn("Chat exchange failed", "conversation_id", req.ConversationID, "error", err)
		bridgeError(w, err)
		return
	}

	JSON(w, http.StatusOK, chatResponse{
		Success:        true,
		Response:       res.Reply.Content,
		ConversationID: res.ConversationID,
		MessageID:      res.Reply.ID,
	})
}

// CancelChat aborts the in-flight exchange for a conversation (stop button).
func (h *Handler) CancelChat(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ConversationID == "" {
		Error(w, http.StatusBadRequest, "conversation_id is required")
		return
	}
	canceled := h.svc.CancelInflight(req.ConversationID)
	JSON(w, http.StatusOK, map[string]bool{"canceled": canceled})
}

// Speak synthesizes speech for a piece of text. Upstream producing no audio
// is reported as available=false, not as an error.
func (h *Handler) Speak(w http.ResponseWriter, r *http.Request) {
	var req ttsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		Error(w, http.StatusBadRequest, "text is required")
		return
	}

	dataURL, available, err := h.svc.Speak(r.Context(), req.Text)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			JSON(w, http.StatusOK, ttsResponse{Canceled: true})
			return
		}
		slog.Warn("Speech synthesis failed", "error", err)
		bridgeError(w, err)
		return
	}

	JSON(w, http.StatusOK, ttsResponse{
		Success:      true,
		Available:    available,
		AudioDataURL: dataURL,
	})
}
