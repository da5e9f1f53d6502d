package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// RegisterHealth registers the detailed health endpoint.
func (h *Handler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}

// Health reports service and database health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Database: "ok"}
	status := http.StatusOK
	if err := h.repo.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Database = err.Error()
		status = http.StatusServiceUnavailable
	}
	JSON(w, status, resp)
}
