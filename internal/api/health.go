package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// RegisterHealth registers the readiness probe and, when enabled, the metrics endpoint.
func (h *Handler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler())
	}
}

// Health reports database connectivity and classroom counts.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	db := "ok"
	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status = http.StatusServiceUnavailable
		db = "unreachable"
	}

	JSON(w, status, map[string]interface{}{
		"status":       http.StatusText(status),
		"database":     db,
		"lesson_ready": h.rooms.LessonReady(),
		"classrooms":   h.rooms.Len(),
	})
}
