// Package api provides HTTP handlers for the tutor API.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dreamtree-labs/lsa-tutor/internal/classroom"
	"github.com/dreamtree-labs/lsa-tutor/internal/config"
	"github.com/dreamtree-labs/lsa-tutor/internal/convlog"
	"github.com/dreamtree-labs/lsa-tutor/internal/metrics"
)

// Store is the persistence the handlers touch directly.
type Store interface {
	Ping(ctx context.Context) error
	DeleteClassSession(ctx context.Context, userID, sessionID string) error
}

// Handler provides common handler utilities.
type Handler struct {
	cfg     *config.Config
	repo    Store
	rooms   *classroom.Manager
	limiter *RateLimiter
	log     convlog.Logger
	metrics *metrics.Metrics
}

// NewHandler creates a new Handler with common dependencies.
// A nil logger disables conversation logs and nil metrics record nothing.
func NewHandler(cfg *config.Config, repo Store, rooms *classroom.Manager, limiter *RateLimiter, log convlog.Logger, m *metrics.Metrics) *Handler {
	if log == nil {
		log = convlog.Noop()
	}
	return &Handler{
		cfg:     cfg,
		repo:    repo,
		rooms:   rooms,
		limiter: limiter,
		log:     log,
		metrics: m,
	}
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

// ErrorWithDetail writes a JSON error response with a human readable detail.
func ErrorWithDetail(w http.ResponseWriter, status int, message, detail string) {
	JSON(w, status, map[string]string{"error": message, "detail": detail})
}
