// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/dreamtree-labs/lsa-tutor/internal/domain"
)

// Repository defines the interface for persisting learners and class snapshots.
type Repository interface {
	// GetUser retrieves a user by their user ID. It returns nil, nil when absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// GetClassSession retrieves the snapshot for a user tab.
	GetClassSession(ctx context.Context, userID, sessionID string) (*domain.ClassSession, error)

	// UpsertClassSession creates or updates a class snapshot.
	UpsertClassSession(ctx context.Context, session *domain.ClassSession) error

	// DeleteClassSession removes a class snapshot.
	DeleteClassSession(ctx context.Context, userID, sessionID string) error

	// CleanupExpiredClassSessions removes snapshots not updated within ttl.
	CleanupExpiredClassSessions(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
