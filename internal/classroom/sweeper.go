package classroom

import (
	"context"
	"log/slog"
	"time"
)

// snapshotRetention bounds how long persisted snapshots outlive their classroom.
const snapshotRetention = 7 * 24 * time.Hour

// SnapshotCleaner removes persisted snapshots that have not been updated within ttl.
type SnapshotCleaner interface {
	CleanupExpiredClassSessions(ctx context.Context, ttl time.Duration) (int64, error)
}

// StartSweeper runs a background goroutine that periodically evicts classrooms idle
// longer than ttl and prunes old snapshots. It stops when ctx is done.
func StartSweeper(ctx context.Context, m *Manager, cleaner SnapshotCleaner, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Classroom sweeper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweep(ctx, m, cleaner, ttl, time.Now())
			case <-ctx.Done():
				slog.Info("Classroom sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweep(ctx context.Context, m *Manager, cleaner SnapshotCleaner, ttl time.Duration, now time.Time) {
	if removed := m.Evict(now.Add(-ttl)); removed > 0 {
		slog.Info("Sweeper evicted idle classrooms", "count", removed, "remaining", m.Len())
	}

	if cleaner == nil {
		return
	}
	if deleted, err := cleaner.CleanupExpiredClassSessions(ctx, snapshotRetention); err != nil {
		slog.Error("Sweeper failed to cleanup class snapshots", "error", err)
	} else if deleted > 0 {
		slog.Info("Sweeper cleaned up class snapshots", "count", deleted)
	}
}
