package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/erpbridge/internal/backup"
)

// SnapshotStore defines the store operations needed by the snapshot worker.
type SnapshotStore interface {
	GenerateSnapshot(ctx context.Context) error
	SnapshotPath() string
}

// SnapshotWorker generates periodic database snapshots and hands them to
// the backup uploader.
type SnapshotWorker struct {
	store    SnapshotStore
	uploader backup.Uploader
	interval time.Duration
}

// NewSnapshotWorker creates a worker with the given store, uploader, and
// interval. The uploader parameter is optional; if nil, no upload is
// attempted.
func NewSnapshotWorker(store SnapshotStore, uploader backup.Uploader, interval time.Duration) *SnapshotWorker {
	return &SnapshotWorker{
		store:    store,
		uploader: uploader,
		interval: interval,
	}
}

// Run starts the worker loop. Generates a snapshot immediately on start,
// then on each interval. Respects context cancellation for graceful shutdown.
func (w *SnapshotWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "snapshot",
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Generate snapshot immediately on start
	w.generateSnapshot(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "snapshot",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.generateSnapshot(ctx)
		}
	}
}

// generateSnapshot generates a snapshot, hands it to the uploader, and logs
// any errors. Failures are never fatal; the next cycle retries.
func (w *SnapshotWorker) generateSnapshot(ctx context.Context) {
	slog.Info("snapshot generation started",
		"component", "worker",
		"action", "snapshot_start",
	)

	if err := w.store.GenerateSnapshot(ctx); err != nil {
		// Check if it's a context cancellation (graceful shutdown)
		if ctx.Err() != nil {
			return
		}
		slog.Warn("snapshot generation failed",
			"component", "worker",
			"action", "snapshot_failed",
			"error", err,
		)
		return
	}

	if w.uploader == nil {
		return
	}

	// Upload failures are not fatal; the local snapshot remains valid.
	if err := w.uploader.Upload(ctx, w.store.SnapshotPath()); err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("snapshot upload failed",
			"component", "worker",
			"action", "snapshot_upload_failed",
			"error", err,
		)
	}
}
