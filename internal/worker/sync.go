package worker

import (
	"context"
	"log/slog"
	"time"
)

// OutboundRunner defines the engine operation needed by the sync worker.
type OutboundRunner interface {
	RunOutboundPass(ctx context.Context) (int, error)
}

// SyncWorker periodically drives an outbound sync pass so pending local
// records reach the ERP endpoint without manual triggers.
type SyncWorker struct {
	engine   OutboundRunner
	interval time.Duration
}

// NewSyncWorker creates a worker with the given engine and interval.
func NewSyncWorker(engine OutboundRunner, interval time.Duration) *SyncWorker {
	return &SyncWorker{
		engine:   engine,
		interval: interval,
	}
}

// Run starts the worker loop. Runs one pass immediately on start to drain
// any backlog, then on each interval. Respects context cancellation for
// graceful shutdown.
func (w *SyncWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "outbound-sync",
		"interval", w.interval.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Drain any backlog left over from a previous run
	w.runPass(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "outbound-sync",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.runPass(ctx)
		}
	}
}

// runPass executes a single outbound pass and logs the outcome.
func (w *SyncWorker) runPass(ctx context.Context) {
	start := time.Now()

	slog.Debug("outbound pass started",
		"component", "worker",
		"action", "outbound_start",
	)

	synced, err := w.engine.RunOutboundPass(ctx)
	if err != nil {
		// Check for graceful shutdown
		if ctx.Err() != nil {
			return
		}
		slog.Warn("outbound pass failed",
			"component", "worker",
			"action", "outbound_failed",
			"error", err,
		)
		return
	}

	if synced == 0 {
		return
	}

	slog.Info("outbound pass completed",
		"component", "worker",
		"action", "outbound_complete",
		"synced", synced,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
