package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hyperengineering/erpbridge/internal/types"
)

// SyncOutbound handles POST /api/v1/sync/outbound: one manual outbound pass.
// The engine's mutex makes this safe against the interval worker.
func (h *Handler) SyncOutbound(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	synced, err := h.engine.RunOutboundPass(r.Context())
	if err != nil {
		slog.Error("manual outbound pass failed",
			"component", "api",
			"action", "sync_outbound_failed",
			"error", err,
		)
		WriteProblem(w, r, http.StatusInternalServerError, "Outbound pass failed")
		return
	}

	writeJSON(w, http.StatusOK, types.OutboundResult{Synced: synced})

	slog.Info("manual outbound pass completed",
		"component", "api",
		"action", "sync_outbound",
		"synced", synced,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// SyncInbound handles POST /api/v1/sync/inbound: pulls remote issues into
// the local store. batch_size and max_records query parameters override the
// configured defaults. Failed pages are reported in the result body, not as
// an HTTP error.
func (h *Handler) SyncInbound(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	batchSize, maxRecords, err := parseInboundParams(r)
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if batchSize == 0 {
		batchSize = h.cfg.InboundBatchSize
	}
	if maxRecords == 0 {
		maxRecords = h.cfg.InboundMaxRecords
	}

	result, err := h.engine.RunInboundPass(r.Context(), batchSize, maxRecords)
	if err != nil {
		slog.Error("manual inbound pass failed",
			"component", "api",
			"action", "sync_inbound_failed",
			"error", err,
		)
		WriteProblem(w, r, http.StatusInternalServerError, "Inbound pass failed")
		return
	}

	writeJSON(w, http.StatusOK, result)

	slog.Info("manual inbound pass completed",
		"component", "api",
		"action", "sync_inbound",
		"inserted", result.InsertedTotal,
		"updated", result.UpdatedTotal,
		"failed_batches", len(result.FailedBatches),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// parseInboundParams extracts the optional batch_size and max_records
// overrides. Zero means "not provided".
func parseInboundParams(r *http.Request) (batchSize, maxRecords int, err error) {
	q := r.URL.Query()

	if raw := q.Get("batch_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return 0, 0, fmt.Errorf("invalid batch_size parameter: must be a positive integer")
		}
		batchSize = n
	}

	if raw := q.Get("max_records"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return 0, 0, fmt.Errorf("invalid max_records parameter: must be a positive integer")
		}
		maxRecords = n
	}

	return batchSize, maxRecords, nil
}
