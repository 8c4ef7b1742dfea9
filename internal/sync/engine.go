// Package sync implements the bidirectional passes between the local issue
// store and the ERP endpoint: outbound pushes pending issues, inbound folds
// remote pages back into the store.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hyperengineering/erpbridge/internal/erp"
	"github.com/hyperengineering/erpbridge/internal/store"
	"github.com/hyperengineering/erpbridge/internal/types"
)

const (
	// DefaultBatchSize is the inbound page size used when the caller does
	// not specify one.
	DefaultBatchSize = 500

	// DefaultMaxRecords caps how many remote records a single inbound pass
	// will pull.
	DefaultMaxRecords = 35000
)

// Store defines the store operations the engine needs.
type Store interface {
	ListIssues(ctx context.Context, filter store.IssueFilter) ([]types.Issue, error)
	MarkIssueSynced(ctx context.Context, id, name string, at time.Time) (*types.Issue, error)
	UpsertRemoteIssue(ctx context.Context, name string, fields store.RemoteFields, at time.Time) (bool, error)
}

// Remote defines the ERP operations the engine needs.
type Remote interface {
	CreateIssue(ctx context.Context, fields erp.IssueFields) (*erp.Issue, error)
	UpdateIssue(ctx context.Context, name string, fields erp.IssueFields) (*erp.Issue, error)
	ListIssues(ctx context.Context, limitStart, pageLength int) ([]erp.Issue, error)
}

// Engine drives the sync passes. Outbound passes are serialized so the
// interval worker and manual triggers share one entry point without racing
// over the same pending set; inbound passes are serialized separately.
type Engine struct {
	store  Store
	remote Remote

	outboundMu sync.Mutex
	inboundMu  sync.Mutex
}

// NewEngine creates an Engine over the given store and remote endpoint.
func NewEngine(st Store, remote Remote) *Engine {
	return &Engine{
		store:  st,
		remote: remote,
	}
}

// RunOutboundPass pushes every pending issue to the ERP endpoint. Failures
// are isolated per issue: one rejected record is logged and skipped while
// the rest of the pass continues. Returns the number of issues confirmed
// synced during this pass. Re-running against an unreachable endpoint is a
// no-op that leaves everything pending.
func (e *Engine) RunOutboundPass(ctx context.Context) (int, error) {
	e.outboundMu.Lock()
	defer e.outboundMu.Unlock()

	pending, err := e.store.ListIssues(ctx, store.FilterUnsynced)
	if err != nil {
		return 0, fmt.Errorf("list pending issues: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	slog.Info("outbound pass started",
		"component", "sync",
		"action", "outbound_start",
		"pending", len(pending),
	)

	synced := 0
	for i := range pending {
		if err := ctx.Err(); err != nil {
			return synced, err
		}
		issue := &pending[i]
		if err := e.pushIssue(ctx, issue); err != nil {
			slog.Warn("issue push failed",
				"component", "sync",
				"action", "push_failed",
				"id", issue.ID,
				"name", issue.Name,
				"error", err,
			)
			continue
		}
		synced++
	}

	slog.Info("outbound pass finished",
		"component", "sync",
		"action", "outbound_done",
		"synced", synced,
		"failed", len(pending)-synced,
	)

	return synced, nil
}

// pushIssue sends one issue to the endpoint (create when it has no remote
// name yet, update otherwise) and records the confirmation locally.
func (e *Engine) pushIssue(ctx context.Context, issue *types.Issue) error {
	fields := erp.IssueFields{
		Subject:  issue.Subject,
		RaisedBy: issue.RaisedBy,
		Status:   issue.Status,
	}

	name := issue.Name
	if name == "" {
		created, err := e.remote.CreateIssue(ctx, fields)
		if err != nil {
			return err
		}
		// A success without a document name cannot be confirmed: the next
		// pass would create a duplicate instead of updating.
		if created == nil || created.Name == "" {
			return &erp.MalformedResponseError{Reason: "create response missing document name"}
		}
		name = created.Name
	} else {
		if _, err := e.remote.UpdateIssue(ctx, name, fields); err != nil {
			return err
		}
	}

	if _, err := e.store.MarkIssueSynced(ctx, issue.ID, name, time.Now().UTC()); err != nil {
		return fmt.Errorf("record confirmation: %w", err)
	}
	return nil
}

// RunInboundPass pulls remote issues page by page from offset 0 and upserts
// them into the local store keyed by their ERP name. The pass ends at the
// first empty page, at maxRecords, or at the first failing page; a failure
// is recorded in the result rather than returned, and progress from
// completed pages is kept.
func (e *Engine) RunInboundPass(ctx context.Context, batchSize, maxRecords int) (*types.InboundResult, error) {
	e.inboundMu.Lock()
	defer e.inboundMu.Unlock()

	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}

	slog.Info("inbound pass started",
		"component", "sync",
		"action", "inbound_start",
		"batch_size", batchSize,
		"max_records", maxRecords,
	)

	result := &types.InboundResult{FailedBatches: []types.FailedBatch{}}

	for start := 0; start < maxRecords; start += batchSize {
		page, err := e.remote.ListIssues(ctx, start, batchSize)
		if err != nil {
			failed := types.FailedBatch{Start: start, Error: err.Error()}
			var rejected *erp.RejectedError
			if errors.As(err, &rejected) {
				failed.Status = rejected.StatusCode
			}
			result.FailedBatches = append(result.FailedBatches, failed)
			slog.Warn("inbound page fetch failed",
				"component", "sync",
				"action", "pull_failed",
				"start", start,
				"error", err,
			)
			break
		}
		if len(page) == 0 {
			break
		}

		inserted, updated, err := e.applyPage(ctx, page)
		result.InsertedTotal += inserted
		result.UpdatedTotal += updated
		if err != nil {
			result.FailedBatches = append(result.FailedBatches, types.FailedBatch{Start: start, Error: err.Error()})
			slog.Warn("inbound page apply failed",
				"component", "sync",
				"action", "pull_failed",
				"start", start,
				"error", err,
			)
			break
		}
	}

	slog.Info("inbound pass finished",
		"component", "sync",
		"action", "inbound_done",
		"inserted", result.InsertedTotal,
		"updated", result.UpdatedTotal,
		"failed_batches", len(result.FailedBatches),
	)

	return result, nil
}

// applyPage upserts one page of remote records, reporting how many rows were
// inserted versus updated before any error.
func (e *Engine) applyPage(ctx context.Context, page []erp.Issue) (inserted, updated int, err error) {
	now := time.Now().UTC()
	for _, remote := range page {
		// A record without a name cannot be keyed; nothing to join on.
		if remote.Name == "" {
			continue
		}
		wasInsert, err := e.store.UpsertRemoteIssue(ctx, remote.Name, store.RemoteFields{
			Subject:  remote.Subject,
			RaisedBy: remote.RaisedBy,
			Status:   remote.Status,
		}, now)
		if err != nil {
			return inserted, updated, fmt.Errorf("upsert %s: %w", remote.Name, err)
		}
		if wasInsert {
			inserted++
		} else {
			updated++
		}
	}
	return inserted, updated, nil
}
