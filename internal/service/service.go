// Package service implements the issue lifecycle: every write lands in the
// local store first, then gets one best-effort push to the ERP endpoint.
// Remote failures never surface to callers; the pending row waits for the
// next outbound pass instead.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/erpbridge/internal/erp"
	"github.com/hyperengineering/erpbridge/internal/store"
	"github.com/hyperengineering/erpbridge/internal/types"
)

// Store defines the store operations the lifecycle needs.
type Store interface {
	CreateIssue(ctx context.Context, draft types.NewIssue) (*types.Issue, error)
	GetIssue(ctx context.Context, id string) (*types.Issue, error)
	ListIssues(ctx context.Context, filter store.IssueFilter) ([]types.Issue, error)
	UpdateIssue(ctx context.Context, id string, edit types.IssueEdit) (*types.Issue, error)
	MarkIssueSynced(ctx context.Context, id, name string, at time.Time) (*types.Issue, error)
	DeleteIssue(ctx context.Context, id string) error
	DeleteAllIssues(ctx context.Context) (int64, error)
}

// Remote defines the ERP operations the lifecycle needs.
type Remote interface {
	CreateIssue(ctx context.Context, fields erp.IssueFields) (*erp.Issue, error)
	UpdateIssue(ctx context.Context, name string, fields erp.IssueFields) (*erp.Issue, error)
	DeleteIssue(ctx context.Context, name string) bool
}

// IssueService coordinates the local store and the ERP endpoint for single
// records. Batch movement belongs to the sync engine.
type IssueService struct {
	store  Store
	remote Remote
}

// NewIssueService creates an IssueService over the given store and remote
// endpoint.
func NewIssueService(st Store, remote Remote) *IssueService {
	return &IssueService{
		store:  st,
		remote: remote,
	}
}

// Submit records a new issue locally and attempts one immediate push. The
// local write is the durable outcome: if the push fails for any reason the
// still-pending issue is returned without error and the next outbound pass
// retries. Only a store failure is fatal.
func (s *IssueService) Submit(ctx context.Context, draft types.NewIssue) (*types.Issue, error) {
	issue, err := s.store.CreateIssue(ctx, draft)
	if err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}

	created, err := s.remote.CreateIssue(ctx, remoteFields(issue))
	if err == nil && (created == nil || created.Name == "") {
		err = &erp.MalformedResponseError{Reason: "create response missing document name"}
	}
	if err != nil {
		logPushDeferred("submit", issue.ID, err)
		return issue, nil
	}

	marked, err := s.store.MarkIssueSynced(ctx, issue.ID, created.Name, time.Now().UTC())
	if err != nil {
		slog.Warn("sync confirmation failed; issue stays pending",
			"component", "service",
			"action", "confirm_failed",
			"id", issue.ID,
			"name", created.Name,
			"error", err,
		)
		return issue, nil
	}
	return marked, nil
}

// Get retrieves an issue by its local ID.
func (s *IssueService) Get(ctx context.Context, id string) (*types.Issue, error) {
	return s.store.GetIssue(ctx, id)
}

// List returns issues matching the sync-state filter, oldest first.
func (s *IssueService) List(ctx context.Context, filter store.IssueFilter) ([]types.Issue, error) {
	return s.store.ListIssues(ctx, filter)
}

// Update applies a partial edit. Any carried field moves the issue back to
// pending; when the issue already has a remote name one immediate push is
// attempted, and on success the issue is re-marked synced. The post-edit
// local row is returned regardless of the push outcome. An edit carrying no
// fields is a plain read.
func (s *IssueService) Update(ctx context.Context, id string, edit types.IssueEdit) (*types.Issue, error) {
	if edit.Empty() {
		return s.store.GetIssue(ctx, id)
	}

	issue, err := s.store.UpdateIssue(ctx, id, edit)
	if err != nil {
		return nil, fmt.Errorf("update issue: %w", err)
	}

	// Never pushed: the next outbound pass creates it remotely.
	if issue.Name == "" {
		return issue, nil
	}

	if _, err := s.remote.UpdateIssue(ctx, issue.Name, remoteFields(issue)); err != nil {
		logPushDeferred("update", issue.ID, err)
		return issue, nil
	}

	marked, err := s.store.MarkIssueSynced(ctx, issue.ID, issue.Name, time.Now().UTC())
	if err != nil {
		slog.Warn("sync confirmation failed; issue stays pending",
			"component", "service",
			"action", "confirm_failed",
			"id", issue.ID,
			"name", issue.Name,
			"error", err,
		)
		return issue, nil
	}
	return marked, nil
}

// Delete removes an issue locally, cleaning up the remote document first
// when one exists. The remote delete is advisory: its failure is logged by
// the client and the local delete proceeds regardless.
func (s *IssueService) Delete(ctx context.Context, id string) error {
	issue, err := s.store.GetIssue(ctx, id)
	if err != nil {
		return err
	}

	if issue.Name != "" {
		s.remote.DeleteIssue(ctx, issue.Name)
	}

	if err := s.store.DeleteIssue(ctx, id); err != nil {
		return fmt.Errorf("delete issue: %w", err)
	}
	return nil
}

// DeleteAll wipes the local collection. Remote documents are left alone;
// this is a local cleanup operation, not a remote one.
func (s *IssueService) DeleteAll(ctx context.Context) (int64, error) {
	deleted, err := s.store.DeleteAllIssues(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete all issues: %w", err)
	}

	slog.Info("local issue collection wiped",
		"component", "service",
		"action", "delete_all",
		"deleted", deleted,
	)
	return deleted, nil
}

// remoteFields maps the caller-controlled issue fields onto the wire type.
func remoteFields(issue *types.Issue) erp.IssueFields {
	return erp.IssueFields{
		Subject:  issue.Subject,
		RaisedBy: issue.RaisedBy,
		Status:   issue.Status,
	}
}

// logPushDeferred records a failed immediate push. An unconfigured endpoint
// is the expected state of an offline deployment and logs quieter than a
// live endpoint misbehaving.
func logPushDeferred(op, id string, err error) {
	if errors.Is(err, erp.ErrNotConfigured) {
		slog.Info("endpoint not configured; issue stays pending",
			"component", "service",
			"action", "push_deferred",
			"op", op,
			"id", id,
		)
		return
	}
	slog.Warn("immediate push failed; issue stays pending",
		"component", "service",
		"action", "push_deferred",
		"op", op,
		"id", id,
		"error", err,
	)
}
