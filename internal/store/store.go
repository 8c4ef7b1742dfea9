package store

import (
	"context"
	"time"

	"github.com/hyperengineering/erpbridge/internal/types"
)

// IssueFilter selects which issues a list operation returns.
type IssueFilter string

const (
	FilterAll      IssueFilter = "all"
	FilterSynced   IssueFilter = "synced"
	FilterUnsynced IssueFilter = "unsynced"
)

// RemoteFields is the remote-owned view of an issue, applied verbatim during
// inbound upserts.
type RemoteFields struct {
	Subject  string
	RaisedBy string
	Status   string
}

// Store defines the interface contract for issue and user persistence.
type Store interface {
	CreateIssue(ctx context.Context, draft types.NewIssue) (*types.Issue, error)
	GetIssue(ctx context.Context, id string) (*types.Issue, error)
	ListIssues(ctx context.Context, filter IssueFilter) ([]types.Issue, error)
	UpdateIssue(ctx context.Context, id string, edit types.IssueEdit) (*types.Issue, error)
	MarkIssueSynced(ctx context.Context, id, name string, at time.Time) (*types.Issue, error)
	UpsertRemoteIssue(ctx context.Context, name string, fields RemoteFields, at time.Time) (bool, error)
	DeleteIssue(ctx context.Context, id string) error
	DeleteAllIssues(ctx context.Context) (int64, error)
	CountIssues(ctx context.Context) (int64, error)
	CountPendingIssues(ctx context.Context) (int64, error)
	UpsertUser(ctx context.Context, ident types.Identity) (*types.User, error)
	GetUserByID(ctx context.Context, id string) (*types.User, error)
	GetUserBySubject(ctx context.Context, subject string) (*types.User, error)
	GenerateSnapshot(ctx context.Context) error
	SnapshotPath() string
	Close() error
}
