package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperengineering/erpbridge/internal/types"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// SQLiteStore represents the SQLite-backed issue database.
type SQLiteStore struct {
	db           *sql.DB
	snapshotPath string
}

// NewSQLiteStore creates a new SQLiteStore instance.
// It initializes the database with WAL mode, applies pragmas, and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable pragmas for performance and safety
	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	// Run goose migrations
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{
		db:           db,
		snapshotPath: filepath.Join(filepath.Dir(dbPath), "snapshots", "current.db"),
	}, nil
}

// enablePragmas sets SQLite pragmas for optimal performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const issueColumns = "id, name, subject, raised_by, status, created_at, synced, synced_at"

// scanIssue scans a row into an Issue, handling nullable columns and timestamps.
func scanIssue(scanner interface{ Scan(...any) error }) (*types.Issue, error) {
	var issue types.Issue
	var name sql.NullString
	var createdAt string
	var syncedAt sql.NullString

	err := scanner.Scan(
		&issue.ID,
		&name,
		&issue.Subject,
		&issue.RaisedBy,
		&issue.Status,
		&createdAt,
		&issue.Synced,
		&syncedAt,
	)
	if err != nil {
		return nil, err
	}

	if name.Valid {
		issue.Name = name.String
	}

	// Parse timestamps
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		issue.CreatedAt = t
	}
	if syncedAt.Valid {
		if t, err := time.Parse(time.RFC3339, syncedAt.String); err == nil {
			issue.SyncedAt = &t
		}
	}

	return &issue, nil
}

// CreateIssue inserts a caller-submitted issue. The store assigns the local
// ID and creation time; the row starts out pending.
func (s *SQLiteStore) CreateIssue(ctx context.Context, draft types.NewIssue) (*types.Issue, error) {
	now := time.Now().UTC()
	issue := &types.Issue{
		ID:        ulid.Make().String(),
		Subject:   draft.Subject,
		RaisedBy:  draft.RaisedBy,
		Status:    draft.Status,
		CreatedAt: now,
	}
	if issue.Status == "" {
		issue.Status = types.StatusOpen
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO issues (id, name, subject, raised_by, status, created_at, synced, synced_at)
		VALUES (?, NULL, ?, ?, ?, ?, 0, NULL)
	`, issue.ID, issue.Subject, issue.RaisedBy, issue.Status, now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("insert issue: %w", err)
	}

	return issue, nil
}

// GetIssue retrieves an issue by its local ID.
func (s *SQLiteStore) GetIssue(ctx context.Context, id string) (*types.Issue, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+issueColumns+`
		FROM issues
		WHERE id = ?
	`, id)

	issue, err := scanIssue(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan row: %w", err)
	}

	return issue, nil
}

// ListIssues returns issues matching the filter, oldest first.
func (s *SQLiteStore) ListIssues(ctx context.Context, filter IssueFilter) ([]types.Issue, error) {
	query := "SELECT " + issueColumns + " FROM issues"
	switch filter {
	case FilterSynced:
		query += " WHERE synced = 1"
	case FilterUnsynced:
		query += " WHERE synced = 0"
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query issues: %w", err)
	}
	defer rows.Close()

	var issues []types.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		issues = append(issues, *issue)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return issues, nil
}

// UpdateIssue applies the non-nil fields of edit and moves the issue back to
// pending until the next successful push confirms it. The reset happens even
// when a supplied value matches the stored one.
func (s *SQLiteStore) UpdateIssue(ctx context.Context, id string, edit types.IssueEdit) (*types.Issue, error) {
	sets := []string{"synced = 0", "synced_at = NULL"}
	var args []any
	if edit.Subject != nil {
		sets = append(sets, "subject = ?")
		args = append(args, *edit.Subject)
	}
	if edit.RaisedBy != nil {
		sets = append(sets, "raised_by = ?")
		args = append(args, *edit.RaisedBy)
	}
	if edit.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *edit.Status)
	}
	args = append(args, id)

	result, err := s.db.ExecContext(ctx,
		"UPDATE issues SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("update issue: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, ErrNotFound
	}

	return s.GetIssue(ctx, id)
}

// MarkIssueSynced records a successful push: the remote name, synced flag,
// and confirmation time, keyed by local ID.
func (s *SQLiteStore) MarkIssueSynced(ctx context.Context, id, name string, at time.Time) (*types.Issue, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE issues
		SET name = ?, synced = 1, synced_at = ?
		WHERE id = ?
	`, name, at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return nil, fmt.Errorf("mark issue synced: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, ErrNotFound
	}

	return s.GetIssue(ctx, id)
}

// UpsertRemoteIssue folds one remote record into the local collection keyed
// by its ERP name. Returns true when a new row was inserted rather than an
// existing one updated.
func (s *SQLiteStore) UpsertRemoteIssue(ctx context.Context, name string, fields RemoteFields, at time.Time) (bool, error) {
	status := fields.Status
	if status == "" {
		status = types.StatusOpen
	}
	atStr := at.UTC().Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE issues
		SET subject = ?, raised_by = ?, status = ?, synced = 1, synced_at = ?
		WHERE name = ?
	`, fields.Subject, fields.RaisedBy, status, atStr, name)
	if err != nil {
		return false, fmt.Errorf("update issue: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}

	inserted := false
	if rowsAffected == 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO issues (id, name, subject, raised_by, status, created_at, synced, synced_at)
			VALUES (?, ?, ?, ?, ?, ?, 1, ?)
		`, ulid.Make().String(), name, fields.Subject, fields.RaisedBy, status, atStr, atStr)
		if err != nil {
			return false, fmt.Errorf("insert issue: %w", err)
		}
		inserted = true
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}

	return inserted, nil
}

// DeleteIssue removes an issue by its local ID.
func (s *SQLiteStore) DeleteIssue(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM issues WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete issue: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteAllIssues wipes the local collection. The ERP side is untouched.
func (s *SQLiteStore) DeleteAllIssues(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM issues")
	if err != nil {
		return 0, fmt.Errorf("delete issues: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}

	return deleted, nil
}

// CountIssues returns the total number of issues.
func (s *SQLiteStore) CountIssues(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM issues").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count issues: %w", err)
	}
	return count, nil
}

// CountPendingIssues returns the number of issues still awaiting a push.
func (s *SQLiteStore) CountPendingIssues(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM issues WHERE synced = 0").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending issues: %w", err)
	}
	return count, nil
}

const userColumns = "id, provider_subject, email, full_name, picture, created_at, last_login_at"

func scanUser(scanner interface{ Scan(...any) error }) (*types.User, error) {
	var user types.User
	var createdAt, lastLoginAt string

	err := scanner.Scan(
		&user.ID,
		&user.ProviderSubject,
		&user.Email,
		&user.FullName,
		&user.Picture,
		&createdAt,
		&lastLoginAt,
	)
	if err != nil {
		return nil, err
	}

	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		user.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, lastLoginAt); err == nil {
		user.LastLoginAt = t
	}

	return &user, nil
}

// UpsertUser provisions or refreshes a user keyed by the identity provider
// subject, updating profile fields and the last sign-in time.
func (s *SQLiteStore) UpsertUser(ctx context.Context, ident types.Identity) (*types.User, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, provider_subject, email, full_name, picture, created_at, last_login_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider_subject) DO UPDATE SET
			email = excluded.email,
			full_name = excluded.full_name,
			picture = excluded.picture,
			last_login_at = excluded.last_login_at
	`, ulid.Make().String(), ident.Subject, ident.Email, ident.FullName, ident.Picture, now, now)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}

	return s.GetUserBySubject(ctx, ident.Subject)
}

// GetUserByID retrieves a user by local ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*types.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = ?
	`, id)

	user, err := scanUser(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scan row: %w", err)
	}

	return user, nil
}

// GetUserBySubject retrieves a user by identity provider subject.
func (s *SQLiteStore) GetUserBySubject(ctx context.Context, subject string) (*types.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE provider_subject = ?
	`, subject)

	user, err := scanUser(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scan row: %w", err)
	}

	return user, nil
}

// GenerateSnapshot writes a consistent copy of the database to the snapshot
// path using VACUUM INTO, replacing any previous snapshot.
func (s *SQLiteStore) GenerateSnapshot(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.snapshotPath), 0755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	// VACUUM INTO refuses to overwrite, so build the snapshot at a temp
	// path and swap it in.
	tmp := s.snapshotPath + ".tmp"
	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale snapshot: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", tmp); err != nil {
		return fmt.Errorf("vacuum into snapshot: %w", err)
	}

	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}

	return nil
}

// SnapshotPath returns where GenerateSnapshot writes its output.
func (s *SQLiteStore) SnapshotPath() string {
	return s.snapshotPath
}
