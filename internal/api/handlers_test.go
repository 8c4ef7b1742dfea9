package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hyperengineering/erpbridge/internal/erp"
	"github.com/hyperengineering/erpbridge/internal/store"
	"github.com/hyperengineering/erpbridge/internal/types"
)

// --- Mock Implementations for Testing ---

// mockStore implements store.Store for testing. The issue lifecycle
// handlers go through IssueService, so only the counters and user methods
// carry behavior here.
type mockStore struct {
	issueCount    int64
	pendingCount  int64
	countErr      error
	user          *types.User
	getUserErr    error
	upsertUserErr error
	upsertedIdent *types.Identity
}

var _ store.Store = (*mockStore)(nil)

func (m *mockStore) CreateIssue(ctx context.Context, draft types.NewIssue) (*types.Issue, error) {
	return nil, nil
}

func (m *mockStore) GetIssue(ctx context.Context, id string) (*types.Issue, error) {
	return nil, store.ErrNotFound
}

func (m *mockStore) ListIssues(ctx context.Context, filter store.IssueFilter) ([]types.Issue, error) {
	return nil, nil
}

func (m *mockStore) UpdateIssue(ctx context.Context, id string, edit types.IssueEdit) (*types.Issue, error) {
	return nil, store.ErrNotFound
}

func (m *mockStore) MarkIssueSynced(ctx context.Context, id, name string, at time.Time) (*types.Issue, error) {
	return nil, store.ErrNotFound
}

func (m *mockStore) UpsertRemoteIssue(ctx context.Context, name string, fields store.RemoteFields, at time.Time) (bool, error) {
	return false, nil
}

func (m *mockStore) DeleteIssue(ctx context.Context, id string) error {
	return nil
}

func (m *mockStore) DeleteAllIssues(ctx context.Context) (int64, error) {
	return 0, nil
}

func (m *mockStore) CountIssues(ctx context.Context) (int64, error) {
	return m.issueCount, m.countErr
}

func (m *mockStore) CountPendingIssues(ctx context.Context) (int64, error) {
	return m.pendingCount, m.countErr
}

func (m *mockStore) UpsertUser(ctx context.Context, ident types.Identity) (*types.User, error) {
	m.upsertedIdent = &ident
	if m.upsertUserErr != nil {
		return nil, m.upsertUserErr
	}
	if m.user != nil {
		return m.user, nil
	}
	return &types.User{ID: "user-1", ProviderSubject: ident.Subject, Email: ident.Email}, nil
}

func (m *mockStore) GetUserByID(ctx context.Context, id string) (*types.User, error) {
	if m.getUserErr != nil {
		return nil, m.getUserErr
	}
	if m.user == nil || m.user.ID != id {
		return nil, store.ErrUserNotFound
	}
	return m.user, nil
}

func (m *mockStore) GetUserBySubject(ctx context.Context, subject string) (*types.User, error) {
	return nil, store.ErrUserNotFound
}

func (m *mockStore) GenerateSnapshot(ctx context.Context) error {
	return nil
}

func (m *mockStore) SnapshotPath() string {
	return ""
}

func (m *mockStore) Close() error {
	return nil
}

// mockService implements IssueService with per-method results.
type mockService struct {
	issue        *types.Issue
	submitErr    error
	getErr       error
	listIssues   []types.Issue
	listErr      error
	updateErr    error
	deleteErr    error
	deleted      int64
	deleteAllErr error

	lastDraft  types.NewIssue
	lastID     string
	lastEdit   types.IssueEdit
	lastFilter store.IssueFilter
}

var _ IssueService = (*mockService)(nil)

func (m *mockService) Submit(ctx context.Context, draft types.NewIssue) (*types.Issue, error) {
	m.lastDraft = draft
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	return m.issue, nil
}

func (m *mockService) Get(ctx context.Context, id string) (*types.Issue, error) {
	m.lastID = id
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.issue, nil
}

func (m *mockService) List(ctx context.Context, filter store.IssueFilter) ([]types.Issue, error) {
	m.lastFilter = filter
	return m.listIssues, m.listErr
}

func (m *mockService) Update(ctx context.Context, id string, edit types.IssueEdit) (*types.Issue, error) {
	m.lastID = id
	m.lastEdit = edit
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	return m.issue, nil
}

func (m *mockService) Delete(ctx context.Context, id string) error {
	m.lastID = id
	return m.deleteErr
}

func (m *mockService) DeleteAll(ctx context.Context) (int64, error) {
	return m.deleted, m.deleteAllErr
}

// mockEngine implements SyncEngine.
type mockEngine struct {
	outboundSynced int
	outboundErr    error
	inboundResult  *types.InboundResult
	inboundErr     error

	lastBatchSize  int
	lastMaxRecords int
}

var _ SyncEngine = (*mockEngine)(nil)

func (m *mockEngine) RunOutboundPass(ctx context.Context) (int, error) {
	return m.outboundSynced, m.outboundErr
}

func (m *mockEngine) RunInboundPass(ctx context.Context, batchSize, maxRecords int) (*types.InboundResult, error) {
	m.lastBatchSize = batchSize
	m.lastMaxRecords = maxRecords
	if m.inboundErr != nil {
		return nil, m.inboundErr
	}
	return m.inboundResult, nil
}

// mockRemote implements the Remote surface. DocType names are generated so
// pagination behavior is observable.
type mockRemote struct {
	baseURL  string
	pingErr  error
	docCount int
	countErr error
	listErr  error
	docType  *erp.DocType
	getErr   error

	listCalls []int // limitStart of each ListDocTypes call
}

var _ Remote = (*mockRemote)(nil)

func (m *mockRemote) BaseURL() string {
	return m.baseURL
}

func (m *mockRemote) Ping(ctx context.Context) error {
	return m.pingErr
}

func (m *mockRemote) DocTypeCount(ctx context.Context) (int, error) {
	return m.docCount, m.countErr
}

func (m *mockRemote) ListDocTypes(ctx context.Context, limitStart, pageLength int) ([]string, error) {
	m.listCalls = append(m.listCalls, limitStart)
	if m.listErr != nil {
		return nil, m.listErr
	}
	var names []string
	for i := limitStart; i < limitStart+pageLength && i < m.docCount; i++ {
		names = append(names, fmt.Sprintf("DocType %d", i))
	}
	return names, nil
}

func (m *mockRemote) GetDocType(ctx context.Context, name string) (*erp.DocType, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.docType, nil
}

// newTestHandler creates a Handler with the given mocks and no auth
// configured. Tests that need auth set tokens and verifier directly.
func newTestHandler(s store.Store, svc IssueService, engine SyncEngine, remote Remote, version string) *Handler {
	return &Handler{
		store:   s,
		service: svc,
		engine:  engine,
		remote:  remote,
		cfg: HandlerConfig{
			Version:           version,
			InboundBatchSize:  500,
			InboundMaxRecords: 35000,
		},
	}
}

// --- Health Endpoint Tests ---

func TestHealth_ReturnsHealthyStatus(t *testing.T) {
	s := &mockStore{issueCount: 0, pendingCount: 0}
	handler := newTestHandler(s, &mockService{}, &mockEngine{}, &mockRemote{}, "1.0.0")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()

	handler.Health(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp types.HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if resp.Status != "healthy" {
		t.Errorf("status = %q, want %q", resp.Status, "healthy")
	}
}

func TestHealth_ReturnsCorrectJSONStructure(t *testing.T) {
	s := &mockStore{issueCount: 42, pendingCount: 7}
	handler := newTestHandler(s, &mockService{}, &mockEngine{}, &mockRemote{}, "1.0.0")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()

	handler.Health(w, req)

	// Parse as raw JSON to check field names
	var rawResp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &rawResp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	// Check all required fields are present with snake_case names
	requiredFields := []string{"status", "version", "issue_count", "pending_count"}
	for _, field := range requiredFields {
		if _, ok := rawResp[field]; !ok {
			t.Errorf("missing required field: %s", field)
		}
	}
}

func TestHealth_CountsReflectStoreValues(t *testing.T) {
	s := &mockStore{issueCount: 42, pendingCount: 7}
	handler := newTestHandler(s, &mockService{}, &mockEngine{}, &mockRemote{}, "1.0.0")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()

	handler.Health(w, req)

	var resp types.HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if resp.IssueCount != 42 {
		t.Errorf("issue_count = %d, want %d", resp.IssueCount, 42)
	}
	if resp.PendingCount != 7 {
		t.Errorf("pending_count = %d, want %d", resp.PendingCount, 7)
	}
}

func TestHealth_NoAuthRequired(t *testing.T) {
	s := &mockStore{}
	handler := newTestHandler(s, &mockService{}, &mockEngine{}, &mockRemote{}, "1.0.0")

	// Request WITHOUT Authorization header
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()

	handler.Health(w, req)

	// Should return 200, not 401
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d (no auth should be required)", w.Code, http.StatusOK)
	}
}

func TestHealth_ContentTypeJSON(t *testing.T) {
	s := &mockStore{}
	handler := newTestHandler(s, &mockService{}, &mockEngine{}, &mockRemote{}, "1.0.0")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()

	handler.Health(w, req)

	contentType := w.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("Content-Type = %q, want %q", contentType, "application/json")
	}
}

func TestHealth_VersionFromConfig(t *testing.T) {
	s := &mockStore{}
	handler := newTestHandler(s, &mockService{}, &mockEngine{}, &mockRemote{}, "2.5.0")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()

	handler.Health(w, req)

	var resp types.HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if resp.Version != "2.5.0" {
		t.Errorf("version = %q, want %q", resp.Version, "2.5.0")
	}
}

func TestHealth_StoreErrorReturns500(t *testing.T) {
	s := &mockStore{countErr: context.DeadlineExceeded} // Simulate store error
	handler := newTestHandler(s, &mockService{}, &mockEngine{}, &mockRemote{}, "1.0.0")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()

	handler.Health(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d for store error", w.Code, http.StatusInternalServerError)
	}
}

// --- ERP Health Endpoint Tests ---

func TestERPHealth_Reachable(t *testing.T) {
	remote := &mockRemote{baseURL: "https://erp.example.com"}
	handler := newTestHandler(&mockStore{}, &mockService{}, &mockEngine{}, remote, "1.0.0")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health/erp", nil)
	w := httptest.NewRecorder()

	handler.ERPHealth(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp types.ERPHealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if !resp.Reachable {
		t.Error("reachable = false, want true")
	}
	if resp.Endpoint != "https://erp.example.com" {
		t.Errorf("endpoint = %q, want %q", resp.Endpoint, "https://erp.example.com")
	}
	if resp.Error != "" {
		t.Errorf("error = %q, want empty", resp.Error)
	}
}

func TestERPHealth_UnreachableStill200(t *testing.T) {
	remote := &mockRemote{
		baseURL: "https://erp.example.com",
		pingErr: &erp.UnreachableError{URL: "https://erp.example.com", Err: context.DeadlineExceeded},
	}
	handler := newTestHandler(&mockStore{}, &mockService{}, &mockEngine{}, remote, "1.0.0")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health/erp", nil)
	w := httptest.NewRecorder()

	handler.ERPHealth(w, req)

	// The probe outcome is the payload, not the status code.
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp types.ERPHealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if resp.Reachable {
		t.Error("reachable = true, want false")
	}
	if resp.Error == "" {
		t.Error("error should describe the failed probe")
	}
}

func TestERPHealth_NotConfigured(t *testing.T) {
	remote := &mockRemote{baseURL: "", pingErr: erp.ErrNotConfigured}
	handler := newTestHandler(&mockStore{}, &mockService{}, &mockEngine{}, remote, "1.0.0")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health/erp", nil)
	w := httptest.NewRecorder()

	handler.ERPHealth(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp types.ERPHealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if resp.Reachable {
		t.Error("reachable = true, want false for unconfigured endpoint")
	}
	if resp.Error != erp.ErrNotConfigured.Error() {
		t.Errorf("error = %q, want %q", resp.Error, erp.ErrNotConfigured.Error())
	}
}
