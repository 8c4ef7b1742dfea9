package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperengineering/erpbridge/internal/erp"
	"github.com/hyperengineering/erpbridge/internal/store"
	"github.com/hyperengineering/erpbridge/internal/types"
)

// --- Mock Implementations ---

// mockStore implements the Store interface for engine tests.
type mockStore struct {
	mu        sync.Mutex
	pending   []types.Issue
	listErr   error
	marked    map[string]string // local ID -> confirmed remote name
	markErr   error
	existing  map[string]bool // remote names already present locally
	upserts   []store.RemoteFields
	upsertErr error
}

func newMockStore(pending ...types.Issue) *mockStore {
	return &mockStore{
		pending:  pending,
		marked:   make(map[string]string),
		existing: make(map[string]bool),
	}
}

func (m *mockStore) ListIssues(ctx context.Context, filter store.IssueFilter) ([]types.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	if filter != store.FilterUnsynced {
		return nil, fmt.Errorf("unexpected filter %q", filter)
	}
	var out []types.Issue
	for _, issue := range m.pending {
		if _, done := m.marked[issue.ID]; !done {
			out = append(out, issue)
		}
	}
	return out, nil
}

func (m *mockStore) MarkIssueSynced(ctx context.Context, id, name string, at time.Time) (*types.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return nil, m.markErr
	}
	m.marked[id] = name
	return &types.Issue{ID: id, Name: name, Synced: true, SyncedAt: &at}, nil
}

func (m *mockStore) UpsertRemoteIssue(ctx context.Context, name string, fields store.RemoteFields, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return false, m.upsertErr
	}
	m.upserts = append(m.upserts, fields)
	if m.existing[name] {
		return false, nil
	}
	m.existing[name] = true
	return true, nil
}

// fakeRemote implements the Remote interface with scripted behavior.
type fakeRemote struct {
	mu            sync.Mutex
	nextID        int
	created       []erp.IssueFields
	updated       map[string]erp.IssueFields
	rejectSubject string // creates/updates with this subject are rejected
	dropName      bool   // create succeeds but returns no document name
	pages         [][]erp.Issue
	endless       bool // serve full synthetic pages forever
	failStart     int
	failErr       error // page at failStart fails with this when non-nil
	listCalls     [][2]int
	delay         time.Duration
	inFlight      int32
	maxInFlight   int32
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		failStart: -1,
		updated:   make(map[string]erp.IssueFields),
	}
}

// track records overlapping calls so tests can assert serialization.
func (f *fakeRemote) track() func() {
	n := atomic.AddInt32(&f.inFlight, 1)
	for {
		max := atomic.LoadInt32(&f.maxInFlight)
		if n <= max || atomic.CompareAndSwapInt32(&f.maxInFlight, max, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return func() { atomic.AddInt32(&f.inFlight, -1) }
}

func (f *fakeRemote) CreateIssue(ctx context.Context, fields erp.IssueFields) (*erp.Issue, error) {
	done := f.track()
	defer done()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectSubject != "" && fields.Subject == f.rejectSubject {
		return nil, &erp.RejectedError{StatusCode: 417, Body: "rejected"}
	}
	f.created = append(f.created, fields)
	if f.dropName {
		return &erp.Issue{Subject: fields.Subject}, nil
	}
	f.nextID++
	return &erp.Issue{
		Name:     fmt.Sprintf("KM-%05d", f.nextID),
		Subject:  fields.Subject,
		RaisedBy: fields.RaisedBy,
		Status:   fields.Status,
	}, nil
}

func (f *fakeRemote) UpdateIssue(ctx context.Context, name string, fields erp.IssueFields) (*erp.Issue, error) {
	done := f.track()
	defer done()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectSubject != "" && fields.Subject == f.rejectSubject {
		return nil, &erp.RejectedError{StatusCode: 417, Body: "rejected"}
	}
	f.updated[name] = fields
	return &erp.Issue{Name: name, Subject: fields.Subject, RaisedBy: fields.RaisedBy, Status: fields.Status}, nil
}

func (f *fakeRemote) ListIssues(ctx context.Context, limitStart, pageLength int) ([]erp.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls = append(f.listCalls, [2]int{limitStart, pageLength})
	if f.failErr != nil && limitStart == f.failStart {
		return nil, f.failErr
	}
	if f.endless {
		page := make([]erp.Issue, pageLength)
		for i := range page {
			page[i] = erp.Issue{Name: fmt.Sprintf("KM-%05d", limitStart+i+1), Subject: "remote", Status: "Open"}
		}
		return page, nil
	}
	idx := 0
	if pageLength > 0 {
		idx = limitStart / pageLength
	}
	if idx >= len(f.pages) {
		return nil, nil
	}
	return f.pages[idx], nil
}

// --- Outbound Pass Tests ---

func TestRunOutboundPass_CreatesPendingIssues(t *testing.T) {
	st := newMockStore(
		types.Issue{ID: "a", Subject: "first", RaisedBy: "farmer_1", Status: "Open"},
		types.Issue{ID: "b", Subject: "second", RaisedBy: "farmer_2", Status: "Open"},
	)
	remote := newFakeRemote()
	engine := NewEngine(st, remote)

	synced, err := engine.RunOutboundPass(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if synced != 2 {
		t.Errorf("synced: got %d, want 2", synced)
	}
	if len(remote.created) != 2 {
		t.Errorf("creates: got %d, want 2", len(remote.created))
	}
	if len(remote.updated) != 0 {
		t.Errorf("updates: got %d, want 0", len(remote.updated))
	}
	if st.marked["a"] != "KM-00001" || st.marked["b"] != "KM-00002" {
		t.Errorf("confirmations: got %v", st.marked)
	}
}

func TestRunOutboundPass_UpdatesNamedIssues(t *testing.T) {
	st := newMockStore(
		types.Issue{ID: "a", Name: "KM-00007", Subject: "edited", Status: "Open"},
	)
	remote := newFakeRemote()
	engine := NewEngine(st, remote)

	synced, err := engine.RunOutboundPass(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if synced != 1 {
		t.Errorf("synced: got %d, want 1", synced)
	}
	if len(remote.created) != 0 {
		t.Error("issue with a remote name must go through update, not create")
	}
	if _, ok := remote.updated["KM-00007"]; !ok {
		t.Errorf("expected update of KM-00007, got %v", remote.updated)
	}
	if st.marked["a"] != "KM-00007" {
		t.Errorf("confirmation must keep the existing name, got %q", st.marked["a"])
	}
}

func TestRunOutboundPass_EmptyQueue(t *testing.T) {
	st := newMockStore()
	remote := newFakeRemote()
	engine := NewEngine(st, remote)

	synced, err := engine.RunOutboundPass(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if synced != 0 {
		t.Errorf("synced: got %d, want 0", synced)
	}
	if len(remote.created) != 0 || len(remote.updated) != 0 {
		t.Error("no remote calls expected for an empty queue")
	}
}

func TestRunOutboundPass_PartialFailureIsolation(t *testing.T) {
	st := newMockStore(
		types.Issue{ID: "a", Subject: "one"},
		types.Issue{ID: "b", Subject: "two"},
		types.Issue{ID: "c", Subject: "bad"},
		types.Issue{ID: "d", Subject: "four"},
		types.Issue{ID: "e", Subject: "five"},
	)
	remote := newFakeRemote()
	remote.rejectSubject = "bad"
	engine := NewEngine(st, remote)

	synced, err := engine.RunOutboundPass(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if synced != 4 {
		t.Errorf("synced: got %d, want 4", synced)
	}
	if _, ok := st.marked["c"]; ok {
		t.Error("rejected issue must stay pending")
	}
	for _, id := range []string{"a", "b", "d", "e"} {
		if _, ok := st.marked[id]; !ok {
			t.Errorf("issue %s should have been confirmed", id)
		}
	}
}

func TestRunOutboundPass_MissingNameCountsAsFailure(t *testing.T) {
	st := newMockStore(types.Issue{ID: "a", Subject: "s"})
	remote := newFakeRemote()
	remote.dropName = true
	engine := NewEngine(st, remote)

	synced, err := engine.RunOutboundPass(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if synced != 0 {
		t.Errorf("synced: got %d, want 0", synced)
	}
	if len(st.marked) != 0 {
		t.Error("issue must stay pending when the create response has no name")
	}
}

func TestRunOutboundPass_ListFailure(t *testing.T) {
	st := newMockStore()
	st.listErr = errors.New("disk gone")
	engine := NewEngine(st, newFakeRemote())

	if _, err := engine.RunOutboundPass(context.Background()); err == nil {
		t.Error("expected error when the pending query fails")
	}
}

func TestRunOutboundPass_Serialized(t *testing.T) {
	st := newMockStore(
		types.Issue{ID: "a", Subject: "one"},
		types.Issue{ID: "b", Subject: "two"},
		types.Issue{ID: "c", Subject: "three"},
	)
	remote := newFakeRemote()
	remote.delay = 10 * time.Millisecond
	engine := NewEngine(st, remote)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.RunOutboundPass(context.Background()); err != nil {
				t.Errorf("pass failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if max := atomic.LoadInt32(&remote.maxInFlight); max > 1 {
		t.Errorf("passes overlapped: %d concurrent remote calls", max)
	}
	if len(st.marked) != 3 {
		t.Errorf("expected all issues confirmed exactly once, got %v", st.marked)
	}
}

// --- Inbound Pass Tests ---

func TestRunInboundPass_PagesUntilEmpty(t *testing.T) {
	st := newMockStore()
	remote := newFakeRemote()
	remote.pages = [][]erp.Issue{
		{{Name: "KM-00001", Subject: "first"}, {Name: "KM-00002", Subject: "second"}},
		{{Name: "KM-00003", Subject: "third"}},
	}
	engine := NewEngine(st, remote)

	result, err := engine.RunInboundPass(context.Background(), 2, 100)
	if err != nil {
		t.Fatal(err)
	}

	if result.InsertedTotal != 3 {
		t.Errorf("inserted: got %d, want 3", result.InsertedTotal)
	}
	if result.UpdatedTotal != 0 {
		t.Errorf("updated: got %d, want 0", result.UpdatedTotal)
	}
	if len(result.FailedBatches) != 0 {
		t.Errorf("failed batches: got %v", result.FailedBatches)
	}

	wantCalls := [][2]int{{0, 2}, {2, 2}, {4, 2}}
	if len(remote.listCalls) != len(wantCalls) {
		t.Fatalf("list calls: got %v, want %v", remote.listCalls, wantCalls)
	}
	for i, want := range wantCalls {
		if remote.listCalls[i] != want {
			t.Errorf("list call %d: got %v, want %v", i, remote.listCalls[i], want)
		}
	}
}

func TestRunInboundPass_CountsInsertedVsUpdated(t *testing.T) {
	st := newMockStore()
	st.existing["KM-00001"] = true
	remote := newFakeRemote()
	remote.pages = [][]erp.Issue{
		{{Name: "KM-00001", Subject: "known"}, {Name: "KM-00002", Subject: "new"}},
	}
	engine := NewEngine(st, remote)

	result, err := engine.RunInboundPass(context.Background(), 10, 100)
	if err != nil {
		t.Fatal(err)
	}

	if result.InsertedTotal != 1 {
		t.Errorf("inserted: got %d, want 1", result.InsertedTotal)
	}
	if result.UpdatedTotal != 1 {
		t.Errorf("updated: got %d, want 1", result.UpdatedTotal)
	}
}

func TestRunInboundPass_StopsAtMaxRecords(t *testing.T) {
	st := newMockStore()
	remote := newFakeRemote()
	remote.endless = true
	engine := NewEngine(st, remote)

	result, err := engine.RunInboundPass(context.Background(), 2, 4)
	if err != nil {
		t.Fatal(err)
	}

	if len(remote.listCalls) != 2 {
		t.Errorf("list calls: got %v, want exactly 2 pages", remote.listCalls)
	}
	if result.InsertedTotal != 4 {
		t.Errorf("inserted: got %d, want 4", result.InsertedTotal)
	}
}

func TestRunInboundPass_PageFailureAbortsAndKeepsProgress(t *testing.T) {
	st := newMockStore()
	remote := newFakeRemote()
	remote.pages = [][]erp.Issue{
		{{Name: "KM-00001", Subject: "first"}, {Name: "KM-00002", Subject: "second"}},
		{{Name: "KM-00003", Subject: "never fetched"}},
	}
	remote.failStart = 2
	remote.failErr = &erp.RejectedError{StatusCode: 503, Body: "overloaded"}
	engine := NewEngine(st, remote)

	result, err := engine.RunInboundPass(context.Background(), 2, 100)
	if err != nil {
		t.Fatal(err)
	}

	if result.InsertedTotal != 2 {
		t.Errorf("completed pages must be kept: inserted %d, want 2", result.InsertedTotal)
	}
	if len(result.FailedBatches) != 1 {
		t.Fatalf("failed batches: got %v", result.FailedBatches)
	}
	failed := result.FailedBatches[0]
	if failed.Start != 2 {
		t.Errorf("failed batch start: got %d, want 2", failed.Start)
	}
	if failed.Status != 503 {
		t.Errorf("failed batch status: got %d, want 503", failed.Status)
	}
	if len(remote.listCalls) != 2 {
		t.Errorf("pass must stop after the failing page, calls: %v", remote.listCalls)
	}
}

func TestRunInboundPass_UpsertFailureRecorded(t *testing.T) {
	st := newMockStore()
	st.upsertErr = errors.New("disk full")
	remote := newFakeRemote()
	remote.pages = [][]erp.Issue{{{Name: "KM-00001", Subject: "first"}}}
	engine := NewEngine(st, remote)

	result, err := engine.RunInboundPass(context.Background(), 10, 100)
	if err != nil {
		t.Fatal(err)
	}

	if len(result.FailedBatches) != 1 || result.FailedBatches[0].Start != 0 {
		t.Errorf("failed batches: got %v", result.FailedBatches)
	}
	if result.InsertedTotal != 0 {
		t.Errorf("inserted: got %d, want 0", result.InsertedTotal)
	}
}

func TestRunInboundPass_AppliesDefaults(t *testing.T) {
	st := newMockStore()
	remote := newFakeRemote()
	engine := NewEngine(st, remote)

	if _, err := engine.RunInboundPass(context.Background(), 0, 0); err != nil {
		t.Fatal(err)
	}

	if len(remote.listCalls) == 0 {
		t.Fatal("expected at least one page fetch")
	}
	if remote.listCalls[0] != [2]int{0, DefaultBatchSize} {
		t.Errorf("first page: got %v, want [0 %d]", remote.listCalls[0], DefaultBatchSize)
	}
}

func TestRunInboundPass_SkipsNamelessRecords(t *testing.T) {
	st := newMockStore()
	remote := newFakeRemote()
	remote.pages = [][]erp.Issue{
		{{Name: "", Subject: "unkeyed"}, {Name: "KM-00002", Subject: "keyed"}},
	}
	engine := NewEngine(st, remote)

	result, err := engine.RunInboundPass(context.Background(), 10, 100)
	if err != nil {
		t.Fatal(err)
	}

	if result.InsertedTotal != 1 {
		t.Errorf("inserted: got %d, want 1", result.InsertedTotal)
	}
	if len(st.upserts) != 1 || st.upserts[0].Subject != "keyed" {
		t.Errorf("upserts: got %v", st.upserts)
	}
}

// --- Passes Over a Real Store ---

func TestRunOutboundPass_ConvergesRealStore(t *testing.T) {
	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	ctx := context.Background()
	for _, subject := range []string{"Pump broken", "Fence down"} {
		if _, err := db.CreateIssue(ctx, types.NewIssue{Subject: subject}); err != nil {
			t.Fatal(err)
		}
	}

	remote := newFakeRemote()
	engine := NewEngine(db, remote)

	synced, err := engine.RunOutboundPass(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if synced != 2 {
		t.Errorf("first pass: got %d, want 2", synced)
	}

	pending, err := db.ListIssues(ctx, store.FilterUnsynced)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("expected no pending issues after the pass, got %d", len(pending))
	}

	// A drained queue makes the next pass a no-op.
	synced, err = engine.RunOutboundPass(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if synced != 0 {
		t.Errorf("second pass: got %d, want 0", synced)
	}
}

func TestRunInboundPass_IdempotentOverRealStore(t *testing.T) {
	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	remote := newFakeRemote()
	remote.pages = [][]erp.Issue{
		{
			{Name: "KM-00001", Subject: "first", Status: "Open"},
			{Name: "KM-00002", Subject: "second", Status: "Closed"},
			{Name: "KM-00003", Subject: "third", Status: "Open"},
		},
	}
	engine := NewEngine(db, remote)
	ctx := context.Background()

	first, err := engine.RunInboundPass(ctx, 10, 100)
	if err != nil {
		t.Fatal(err)
	}
	if first.InsertedTotal != 3 || first.UpdatedTotal != 0 {
		t.Errorf("first pass: inserted %d updated %d", first.InsertedTotal, first.UpdatedTotal)
	}

	second, err := engine.RunInboundPass(ctx, 10, 100)
	if err != nil {
		t.Fatal(err)
	}
	if second.InsertedTotal != 0 {
		t.Errorf("second pass must not insert, got %d", second.InsertedTotal)
	}

	count, err := db.CountIssues(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("row count after two passes: got %d, want 3", count)
	}
}
