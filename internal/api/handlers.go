package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hyperengineering/erpbridge/internal/auth"
	"github.com/hyperengineering/erpbridge/internal/erp"
	"github.com/hyperengineering/erpbridge/internal/store"
	"github.com/hyperengineering/erpbridge/internal/types"
)

// IssueService is the record lifecycle surface the issue routes call.
type IssueService interface {
	Submit(ctx context.Context, draft types.NewIssue) (*types.Issue, error)
	Get(ctx context.Context, id string) (*types.Issue, error)
	List(ctx context.Context, filter store.IssueFilter) ([]types.Issue, error)
	Update(ctx context.Context, id string, edit types.IssueEdit) (*types.Issue, error)
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) (int64, error)
}

// SyncEngine is the manual-trigger surface of the sync passes.
type SyncEngine interface {
	RunOutboundPass(ctx context.Context) (int, error)
	RunInboundPass(ctx context.Context, batchSize, maxRecords int) (*types.InboundResult, error)
}

// Remote is the ERP surface the health and metadata routes call.
type Remote interface {
	BaseURL() string
	Ping(ctx context.Context) error
	DocTypeCount(ctx context.Context) (int, error)
	ListDocTypes(ctx context.Context, limitStart, pageLength int) ([]string, error)
	GetDocType(ctx context.Context, name string) (*erp.DocType, error)
}

// HandlerConfig carries the scalar knobs the handlers need.
type HandlerConfig struct {
	Version           string
	InboundBatchSize  int
	InboundMaxRecords int
}

// Handler implements the API handlers.
type Handler struct {
	store    store.Store
	service  IssueService
	engine   SyncEngine
	remote   Remote
	tokens   *auth.TokenManager
	verifier auth.IdentityVerifier
	cfg      HandlerConfig
}

// NewHandler creates a new Handler wired to the store, lifecycle service,
// sync engine, and ERP endpoint. tokens and verifier may be nil when
// authentication is not configured; the router then serves the protected
// group openly and sign-in reports the missing configuration.
func NewHandler(s store.Store, svc IssueService, engine SyncEngine, remote Remote, tokens *auth.TokenManager, verifier auth.IdentityVerifier, cfg HandlerConfig) *Handler {
	return &Handler{
		store:    s,
		service:  svc,
		engine:   engine,
		remote:   remote,
		tokens:   tokens,
		verifier: verifier,
		cfg:      cfg,
	}
}

// Health returns the health status with the store reachability expressed
// through the issue counters.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	total, err := h.store.CountIssues(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, "Store unavailable")
		return
	}
	pending, err := h.store.CountPendingIssues(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, "Store unavailable")
		return
	}

	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:       "healthy",
		Version:      h.cfg.Version,
		IssueCount:   total,
		PendingCount: pending,
	})
}

// ERPHealth probes the configured ERP endpoint. The probe outcome is the
// payload: an unreachable or unconfigured endpoint still answers 200 here.
func (h *Handler) ERPHealth(w http.ResponseWriter, r *http.Request) {
	resp := types.ERPHealthResponse{Endpoint: h.remote.BaseURL()}
	if err := h.remote.Ping(r.Context()); err != nil {
		resp.Error = err.Error()
	} else {
		resp.Reachable = true
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
