package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/erpbridge/internal/store"
	"github.com/hyperengineering/erpbridge/internal/types"
	"github.com/hyperengineering/erpbridge/internal/validation"
)

// SubmitIssue handles POST /api/v1/issues. The issue is durable locally
// before any push is attempted, so a 201 never depends on the endpoint.
func (h *Handler) SubmitIssue(w http.ResponseWriter, r *http.Request) {
	var req types.NewIssue
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err))
		return
	}

	if errs := validation.ValidateNewIssue(req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	issue, err := h.service.Submit(r.Context(), req)
	if err != nil {
		slog.Error("submit failed",
			"component", "api",
			"action", "submit_failed",
			"error", err,
		)
		MapStoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, issue)
}

// ListIssues handles GET /api/v1/issues. The optional state query filters by
// sync state: all (default), synced, unsynced.
func (h *Handler) ListIssues(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	if state == "" {
		state = string(store.FilterAll)
	}
	if verr := validation.ValidateEnum("state", state, []string{
		string(store.FilterAll),
		string(store.FilterSynced),
		string(store.FilterUnsynced),
	}); verr != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("state %s", verr.Message))
		return
	}

	issues, err := h.service.List(r.Context(), store.IssueFilter(state))
	if err != nil {
		slog.Error("list failed",
			"component", "api",
			"action", "list_failed",
			"error", err,
		)
		MapStoreError(w, r, err)
		return
	}

	// Ensure issues is [] not null in JSON
	if issues == nil {
		issues = []types.Issue{}
	}
	writeJSON(w, http.StatusOK, issues)
}

// GetIssue handles GET /api/v1/issues/{id}.
func (h *Handler) GetIssue(w http.ResponseWriter, r *http.Request) {
	issue, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

// UpdateIssue handles PUT /api/v1/issues/{id}. Any carried field moves the
// issue back to pending; the response reflects the local row, not the push.
func (h *Handler) UpdateIssue(w http.ResponseWriter, r *http.Request) {
	var edit types.IssueEdit
	if err := json.NewDecoder(r.Body).Decode(&edit); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err))
		return
	}

	if errs := validation.ValidateIssueEdit(edit); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	issue, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), edit)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

// DeleteIssue handles DELETE /api/v1/issues/{id}.
func (h *Handler) DeleteIssue(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		MapStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteAllIssues handles DELETE /api/v1/issues: wipes the local collection.
func (h *Handler) DeleteAllIssues(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.service.DeleteAll(r.Context())
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.DeleteAllResult{Deleted: deleted})
}
