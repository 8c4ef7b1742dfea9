package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/erpbridge/internal/types"
)

// docTypePageLength is the page size for walking the endpoint's DocType
// listing. The listing is small (hundreds of entries) so the full set is
// returned in one response.
const docTypePageLength = 500

// DocTypes handles GET /api/v1/metadata/doctypes: the count and complete
// list of document type names defined by the ERP endpoint.
func (h *Handler) DocTypes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	count, err := h.remote.DocTypeCount(ctx)
	if err != nil {
		slog.Error("doctype count failed",
			"component", "api",
			"action", "metadata_failed",
			"error", err,
		)
		MapRemoteError(w, r, err)
		return
	}

	names := make([]string, 0, count)
	for start := 0; start < count; start += docTypePageLength {
		page, err := h.remote.ListDocTypes(ctx, start, docTypePageLength)
		if err != nil {
			slog.Error("doctype list failed",
				"component", "api",
				"action", "metadata_failed",
				"start", start,
				"error", err,
			)
			MapRemoteError(w, r, err)
			return
		}
		if len(page) == 0 {
			break
		}
		names = append(names, page...)
	}

	writeJSON(w, http.StatusOK, types.DocTypeList{Count: count, Names: names})
}

// DocTypeSchema handles GET /api/v1/metadata/doctypes/{name}: the field
// schema of one document type, for dynamic form rendering.
func (h *Handler) DocTypeSchema(w http.ResponseWriter, r *http.Request) {
	doc, err := h.remote.GetDocType(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		MapRemoteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}
