package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hyperengineering/erpbridge/internal/auth"
	"github.com/hyperengineering/erpbridge/internal/store"
	"github.com/hyperengineering/erpbridge/internal/types"
)

// SignIn handles POST /api/v1/auth/signin: verifies the provider ID token,
// provisions the user on first sight, and answers with an app token.
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	if h.tokens == nil || h.verifier == nil {
		WriteProblem(w, r, http.StatusServiceUnavailable, "Authentication is not configured")
		return
	}

	var req types.SignInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err))
		return
	}
	if req.IDToken == "" {
		WriteProblem(w, r, http.StatusBadRequest, "id_token is required")
		return
	}

	ident, err := h.verifier.Verify(r.Context(), req.IDToken)
	if err != nil {
		if errors.Is(err, auth.ErrIdentityRejected) {
			slog.Warn("sign-in rejected",
				"component", "api",
				"action", "signin_rejected",
				"remote_ip", r.RemoteAddr,
			)
			WriteProblem(w, r, http.StatusUnauthorized, "Identity token rejected")
			return
		}
		slog.Error("identity verification failed",
			"component", "api",
			"action", "signin_failed",
			"error", err,
		)
		WriteProblem(w, r, http.StatusServiceUnavailable, "Identity provider unavailable")
		return
	}

	user, err := h.store.UpsertUser(r.Context(), *ident)
	if err != nil {
		slog.Error("user upsert failed",
			"component", "api",
			"action", "signin_failed",
			"error", err,
		)
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	token, err := h.tokens.Issue(user.ID)
	if err != nil {
		slog.Error("token issuance failed",
			"component", "api",
			"action", "signin_failed",
			"error", err,
		)
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	writeJSON(w, http.StatusOK, types.TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        *user,
	})
}

// Me handles GET /api/v1/auth/me: returns the authenticated user's profile.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if userID == "" {
		WriteProblem(w, r, http.StatusUnauthorized, "Not authenticated")
		return
	}

	user, err := h.store.GetUserByID(r.Context(), userID)
	if err != nil {
		// A valid token for a user the store no longer knows is an auth
		// problem, not a missing resource.
		if errors.Is(err, store.ErrUserNotFound) {
			WriteProblem(w, r, http.StatusUnauthorized, "Unknown user")
			return
		}
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, user)
}
