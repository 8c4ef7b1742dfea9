package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hyperengineering/erpbridge/internal/types"
)

// DefaultTokenInfoURL is Google's ID-token introspection endpoint. It
// validates the token's signature and expiry server-side and echoes the
// claims back, which keeps this service free of JWKS caching.
const DefaultTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"

// ErrIdentityRejected is returned when the provider refuses the ID token
// (expired, malformed, or signed for another client).
var ErrIdentityRejected = errors.New("identity token rejected")

// IdentityVerifier verifies a provider-issued ID token and returns the
// profile it attests to.
type IdentityVerifier interface {
	Verify(ctx context.Context, idToken string) (*types.Identity, error)
}

// GoogleVerifier verifies Google ID tokens against the tokeninfo endpoint.
type GoogleVerifier struct {
	clientID string
	endpoint string
	http     *http.Client
}

// NewGoogleVerifier creates a verifier bound to the given OAuth client ID.
// Tokens issued for any other audience are rejected.
func NewGoogleVerifier(clientID string, timeout time.Duration) *GoogleVerifier {
	return &GoogleVerifier{
		clientID: clientID,
		endpoint: DefaultTokenInfoURL,
		http:     &http.Client{Timeout: timeout},
	}
}

// tokenInfo is the subset of the tokeninfo response this service reads.
type tokenInfo struct {
	Audience string `json:"aud"`
	Subject  string `json:"sub"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Picture  string `json:"picture"`
}

// Verify checks the ID token with the provider and returns the verified
// profile. The provider rejects expired and tampered tokens with a non-2xx
// status; the audience check against the configured client ID happens here.
func (v *GoogleVerifier) Verify(ctx context.Context, idToken string) (*types.Identity, error) {
	if idToken == "" {
		return nil, ErrIdentityRejected
	}

	endpoint := v.endpoint + "?id_token=" + url.QueryEscape(idToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := v.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verify identity token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: provider returned status %d", ErrIdentityRejected, resp.StatusCode)
	}

	var info tokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode tokeninfo response: %w", err)
	}

	if info.Audience != v.clientID {
		return nil, fmt.Errorf("%w: token issued for a different client", ErrIdentityRejected)
	}
	if info.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrIdentityRejected)
	}

	return &types.Identity{
		Subject:  info.Subject,
		Email:    info.Email,
		FullName: info.Name,
		Picture:  info.Picture,
	}, nil
}
