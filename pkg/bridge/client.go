// Package bridge is a Go client for the bridge service's REST API. Types
// mirror the service's wire format so downstream tools can embed the client
// without importing the service itself.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// APIError is a non-2xx answer from the bridge, parsed from its RFC 7807
// problem body when one is present.
type APIError struct {
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("bridge: %s (status %d)", e.Detail, e.Status)
	}
	return fmt.Sprintf("bridge: request failed (status %d)", e.Status)
}

// Client is a bridge API client.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

// New creates a new bridge client.
func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, errors.New("BaseURL is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		token:   config.Token,
		http:    &http.Client{Timeout: config.Timeout},
	}, nil
}

// SetToken replaces the app token used on subsequent requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// SignIn exchanges an identity provider ID token for an app token. The app
// token is adopted for subsequent requests on this client.
func (c *Client) SignIn(ctx context.Context, idToken string) (*TokenResponse, error) {
	var resp TokenResponse
	body := map[string]string{"id_token": idToken}
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/signin", body, &resp); err != nil {
		return nil, err
	}
	c.SetToken(resp.AccessToken)
	return &resp, nil
}

// Me returns the authenticated user's profile.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/api/v1/auth/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Health returns the service health status.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var status HealthStatus
	if err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ERPHealth probes the bridge's configured ERP endpoint.
func (c *Client) ERPHealth(ctx context.Context) (*ERPHealth, error) {
	var health ERPHealth
	if err := c.do(ctx, http.MethodGet, "/api/v1/health/erp", nil, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// SubmitIssue submits a new issue. The issue is durable on the bridge before
// any ERP push happens, so success does not imply the endpoint was reached.
func (c *Client) SubmitIssue(ctx context.Context, draft NewIssue) (*Issue, error) {
	var issue Issue
	if err := c.do(ctx, http.MethodPost, "/api/v1/issues", draft, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// GetIssue fetches one issue by its local ID.
func (c *Client) GetIssue(ctx context.Context, id string) (*Issue, error) {
	var issue Issue
	if err := c.do(ctx, http.MethodGet, "/api/v1/issues/"+url.PathEscape(id), nil, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// ListIssues lists issues. state filters by sync state: "all", "synced",
// "unsynced"; empty means all.
func (c *Client) ListIssues(ctx context.Context, state string) ([]Issue, error) {
	path := "/api/v1/issues"
	if state != "" {
		path += "?state=" + url.QueryEscape(state)
	}

	var issues []Issue
	if err := c.do(ctx, http.MethodGet, path, nil, &issues); err != nil {
		return nil, err
	}
	return issues, nil
}

// UpdateIssue applies a partial edit to an issue. Any carried field moves
// the issue back to pending until the next push confirms it.
func (c *Client) UpdateIssue(ctx context.Context, id string, edit IssueEdit) (*Issue, error) {
	var issue Issue
	if err := c.do(ctx, http.MethodPut, "/api/v1/issues/"+url.PathEscape(id), edit, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// DeleteIssue removes one issue from the bridge's local store.
func (c *Client) DeleteIssue(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/issues/"+url.PathEscape(id), nil, nil)
}

// DeleteAllIssues wipes the bridge's local collection.
func (c *Client) DeleteAllIssues(ctx context.Context) (*DeleteAllResult, error) {
	var result DeleteAllResult
	if err := c.do(ctx, http.MethodDelete, "/api/v1/issues", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SyncOutbound triggers one outbound push pass.
func (c *Client) SyncOutbound(ctx context.Context) (*OutboundResult, error) {
	var result OutboundResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/sync/outbound", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SyncInbound triggers one inbound pull pass. batchSize and maxRecords
// override the bridge's configured defaults; zero keeps them.
func (c *Client) SyncInbound(ctx context.Context, batchSize, maxRecords int) (*InboundResult, error) {
	q := url.Values{}
	if batchSize > 0 {
		q.Set("batch_size", strconv.Itoa(batchSize))
	}
	if maxRecords > 0 {
		q.Set("max_records", strconv.Itoa(maxRecords))
	}
	path := "/api/v1/sync/inbound"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var result InboundResult
	if err := c.do(ctx, http.MethodPost, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DocTypes lists the document types defined by the bridge's ERP endpoint.
func (c *Client) DocTypes(ctx context.Context) (*DocTypeList, error) {
	var list DocTypeList
	if err := c.do(ctx, http.MethodGet, "/api/v1/metadata/doctypes", nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// DocTypeSchema fetches one document type's field schema.
func (c *Client) DocTypeSchema(ctx context.Context, name string) (*DocType, error) {
	var doc DocType
	if err := c.do(ctx, http.MethodGet, "/api/v1/metadata/doctypes/"+url.PathEscape(name), nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// do sends one request and decodes the answer into out (skipped when out is
// nil, e.g. for 204 responses). Non-2xx answers come back as *APIError.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body *bytes.Buffer
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(data)
	} else {
		body = &bytes.Buffer{}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		// Problem body is best effort; the status code alone still makes a
		// usable error.
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		apiErr.Status = resp.StatusCode
		return apiErr
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
