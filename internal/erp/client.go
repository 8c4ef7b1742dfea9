// Package erp provides a typed HTTP client for the ERP endpoint's
// Frappe-style resource API. Single documents travel under a "data"
// envelope, RPC-method results under a "message" envelope, and
// authentication is a session cookie named "sid".
package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/hyperengineering/erpbridge/internal/types"
)

// maxErrorBody caps how much of a rejection body is kept for diagnostics.
const maxErrorBody = 4 << 10

// IssueFields is the caller-controlled portion of an ERP issue document.
// This is the entire push payload: local bookkeeping (the local ID,
// created_at, sync state) never crosses the wire.
type IssueFields struct {
	Subject  string `json:"subject"`
	RaisedBy string `json:"raised_by,omitempty"`
	Status   string `json:"status,omitempty"`
}

// Issue is the remote representation returned by the ERP endpoint.
type Issue struct {
	Name     string `json:"name"`
	Subject  string `json:"subject"`
	RaisedBy string `json:"raised_by"`
	Status   string `json:"status"`
}

// DocType describes one ERP document type, as served by the metadata API.
type DocType struct {
	Name   string         `json:"name"`
	Module string         `json:"module,omitempty"`
	Fields []DocTypeField `json:"fields,omitempty"`
}

// DocTypeField is a single field definition within a DocType.
type DocTypeField struct {
	Fieldname string `json:"fieldname"`
	Label     string `json:"label,omitempty"`
	Fieldtype string `json:"fieldtype,omitempty"`
	Reqd      int    `json:"reqd,omitempty"`
	Options   string `json:"options,omitempty"`
}

type issueEnvelope struct {
	Data Issue `json:"data"`
}

type issueListEnvelope struct {
	Data []Issue `json:"data"`
}

type countEnvelope struct {
	Message int `json:"message"`
}

type docTypeEnvelope struct {
	Data DocType `json:"data"`
}

// Client is a typed HTTP client for the ERP endpoint.
type Client struct {
	baseURL string
	sid     string
	http    *http.Client
}

// New creates a Client. baseURL is the endpoint's API root
// (e.g. https://erp.example.net/api), sid the session cookie value.
// The timeout bounds every request so a hung endpoint cannot stall a
// sync pass indefinitely.
func New(baseURL, sid string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		sid:     sid,
		http:    &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the configured endpoint root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Configured reports whether both the endpoint URL and the session
// credential are present.
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.sid != ""
}

// NormalizeStatus capitalizes a status value the way the ERP endpoint
// expects: first rune upper, remainder lower. Blank statuses fall back to
// the semantic default.
func NormalizeStatus(status string) string {
	if status == "" {
		return types.StatusOpen
	}
	r, size := utf8.DecodeRuneInString(status)
	return string(unicode.ToUpper(r)) + strings.ToLower(status[size:])
}

// CreateIssue creates a remote issue document. A success response without a
// document name is unusable for future updates and is reported as malformed.
func (c *Client) CreateIssue(ctx context.Context, fields IssueFields) (*Issue, error) {
	fields.Status = NormalizeStatus(fields.Status)

	var envelope issueEnvelope
	if err := c.do(ctx, http.MethodPost, "/resource/Issue", nil, fields, &envelope); err != nil {
		return nil, err
	}
	if envelope.Data.Name == "" {
		return nil, &MalformedResponseError{Reason: "create response missing document name"}
	}
	return &envelope.Data, nil
}

// UpdateIssue replaces the caller-controlled fields of the remote document.
// The name travels in the path, never in the body.
func (c *Client) UpdateIssue(ctx context.Context, name string, fields IssueFields) (*Issue, error) {
	if name == "" {
		return nil, fmt.Errorf("update issue: empty document name")
	}
	fields.Status = NormalizeStatus(fields.Status)

	var envelope issueEnvelope
	if err := c.do(ctx, http.MethodPut, "/resource/Issue/"+url.PathEscape(name), nil, fields, &envelope); err != nil {
		return nil, err
	}
	return &envelope.Data, nil
}

// DeleteIssue removes the remote document. The result is advisory: failures
// are logged and reported as false, never returned as an error.
func (c *Client) DeleteIssue(ctx context.Context, name string) bool {
	if name == "" {
		return false
	}
	if err := c.do(ctx, http.MethodDelete, "/resource/Issue/"+url.PathEscape(name), nil, nil, nil); err != nil {
		slog.Warn("remote delete failed",
			"component", "erp",
			"name", name,
			"error", err)
		return false
	}
	return true
}

// ListIssues fetches one page of remote issues. An empty slice means the end
// of the data, not an error.
func (c *Client) ListIssues(ctx context.Context, limitStart, pageLength int) ([]Issue, error) {
	query := url.Values{}
	query.Set("fields", `["name","subject","raised_by","status"]`)
	query.Set("limit_start", strconv.Itoa(limitStart))
	query.Set("limit_page_length", strconv.Itoa(pageLength))

	var envelope issueListEnvelope
	if err := c.do(ctx, http.MethodGet, "/resource/Issue", query, nil, &envelope); err != nil {
		return nil, err
	}
	return envelope.Data, nil
}

// DocTypeCount returns how many document types the endpoint defines.
func (c *Client) DocTypeCount(ctx context.Context) (int, error) {
	query := url.Values{}
	query.Set("doctype", "DocType")

	var envelope countEnvelope
	if err := c.do(ctx, http.MethodGet, "/method/frappe.client.get_count", query, nil, &envelope); err != nil {
		return 0, err
	}
	return envelope.Message, nil
}

// ListDocTypes fetches one page of document type names.
func (c *Client) ListDocTypes(ctx context.Context, limitStart, pageLength int) ([]string, error) {
	query := url.Values{}
	query.Set("doctype", "DocType")
	query.Set("fields", `["name"]`)
	query.Set("limit_start", strconv.Itoa(limitStart))
	query.Set("limit_page_length", strconv.Itoa(pageLength))

	var envelope struct {
		Message []struct {
			Name string `json:"name"`
		} `json:"message"`
	}
	if err := c.do(ctx, http.MethodGet, "/method/frappe.client.get_list", query, nil, &envelope); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(envelope.Message))
	for _, doc := range envelope.Message {
		names = append(names, doc.Name)
	}
	return names, nil
}

// GetDocType fetches the field schema of one document type.
func (c *Client) GetDocType(ctx context.Context, name string) (*DocType, error) {
	var envelope docTypeEnvelope
	if err := c.do(ctx, http.MethodGet, "/resource/DocType/"+url.PathEscape(name), nil, nil, &envelope); err != nil {
		return nil, err
	}
	return &envelope.Data, nil
}

// Ping probes the endpoint root. Any HTTP response, including an error
// status, counts as reachable; only transport failures do not.
func (c *Client) Ping(ctx context.Context) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &UnreachableError{URL: c.baseURL, Err: err}
	}
	resp.Body.Close()
	return nil
}

// do sends one authenticated request and decodes the response into out when
// out is non-nil. Transport failures become UnreachableError, non-2xx
// statuses RejectedError, and undecodable success bodies
// MalformedResponseError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.AddCookie(&http.Cookie{Name: "sid", Value: c.sid})

	resp, err := c.http.Do(req)
	if err != nil {
		return &UnreachableError{URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &RejectedError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &MalformedResponseError{Reason: fmt.Sprintf("decode body: %v", err)}
	}
	return nil
}
