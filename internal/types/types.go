package types

import (
	"encoding/json"
	"time"
)

// StatusOpen is the semantic default status for issues that arrive without one.
const StatusOpen = "Open"

// Issue represents a work item tracked in the local store and mirrored to
// the ERP endpoint. ID is assigned locally and never leaves this service;
// Name is assigned by the ERP endpoint on first push and joins the two
// representations from then on.
type Issue struct {
	ID        string     `json:"id"`
	Name      string     `json:"name,omitempty"`
	Subject   string     `json:"subject"`
	RaisedBy  string     `json:"raised_by,omitempty"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	Synced    bool       `json:"synced"`
	SyncedAt  *time.Time `json:"synced_at,omitempty"`
}

// NewIssue is the input type for submitting an issue (without store-assigned fields).
type NewIssue struct {
	Subject  string `json:"subject"`
	RaisedBy string `json:"raised_by,omitempty"`
	Status   string `json:"status,omitempty"`
}

// IssueEdit is a partial update. Nil fields are left untouched; any present
// field moves the issue back to pending until the next push confirms it.
type IssueEdit struct {
	Subject  *string `json:"subject,omitempty"`
	RaisedBy *string `json:"raised_by,omitempty"`
	Status   *string `json:"status,omitempty"`
}

// Empty reports whether the edit carries no fields at all.
func (e IssueEdit) Empty() bool {
	return e.Subject == nil && e.RaisedBy == nil && e.Status == nil
}

// Identity is a verified identity-provider profile, used to provision users.
type Identity struct {
	Subject  string
	Email    string
	FullName string
	Picture  string
}

// User represents an account provisioned on first sign-in.
type User struct {
	ID              string    `json:"id"`
	ProviderSubject string    `json:"provider_subject"`
	Email           string    `json:"email"`
	FullName        string    `json:"full_name,omitempty"`
	Picture         string    `json:"picture,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	LastLoginAt     time.Time `json:"last_login_at"`
}

// OutboundResult reports a completed outbound push pass.
type OutboundResult struct {
	Synced int `json:"synced"`
}

// InboundResult reports a completed (or aborted) inbound pull pass.
type InboundResult struct {
	InsertedTotal int           `json:"inserted_total"`
	UpdatedTotal  int           `json:"updated_total"`
	FailedBatches []FailedBatch `json:"failed_batches"`
}

// FailedBatch records the page fetch that stopped an inbound pass.
type FailedBatch struct {
	Start  int    `json:"start"`
	Status int    `json:"status,omitempty"`
	Error  string `json:"error"`
}

// MarshalJSON ensures nil FailedBatches marshals as [] not null.
func (r InboundResult) MarshalJSON() ([]byte, error) {
	if r.FailedBatches == nil {
		r.FailedBatches = []FailedBatch{}
	}
	type Alias InboundResult
	return json.Marshal(Alias(r))
}

// HealthResponse represents the service health check response.
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	IssueCount   int64  `json:"issue_count"`
	PendingCount int64  `json:"pending_count"`
}

// ERPHealthResponse reports reachability of the configured ERP endpoint.
type ERPHealthResponse struct {
	Reachable bool   `json:"reachable"`
	Endpoint  string `json:"endpoint,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SignInRequest carries the identity provider token presented at sign-in.
type SignInRequest struct {
	IDToken string `json:"id_token"`
}

// TokenResponse is the successful sign-in payload.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	User        User   `json:"user"`
}

// DocTypeList is the ERP metadata listing: total count plus one page of names.
type DocTypeList struct {
	Count int      `json:"count"`
	Names []string `json:"doctypes"`
}

// MarshalJSON ensures nil Names marshals as [] not null.
func (d DocTypeList) MarshalJSON() ([]byte, error) {
	if d.Names == nil {
		d.Names = []string{}
	}
	type Alias DocTypeList
	return json.Marshal(Alias(d))
}

// DeleteAllResult reports a local collection wipe.
type DeleteAllResult struct {
	Deleted int64 `json:"deleted"`
}
