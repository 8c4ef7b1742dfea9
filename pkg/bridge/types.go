package bridge

import "time"

// Config configures a Client.
type Config struct {
	BaseURL string        // bridge service URL, e.g. http://localhost:8080
	Token   string        // app token from a previous sign-in (optional)
	Timeout time.Duration // per-request timeout (default 30s)
}

// Issue is a work item as the bridge reports it. Name is assigned by the
// ERP endpoint on first push and is empty while the issue is pending.
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

// NewIssue is the submit payload.
type NewIssue struct {
	Subject  string `json:"subject"`
	RaisedBy string `json:"raised_by,omitempty"`
	Status   string `json:"status,omitempty"`
}

// IssueEdit is a partial update. Nil fields are left untouched.
type IssueEdit struct {
	Subject  *string `json:"subject,omitempty"`
	RaisedBy *string `json:"raised_by,omitempty"`
	Status   *string `json:"status,omitempty"`
}

// User is an account provisioned on first sign-in.
type User struct {
	ID              string    `json:"id"`
	ProviderSubject string    `json:"provider_subject"`
	Email           string    `json:"email"`
	FullName        string    `json:"full_name,omitempty"`
	Picture         string    `json:"picture,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	LastLoginAt     time.Time `json:"last_login_at"`
}

// TokenResponse is the successful sign-in payload.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	User        User   `json:"user"`
}

// HealthStatus is the service health payload.
type HealthStatus struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	IssueCount   int64  `json:"issue_count"`
	PendingCount int64  `json:"pending_count"`
}

// ERPHealth reports reachability of the bridge's configured ERP endpoint.
type ERPHealth struct {
	Reachable bool   `json:"reachable"`
	Endpoint  string `json:"endpoint,omitempty"`
	Error     string `json:"error,omitempty"`
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

// DeleteAllResult reports a local collection wipe.
type DeleteAllResult struct {
	Deleted int64 `json:"deleted"`
}

// DocTypeList is the ERP metadata listing.
type DocTypeList struct {
	Count int      `json:"count"`
	Names []string `json:"doctypes"`
}

// DocType is one document type's field schema.
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
