package models

import (
	"net/http"
	"time"
)

// Backend describes one upstream inference server.
type Backend struct {
	Name    string
	BaseURL string
	APIKey  string // optional credential for the upstream itself
}

// AuditRecord is one immutable usage-log entry. Records are written once per
// inbound request, never updated, and read back only by the usage endpoints.
type AuditRecord struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Accepted  bool        `json:"accepted"`
	Username  string      `json:"username,omitempty"`
	Key       string      `json:"key"`
	Method    string      `json:"method"`
	Endpoint  string      `json:"endpoint"`
	Headers   http.Header `json:"headers,omitempty"`
	Body      []byte      `json:"body,omitempty"`
}
