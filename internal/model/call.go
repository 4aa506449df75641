package model

import "time"

// Bridge operation names.
const (
	OpRead        = "read"
	OpGetMetadata = "get_metadata"
)

// Call status constants.
const (
	CallStatusOK      = "ok"
	CallStatusFailed  = "failed"
	CallStatusTimeout = "timeout"
)

// CallRecord is one journal entry describing a completed bridge call.
// Results themselves are never persisted.
type CallRecord struct {
	ID          string    `json:"id"`
	Op          string    `json:"op"`
	Path        string    `json:"path"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	SeriesCount int       `json:"series_count"`
	DurationMS  int       `json:"duration_ms"`
	CreatedAt   time.Time `json:"created_at"`
}
