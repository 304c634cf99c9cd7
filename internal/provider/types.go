package provider

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// BatchTask is one call slot in a bulk-dispatch request.
type BatchTask struct {
	PhoneNumber string            `json:"phone_number"`
	Variables   map[string]string `json:"variables,omitempty"`
}

// CreateBatchRequest is the bulk-dispatch payload. One shared from number and
// agent, one task per contact.
type CreateBatchRequest struct {
	FromNumber     string      `json:"from_number"`
	AgentID        string      `json:"agent_id"`
	Label          string      `json:"label,omitempty"`
	ConcurrencyCap int         `json:"concurrency_cap,omitempty"`
	Tasks          []BatchTask `json:"tasks"`
}

// CreateBatchResponse acknowledges a bulk dispatch.
type CreateBatchResponse struct {
	BatchID        string `json:"batch_id"`
	TotalTaskCount int    `json:"total_task_count"`
	Status         string `json:"status,omitempty"`
}

// Call is the provider's summary view of one call, as returned by the batch
// listing endpoint. Timestamps may be absent while a call is still queued.
type Call struct {
	CallID       string          `json:"call_id"`
	BatchID      string          `json:"batch_id,omitempty"`
	FromNumber   string          `json:"from_number"`
	ToNumber     string          `json:"to_number"`
	Status       string          `json:"status"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	EndedAt      *time.Time      `json:"ended_at,omitempty"`
	DurationMs   int64           `json:"duration_ms,omitempty"`
	Price        decimal.Decimal `json:"price"`
	AnsweredBy   string          `json:"answered_by,omitempty"`
	Disconnect   string          `json:"disconnection_reason,omitempty"`
	RecordingURL string          `json:"recording_url,omitempty"`
}

// CallDetail is the full record for one call, fetched after call_ended. The
// canonical source of transcript and analysis data.
type CallDetail struct {
	Call
	Transcript       string          `json:"transcript,omitempty"`
	TranscriptObject json.RawMessage `json:"transcript_object,omitempty"`
	Analysis         json.RawMessage `json:"analysis,omitempty"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
}

// listCallsResponse wraps the batch listing endpoint's payload.
type listCallsResponse struct {
	Calls []Call `json:"calls"`
}

// stopBatchResponse acknowledges a best-effort stop request.
type stopBatchResponse struct {
	Status string `json:"status"`
}

// errorResponse is the provider's error envelope.
type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}
