// Package callstate holds the authoritative status model for a single call.
// It is pure domain logic: both the webhook path and the reconciliation path
// funnel every Call mutation through Apply so the terminal-state-is-final
// rule cannot be bypassed.
package callstate

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"gitlab.com/voxline/api/voxline-call-engine/internal/model"
)

// statusRank orders statuses monotonically. A transition is only permitted
// to a strictly higher rank, which rejects stale out-of-order deliveries
// (e.g. a late call_started after call_ended) as silent no-ops.
var statusRank = map[string]int{
	model.CallStatusInitiated:  0,
	model.CallStatusRinging:    1,
	model.CallStatusAnswered:   2,
	model.CallStatusInProgress: 3,
	model.CallStatusCompleted:  10,
	model.CallStatusFailed:     10,
	model.CallStatusNoAnswer:   10,
	model.CallStatusBusy:       10,
	model.CallStatusVoicemail:  10,
}

// CanTransition reports whether a call currently in from may move to to.
// Terminal states accept no further transitions; equal or lower-ranked
// targets are rejected.
func CanTransition(from, to string) bool {
	if model.IsTerminalStatus(from) {
		return false
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// Update carries the fields a webhook event or a reconciliation pass wants to
// merge into a Call. Empty/nil fields are left untouched.
type Update struct {
	Status         string
	ProviderCallID string
	StartedAt      *time.Time
	EndedAt        *time.Time
	DurationMs     int64
	ProviderCost   *decimal.Decimal

	Transcript       string
	TranscriptObject datatypes.JSON
	Analysis         datatypes.JSON

	DisconnectReason string
	RecordingURL     string
	ProviderMetadata datatypes.JSON
}

// Apply merges upd into call under the state machine rules and returns true
// if anything changed. Status writes against a terminal call are dropped
// (no-op, not an error); all other transitions must be monotonic. Entering
// answered or in_progress sets the start timestamp if unset; entering a
// terminal state sets the end timestamp if unset and derives the duration.
// Cost recomputation is idempotent: repeating the same provider cost yields
// the same client cost.
func Apply(call *model.Call, upd Update, markup decimal.Decimal) bool {
	changed := false

	if upd.ProviderCallID != "" && (call.ProviderCallID == nil || *call.ProviderCallID == "") {
		id := upd.ProviderCallID
		call.ProviderCallID = &id
		changed = true
	}

	durationTouched := false

	if upd.Status != "" && upd.Status != call.Status && CanTransition(call.Status, upd.Status) {
		call.Status = upd.Status
		changed = true
		durationTouched = true

		switch {
		case upd.Status == model.CallStatusAnswered || upd.Status == model.CallStatusInProgress:
			if call.StartedAt == nil {
				call.StartedAt = startTime(upd)
			}
		case model.IsTerminalStatus(upd.Status):
			if call.StartedAt == nil && upd.StartedAt != nil {
				call.StartedAt = upd.StartedAt
			}
			if call.EndedAt == nil {
				call.EndedAt = endTime(upd)
			}
		}
	}

	if upd.DurationMs > 0 && call.DurationMs != upd.DurationMs {
		call.DurationMs = upd.DurationMs
		changed = true
		durationTouched = true
	}
	// DurationSeconds follows the fields it derives from; a rejected stale
	// update must not recompute it.
	if durationTouched {
		if derived := deriveDurationSeconds(call); derived != call.DurationSeconds {
			call.DurationSeconds = derived
			changed = true
		}
	}

	if upd.ProviderCost != nil {
		clientCost := ComputeClientCost(*upd.ProviderCost, markup)
		if !call.ProviderCost.Equal(*upd.ProviderCost) || !call.ClientCost.Equal(clientCost) {
			call.ProviderCost = *upd.ProviderCost
			call.ClientCost = clientCost
			changed = true
		}
	}

	if upd.Transcript != "" && call.Transcript != upd.Transcript {
		call.Transcript = upd.Transcript
		changed = true
	}
	if len(upd.TranscriptObject) > 0 {
		call.TranscriptObject = upd.TranscriptObject
		changed = true
	}
	if len(upd.Analysis) > 0 {
		call.Analysis = upd.Analysis
		changed = true
	}
	if upd.DisconnectReason != "" && call.DisconnectReason != upd.DisconnectReason {
		call.DisconnectReason = upd.DisconnectReason
		changed = true
	}
	if upd.RecordingURL != "" && call.RecordingURL != upd.RecordingURL {
		call.RecordingURL = upd.RecordingURL
		changed = true
	}
	if len(upd.ProviderMetadata) > 0 {
		call.ProviderMetadata = upd.ProviderMetadata
		changed = true
	}

	return changed
}

// ComputeClientCost derives the client-billed cost from the provider cost.
// The markup factor is fixed policy (currently 1.20); the result is rounded
// to 6 decimal places to match the storage column.
func ComputeClientCost(providerCost, markup decimal.Decimal) decimal.Decimal {
	return providerCost.Mul(markup).Round(6)
}

func startTime(upd Update) *time.Time {
	if upd.StartedAt != nil {
		return upd.StartedAt
	}
	now := time.Now().UTC()
	return &now
}

func endTime(upd Update) *time.Time {
	if upd.EndedAt != nil {
		return upd.EndedAt
	}
	now := time.Now().UTC()
	return &now
}

// deriveDurationSeconds prefers the millisecond duration reported by the
// provider, falling back to the recorded timestamps. Zero when either
// timestamp is missing.
func deriveDurationSeconds(call *model.Call) int64 {
	if call.DurationMs > 0 {
		return call.DurationMs / 1000
	}
	if call.StartedAt == nil || call.EndedAt == nil {
		return 0
	}
	secs := int64(call.EndedAt.Sub(*call.StartedAt).Seconds())
	if secs < 0 {
		return 0
	}
	return secs
}
