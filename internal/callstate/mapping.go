package callstate

import "gitlab.com/voxline/api/voxline-call-engine/internal/model"

// providerStatusTable maps the provider's call-status vocabulary to the local
// status enum.
var providerStatusTable = map[string]string{
	"registered":  model.CallStatusInitiated,
	"queued":      model.CallStatusInitiated,
	"ringing":     model.CallStatusRinging,
	"answered":    model.CallStatusAnswered,
	"ongoing":     model.CallStatusInProgress,
	"in_progress": model.CallStatusInProgress,
	"ended":       model.CallStatusCompleted,
	"call_failed": model.CallStatusFailed,
	"no_answer":   model.CallStatusNoAnswer,
	"busy":        model.CallStatusBusy,
	"voicemail":   model.CallStatusVoicemail,
}

// MapProviderStatus translates a provider status into the local enum. Unknown
// or empty provider statuses fall back to defaultStatus (configured, normally
// "completed"); the second return value is false for such unmapped values so
// callers can log and count them.
func MapProviderStatus(providerStatus, defaultStatus string) (string, bool) {
	if mapped, ok := providerStatusTable[providerStatus]; ok {
		return mapped, true
	}
	if defaultStatus == "" {
		defaultStatus = model.CallStatusCompleted
	}
	return defaultStatus, false
}
