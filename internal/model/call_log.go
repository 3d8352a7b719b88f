package model

import "time"

type CallStatus string

const (
	CallQueued    CallStatus = "queued"
	CallRunning   CallStatus = "running"
	CallCompleted CallStatus = "completed"
	CallFailed    CallStatus = "failed"
	CallCancelled CallStatus = "cancelled"
)

// Terminal reports whether the status can no longer change.
func (s CallStatus) Terminal() bool {
	return s == CallCompleted || s == CallFailed || s == CallCancelled
}

// CallLog records one contact-level call made on behalf of an event.
// DurationMs is derived from the running transition; if MarkRunning was
// skipped it falls back to 0 rather than going negative.
type CallLog struct {
	ID               string
	EventID          *string
	ContactID        *string
	AgentID          string
	To               string
	Status           CallStatus
	StartedAt        *time.Time
	EndedAt          *time.Time
	DurationMs       *int64
	LastError        *string
	ExternalResponse *string // JSON snapshot of the engine response
	Meta             map[string]string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
