package model

import "time"

type ExecutionStatus string

const (
	ExecutionPending ExecutionStatus = "pending"
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailed  ExecutionStatus = "failed"
)

// ExecutionLog records one attempt to invoke the external workflow engine.
// Entries start out pending and are completed exactly once, either by the
// inline dispatch path or by the queue consumer that picked up the logId.
type ExecutionLog struct {
	ID             string
	To             string
	Data           string
	Payload        string // serialized request body sent to the engine
	Status         ExecutionStatus
	ResponseStatus *int
	ResponseBody   *string
	ErrorMessage   *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
