// Package repo holds the durable records: execution logs, call logs and
// events. Each record has a Postgres implementation and an in-memory one
// used in tests and for single-process setups.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/ymunawwer/the-chirpy/internal/model"
)

var ErrNotFound = errors.New("not found")

// ExecutionLogRepository is the execution ledger: one row per attempt to
// invoke the workflow engine. Rows are single-owner while in flight, so
// mutations are last-writer-wins with no optimistic locking.
type ExecutionLogRepository interface {
	// CreatePending inserts a new pending entry.
	CreatePending(ctx context.Context, to, data, payload string) (model.ExecutionLog, error)
	// ResetPending reuses an existing entry for a new attempt, resetting it
	// to pending with the given payload and clearing any previous outcome.
	// Returns ErrNotFound when the id is unknown.
	ResetPending(ctx context.Context, id, to, data, payload string) (model.ExecutionLog, error)
	// MarkSuccess records the engine response on a pending entry.
	MarkSuccess(ctx context.Context, id string, responseStatus int, responseBody string) error
	// MarkFailed records the failure on a pending entry. responseStatus is
	// nil when the call failed before a response arrived.
	MarkFailed(ctx context.Context, id string, responseStatus *int, errMsg string) error
	GetByID(ctx context.Context, id string) (model.ExecutionLog, error)
}

// NewCallLog is the seed for a call-log row; entries start out queued.
type NewCallLog struct {
	EventID   *string
	ContactID *string
	AgentID   string
	To        string
	Meta      map[string]string
}

// CallLogRepository is the call ledger: one row per contact-level call
// driven by an event. Terminal rows are never updated again.
type CallLogRepository interface {
	Create(ctx context.Context, seed NewCallLog) (model.CallLog, error)
	// MarkRunning stamps started-at with the current time.
	MarkRunning(ctx context.Context, id string) (model.CallLog, error)
	// MarkCompleted sets ended-at and duration, measured from the running
	// transition. A row that never ran records duration 0.
	MarkCompleted(ctx context.Context, id string, externalResponse *string) (model.CallLog, error)
	MarkFailed(ctx context.Context, id string, errMsg string) (model.CallLog, error)
	ListByEvent(ctx context.Context, eventID string, limit, offset int) ([]model.CallLog, error)
}

// EventRepository gives the executor access to schedulable events. Event
// CRUD itself lives outside the core.
type EventRepository interface {
	GetByID(ctx context.Context, id string) (model.Event, error)
	// FindDue returns events with status scheduled whose schedule-at is
	// unset or has passed, excluding expired ones.
	FindDue(ctx context.Context, now time.Time) ([]model.Event, error)
	UpdateStatus(ctx context.Context, id string, status model.EventStatus) error
}
