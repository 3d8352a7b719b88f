// Package executor runs due events: one workflow dispatch per contact,
// tracked in the call ledger, with the event's own status reconciled from
// the fan-out's outcome.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ymunawwer/the-chirpy/internal/gateway"
	"github.com/ymunawwer/the-chirpy/internal/model"
	"github.com/ymunawwer/the-chirpy/internal/repo"
)

// Dispatcher is the slice of the gateway the executor needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, to, data, agentID, existingLogID string) (gateway.DispatchResult, error)
}

// FailurePolicy decides what a contact failure does to the rest of the
// fan-out for that event.
type FailurePolicy int

const (
	// AbortOnFirstFailure stops the fan-out at the first failed contact.
	AbortOnFirstFailure FailurePolicy = iota
	// ContinueOnFailure dispatches every contact and reports the failures
	// together afterwards.
	ContinueOnFailure
)

type Executor struct {
	events     repo.EventRepository
	calls      repo.CallLogRepository
	dispatcher Dispatcher
	policy     FailurePolicy
}

func New(events repo.EventRepository, calls repo.CallLogRepository, dispatcher Dispatcher) *Executor {
	return &Executor{
		events:     events,
		calls:      calls,
		dispatcher: dispatcher,
		policy:     AbortOnFirstFailure,
	}
}

func (e *Executor) WithFailurePolicy(policy FailurePolicy) *Executor {
	e.policy = policy
	return e
}

// ExecuteEvent runs one event. Events that are not scheduled or paused
// are returned unchanged, as are scheduled events whose time has not come
// unless ignoreSchedule is set. The returned event carries the terminal
// status, persisted before returning.
func (e *Executor) ExecuteEvent(ctx context.Context, id string, ignoreSchedule bool) (model.Event, error) {
	event, err := e.events.GetByID(ctx, id)
	if err != nil {
		return model.Event{}, err
	}

	if !event.Executable() {
		return event, nil
	}
	if !ignoreSchedule && event.ScheduleAt != nil && event.ScheduleAt.After(time.Now()) {
		return event, nil
	}

	if err := e.events.UpdateStatus(ctx, event.ID, model.EventRunning); err != nil {
		return event, err
	}
	event.Status = model.EventRunning

	if fanErr := e.fanOut(ctx, &event); fanErr != nil {
		if err := e.events.UpdateStatus(ctx, event.ID, model.EventFailed); err != nil {
			slog.Error("failed to persist event failure", "eventId", event.ID, "error", err)
		}
		event.Status = model.EventFailed
		return event, fanErr
	}

	final := model.EventCompleted
	if event.Recurrent {
		final = model.EventScheduled
	}
	if err := e.events.UpdateStatus(ctx, event.ID, final); err != nil {
		return event, err
	}
	event.Status = final
	return event, nil
}

// fanOut dispatches the event's contacts in list order. Contacts without
// a number are skipped. Each contact gets its own call-log row moved
// queued -> running -> completed/failed around the dispatch.
func (e *Executor) fanOut(ctx context.Context, event *model.Event) error {
	var failures []error

	for _, contact := range event.Contacts {
		to := firstNumber(contact)
		if to == "" {
			continue
		}

		entry, err := e.calls.Create(ctx, repo.NewCallLog{
			EventID:   &event.ID,
			ContactID: contact.ContactID,
			AgentID:   event.AgentID,
			To:        to,
			Meta: map[string]string{
				"eventName": event.Name,
				"purpose":   event.Purpose,
			},
		})
		if err != nil {
			return err
		}

		if _, err := e.calls.MarkRunning(ctx, entry.ID); err != nil {
			return err
		}

		res, err := e.dispatcher.Dispatch(ctx, to, event.DispatchData(), event.AgentID, "")
		if err != nil {
			if _, mErr := e.calls.MarkFailed(ctx, entry.ID, err.Error()); mErr != nil {
				slog.Error("failed to record call failure", "callId", entry.ID, "error", mErr)
			}
			if e.policy == AbortOnFirstFailure {
				return err
			}
			failures = append(failures, err)
			continue
		}

		var external *string
		if res.External != nil {
			body := res.External.Body
			external = &body
		}
		if _, mErr := e.calls.MarkCompleted(ctx, entry.ID, external); mErr != nil {
			slog.Error("failed to record call completion", "callId", entry.ID, "error", mErr)
		}
	}

	return errors.Join(failures...)
}

func firstNumber(contact model.EventContact) string {
	if len(contact.ContactNumbers) == 0 {
		return ""
	}
	return contact.ContactNumbers[0]
}

// EventError pairs a failed event with the error that stopped it.
type EventError struct {
	Event model.Event
	Err   error
}

// RunResult partitions one scheduler pass into outcomes.
type RunResult struct {
	Succeeded []model.Event
	Failed    []EventError
}

// Changed reports whether the pass touched any event.
func (r RunResult) Changed() bool {
	return len(r.Succeeded) > 0 || len(r.Failed) > 0
}

// ExecuteDueEvents runs every due event independently: one event's
// failure never blocks the others.
func (e *Executor) ExecuteDueEvents(ctx context.Context, now time.Time) (RunResult, error) {
	due, err := e.events.FindDue(ctx, now)
	if err != nil {
		return RunResult{}, err
	}

	var result RunResult
	for _, event := range due {
		updated, err := e.ExecuteEvent(ctx, event.ID, true)
		if err != nil {
			result.Failed = append(result.Failed, EventError{Event: event, Err: err})
			continue
		}
		result.Succeeded = append(result.Succeeded, updated)
	}
	return result, nil
}
