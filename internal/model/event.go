package model

import "time"

type EventStatus string

const (
	EventScheduled EventStatus = "scheduled"
	EventRunning   EventStatus = "running"
	EventCompleted EventStatus = "completed"
	EventCancelled EventStatus = "cancelled"
	EventFailed    EventStatus = "failed"
	EventPaused    EventStatus = "paused"
)

// EventContact is one fan-out target of an event. Contacts without any
// number are skipped during execution, not failed.
type EventContact struct {
	ContactID      *string  `json:"contactId,omitempty"`
	ContactName    string   `json:"contactName,omitempty"`
	ContactNumbers []string `json:"contactNumbers"`
}

// Event is a schedulable unit of work: one workflow invocation per contact.
type Event struct {
	ID           string
	Name         string
	AgentID      string
	Contacts     []EventContact
	ScheduleCron string // reserved; due-selection only evaluates ScheduleAt
	ScheduleAt   *time.Time
	Repetition   string
	Recurrent    bool
	Status       EventStatus
	Description  string
	Purpose      string
	Expiry       *time.Time
	Metadata     map[string]string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Executable reports whether the event is in a state the executor may run.
func (e *Event) Executable() bool {
	return e.Status == EventScheduled || e.Status == EventPaused
}

// DispatchData is the payload string sent to the engine for each contact.
func (e *Event) DispatchData() string {
	if e.Purpose != "" {
		return e.Purpose
	}
	return e.Description
}
