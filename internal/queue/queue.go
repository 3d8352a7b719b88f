// Package queue carries dispatch requests between the gateway and the
// worker over a Redis stream. Delivery is at-least-once; the execution
// ledger, not the queue, is the source of truth for outcomes.
package queue

import (
	"context"
	"errors"
)

var ErrUnavailable = errors.New("dispatch queue unavailable")

// Message is one queued dispatch request. LogID refers to the execution
// log entry pre-created by the producer; the consumer completes it.
type Message struct {
	To      string `json:"to"`
	Data    string `json:"data"`
	AgentID string `json:"agentId"`
	LogID   string `json:"logId"`
}

type Publisher interface {
	// Available reports whether the queue is configured and reachable.
	Available(ctx context.Context) bool
	// Publish appends the messages to the dispatch stream in one call.
	Publish(ctx context.Context, msgs ...Message) error
}

// Disabled is the publisher used when no broker is configured. It reports
// unavailable instead of forcing nil checks on callers.
type Disabled struct{}

func (Disabled) Available(context.Context) bool { return false }

func (Disabled) Publish(context.Context, ...Message) error { return ErrUnavailable }
