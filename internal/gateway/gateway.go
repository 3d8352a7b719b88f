// Package gateway dispatches workflow invocations either synchronously
// against the engine or through the dispatch queue, recording every
// attempt in the execution ledger. Both paths end in the same terminal
// ledger state; they differ only in when the caller observes it.
package gateway

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ymunawwer/the-chirpy/internal/engine"
	"github.com/ymunawwer/the-chirpy/internal/model"
	"github.com/ymunawwer/the-chirpy/internal/queue"
	"github.com/ymunawwer/the-chirpy/internal/repo"
)

// ErrNotConfigured is returned when the engine base URL, licence key or
// agent id is missing. No ledger entry is created in that case.
var ErrNotConfigured = errors.New("workflow engine configuration missing")

// EngineClient is the synchronous invocation contract of the engine.
type EngineClient interface {
	Execute(ctx context.Context, agentID, payload string) (*engine.Result, error)
}

type Gateway struct {
	engine EngineClient // nil when the engine is not configured
	logs   repo.ExecutionLogRepository
	queue  queue.Publisher
}

func New(engineClient EngineClient, logs repo.ExecutionLogRepository, q queue.Publisher) *Gateway {
	if q == nil {
		q = queue.Disabled{}
	}
	return &Gateway{
		engine: engineClient,
		logs:   logs,
		queue:  q,
	}
}

// DispatchResult is the outcome of one synchronous dispatch. Entry is the
// ledger row in its final state; External is nil on failure.
type DispatchResult struct {
	Entry    model.ExecutionLog
	External *engine.Result
}

// Dispatch invokes the engine inline. When existingLogID is set, the
// pre-created ledger entry with that id is reset and completed instead of
// a new one being created (the queue round-trip protocol).
func (g *Gateway) Dispatch(ctx context.Context, to, data, agentID, existingLogID string) (DispatchResult, error) {
	if g.engine == nil || agentID == "" {
		return DispatchResult{}, ErrNotConfigured
	}

	payload, err := engine.BuildPayload(to, data)
	if err != nil {
		return DispatchResult{}, err
	}

	entry, err := g.reserveEntry(ctx, to, data, payload, existingLogID)
	if err != nil {
		return DispatchResult{}, err
	}

	res, err := g.engine.Execute(ctx, agentID, payload)
	if err != nil {
		var status *int
		msg := err.Error()

		var ue *engine.UpstreamError
		if errors.As(err, &ue) {
			msg = ue.Message
			if ue.StatusCode != 0 {
				s := ue.StatusCode
				status = &s
			}
		}

		if mErr := g.logs.MarkFailed(ctx, entry.ID, status, msg); mErr != nil {
			slog.Error("failed to record dispatch failure", "logId", entry.ID, "error", mErr)
		}
		entry = g.refresh(ctx, entry)
		return DispatchResult{Entry: entry}, err
	}

	if mErr := g.logs.MarkSuccess(ctx, entry.ID, res.StatusCode, res.Body); mErr != nil {
		slog.Error("failed to record dispatch success", "logId", entry.ID, "error", mErr)
	}
	entry = g.refresh(ctx, entry)
	return DispatchResult{Entry: entry, External: res}, nil
}

// AsyncOutcome is the result of DispatchAsyncOrSync. Accepted means the
// request was queued and the final outcome will land on the ledger entry
// later; otherwise External holds the synchronous result.
type AsyncOutcome struct {
	Accepted bool
	LogID    string
	External *engine.Result
}

// DispatchAsyncOrSync queues the dispatch when a broker is configured and
// reachable, falling back to the inline path otherwise.
func (g *Gateway) DispatchAsyncOrSync(ctx context.Context, to, data, agentID string) (AsyncOutcome, error) {
	if agentID == "" {
		return AsyncOutcome{}, ErrNotConfigured
	}

	if !g.queue.Available(ctx) {
		res, err := g.Dispatch(ctx, to, data, agentID, "")
		if err != nil {
			return AsyncOutcome{LogID: res.Entry.ID}, err
		}
		return AsyncOutcome{LogID: res.Entry.ID, External: res.External}, nil
	}

	payload, err := engine.BuildPayload(to, data)
	if err != nil {
		return AsyncOutcome{}, err
	}

	entry, err := g.logs.CreatePending(ctx, to, data, payload)
	if err != nil {
		return AsyncOutcome{}, err
	}

	msg := queue.Message{To: to, Data: data, AgentID: agentID, LogID: entry.ID}
	if err := g.queue.Publish(ctx, msg); err != nil {
		// Broker went away between the availability check and the publish:
		// complete the reserved entry inline instead.
		slog.Warn("queue publish failed, dispatching inline", "logId", entry.ID, "error", err)

		res, dErr := g.Dispatch(ctx, to, data, agentID, entry.ID)
		if dErr != nil {
			return AsyncOutcome{LogID: entry.ID}, dErr
		}
		return AsyncOutcome{LogID: entry.ID, External: res.External}, nil
	}

	return AsyncOutcome{Accepted: true, LogID: entry.ID}, nil
}

// BulkTarget is one destination of a bulk dispatch.
type BulkTarget struct {
	To   string
	Data string
}

// BulkResult is the independent outcome for one bulk target.
type BulkResult struct {
	To     string
	LogID  string
	Status model.ExecutionStatus
	Error  string
}

// DispatchBulk dispatches each target independently. With a queue, all
// targets are reserved on the ledger and published in one batched call;
// without one, targets are dispatched sequentially and one failure never
// aborts the rest.
func (g *Gateway) DispatchBulk(ctx context.Context, agentID string, targets []BulkTarget) ([]BulkResult, error) {
	if agentID == "" {
		return nil, ErrNotConfigured
	}
	if len(targets) == 0 {
		return nil, nil
	}

	if g.queue.Available(ctx) {
		return g.bulkViaQueue(ctx, agentID, targets)
	}
	return g.bulkInline(ctx, agentID, targets)
}

func (g *Gateway) bulkViaQueue(ctx context.Context, agentID string, targets []BulkTarget) ([]BulkResult, error) {
	results := make([]BulkResult, 0, len(targets))
	msgs := make([]queue.Message, 0, len(targets))

	for _, target := range targets {
		payload, err := engine.BuildPayload(target.To, target.Data)
		if err != nil {
			results = append(results, BulkResult{To: target.To, Status: model.ExecutionFailed, Error: err.Error()})
			continue
		}

		entry, err := g.logs.CreatePending(ctx, target.To, target.Data, payload)
		if err != nil {
			results = append(results, BulkResult{To: target.To, Status: model.ExecutionFailed, Error: err.Error()})
			continue
		}

		msgs = append(msgs, queue.Message{To: target.To, Data: target.Data, AgentID: agentID, LogID: entry.ID})
		results = append(results, BulkResult{To: target.To, LogID: entry.ID, Status: model.ExecutionPending})
	}

	if err := g.queue.Publish(ctx, msgs...); err != nil {
		return results, err
	}
	return results, nil
}

func (g *Gateway) bulkInline(ctx context.Context, agentID string, targets []BulkTarget) ([]BulkResult, error) {
	if g.engine == nil {
		return nil, ErrNotConfigured
	}

	results := make([]BulkResult, 0, len(targets))
	for _, target := range targets {
		res, err := g.Dispatch(ctx, target.To, target.Data, agentID, "")
		if err != nil {
			results = append(results, BulkResult{
				To:     target.To,
				LogID:  res.Entry.ID,
				Status: model.ExecutionFailed,
				Error:  err.Error(),
			})
			continue
		}
		results = append(results, BulkResult{
			To:     target.To,
			LogID:  res.Entry.ID,
			Status: model.ExecutionSuccess,
		})
	}
	return results, nil
}

// ExecutionStatus looks up a ledger entry by id.
func (g *Gateway) ExecutionStatus(ctx context.Context, logID string) (model.ExecutionLog, error) {
	return g.logs.GetByID(ctx, logID)
}

// reserveEntry creates a new pending entry, or resets the pre-created one
// when the dispatch came through the queue. A stale log id falls back to
// a fresh entry rather than failing the dispatch.
func (g *Gateway) reserveEntry(ctx context.Context, to, data, payload, existingLogID string) (model.ExecutionLog, error) {
	if existingLogID != "" {
		entry, err := g.logs.ResetPending(ctx, existingLogID, to, data, payload)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return model.ExecutionLog{}, err
		}
	}
	return g.logs.CreatePending(ctx, to, data, payload)
}

func (g *Gateway) refresh(ctx context.Context, entry model.ExecutionLog) model.ExecutionLog {
	updated, err := g.logs.GetByID(ctx, entry.ID)
	if err != nil {
		return entry
	}
	return updated
}
