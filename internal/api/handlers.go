package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ymunawwer/the-chirpy/internal/engine"
	"github.com/ymunawwer/the-chirpy/internal/gateway"
	"github.com/ymunawwer/the-chirpy/internal/model"
	"github.com/ymunawwer/the-chirpy/internal/repo"
	"github.com/ymunawwer/the-chirpy/internal/scheduler"
)

// Dispatcher is the request-facing surface of the dispatch gateway.
type Dispatcher interface {
	DispatchAsyncOrSync(ctx context.Context, to, data, agentID string) (gateway.AsyncOutcome, error)
	DispatchBulk(ctx context.Context, agentID string, targets []gateway.BulkTarget) ([]gateway.BulkResult, error)
	ExecutionStatus(ctx context.Context, logID string) (model.ExecutionLog, error)
}

// EventRunner executes a single event on demand.
type EventRunner interface {
	ExecuteEvent(ctx context.Context, id string, ignoreSchedule bool) (model.Event, error)
}

type Handler struct {
	sched      *scheduler.Scheduler
	dispatcher Dispatcher
	runner     EventRunner
	calls      repo.CallLogRepository
}

func NewHandler(s *scheduler.Scheduler, d Dispatcher, r EventRunner, calls repo.CallLogRepository) *Handler {
	return &Handler{sched: s, dispatcher: d, runner: r, calls: calls}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"running":  h.sched.IsRunning(),
		"interval": h.sched.Interval().String(),
	})
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.sched.Start()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.sched.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sched.IsRunning()})
}

type dispatchRequest struct {
	To      string `json:"to"`
	Data    string `json:"data"`
	AgentID string `json:"agentId"`
}

// Dispatch hands one request to the gateway. A queued dispatch returns
// 202 with the ledger id to poll; a synchronous one returns the final
// outcome inline.
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.To == "" {
		http.Error(w, "to is required", http.StatusBadRequest)
		return
	}

	outcome, err := h.dispatcher.DispatchAsyncOrSync(r.Context(), req.To, req.Data, req.AgentID)
	if err != nil {
		writeError(w, err)
		return
	}

	if outcome.Accepted {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"accepted": true,
			"logId":    outcome.LogID,
		})
		return
	}

	body := map[string]any{
		"accepted": false,
		"logId":    outcome.LogID,
	}
	if outcome.External != nil {
		body["externalStatus"] = outcome.External.StatusCode
		body["externalResponse"] = outcome.External.Body
	}
	writeJSON(w, http.StatusOK, body)
}

type bulkDispatchRequest struct {
	AgentID string `json:"agentId"`
	Targets []struct {
		To   string `json:"to"`
		Data string `json:"data"`
	} `json:"targets"`
}

// DispatchBulk fans a batch out through the gateway; per-target outcomes
// are reported individually, so the response is 200 even on partial
// failure.
func (h *Handler) DispatchBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkDispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	targets := make([]gateway.BulkTarget, 0, len(req.Targets))
	for _, t := range req.Targets {
		targets = append(targets, gateway.BulkTarget{To: t.To, Data: t.Data})
	}

	results, err := h.dispatcher.DispatchBulk(r.Context(), req.AgentID, targets)
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(results))
	for _, res := range results {
		item := map[string]any{
			"to":     res.To,
			"logId":  res.LogID,
			"status": string(res.Status),
		}
		if res.Error != "" {
			item["error"] = res.Error
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": items})
}

func (h *Handler) GetExecution(w http.ResponseWriter, r *http.Request) {
	entry, err := h.dispatcher.ExecutionStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// ExecuteEvent runs an event immediately, bypassing its schedule. The
// event's final state is reported even when the fan-out failed.
func (h *Handler) ExecuteEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.runner.ExecuteEvent(r.Context(), r.PathValue("id"), true)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			http.Error(w, "event not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"event": event,
			"error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"event": event})
}

func (h *Handler) ListEventCalls(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	offset := parseInt(r.URL.Query().Get("offset"), 0)

	items, err := h.calls.ListByEvent(r.Context(), r.PathValue("id"), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// writeError maps domain errors onto HTTP statuses: missing engine
// configuration is a server misconfiguration, an upstream rejection
// carries its own status, anything unreachable is a bad gateway.
func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, repo.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if errors.Is(err, gateway.ErrNotConfigured) {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	var ue *engine.UpstreamError
	if errors.As(err, &ue) {
		status := ue.StatusCode
		if status < 400 {
			status = http.StatusBadGateway
		}
		http.Error(w, err.Error(), status)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
