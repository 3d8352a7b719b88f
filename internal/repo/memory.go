package repo

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ymunawwer/the-chirpy/internal/model"
)

// In-memory implementations of the three repositories. Used by tests and
// usable as a backing store for single-process setups without Postgres.

type MemoryExecutionLogRepo struct {
	mu      sync.Mutex
	entries map[string]model.ExecutionLog
}

func NewMemoryExecutionLogRepo() *MemoryExecutionLogRepo {
	return &MemoryExecutionLogRepo{entries: make(map[string]model.ExecutionLog)}
}

func (r *MemoryExecutionLogRepo) CreatePending(_ context.Context, to, data, payload string) (model.ExecutionLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	entry := model.ExecutionLog{
		ID:        uuid.NewString(),
		To:        to,
		Data:      data,
		Payload:   payload,
		Status:    model.ExecutionPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.entries[entry.ID] = entry
	return entry, nil
}

func (r *MemoryExecutionLogRepo) ResetPending(_ context.Context, id, to, data, payload string) (model.ExecutionLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return model.ExecutionLog{}, ErrNotFound
	}
	entry.To = to
	entry.Data = data
	entry.Payload = payload
	entry.Status = model.ExecutionPending
	entry.ResponseStatus = nil
	entry.ResponseBody = nil
	entry.ErrorMessage = nil
	entry.UpdatedAt = time.Now().UTC()
	r.entries[id] = entry
	return entry, nil
}

func (r *MemoryExecutionLogRepo) MarkSuccess(_ context.Context, id string, responseStatus int, responseBody string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return ErrNotFound
	}
	if entry.Status != model.ExecutionPending {
		return nil
	}
	entry.Status = model.ExecutionSuccess
	entry.ResponseStatus = &responseStatus
	entry.ResponseBody = &responseBody
	entry.ErrorMessage = nil
	entry.UpdatedAt = time.Now().UTC()
	r.entries[id] = entry
	return nil
}

func (r *MemoryExecutionLogRepo) MarkFailed(_ context.Context, id string, responseStatus *int, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return ErrNotFound
	}
	if entry.Status != model.ExecutionPending {
		return nil
	}
	entry.Status = model.ExecutionFailed
	entry.ResponseStatus = responseStatus
	entry.ResponseBody = nil
	entry.ErrorMessage = &errMsg
	entry.UpdatedAt = time.Now().UTC()
	r.entries[id] = entry
	return nil
}

func (r *MemoryExecutionLogRepo) GetByID(_ context.Context, id string) (model.ExecutionLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return model.ExecutionLog{}, ErrNotFound
	}
	return entry, nil
}

type MemoryCallLogRepo struct {
	mu      sync.Mutex
	order   []string
	entries map[string]model.CallLog
}

func NewMemoryCallLogRepo() *MemoryCallLogRepo {
	return &MemoryCallLogRepo{entries: make(map[string]model.CallLog)}
}

func (r *MemoryCallLogRepo) Create(_ context.Context, seed NewCallLog) (model.CallLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	entry := model.CallLog{
		ID:        uuid.NewString(),
		EventID:   seed.EventID,
		ContactID: seed.ContactID,
		AgentID:   seed.AgentID,
		To:        seed.To,
		Status:    model.CallQueued,
		Meta:      seed.Meta,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.entries[entry.ID] = entry
	r.order = append(r.order, entry.ID)
	return entry, nil
}

func (r *MemoryCallLogRepo) MarkRunning(_ context.Context, id string) (model.CallLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return model.CallLog{}, ErrNotFound
	}
	if entry.Status == model.CallQueued {
		now := time.Now().UTC()
		entry.Status = model.CallRunning
		entry.StartedAt = &now
		entry.UpdatedAt = now
		r.entries[id] = entry
	}
	return entry, nil
}

func (r *MemoryCallLogRepo) MarkCompleted(_ context.Context, id string, externalResponse *string) (model.CallLog, error) {
	return r.finish(id, model.CallCompleted, externalResponse, nil)
}

func (r *MemoryCallLogRepo) MarkFailed(_ context.Context, id string, errMsg string) (model.CallLog, error) {
	return r.finish(id, model.CallFailed, nil, &errMsg)
}

func (r *MemoryCallLogRepo) finish(id string, status model.CallStatus, externalResponse, errMsg *string) (model.CallLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return model.CallLog{}, ErrNotFound
	}
	if entry.Status.Terminal() {
		return entry, nil
	}

	now := time.Now().UTC()
	startedAt := now
	if entry.StartedAt != nil {
		startedAt = *entry.StartedAt
	}
	duration := now.Sub(startedAt).Milliseconds()

	entry.Status = status
	entry.EndedAt = &now
	entry.DurationMs = &duration
	if externalResponse != nil {
		entry.ExternalResponse = externalResponse
	}
	if errMsg != nil {
		entry.LastError = errMsg
	}
	entry.UpdatedAt = now
	r.entries[id] = entry
	return entry, nil
}

func (r *MemoryCallLogRepo) ListByEvent(_ context.Context, eventID string, limit, offset int) ([]model.CallLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var out []model.CallLog
	for _, id := range r.order {
		entry := r.entries[id]
		if entry.EventID == nil || *entry.EventID != eventID {
			continue
		}
		out = append(out, entry)
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type MemoryEventRepo struct {
	mu     sync.Mutex
	order  []string
	events map[string]model.Event
}

func NewMemoryEventRepo() *MemoryEventRepo {
	return &MemoryEventRepo{events: make(map[string]model.Event)}
}

// Put inserts or replaces an event, assigning an id when missing.
func (r *MemoryEventRepo) Put(event model.Event) model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if _, ok := r.events[event.ID]; !ok {
		r.order = append(r.order, event.ID)
	}
	r.events[event.ID] = event
	return event
}

func (r *MemoryEventRepo) GetByID(_ context.Context, id string) (model.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	event, ok := r.events[id]
	if !ok {
		return model.Event{}, ErrNotFound
	}
	return event, nil
}

func (r *MemoryEventRepo) FindDue(_ context.Context, now time.Time) ([]model.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.Event
	for _, id := range r.order {
		event := r.events[id]
		if event.Status != model.EventScheduled {
			continue
		}
		if event.ScheduleAt != nil && event.ScheduleAt.After(now) {
			continue
		}
		if event.Expiry != nil && !event.Expiry.After(now) {
			continue
		}
		out = append(out, event)
	}
	return out, nil
}

func (r *MemoryEventRepo) UpdateStatus(_ context.Context, id string, status model.EventStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	event, ok := r.events[id]
	if !ok {
		return ErrNotFound
	}
	event.Status = status
	event.UpdatedAt = time.Now().UTC()
	r.events[id] = event
	return nil
}
