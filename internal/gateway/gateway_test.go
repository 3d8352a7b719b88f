package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/ymunawwer/the-chirpy/internal/engine"
	"github.com/ymunawwer/the-chirpy/internal/model"
	"github.com/ymunawwer/the-chirpy/internal/queue"
	"github.com/ymunawwer/the-chirpy/internal/repo"
)

type fakeEngine struct {
	calls []fakeEngineCall
	exec  func(agentID, payload string) (*engine.Result, error)
}

type fakeEngineCall struct {
	AgentID string
	Payload string
}

func (f *fakeEngine) Execute(_ context.Context, agentID, payload string) (*engine.Result, error) {
	f.calls = append(f.calls, fakeEngineCall{AgentID: agentID, Payload: payload})
	if f.exec != nil {
		return f.exec(agentID, payload)
	}
	return &engine.Result{StatusCode: http.StatusOK, Body: `{"ok":true}`}, nil
}

type fakePublisher struct {
	available    bool
	publishErr   error
	publishCalls int
	published    [][]queue.Message
}

func (f *fakePublisher) Available(context.Context) bool { return f.available }

func (f *fakePublisher) Publish(_ context.Context, msgs ...queue.Message) error {
	f.publishCalls++
	f.published = append(f.published, msgs)
	return f.publishErr
}

// spyLogs counts ledger writes on top of the in-memory repository.
type spyLogs struct {
	*repo.MemoryExecutionLogRepo
	creates int
	resets  int
}

func newSpyLogs() *spyLogs {
	return &spyLogs{MemoryExecutionLogRepo: repo.NewMemoryExecutionLogRepo()}
}

func (s *spyLogs) CreatePending(ctx context.Context, to, data, payload string) (model.ExecutionLog, error) {
	s.creates++
	return s.MemoryExecutionLogRepo.CreatePending(ctx, to, data, payload)
}

func (s *spyLogs) ResetPending(ctx context.Context, id, to, data, payload string) (model.ExecutionLog, error) {
	s.resets++
	return s.MemoryExecutionLogRepo.ResetPending(ctx, id, to, data, payload)
}

func TestDispatch_NotConfigured(t *testing.T) {
	t.Parallel()

	logs := newSpyLogs()
	ctx := context.Background()

	// No engine client at all.
	g := New(nil, logs, nil)
	if _, err := g.Dispatch(ctx, "+1555", "hi", "wf1", ""); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}

	// Engine present but agent id missing.
	g = New(&fakeEngine{}, logs, nil)
	if _, err := g.Dispatch(ctx, "+1555", "hi", "", ""); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}

	if logs.creates != 0 || logs.resets != 0 {
		t.Fatalf("expected no ledger writes on configuration error, got creates=%d resets=%d", logs.creates, logs.resets)
	}
}

func TestDispatch_Success(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{}
	logs := newSpyLogs()
	g := New(eng, logs, nil)

	res, err := g.Dispatch(context.Background(), "+1555", "hello", "wf1", "")
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}

	if res.External == nil || res.External.StatusCode != http.StatusOK {
		t.Fatalf("expected external 200 response, got %+v", res.External)
	}
	if res.Entry.Status != model.ExecutionSuccess {
		t.Fatalf("expected success entry, got %s", res.Entry.Status)
	}
	if res.Entry.ResponseStatus == nil || *res.Entry.ResponseStatus != http.StatusOK {
		t.Fatalf("expected recorded status 200, got %v", res.Entry.ResponseStatus)
	}
	if res.Entry.ResponseBody == nil || *res.Entry.ResponseBody != `{"ok":true}` {
		t.Fatalf("unexpected recorded body: %v", res.Entry.ResponseBody)
	}

	if len(eng.calls) != 1 {
		t.Fatalf("expected 1 engine call, got %d", len(eng.calls))
	}
	if eng.calls[0].AgentID != "wf1" {
		t.Fatalf("unexpected agent id: %q", eng.calls[0].AgentID)
	}
	if !strings.Contains(eng.calls[0].Payload, `"to":"+1555"`) {
		t.Fatalf("expected payload to carry destination, got %q", eng.calls[0].Payload)
	}
}

func TestDispatch_UpstreamErrorWithStatus(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{
		exec: func(string, string) (*engine.Result, error) {
			return nil, &engine.UpstreamError{StatusCode: http.StatusBadGateway, Message: "engine exploded"}
		},
	}
	logs := newSpyLogs()
	g := New(eng, logs, nil)

	res, err := g.Dispatch(context.Background(), "+1555", "", "wf1", "")
	if err == nil {
		t.Fatalf("expected error, got nil")
	}

	var ue *engine.UpstreamError
	if !errors.As(err, &ue) || ue.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected upstream 502 error, got %v", err)
	}

	if res.Entry.Status != model.ExecutionFailed {
		t.Fatalf("expected failed entry, got %s", res.Entry.Status)
	}
	if res.Entry.ResponseStatus == nil || *res.Entry.ResponseStatus != http.StatusBadGateway {
		t.Fatalf("expected recorded status 502, got %v", res.Entry.ResponseStatus)
	}
	if res.Entry.ErrorMessage == nil || *res.Entry.ErrorMessage != "engine exploded" {
		t.Fatalf("unexpected recorded error: %v", res.Entry.ErrorMessage)
	}
	if res.Entry.ResponseBody != nil {
		t.Fatalf("expected no response body on failure, got %q", *res.Entry.ResponseBody)
	}
}

func TestDispatch_NetworkError_NoStatusRecorded(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{
		exec: func(string, string) (*engine.Result, error) {
			return nil, &engine.UpstreamError{Message: "connection refused"}
		},
	}
	g := New(eng, newSpyLogs(), nil)

	res, err := g.Dispatch(context.Background(), "+1555", "", "wf1", "")
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if res.Entry.Status != model.ExecutionFailed {
		t.Fatalf("expected failed entry, got %s", res.Entry.Status)
	}
	if res.Entry.ResponseStatus != nil {
		t.Fatalf("expected no recorded status, got %v", *res.Entry.ResponseStatus)
	}
}

func TestDispatch_ReusesExistingLogEntry(t *testing.T) {
	t.Parallel()

	logs := newSpyLogs()
	ctx := context.Background()

	pre, err := logs.CreatePending(ctx, "+1555", "hi", "{}")
	if err != nil {
		t.Fatalf("CreatePending() error: %v", err)
	}
	logs.creates = 0

	g := New(&fakeEngine{}, logs, nil)

	res, err := g.Dispatch(ctx, "+1555", "hi", "wf1", pre.ID)
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}

	if res.Entry.ID != pre.ID {
		t.Fatalf("expected reuse of entry %s, got %s", pre.ID, res.Entry.ID)
	}
	if res.Entry.Status != model.ExecutionSuccess {
		t.Fatalf("expected success, got %s", res.Entry.Status)
	}
	if logs.creates != 0 {
		t.Fatalf("expected no new entry, got %d creates", logs.creates)
	}
	if logs.resets != 1 {
		t.Fatalf("expected 1 reset, got %d", logs.resets)
	}
}

func TestDispatch_StaleLogIDFallsBackToNewEntry(t *testing.T) {
	t.Parallel()

	logs := newSpyLogs()
	g := New(&fakeEngine{}, logs, nil)

	res, err := g.Dispatch(context.Background(), "+1555", "", "wf1", "gone")
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if res.Entry.ID == "" || res.Entry.ID == "gone" {
		t.Fatalf("expected fresh entry, got %q", res.Entry.ID)
	}
	if logs.creates != 1 {
		t.Fatalf("expected 1 create after stale reset, got %d", logs.creates)
	}
}

func TestDispatchAsyncOrSync_QueuePath(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{}
	logs := newSpyLogs()
	pub := &fakePublisher{available: true}
	g := New(eng, logs, pub)
	ctx := context.Background()

	out, err := g.DispatchAsyncOrSync(ctx, "+1555", "hi", "wf1")
	if err != nil {
		t.Fatalf("DispatchAsyncOrSync() error: %v", err)
	}

	if !out.Accepted {
		t.Fatalf("expected accepted=true")
	}
	if out.External != nil {
		t.Fatalf("expected no external response on queue path, got %+v", out.External)
	}

	entry, err := logs.GetByID(ctx, out.LogID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if entry.Status != model.ExecutionPending {
		t.Fatalf("expected pending ledger row, got %s", entry.Status)
	}

	if pub.publishCalls != 1 || len(pub.published[0]) != 1 {
		t.Fatalf("expected one publish call with one message, got %d calls %v", pub.publishCalls, pub.published)
	}
	msg := pub.published[0][0]
	if msg.LogID != out.LogID || msg.To != "+1555" || msg.AgentID != "wf1" || msg.Data != "hi" {
		t.Fatalf("unexpected queued message: %+v", msg)
	}

	if len(eng.calls) != 0 {
		t.Fatalf("expected no engine call on queue path, got %d", len(eng.calls))
	}
}

func TestDispatchAsyncOrSync_SyncFallback(t *testing.T) {
	t.Parallel()

	g := New(&fakeEngine{}, newSpyLogs(), &fakePublisher{available: false})

	out, err := g.DispatchAsyncOrSync(context.Background(), "+1555", "hi", "wf1")
	if err != nil {
		t.Fatalf("DispatchAsyncOrSync() error: %v", err)
	}

	if out.Accepted {
		t.Fatalf("expected accepted=false without a queue")
	}
	if out.External == nil || out.External.StatusCode != http.StatusOK {
		t.Fatalf("expected synchronous external result, got %+v", out.External)
	}
	if out.LogID == "" {
		t.Fatalf("expected log id")
	}
}

func TestDispatchAsyncOrSync_PublishFailureDispatchesInline(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{}
	logs := newSpyLogs()
	pub := &fakePublisher{available: true, publishErr: errors.New("broker gone")}
	g := New(eng, logs, pub)
	ctx := context.Background()

	out, err := g.DispatchAsyncOrSync(ctx, "+1555", "hi", "wf1")
	if err != nil {
		t.Fatalf("DispatchAsyncOrSync() error: %v", err)
	}

	if out.Accepted {
		t.Fatalf("expected accepted=false on publish failure")
	}
	if out.External == nil {
		t.Fatalf("expected inline external result")
	}
	if len(eng.calls) != 1 {
		t.Fatalf("expected inline engine call, got %d", len(eng.calls))
	}

	// The reserved entry is completed, not abandoned.
	entry, err := logs.GetByID(ctx, out.LogID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if entry.Status != model.ExecutionSuccess {
		t.Fatalf("expected reserved entry completed, got %s", entry.Status)
	}
	if logs.creates != 1 || logs.resets != 1 {
		t.Fatalf("expected create then reset of the same entry, got creates=%d resets=%d", logs.creates, logs.resets)
	}
}

func TestDispatchAsyncOrSync_MissingAgent(t *testing.T) {
	t.Parallel()

	logs := newSpyLogs()
	g := New(&fakeEngine{}, logs, &fakePublisher{available: true})

	if _, err := g.DispatchAsyncOrSync(context.Background(), "+1555", "", ""); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if logs.creates != 0 {
		t.Fatalf("expected no ledger rows, got %d", logs.creates)
	}
}

func TestDispatchBulk_QueuePath_OneBatchedPublish(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{}
	logs := newSpyLogs()
	pub := &fakePublisher{available: true}
	g := New(eng, logs, pub)
	ctx := context.Background()

	targets := []BulkTarget{
		{To: "+1", Data: "a"},
		{To: "+2", Data: "b"},
		{To: "+3", Data: "c"},
	}

	results, err := g.DispatchBulk(ctx, "wf1", targets)
	if err != nil {
		t.Fatalf("DispatchBulk() error: %v", err)
	}

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Status != model.ExecutionPending {
			t.Fatalf("result %d: expected pending, got %s", i, r.Status)
		}
		entry, err := logs.GetByID(ctx, r.LogID)
		if err != nil {
			t.Fatalf("result %d: GetByID() error: %v", i, err)
		}
		if entry.Status != model.ExecutionPending {
			t.Fatalf("result %d: expected pending row, got %s", i, entry.Status)
		}
	}

	if pub.publishCalls != 1 {
		t.Fatalf("expected exactly one publish call, got %d", pub.publishCalls)
	}
	if len(pub.published[0]) != 3 {
		t.Fatalf("expected 3 messages in the batch, got %d", len(pub.published[0]))
	}
	for i, msg := range pub.published[0] {
		if msg.LogID != results[i].LogID {
			t.Fatalf("message %d: log id mismatch: %q vs %q", i, msg.LogID, results[i].LogID)
		}
	}

	if len(eng.calls) != 0 {
		t.Fatalf("expected no engine calls on queue path, got %d", len(eng.calls))
	}
}

func TestDispatchBulk_InlinePath_ContinuesPastFailures(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{
		exec: func(_, payload string) (*engine.Result, error) {
			if strings.Contains(payload, `"to":"+2"`) {
				return nil, &engine.UpstreamError{Message: "connection reset"}
			}
			return &engine.Result{StatusCode: http.StatusOK, Body: "{}"}, nil
		},
	}
	logs := newSpyLogs()
	g := New(eng, logs, &fakePublisher{available: false})
	ctx := context.Background()

	results, err := g.DispatchBulk(ctx, "wf1", []BulkTarget{
		{To: "+1"}, {To: "+2"}, {To: "+3"},
	})
	if err != nil {
		t.Fatalf("DispatchBulk() error: %v", err)
	}

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Status != model.ExecutionSuccess {
		t.Fatalf("target 1: expected success, got %s", results[0].Status)
	}
	if results[1].Status != model.ExecutionFailed || results[1].Error == "" {
		t.Fatalf("target 2: expected failed with error, got %+v", results[1])
	}
	if results[2].Status != model.ExecutionSuccess {
		t.Fatalf("target 3: expected success after a failure, got %s", results[2].Status)
	}

	if len(eng.calls) != 3 {
		t.Fatalf("expected all 3 targets dispatched, got %d", len(eng.calls))
	}

	// Each target owns its own ledger row.
	if logs.creates != 3 {
		t.Fatalf("expected 3 ledger rows, got %d", logs.creates)
	}
}

func TestDispatchBulk_InlinePath_NotConfigured(t *testing.T) {
	t.Parallel()

	g := New(nil, newSpyLogs(), &fakePublisher{available: false})

	if _, err := g.DispatchBulk(context.Background(), "wf1", []BulkTarget{{To: "+1"}}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestDispatchBulk_EmptyTargets(t *testing.T) {
	t.Parallel()

	g := New(&fakeEngine{}, newSpyLogs(), nil)

	results, err := g.DispatchBulk(context.Background(), "wf1", nil)
	if err != nil {
		t.Fatalf("DispatchBulk() error: %v", err)
	}
	if results != nil {
		t.Fatalf("expected nil results, got %+v", results)
	}
}
