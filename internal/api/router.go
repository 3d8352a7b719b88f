package api

import "net/http"

func Router(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", h.Health)

	mux.HandleFunc("GET /v1/scheduler/status", h.SchedulerStatus)
	mux.HandleFunc("POST /v1/scheduler/start", h.SchedulerStart)
	mux.HandleFunc("POST /v1/scheduler/stop", h.SchedulerStop)

	mux.HandleFunc("POST /v1/dispatch", h.Dispatch)
	mux.HandleFunc("POST /v1/dispatch/bulk", h.DispatchBulk)
	mux.HandleFunc("GET /v1/executions/{id}", h.GetExecution)

	mux.HandleFunc("POST /v1/events/{id}/execute", h.ExecuteEvent)
	mux.HandleFunc("GET /v1/events/{id}/calls", h.ListEventCalls)

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("the-chirpy"))
	})

	return mux
}
