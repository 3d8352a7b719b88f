package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/ymunawwer/the-chirpy/internal/api"
	"github.com/ymunawwer/the-chirpy/internal/config"
	"github.com/ymunawwer/the-chirpy/internal/engine"
	"github.com/ymunawwer/the-chirpy/internal/executor"
	"github.com/ymunawwer/the-chirpy/internal/gateway"
	"github.com/ymunawwer/the-chirpy/internal/queue"
	"github.com/ymunawwer/the-chirpy/internal/repo"
	"github.com/ymunawwer/the-chirpy/internal/scheduler"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		log.Fatal(err)
	}

	db, err := sql.Open("pgx", cfg.Database.PostgresURL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	logs := repo.NewPostgresExecutionLogRepo(db)
	calls := repo.NewPostgresCallLogRepo(db)
	events := repo.NewPostgresEventRepo(db)

	var engineClient gateway.EngineClient
	if cfg.Engine.Enabled {
		engineClient = engine.NewClient(cfg.Engine.BaseURL, cfg.Engine.LicenseKey, cfg.Engine.Timeout)
	}

	var publisher queue.Publisher
	if cfg.Queue.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.Address,
			Password: cfg.Queue.Password,
			DB:       cfg.Queue.DB,
		})
		defer rdb.Close()
		publisher = queue.NewRedisQueue(rdb, cfg.Queue.Stream)
	}

	gw := gateway.New(engineClient, logs, publisher)
	exec := executor.New(events, calls, gw)

	sched, err := scheduler.New(cfg.Scheduler.Interval, func(ctx context.Context) {
		result, err := exec.ExecuteDueEvents(ctx, time.Now())
		if err != nil {
			slog.Error("due event pass failed", "error", err)
			return
		}
		if result.Changed() {
			slog.Info("due events executed",
				"succeeded", len(result.Succeeded),
				"failed", len(result.Failed),
			)
		}
	})
	if err != nil {
		log.Fatalf("create scheduler: %v", err)
	}
	sched.Start()

	handler := api.NewHandler(sched, gw, exec, calls)
	server := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: loggingMiddleware(api.Router(handler)),
	}

	go func() {
		slog.Info("server starting",
			"addr", cfg.Server.Address,
			"interval", cfg.Scheduler.Interval.String(),
			"engine", cfg.Engine.Enabled,
			"queue", cfg.Queue.Enabled,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down")
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		slog.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
