package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/ymunawwer/the-chirpy/internal/config"
	"github.com/ymunawwer/the-chirpy/internal/engine"
	"github.com/ymunawwer/the-chirpy/internal/gateway"
	"github.com/ymunawwer/the-chirpy/internal/queue"
	"github.com/ymunawwer/the-chirpy/internal/repo"
)

// The worker drains the dispatch stream and completes the ledger entries
// reserved by the API process. It requires both the queue and the engine
// to be configured.
func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		log.Fatal(err)
	}
	if !cfg.Queue.Enabled {
		log.Fatal("REDIS_ADDR must be set for the worker")
	}
	if !cfg.Engine.Enabled {
		log.Fatal("ENGINE_BASE_URL and ENGINE_LICENSE_KEY must be set for the worker")
	}

	db, err := sql.Open("pgx", cfg.Database.PostgresURL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Queue.Address,
		Password: cfg.Queue.Password,
		DB:       cfg.Queue.DB,
	})
	defer rdb.Close()

	logs := repo.NewPostgresExecutionLogRepo(db)
	engineClient := engine.NewClient(cfg.Engine.BaseURL, cfg.Engine.LicenseKey, cfg.Engine.Timeout)

	// The worker never re-enqueues, so the gateway gets no publisher.
	gw := gateway.New(engineClient, logs, nil)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "worker"
	}
	name := fmt.Sprintf("%s-%d", hostname, os.Getpid())

	consumer := queue.NewConsumer(rdb, cfg.Queue.Stream, cfg.Queue.Group, name,
		func(ctx context.Context, msg queue.Message) error {
			_, err := gw.Dispatch(ctx, msg.To, msg.Data, msg.AgentID, msg.LogID)
			return err
		})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("consumer: %v", err)
	}
	slog.Info("worker stopped")
}
