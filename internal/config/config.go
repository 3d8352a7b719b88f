package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Engine    EngineConfig
	Queue     QueueConfig
	Scheduler SchedulerConfig
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	PostgresURL string
}

// EngineConfig points at the external workflow engine. When the URL or
// licence key is missing, Enabled is false and dispatch surfaces a
// configuration error per call instead of the process refusing to start.
type EngineConfig struct {
	Enabled    bool
	BaseURL    string
	LicenseKey string
	Timeout    time.Duration
}

// QueueConfig describes the dispatch queue. When Address is empty the
// queue path is disabled and dispatch falls back to synchronous invocation.
type QueueConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	Stream   string
	Group    string
}

type SchedulerConfig struct {
	Interval time.Duration
}

func LoadAll() (*Config, error) {
	var errs []error

	postgresURL, err := requireEnv("POSTGRES_URL")
	if err != nil {
		errs = append(errs, err)
	}

	engineTimeout, err := getEnvInt("ENGINE_TIMEOUT_SECONDS", 15)
	if err != nil {
		errs = append(errs, err)
	}

	schedInterval, err := getEnvInt("SCHED_INTERVAL_SECONDS", 60)
	if err != nil {
		errs = append(errs, err)
	}

	queueCfg, err := loadQueueConfig()
	if err != nil {
		errs = append(errs, err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			PostgresURL: postgresURL,
		},
		Engine:    loadEngineConfig(time.Duration(engineTimeout) * time.Second),
		Queue:     queueCfg,
		Scheduler: SchedulerConfig{Interval: time.Duration(schedInterval) * time.Second},
	}

	errs = append(errs, validate(cfg)...)

	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEngineConfig(timeout time.Duration) EngineConfig {
	baseURL := os.Getenv("ENGINE_BASE_URL")
	licenseKey := os.Getenv("ENGINE_LICENSE_KEY")
	if baseURL == "" || licenseKey == "" {
		return EngineConfig{Enabled: false}
	}

	return EngineConfig{
		Enabled:    true,
		BaseURL:    baseURL,
		LicenseKey: licenseKey,
		Timeout:    timeout,
	}
}

func loadQueueConfig() (QueueConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return QueueConfig{Enabled: false}, nil
	}

	db, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return QueueConfig{}, err
	}

	return QueueConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		Stream:   getEnv("DISPATCH_STREAM", "dispatch-execute"),
		Group:    getEnv("DISPATCH_GROUP", "dispatch-execute-group"),
	}, nil
}

func validate(cfg *Config) []error {
	var errs []error
	if cfg.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("SCHED_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Engine.Enabled && cfg.Engine.Timeout <= 0 {
		errs = append(errs, errors.New("ENGINE_TIMEOUT_SECONDS must be > 0"))
	}
	return errs
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid int for env %s: %s", key, v)
	}
	return i, nil
}

func joinErrors(errs []error) error {
	return errors.Join(errs...)
}
