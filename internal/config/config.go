// Package config provides configuration management for the flow engine's
// coordinator, worker, and CLI processes.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// CoordinatorConfig holds the coordinator process's configuration.
type CoordinatorConfig struct {
	Server   ServerConfig
	Cache    CacheConfig
	Store    StoreConfig
	Redis    RedisConfig
	Database DatabaseConfig
	Worker   WorkerClientConfig
	Logging  LoggingConfig
}

// WorkerConfig holds the worker process's configuration.
type WorkerConfig struct {
	Server  ServerConfig
	Logging LoggingConfig

	// MaxInFlight bounds concurrent task execution on this worker.
	MaxInFlight int
}

// ServerConfig holds HTTP-server configuration shared by the coordinator
// and worker processes.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CORS            bool
}

// CacheConfig holds the content-addressed result cache's configuration.
type CacheConfig struct {
	Dir      string
	MaxBytes int64
}

// StoreConfig holds the YAML persistence store's configuration.
type StoreConfig struct {
	Dir string
}

// RedisConfig holds the optional distributed-lock backend's configuration.
// A blank URL disables Redis; the cache then single-flights in-process
// only (safe for a single coordinator replica, see pkg/cache).
type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

// DatabaseConfig holds the optional durable run-history store's
// configuration. A blank DSN disables it; the coordinator then keeps
// run/event history in observe.Log's in-memory ring only, same as before
// this store existed.
type DatabaseConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	Debug        bool
}

// WorkerClientConfig holds the coordinator's transport configuration for
// talking to a worker.
type WorkerClientConfig struct {
	BaseURL         string
	Timeout         time.Duration
	MaxFetchRows    int
	MaxParallelRuns int
}

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level  string
	Format string // "json" or "text"
}

// LoadCoordinator loads the coordinator's configuration from environment
// variables (spec.md §6's env var list).
func LoadCoordinator() (*CoordinatorConfig, error) {
	godotenv.Load()
	cfg := &CoordinatorConfig{
		Server: ServerConfig{
			Host:            getEnv("COORDINATOR_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("COORDINATOR_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("COORDINATOR_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("COORDINATOR_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvAsDuration("COORDINATOR_SHUTDOWN_TIMEOUT", 30*time.Second),
			CORS:            getEnvAsBool("COORDINATOR_CORS_ENABLED", true),
		},
		Cache: CacheConfig{
			Dir:      getEnv("CACHE_DIR", "./data/cache"),
			MaxBytes: getEnvAsInt64("CACHE_MAX_BYTES", 1<<30), // 1 GiB
		},
		Store: StoreConfig{
			Dir: getEnv("STORE_DIR", "./data/flows"),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Database: DatabaseConfig{
			DSN:          getEnv("DATABASE_URL", ""),
			MaxOpenConns: getEnvAsInt("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns: getEnvAsInt("DATABASE_MAX_IDLE_CONNS", 5),
			Debug:        getEnvAsBool("DATABASE_DEBUG", false),
		},
		Worker: WorkerClientConfig{
			BaseURL:         getEnv("WORKER_BASE_URL", "http://localhost:9090"),
			Timeout:         getEnvAsDuration("WORKER_TIMEOUT", 30*time.Second),
			MaxFetchRows:    getEnvAsInt("WORKER_MAX_FETCH_ROWS", 100000),
			MaxParallelRuns: getEnvAsInt("MAX_PARALLEL_NODES", 4),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid coordinator configuration: %w", err)
	}
	return cfg, nil
}

// LoadWorker loads the worker's configuration from environment variables.
func LoadWorker() (*WorkerConfig, error) {
	godotenv.Load()
	cfg := &WorkerConfig{
		Server: ServerConfig{
			Host:            getEnv("WORKER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("WORKER_PORT", 9090),
			ReadTimeout:     getEnvAsDuration("WORKER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("WORKER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvAsDuration("WORKER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		MaxInFlight: getEnvAsInt("WORKER_MAX_IN_FLIGHT", 4),
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Server.Port)
	}
	if !validLogLevels[cfg.Logging.Level] {
		return nil, fmt.Errorf("invalid log level: %s", cfg.Logging.Level)
	}
	return cfg, nil
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate validates the coordinator configuration.
func (c *CoordinatorConfig) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Cache.MaxBytes < 0 {
		return fmt.Errorf("CACHE_MAX_BYTES must be non-negative")
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}
	return nil
}

// Helper functions for environment variables.

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
