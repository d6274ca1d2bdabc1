// Package storage is the optional durable run-history store supplementing
// the Observation Surface (C11): pkg/observe.Log keeps every run's event
// log in memory only, so a coordinator restart loses it. This package
// persists the same events (plus a queryable run-summary row) to Postgres
// via bun, following the teacher's internal/infrastructure/storage
// connection-setup and repository conventions. It is wired in only when
// DATABASE_URL is configured; an empty DSN leaves the coordinator running
// on the in-memory log alone, exactly as an empty REDIS_URL leaves the
// cache's distributed lock disabled.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"github.com/flowkit/fctl/internal/infrastructure/logger"
	"github.com/flowkit/fctl/internal/infrastructure/storage/models"
)

// Config holds the run-history database's connection configuration.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	Debug           bool
}

// DefaultConfig returns the connection-pool defaults the teacher's db.go
// ships with; callers only need to set DSN and, optionally, Debug.
func DefaultConfig() *Config {
	return &Config{
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		Debug:           false,
	}
}

// NewDB opens a pooled Postgres connection through bun/pgdriver, registers
// the run-history models, and verifies connectivity before returning.
func NewDB(cfg *Config, log *logger.Logger) (*bun.DB, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	connector := pgdriver.NewConnector(
		pgdriver.WithDSN(cfg.DSN),
		pgdriver.WithTimeout(30*time.Second),
		pgdriver.WithDialTimeout(10*time.Second),
		pgdriver.WithReadTimeout(10*time.Second),
		pgdriver.WithWriteTimeout(10*time.Second),
	)
	sqldb := sql.OpenDB(connector)
	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqldb.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	db := bun.NewDB(sqldb, pgdialect.New())
	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(
			bundebug.WithVerbose(true),
			bundebug.FromEnv("BUNDEBUG"),
		))
	}
	registerModels(db)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping run-history database: %w", err)
	}

	if log != nil {
		log.Info("run-history database connection established",
			"max_open_conns", cfg.MaxOpenConns,
			"max_idle_conns", cfg.MaxIdleConns,
		)
	}
	return db, nil
}

func registerModels(db *bun.DB) {
	db.RegisterModel(
		(*models.RunModel)(nil),
		(*models.RunEventModel)(nil),
	)
}

// Close closes the underlying connection pool.
func Close(db *bun.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}

// Ping verifies the connection is still live.
func Ping(ctx context.Context, db *bun.DB) error {
	return db.PingContext(ctx)
}

// Stats reports the connection pool's statistics.
func Stats(db *bun.DB) sql.DBStats {
	return db.DB.Stats()
}

// WithTransaction runs fn inside a read-committed transaction.
func WithTransaction(ctx context.Context, db *bun.DB, fn func(tx bun.Tx) error) error {
	return db.RunInTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(ctx context.Context, tx bun.Tx) error {
		return fn(tx)
	})
}
