// Package database owns the Postgres connection pool, transaction scope,
// and circuit breaker described in spec.md §4.7. Grounded on
// internal/platform/database/database.go (Open/Ping) and
// pkg/storage/postgres/base_store.go (context-propagated transaction scope),
// adapted to run every transaction's BEGIN through an internal/resilience
// circuit breaker. Queries issued through Querier outside a transaction go
// to the pool directly, without the breaker.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/niyusum/luminescence-sub000/internal/logging"
	"github.com/niyusum/luminescence-sub000/internal/metrics"
	"github.com/niyusum/luminescence-sub000/internal/resilience"
)

// Config configures pool sizing and the database circuit breaker.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	Breaker         resilience.Config
}

// DefaultConfig returns this core's pool defaults.
func DefaultConfig(dsn string) Config {
	return Config{
		DSN:             dsn,
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxIdleTime: 5 * time.Minute,
		ConnMaxLifetime: 30 * time.Minute,
		Breaker:         resilience.DefaultConfig(),
	}
}

// DB wraps *sql.DB with a circuit breaker and the transaction-scope helpers
// every resource-mutating command handler composes (spec.md §4.7, §5).
type DB struct {
	sql     *sql.DB
	cfg     Config
	log     *logging.Logger
	breaker *resilience.CircuitBreaker
}

// Open establishes the pool, verifies connectivity with a 10s-bounded ping,
// and configures pool limits, matching internal/platform/database/database.go's
// Open/Ping pattern.
func Open(ctx context.Context, cfg Config, log *logging.Logger) (*DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	if log == nil {
		log = logging.Default()
	}

	sqlDB, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &DB{
		sql:     sqlDB,
		cfg:     cfg,
		log:     log,
		breaker: resilience.New(cfg.Breaker),
	}, nil
}

// NewForTest builds a DB around an already-open *sql.DB (typically a
// sqlmock connection) and a pre-built circuit breaker, for other packages'
// unit tests that need a DB without dialing Postgres.
func NewForTest(sqlDB *sql.DB, breaker *resilience.CircuitBreaker) *DB {
	return &DB{
		sql:     sqlDB,
		cfg:     DefaultConfig("test"),
		log:     logging.Default(),
		breaker: breaker,
	}
}

// Close releases the underlying pool.
func (d *DB) Close() error { return d.sql.Close() }

// SQL exposes the raw *sql.DB for callers (e.g. sqlx.NewDb) that need to
// wrap it in a different query layer.
func (d *DB) SQL() *sql.DB { return d.sql }

// ---------------------------------------------------------------------------
// Transaction scope
// ---------------------------------------------------------------------------

type txKey struct{}

// TxFromContext extracts the transaction carried on ctx, if any.
func TxFromContext(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// ContextWithTx returns a context carrying tx, for BeginTx callers.
func ContextWithTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// BeginTx opens a new transaction, running the acquisition through the
// circuit breaker. Returns a context carrying the transaction.
func (d *DB) BeginTx(ctx context.Context) (context.Context, error) {
	var tx *sql.Tx
	err := d.breaker.Execute(ctx, func() error {
		t, err := d.sql.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		tx = t
		return nil
	})
	if err != nil {
		return ctx, fmt.Errorf("begin transaction: %w", err)
	}
	return ContextWithTx(ctx, tx), nil
}

// CommitTx commits the transaction carried on ctx.
func (d *DB) CommitTx(ctx context.Context) error {
	tx := TxFromContext(ctx)
	if tx == nil {
		return fmt.Errorf("no transaction in context")
	}
	return tx.Commit()
}

// RollbackTx rolls back the transaction carried on ctx, a no-op if absent.
func (d *DB) RollbackTx(ctx context.Context) error {
	tx := TxFromContext(ctx)
	if tx == nil {
		return nil
	}
	return tx.Rollback()
}

// WithTx is the scoped-resource pattern spec.md §4.7 requires: acquire a
// session, begin a transaction, run fn, commit on success or roll back and
// re-raise on error/panic. Combined with a per-player distributed lock
// (internal/kvstore.Store.WithLock), this gives mutual exclusion both
// across processes and within one (spec.md §5).
func (d *DB) WithTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("with_tx", time.Since(start), err) }()

	txCtx, err := d.BeginTx(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			_ = d.RollbackTx(txCtx)
			panic(r)
		}
	}()

	if txErr := fn(txCtx); txErr != nil {
		if rbErr := d.RollbackTx(txCtx); rbErr != nil {
			d.log.WithContext(ctx).WithError(rbErr).Warn("rollback failed after handler error")
		}
		err = txErr
		return err
	}

	if cErr := d.CommitTx(txCtx); cErr != nil {
		err = fmt.Errorf("commit transaction: %w", cErr)
		return err
	}
	return nil
}

// Querier abstracts *sql.DB / *sql.Tx so store code can run either inside or
// outside a transaction transparently.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Querier returns the transaction carried on ctx if present, otherwise the
// pool itself — every store method should route queries through this so
// callers opting into WithTx transparently get row-locked consistency.
func (d *DB) Querier(ctx context.Context) Querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return d.sql
}

// ---------------------------------------------------------------------------
// Error classification
// ---------------------------------------------------------------------------

// Retryable error codes, per spec.md §4.7: pool acquisition timeout,
// connection failure, and deadlock are retried; unique-constraint and other
// integrity violations surface immediately.
const (
	pqUniqueViolation   = "23505"
	pqDeadlockDetected  = "40P01"
	pqSerializationFail = "40001"
)

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation (error code 23505) — the signal internal/store's reward-claim
// insert uses to distinguish "already claimed" from a genuine failure.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	return false
}

// IsRetryable reports whether err is one of the retryable classes spec.md
// §4.7 names: deadlock/serialization failure, or a transient I/O error
// already recognized by internal/resilience.RetryableError.
func IsRetryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqDeadlockDetected || pqErr.Code == pqSerializationFail
	}
	return resilience.RetryableError(err)
}
