// Package migrations owns schema evolution for the players, game_config,
// and reward_claims tables internal/store reads and writes (spec.md §6).
// Grounded on system/platform/migrations/migrations.go's embed-and-apply
// shape, but driven through golang-migrate/migrate/v4 (already present in
// the dependency set) instead of a hand-rolled lexical-sort runner, so
// migrations get version tracking, dirty-state detection, and down
// migrations for free.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sql/*.sql
var files embed.FS

// Migrator wraps a migrate.Migrate instance bound to an embedded source
// and a live Postgres connection.
type Migrator struct {
	m *migrate.Migrate
}

// New builds a Migrator over db using the embedded SQL files.
func New(db *sql.DB) (*Migrator, error) {
	source, err := iofs.New(files, "sql")
	if err != nil {
		return nil, fmt.Errorf("open migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("open postgres migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("build migrator: %w", err)
	}
	return &Migrator{m: m}, nil
}

// Up applies every pending migration. A no-op (migrate.ErrNoChange) is not
// treated as an error.
func (mg *Migrator) Up() error {
	if err := mg.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Down rolls back every applied migration — used by integration test
// teardown, never by the running service.
func (mg *Migrator) Down() error {
	if err := mg.m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

// Version reports the current schema version and dirty flag.
func (mg *Migrator) Version() (uint, bool, error) {
	v, dirty, err := mg.m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, fmt.Errorf("migration version: %w", err)
	}
	return v, dirty, nil
}

// Close releases the source and database handles the migrator opened.
func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	if srcErr != nil {
		return srcErr
	}
	return dbErr
}
