// Package store implements the external interfaces spec.md §6 names:
// players, game_config, and reward_claims persistence. Reads lean on
// jmoiron/sqlx's struct-scanning convenience (pkg/storage/crud.go's Entity
// shape, expressed here as concrete per-table CRUD rather than the generic,
// matching internal/app/storage/postgres/store.go's own practice of writing
// one concrete store per domain type); transactional writes route through
// internal/database.Querier so they participate in the caller's row lock
// (spec.md §5), following packages/com.r3e.services.accounts's
// store_postgres.go scan-by-hand style.
package store

import (
	"github.com/jmoiron/sqlx"

	"github.com/niyusum/luminescence-sub000/internal/database"
)

// Store bundles the three table-scoped stores spec.md §6 names.
type Store struct {
	Players      *PlayerStore
	Config       *ConfigStore
	RewardClaims *RewardClaimStore
}

// New builds a Store over db, wiring a *sqlx.DB for read-path convenience
// alongside the breaker-wrapped *database.DB used for transactional writes.
func New(db *database.DB) *Store {
	sqlxDB := sqlx.NewDb(db.SQL(), "postgres")
	return &Store{
		Players:      &PlayerStore{db: db, read: sqlxDB},
		Config:       &ConfigStore{db: db, read: sqlxDB},
		RewardClaims: &RewardClaimStore{db: db, read: sqlxDB},
	}
}
