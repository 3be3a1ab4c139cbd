package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/niyusum/luminescence-sub000/internal/database"
)

// ConfigStore persists the game_config overlay rows internal/dynamicconfig
// layers on top of its YAML defaults (grounded on the original's
// ConfigManager._load_yaml_configs/initialize DB overlay).
type ConfigStore struct {
	db   *database.DB
	read *sqlx.DB
}

// ConfigRow is one config_key -> config_value override.
type ConfigRow struct {
	ConfigKey   string    `db:"config_key"`
	ConfigValue string    `db:"config_value"` // JSON-encoded scalar or object
	ModifiedBy  string    `db:"modified_by"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// All returns every override row, used to seed the in-memory cache on
// startup and on each background refresh tick.
func (s *ConfigStore) All(ctx context.Context) ([]ConfigRow, error) {
	var rows []ConfigRow
	err := s.read.SelectContext(ctx, &rows, `
		SELECT config_key, config_value, modified_by, updated_at FROM game_config`)
	if err != nil {
		return nil, fmt.Errorf("list game_config: %w", err)
	}
	return rows, nil
}

// Upsert writes or replaces a single override, running inside the caller's
// transaction when ctx carries one. Manager.Set updates its in-memory cache
// only after this write has succeeded.
func (s *ConfigStore) Upsert(ctx context.Context, key, value, modifiedBy string) error {
	q := s.db.Querier(ctx)
	_, err := q.ExecContext(ctx, `
		INSERT INTO game_config (config_key, config_value, modified_by, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (config_key) DO UPDATE SET
			config_value = EXCLUDED.config_value,
			modified_by = EXCLUDED.modified_by,
			updated_at = EXCLUDED.updated_at`,
		key, value, modifiedBy)
	if err != nil {
		return fmt.Errorf("upsert game_config %q: %w", key, err)
	}
	return nil
}

// Get fetches one override by key, mainly useful for diagnostics since
// internal/dynamicconfig otherwise works from its in-memory snapshot.
func (s *ConfigStore) Get(ctx context.Context, key string) (ConfigRow, error) {
	var row ConfigRow
	err := s.read.GetContext(ctx, &row, `
		SELECT config_key, config_value, modified_by, updated_at
		FROM game_config WHERE config_key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return ConfigRow{}, ErrNotFound
	}
	if err != nil {
		return ConfigRow{}, fmt.Errorf("get game_config %q: %w", key, err)
	}
	return row, nil
}
