package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/niyusum/luminescence-sub000/internal/database"
	"github.com/niyusum/luminescence-sub000/internal/player"
)

// PlayerStore persists player.Player aggregates into the players table
// described in spec.md §6 (discord_id unique, plus the (class, power),
// (last_active, level), (level), (power) indexes the original's
// player.py docstring names).
type PlayerStore struct {
	db   *database.DB
	read *sqlx.DB
}

// playerRow mirrors the players table's columns, scanned via sqlx struct
// tags for GetContext/SelectContext and by hand for the row-locking
// GetForUpdate path, which must run through database.Querier so it
// shares the caller's transaction.
type playerRow struct {
	ID             int64          `db:"id"`
	ExternalID     int64          `db:"discord_id"`
	Username       string         `db:"username"`
	CreatedAt      time.Time      `db:"created_at"`
	LastActive     time.Time      `db:"last_active"`
	LastLevelUp    sql.NullTime   `db:"last_level_up"`
	Level          int64          `db:"level"`
	Experience     int64          `db:"experience"`
	Lumees         int64          `db:"lumees"`
	AuricCoin      int64          `db:"auric_coin"`
	Lumenite       int64          `db:"lumenite"`
	Energy         int64          `db:"energy"`
	MaxEnergy      int64          `db:"max_energy"`
	Stamina        int64          `db:"stamina"`
	MaxStamina     int64          `db:"max_stamina"`
	HP             int64          `db:"hp"`
	MaxHP          int64          `db:"max_hp"`
	DropCharges    int64          `db:"drop_charges"`
	LastDropRegen  sql.NullTime   `db:"last_drop_regen"`
	StatAvailable  int64          `db:"stat_points_available"`
	StatSpent      []byte         `db:"stat_points_spent"`
	FusionShards   []byte         `db:"fusion_shards"`
	TotalPower     int64          `db:"total_power"`
	PlayerClass    sql.NullString `db:"player_class"`
	Stats          []byte         `db:"stats"`
	LeaderMaidenID sql.NullInt64  `db:"leader_maiden_id"`
}

func (r *playerRow) toPlayer() (*player.Player, error) {
	p := &player.Player{
		ID:                  r.ID,
		ExternalID:          r.ExternalID,
		Username:            r.Username,
		CreatedAt:           r.CreatedAt,
		LastActive:          r.LastActive,
		Level:               r.Level,
		Experience:          r.Experience,
		Lumees:              r.Lumees,
		AuricCoin:           r.AuricCoin,
		Lumenite:            r.Lumenite,
		Energy:              r.Energy,
		MaxEnergy:           r.MaxEnergy,
		Stamina:             r.Stamina,
		MaxStamina:          r.MaxStamina,
		HP:                  r.HP,
		MaxHP:               r.MaxHP,
		DropCharges:         r.DropCharges,
		StatPointsAvailable: r.StatAvailable,
		TotalPower:          r.TotalPower,
		PlayerClass:         player.Class(r.PlayerClass.String),
	}
	if r.LastLevelUp.Valid {
		t := r.LastLevelUp.Time
		p.LastLevelUp = &t
	}
	if r.LastDropRegen.Valid {
		t := r.LastDropRegen.Time
		p.LastDropRegen = &t
	}
	if r.LeaderMaidenID.Valid {
		id := r.LeaderMaidenID.Int64
		p.LeaderMaidenID = &id
	}

	p.StatPointsSpent = map[string]int64{}
	if len(r.StatSpent) > 0 {
		if err := json.Unmarshal(r.StatSpent, &p.StatPointsSpent); err != nil {
			return nil, fmt.Errorf("unmarshal stat_points_spent: %w", err)
		}
	}
	p.FusionShards = map[string]int64{}
	if len(r.FusionShards) > 0 {
		if err := json.Unmarshal(r.FusionShards, &p.FusionShards); err != nil {
			return nil, fmt.Errorf("unmarshal fusion_shards: %w", err)
		}
	}
	p.Stats = map[string]int64{}
	if len(r.Stats) > 0 {
		if err := json.Unmarshal(r.Stats, &p.Stats); err != nil {
			return nil, fmt.Errorf("unmarshal stats: %w", err)
		}
	}
	return p, nil
}

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// GetByExternalID fetches a player by their external (Discord-style) ID
// through the plain read path — no row lock, used for display/read-only
// callers.
func (s *PlayerStore) GetByExternalID(ctx context.Context, externalID int64) (*player.Player, error) {
	var row playerRow
	err := s.read.GetContext(ctx, &row, `
		SELECT id, discord_id, username, created_at, last_active, last_level_up,
		       level, experience, lumees, auric_coin, lumenite,
		       energy, max_energy, stamina, max_stamina, hp, max_hp,
		       drop_charges, last_drop_regen, stat_points_available,
		       stat_points_spent, fusion_shards, total_power, player_class,
		       stats, leader_maiden_id
		FROM players WHERE discord_id = $1`, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get player by external id: %w", err)
	}
	return row.toPlayer()
}

// GetForUpdate fetches a player with SELECT ... FOR UPDATE, requiring an
// active transaction on ctx (internal/database.WithTx) so the row stays
// locked for the duration of the caller's resource mutation — the
// database-side half of spec.md §5's combined lock/transaction scope.
func (s *PlayerStore) GetForUpdate(ctx context.Context, externalID int64) (*player.Player, error) {
	q := s.db.Querier(ctx)
	row := q.QueryRowContext(ctx, `
		SELECT id, discord_id, username, created_at, last_active, last_level_up,
		       level, experience, lumees, auric_coin, lumenite,
		       energy, max_energy, stamina, max_stamina, hp, max_hp,
		       drop_charges, last_drop_regen, stat_points_available,
		       stat_points_spent, fusion_shards, total_power, player_class,
		       stats, leader_maiden_id
		FROM players WHERE discord_id = $1 FOR UPDATE`, externalID)

	var r playerRow
	err := row.Scan(&r.ID, &r.ExternalID, &r.Username, &r.CreatedAt, &r.LastActive, &r.LastLevelUp,
		&r.Level, &r.Experience, &r.Lumees, &r.AuricCoin, &r.Lumenite,
		&r.Energy, &r.MaxEnergy, &r.Stamina, &r.MaxStamina, &r.HP, &r.MaxHP,
		&r.DropCharges, &r.LastDropRegen, &r.StatAvailable,
		&r.StatSpent, &r.FusionShards, &r.TotalPower, &r.PlayerClass,
		&r.Stats, &r.LeaderMaidenID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get player for update: %w", err)
	}
	return r.toPlayer()
}

// Create inserts a brand-new player row.
func (s *PlayerStore) Create(ctx context.Context, p *player.Player) error {
	statSpent, err := json.Marshal(p.StatPointsSpent)
	if err != nil {
		return fmt.Errorf("marshal stat_points_spent: %w", err)
	}
	shards, err := json.Marshal(p.FusionShards)
	if err != nil {
		return fmt.Errorf("marshal fusion_shards: %w", err)
	}
	stats, err := json.Marshal(p.Stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}

	q := s.db.Querier(ctx)
	row := q.QueryRowContext(ctx, `
		INSERT INTO players (
			discord_id, username, created_at, last_active, level, experience,
			lumees, auric_coin, lumenite, energy, max_energy, stamina, max_stamina,
			hp, max_hp, drop_charges, stat_points_available, stat_points_spent,
			fusion_shards, total_power, player_class, stats
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
		RETURNING id`,
		p.ExternalID, p.Username, p.CreatedAt, p.LastActive, p.Level, p.Experience,
		p.Lumees, p.AuricCoin, p.Lumenite, p.Energy, p.MaxEnergy, p.Stamina, p.MaxStamina,
		p.HP, p.MaxHP, p.DropCharges, p.StatPointsAvailable, statSpent,
		shards, p.TotalPower, nullableClass(p.PlayerClass), stats)

	if err := row.Scan(&p.ID); err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("create player: %w (already exists)", err)
		}
		return fmt.Errorf("create player: %w", err)
	}
	return nil
}

// Update persists every mutable field of p, including the JSON-encoded
// progression maps. Callers mutating resources should hold the row lock
// from GetForUpdate for the same transaction.
func (s *PlayerStore) Update(ctx context.Context, p *player.Player) error {
	statSpent, err := json.Marshal(p.StatPointsSpent)
	if err != nil {
		return fmt.Errorf("marshal stat_points_spent: %w", err)
	}
	shards, err := json.Marshal(p.FusionShards)
	if err != nil {
		return fmt.Errorf("marshal fusion_shards: %w", err)
	}
	stats, err := json.Marshal(p.Stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}

	q := s.db.Querier(ctx)
	result, err := q.ExecContext(ctx, `
		UPDATE players SET
			username = $2, last_active = $3, last_level_up = $4, level = $5,
			experience = $6, lumees = $7, auric_coin = $8, lumenite = $9,
			energy = $10, max_energy = $11, stamina = $12, max_stamina = $13,
			hp = $14, max_hp = $15, drop_charges = $16, last_drop_regen = $17,
			stat_points_available = $18, stat_points_spent = $19, fusion_shards = $20,
			total_power = $21, player_class = $22, stats = $23, leader_maiden_id = $24
		WHERE id = $1`,
		p.ID, p.Username, p.LastActive, nullableTime(p.LastLevelUp), p.Level,
		p.Experience, p.Lumees, p.AuricCoin, p.Lumenite,
		p.Energy, p.MaxEnergy, p.Stamina, p.MaxStamina,
		p.HP, p.MaxHP, p.DropCharges, nullableTime(p.LastDropRegen),
		p.StatPointsAvailable, statSpent, shards,
		p.TotalPower, nullableClass(p.PlayerClass), stats, nullableID(p.LeaderMaidenID))
	if err != nil {
		return fmt.Errorf("update player: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// TopByPower lists the top-power leaderboard page across all classes,
// ordered by total_power (served by the (total_power) index spec.md §6
// names).
func (s *PlayerStore) TopByPower(ctx context.Context, limit int) ([]*player.Player, error) {
	var rows []playerRow
	err := s.read.SelectContext(ctx, &rows, `
		SELECT id, discord_id, username, created_at, last_active, last_level_up,
		       level, experience, lumees, auric_coin, lumenite,
		       energy, max_energy, stamina, max_stamina, hp, max_hp,
		       drop_charges, last_drop_regen, stat_points_available,
		       stat_points_spent, fusion_shards, total_power, player_class,
		       stats, leader_maiden_id
		FROM players ORDER BY total_power DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("top by power: %w", err)
	}
	out := make([]*player.Player, 0, len(rows))
	for i := range rows {
		p, err := rows[i].toPlayer()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func nullableClass(c player.Class) sql.NullString {
	if c == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: string(c), Valid: true}
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullableID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}
