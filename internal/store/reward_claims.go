package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/niyusum/luminescence-sub000/internal/database"
)

// RewardClaimStore implements the idempotency ledger grounded on the
// original's database/models/economy/reward_claim.py: a composite-key
// (player_id, claim_type, claim_key) row that a claim handler inserts
// exactly once, relying on the unique constraint to detect replays.
type RewardClaimStore struct {
	db   *database.DB
	read *sqlx.DB
}

// TryClaim attempts to record a claim. It returns (true, nil) the first
// time a given (playerID, claimType, claimKey) triple is seen, and
// (false, nil) on every subsequent attempt — the caller distinguishes
// "granted" from "already claimed" without a prior existence check,
// avoiding a check-then-act race across concurrent handlers.
func (s *RewardClaimStore) TryClaim(ctx context.Context, playerID int64, claimType, claimKey string) (bool, error) {
	q := s.db.Querier(ctx)
	result, err := q.ExecContext(ctx, `
		INSERT INTO reward_claims (player_id, claim_type, claim_key, claimed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (player_id, claim_type, claim_key) DO NOTHING`,
		playerID, claimType, claimKey, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("try claim %s/%s: %w", claimType, claimKey, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("try claim rows affected: %w", err)
	}
	return rows == 1, nil
}

// HasClaimed reports whether a claim already exists, for read-only
// eligibility checks that shouldn't mutate the ledger.
func (s *RewardClaimStore) HasClaimed(ctx context.Context, playerID int64, claimType, claimKey string) (bool, error) {
	var exists bool
	err := s.read.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM reward_claims
			WHERE player_id = $1 AND claim_type = $2 AND claim_key = $3
		)`, playerID, claimType, claimKey)
	if err != nil {
		return false, fmt.Errorf("has claimed %s/%s: %w", claimType, claimKey, err)
	}
	return exists, nil
}

// CountByType returns how many claims of claimType a player holds, used
// by limited-quantity reward logic (e.g. "first N claims only").
func (s *RewardClaimStore) CountByType(ctx context.Context, playerID int64, claimType string) (int64, error) {
	var count int64
	err := s.read.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM reward_claims WHERE player_id = $1 AND claim_type = $2`,
		playerID, claimType)
	if err != nil {
		return 0, fmt.Errorf("count claims %s: %w", claimType, err)
	}
	return count, nil
}
