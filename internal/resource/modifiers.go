package resource

import "context"

// ModifierSource supplies the leader-derived multipliers calculate_modifiers
// composes multiplicatively, grounded on the original's LeaderService call
// in src/modules/resource/service.py. The maiden/leader subsystem that
// produces these numbers is out of scope for this core; callers wire in
// whatever leader implementation they have (or NoModifiers, below) through
// this interface.
type ModifierSource interface {
	// ActiveModifiers returns the multiplier map for the player with the
	// given leader maiden ID. Recognized keys are "income_boost" and
	// "xp_boost"; an absent key is treated as 1.0 (no bonus).
	ActiveModifiers(ctx context.Context, leaderMaidenID int64) (map[string]float64, error)
}

// NoModifiers is a ModifierSource that never applies a bonus, used when no
// leader system is wired in.
type NoModifiers struct{}

// ActiveModifiers always returns an empty map (every multiplier defaults to 1.0).
func (NoModifiers) ActiveModifiers(ctx context.Context, leaderMaidenID int64) (map[string]float64, error) {
	return map[string]float64{}, nil
}
