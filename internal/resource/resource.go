// Package resource implements the resource transaction service spec.md
// §4.5 describes: grant/consume/check/calculate_modifiers over the Player
// aggregate, with multiplicative modifier stacking and per-resource
// cap/saturation rules. Grounded line-for-line on
// src/modules/resource/service.py, re-expressed against internal/player and
// internal/database's transaction scope instead of SQLAlchemy's AsyncSession.
//
// Cap/modifier ordering is normalized across every resource kind (apply
// modifiers, compute the post-grant value, cap, then record caps_hit) rather
// than the Python source's grace-only special case — the uniform "intended
// contract" the original was inconsistent about.
package resource

import (
	"context"
	"fmt"

	"github.com/niyusum/luminescence-sub000/internal/audit"
	"github.com/niyusum/luminescence-sub000/internal/database"
	domainerrors "github.com/niyusum/luminescence-sub000/internal/errors"
	"github.com/niyusum/luminescence-sub000/internal/logging"
	"github.com/niyusum/luminescence-sub000/internal/metrics"
	"github.com/niyusum/luminescence-sub000/internal/player"
	"github.com/niyusum/luminescence-sub000/internal/store"
)

const defaultLumeesMaxCap = 999999

// ConfigSource is the subset of internal/dynamicconfig.Manager this service
// needs — just the tunable grace-style cap, kept as a narrow interface so
// tests can supply a fixed value without a full Manager.
type ConfigSource interface {
	Get(key string, fallback any) any
}

// staticConfig is a ConfigSource that always returns fallback, used when no
// dynamic config is wired in.
type staticConfig struct{}

func (staticConfig) Get(_ string, fallback any) any { return fallback }

// currencyKind classifies how a resource participates in modifier
// application and capping.
type currencyKind int

const (
	kindUnknown currencyKind = iota
	kindCappedCurrency
	kindUncappedCurrency
	kindExperience
	kindEnergy
	kindStamina
	kindHP
	kindDropCharge
)

func kindOf(resource string) currencyKind {
	switch resource {
	case "lumees":
		return kindCappedCurrency
	case "auric_coin", "lumenite":
		return kindUncappedCurrency
	case "experience":
		return kindExperience
	case "energy":
		return kindEnergy
	case "stamina":
		return kindStamina
	case "hp":
		return kindHP
	case "drop_charges":
		return kindDropCharge
	default:
		return kindUnknown
	}
}

// Service is the centralized resource transaction system (spec.md §4.5).
type Service struct {
	db        *database.DB
	players   *store.PlayerStore
	audit     *audit.Logger
	config    ConfigSource
	modifiers ModifierSource
	log       *logging.Logger
	metrics   Metrics
}

// New builds a Service. config and modifiers may be nil to use the
// no-bonus/no-override defaults.
func New(db *database.DB, players *store.PlayerStore, auditLogger *audit.Logger, config ConfigSource, modifiers ModifierSource, log *logging.Logger) *Service {
	if config == nil {
		config = staticConfig{}
	}
	if modifiers == nil {
		modifiers = NoModifiers{}
	}
	if log == nil {
		log = logging.Default()
	}
	return &Service{db: db, players: players, audit: auditLogger, config: config, modifiers: modifiers, log: log}
}

// GrantResult mirrors grant_resources' return shape.
type GrantResult struct {
	Granted           map[string]int64
	ModifiersApplied  map[string]float64
	CapsHit           []string
	OldValues         map[string]int64
	NewValues         map[string]int64
}

// Grant credits resources to the player identified by externalID, applying
// leader-derived modifiers (no class-based modifier is applied) when
// applyModifiers is true, enforcing per-resource
// caps, and publishing one audit event for the whole call.
func (s *Service) Grant(ctx context.Context, externalID int64, resources map[string]int64, source string, applyModifiers bool, txContext string, meta map[string]any) (*GrantResult, error) {
	s.metrics.grants.Add(1)

	result := &GrantResult{
		Granted:          map[string]int64{},
		ModifiersApplied: map[string]float64{},
		CapsHit:          nil,
		OldValues:        map[string]int64{},
		NewValues:        map[string]int64{},
	}

	var p *player.Player
	err := s.db.WithTx(ctx, func(txCtx context.Context) error {
		var loadErr error
		p, loadErr = s.players.GetForUpdate(txCtx, externalID)
		if loadErr != nil {
			return loadErr
		}

		modifiers := map[string]float64{"income_boost": 1.0, "xp_boost": 1.0}
		if applyModifiers {
			resourceKinds := make([]string, 0, len(resources))
			for k := range resources {
				resourceKinds = append(resourceKinds, k)
			}
			var modErr error
			modifiers, modErr = s.CalculateModifiers(txCtx, p, resourceKinds)
			if modErr != nil {
				return modErr
			}
		}
		result.ModifiersApplied = modifiers

		for resourceName, baseAmount := range resources {
			if baseAmount <= 0 {
				continue
			}
			oldVal := currentValue(p, resourceName)
			result.OldValues[resourceName] = oldVal

			finalAmount := baseAmount
			switch kindOf(resourceName) {
			case kindCappedCurrency, kindUncappedCurrency:
				finalAmount = applyMultiplier(baseAmount, modifiers["income_boost"])
			case kindExperience:
				finalAmount = applyMultiplier(baseAmount, modifiers["xp_boost"])
			}

			newVal, capped, ok := s.applyCap(txCtx, resourceName, oldVal, finalAmount, p)
			if !ok {
				s.log.WithContext(txCtx).Warn("unknown resource type in grant: " + resourceName)
				continue
			}
			if capped {
				result.CapsHit = append(result.CapsHit, resourceName)
			}
			actualGranted := newVal - oldVal
			setValue(p, resourceName, newVal)

			result.Granted[resourceName] = actualGranted
			result.NewValues[resourceName] = newVal
		}

		if err := p.Validate(); err != nil {
			return domainerrors.InvalidOperation(err.Error())
		}
		return s.players.Update(txCtx, p)
	})
	if err != nil {
		s.metrics.errors.Add(1)
		metrics.RecordResourceOp("grant", "error")
		return nil, err
	}
	if len(result.CapsHit) > 0 {
		metrics.RecordResourceOp("grant", "cap_hit")
	} else {
		metrics.RecordResourceOp("grant", "ok")
	}

	if s.audit != nil {
		_ = s.audit.Log(ctx, externalID, fmt.Sprintf("resource_grant_%s", source), map[string]any{
			"resources_granted": result.Granted,
			"base_amounts":       resources,
			"modifiers":          result.ModifiersApplied,
			"caps_hit":           result.CapsHit,
			"old_values":         result.OldValues,
			"new_values":         result.NewValues,
			"source":             source,
		}, txContext, meta, true)
	}

	return result, nil
}

// ConsumeResult mirrors consume_resources' return shape.
type ConsumeResult struct {
	Consumed  map[string]int64
	OldValues map[string]int64
	NewValues map[string]int64
}

// Consume debits resources from the player, validating every requested
// amount is available BEFORE mutating any of them (two-phase: validate-all,
// then debit-all), so a shortfall on one resource never partially consumes
// another.
func (s *Service) Consume(ctx context.Context, externalID int64, resources map[string]int64, source string, txContext string, meta map[string]any) (*ConsumeResult, error) {
	s.metrics.consumes.Add(1)

	result := &ConsumeResult{
		Consumed:  map[string]int64{},
		OldValues: map[string]int64{},
		NewValues: map[string]int64{},
	}

	var p *player.Player
	err := s.db.WithTx(ctx, func(txCtx context.Context) error {
		var loadErr error
		p, loadErr = s.players.GetForUpdate(txCtx, externalID)
		if loadErr != nil {
			return loadErr
		}

		for resourceName, amount := range resources {
			if amount <= 0 {
				continue
			}
			current := currentValue(p, resourceName)
			result.OldValues[resourceName] = current
			if current < amount {
				s.metrics.insufficientErrors.Add(1)
				return domainerrors.InsufficientResources(resourceName, amount, current)
			}
		}

		for resourceName, amount := range resources {
			if amount <= 0 {
				continue
			}
			if kindOf(resourceName) == kindUnknown {
				s.log.WithContext(txCtx).Warn("unknown resource type in consume: " + resourceName)
				continue
			}
			newVal := currentValue(p, resourceName) - amount
			setValue(p, resourceName, newVal)
			result.Consumed[resourceName] = amount
			result.NewValues[resourceName] = newVal
		}

		if err := p.Validate(); err != nil {
			return domainerrors.InvalidOperation(err.Error())
		}
		return s.players.Update(txCtx, p)
	})
	if err != nil {
		if domainerrors.Is(err, domainerrors.CodeInsufficientResources) {
			metrics.RecordResourceOp("consume", "insufficient")
		} else {
			s.metrics.errors.Add(1)
			metrics.RecordResourceOp("consume", "error")
		}
		return nil, err
	}
	metrics.RecordResourceOp("consume", "ok")

	if s.audit != nil {
		_ = s.audit.Log(ctx, externalID, fmt.Sprintf("resource_consume_%s", source), map[string]any{
			"resources_consumed": result.Consumed,
			"old_values":          result.OldValues,
			"new_values":          result.NewValues,
			"source":              source,
		}, txContext, meta, true)
	}

	return result, nil
}

// Check reports whether the player has at least the requested amount of
// every resource, without mutating or auditing anything.
func (s *Service) Check(ctx context.Context, externalID int64, resources map[string]int64) (bool, error) {
	s.metrics.checks.Add(1)

	p, err := s.players.GetByExternalID(ctx, externalID)
	if err != nil {
		metrics.RecordResourceOp("check", "error")
		return false, err
	}

	for resourceName, amount := range resources {
		if amount <= 0 {
			continue
		}
		if currentValue(p, resourceName) < amount {
			metrics.RecordResourceOp("check", "insufficient")
			return false, nil
		}
	}
	metrics.RecordResourceOp("check", "ok")
	return true, nil
}

// CalculateModifiers computes the multiplicative income/xp bonus for the
// given resource kinds, early-exiting when no bonus-eligible kind is
// requested or the player has no leader assigned.
func (s *Service) CalculateModifiers(ctx context.Context, p *player.Player, resourceKinds []string) (map[string]float64, error) {
	modifiers := map[string]float64{"income_boost": 1.0, "xp_boost": 1.0}

	needsIncome, needsXP := false, false
	for _, k := range resourceKinds {
		switch kindOf(k) {
		case kindCappedCurrency, kindUncappedCurrency:
			needsIncome = true
		case kindExperience:
			needsXP = true
		}
	}
	if !needsIncome && !needsXP {
		return modifiers, nil
	}
	if p.LeaderMaidenID == nil {
		return modifiers, nil
	}

	leaderMods, err := s.modifiers.ActiveModifiers(ctx, *p.LeaderMaidenID)
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("failed to get leader modifiers")
		return modifiers, nil
	}
	if needsIncome {
		if v, ok := leaderMods["income_boost"]; ok {
			modifiers["income_boost"] *= v
		}
	}
	if needsXP {
		if v, ok := leaderMods["xp_boost"]; ok {
			modifiers["xp_boost"] *= v
		}
	}
	return modifiers, nil
}

func applyMultiplier(base int64, mult float64) int64 {
	return int64(float64(base) * mult)
}

// applyCap enforces the per-resource-kind saturation rule, returning the
// post-cap value, whether a cap was actually hit, and whether resourceName
// was recognized at all.
func (s *Service) applyCap(ctx context.Context, resourceName string, oldVal, delta int64, p *player.Player) (newVal int64, capped bool, ok bool) {
	switch kindOf(resourceName) {
	case kindCappedCurrency:
		cap := s.lumeesMaxCap(ctx)
		newVal = oldVal + delta
		if newVal > cap {
			newVal = cap
			capped = true
		}
		return newVal, capped, true
	case kindUncappedCurrency, kindExperience:
		return oldVal + delta, false, true
	case kindEnergy:
		newVal = min64(oldVal+delta, p.MaxEnergy)
		return newVal, newVal < oldVal+delta, true
	case kindStamina:
		newVal = min64(oldVal+delta, p.MaxStamina)
		return newVal, newVal < oldVal+delta, true
	case kindHP:
		newVal = min64(oldVal+delta, p.MaxHP)
		return newVal, newVal < oldVal+delta, true
	case kindDropCharge:
		newVal = min64(oldVal+delta, player.ChargeMax)
		return newVal, newVal < oldVal+delta, true
	default:
		return oldVal, false, false
	}
}

func (s *Service) lumeesMaxCap(ctx context.Context) int64 {
	raw := s.config.Get("economy.lumees_max_cap", int64(defaultLumeesMaxCap))
	return toInt64(raw)
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return defaultLumeesMaxCap
	}
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func currentValue(p *player.Player, resource string) int64 {
	switch resource {
	case "lumees":
		return p.Lumees
	case "auric_coin":
		return p.AuricCoin
	case "lumenite":
		return p.Lumenite
	case "experience":
		return p.Experience
	case "energy":
		return p.Energy
	case "stamina":
		return p.Stamina
	case "hp":
		return p.HP
	case "drop_charges":
		return p.DropCharges
	default:
		return 0
	}
}

func setValue(p *player.Player, resource string, value int64) {
	switch resource {
	case "lumees":
		p.Lumees = value
	case "auric_coin":
		p.AuricCoin = value
	case "lumenite":
		p.Lumenite = value
	case "experience":
		p.Experience = value
	case "energy":
		p.Energy = value
	case "stamina":
		p.Stamina = value
	case "hp":
		p.HP = value
	case "drop_charges":
		p.DropCharges = value
	}
}
