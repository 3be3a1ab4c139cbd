// Package audit implements the transaction-logging pipeline spec.md §4.6
// describes: every resource/maiden/fusion mutation is published as a single
// canonical event so downstream consumers (analytics, GM tooling, replay)
// never need bespoke per-feature logging. Grounded on the original's
// src/core/infra/audit_logger.py, re-expressed over internal/eventbus
// instead of an asyncio event bus.
package audit

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/niyusum/luminescence-sub000/internal/eventbus"
	"github.com/niyusum/luminescence-sub000/internal/logging"
	"github.com/niyusum/luminescence-sub000/internal/metrics"
)

// EventName is the canonical topic every transaction is published under,
// matching AuditLogger.EVENT_NAME.
const EventName = "audit.transaction.logged"

// Entry is the canonical audit payload published on EventName.
type Entry struct {
	Timestamp       time.Time      `json:"timestamp"`
	PlayerID        int64          `json:"player_id"`
	TransactionType string         `json:"transaction_type"`
	Details         map[string]any `json:"details"`
	Context         string         `json:"context"`
	Meta            map[string]any `json:"meta,omitempty"`
}

// Logger validates and publishes audit entries. Publish failures are
// swallowed (logged, not returned) because gameplay must never fail due to
// an audit-side outage; validation failures ARE returned because they
// indicate a caller bug worth surfacing immediately.
type Logger struct {
	bus       *eventbus.Bus
	validator *TransactionValidator
	log       *logging.Logger
	metrics   Metrics
}

// New builds a Logger publishing through bus and validating through v.
func New(bus *eventbus.Bus, v *TransactionValidator, log *logging.Logger) *Logger {
	if log == nil {
		log = logging.Default()
	}
	if v == nil {
		v = NewTransactionValidator(true)
	}
	return &Logger{bus: bus, validator: v, log: log}
}

// Log validates and publishes a single audit entry, matching
// AuditLogger.log(player_id, transaction_type, details, context, meta, validate).
func (l *Logger) Log(ctx context.Context, playerID int64, transactionType string, details map[string]any, txContext string, meta map[string]any, validate bool) error {
	start := time.Now()
	defer func() { l.metrics.recordLogTime(time.Since(start)) }()

	if txContext == "" {
		txContext = "unknown"
	}

	if validate {
		if err := l.validator.ValidateTransaction(transactionType, details); err != nil {
			l.metrics.validationErrors.Add(1)
			metrics.RecordAuditEvent(transactionType, "validation_error")
			return err
		}
		if err := l.validator.ValidateContext(txContext); err != nil {
			l.metrics.validationErrors.Add(1)
			metrics.RecordAuditEvent(transactionType, "validation_error")
			return err
		}
	}

	entry := Entry{
		Timestamp:       time.Now().UTC(),
		PlayerID:        playerID,
		TransactionType: transactionType,
		Details:         details,
		Context:         txContext,
		Meta:            meta,
	}

	errs := l.bus.DispatchSync(ctx, eventbus.Event{Topic: EventName, Payload: entry})
	if len(errs) > 0 {
		l.metrics.publishErrors.Add(1)
		metrics.RecordAuditEvent(transactionType, "publish_error")
		l.log.WithContext(ctx).WithError(errs[0]).Warn("audit publish failed, gameplay unaffected")
		return nil
	}

	l.metrics.eventsEmitted.Add(1)
	metrics.RecordAuditEvent(transactionType, "published")
	return nil
}

// LogResourceChange is the convenience wrapper grounded on
// log_resource_change: resource_change_<type> with old/new/delta details.
func (l *Logger) LogResourceChange(ctx context.Context, playerID int64, resourceType string, oldValue, newValue int64, reason, txContext string, meta map[string]any) error {
	details := map[string]any{
		"resource": resourceType,
		"old_value": oldValue,
		"new_value": newValue,
		"delta":     newValue - oldValue,
		"reason":    reason,
	}
	return l.Log(ctx, playerID, fmt.Sprintf("resource_change_%s", resourceType), details, txContext, meta, true)
}

// LogMaidenChange is grounded on log_maiden_change: maiden_<action> with
// maiden identity and quantity delta details.
func (l *Logger) LogMaidenChange(ctx context.Context, playerID int64, action string, maidenID int64, maidenName string, tier int, quantityChange int64, txContext string, meta map[string]any) error {
	details := map[string]any{
		"maiden_id":       maidenID,
		"maiden_name":     maidenName,
		"tier":            tier,
		"quantity_change": quantityChange,
	}
	return l.Log(ctx, playerID, fmt.Sprintf("maiden_%s", action), details, txContext, meta, true)
}

// LogFusionAttempt is grounded on log_fusion_attempt: fusion_attempt with
// success/cost/outcome details.
func (l *Logger) LogFusionAttempt(ctx context.Context, playerID int64, success bool, inputTier int, cost int64, resultTier *int, txContext string, meta map[string]any) error {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	details := map[string]any{
		"success":     success,
		"input_tier":  inputTier,
		"result_tier": resultTier,
		"cost":        cost,
		"outcome":     outcome,
	}
	return l.Log(ctx, playerID, "fusion_attempt", details, txContext, meta, true)
}

// Transaction is one entry in a BatchLog call.
type Transaction struct {
	PlayerID        int64
	TransactionType string
	Details         map[string]any
	Context         string
	Meta            map[string]any
}

// BatchLog emits every transaction, skipping (and logging) invalid ones
// rather than aborting the whole batch — mirroring batch_log's
// skip-and-continue behavior. Returns the count actually emitted.
func (l *Logger) BatchLog(ctx context.Context, transactions []Transaction, validate bool) int {
	emitted := 0
	for _, tx := range transactions {
		if err := l.Log(ctx, tx.PlayerID, tx.TransactionType, tx.Details, tx.Context, tx.Meta, validate); err != nil {
			l.metrics.batchSkipped.Add(1)
			l.log.WithContext(ctx).WithError(err).Warn("skipping invalid batch audit entry: " + tx.TransactionType)
			continue
		}
		emitted++
	}
	l.metrics.batchEventsEmitted.Add(int64(emitted))
	return emitted
}
