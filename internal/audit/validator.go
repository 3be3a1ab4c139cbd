package audit

import (
	"fmt"

	"github.com/niyusum/luminescence-sub000/internal/errors"
)

// TransactionValidator enforces a per-transaction-type schema on audit
// details, grounded on TransactionValidator.validate_transaction /
// validate_context. Unknown transaction types are allowed by default
// (AllowUnknown) since new gameplay features land faster than the audit
// schema registry does.
type TransactionValidator struct {
	schemas      map[string][]string // transaction type -> required detail keys
	allowUnknown bool
	validContext map[string]bool
}

// NewTransactionValidator builds a validator with the canonical schema
// registry for the wrapper-produced transaction types.
func NewTransactionValidator(allowUnknown bool) *TransactionValidator {
	return &TransactionValidator{
		schemas: map[string][]string{
			"fusion_attempt": {"success", "input_tier", "cost", "outcome"},
		},
		allowUnknown: allowUnknown,
		validContext: map[string]bool{
			"combat": true, "shop": true, "quest": true, "admin": true,
			"system": true, "fusion": true, "summon": true, "unknown": true,
		},
	}
}

// ValidateTransaction checks transactionType's required detail keys are
// present. resource_change_*/maiden_* types are validated generically
// (non-empty transaction type, non-nil details) since their suffix varies
// per resource/action.
func (v *TransactionValidator) ValidateTransaction(transactionType string, details map[string]any) error {
	if transactionType == "" {
		return errors.AuditValidation(transactionType, "transaction_type must not be empty")
	}
	if details == nil {
		return errors.AuditValidation(transactionType, "details must not be nil")
	}

	required, known := v.schemas[transactionType]
	if !known {
		if v.allowUnknown {
			return nil
		}
		return errors.AuditValidation(transactionType, "unknown transaction type")
	}

	for _, key := range required {
		if _, ok := details[key]; !ok {
			return errors.AuditValidation(transactionType, fmt.Sprintf("missing required detail key %q", key))
		}
	}
	return nil
}

// ValidateContext checks txContext is one of the known context tags.
// RegisterContext lets callers extend this set at startup for new features.
func (v *TransactionValidator) ValidateContext(txContext string) error {
	if !v.validContext[txContext] {
		return errors.AuditValidation(txContext, "unknown audit context")
	}
	return nil
}

// RegisterContext adds ctxName to the set of accepted contexts.
func (v *TransactionValidator) RegisterContext(ctxName string) {
	v.validContext[ctxName] = true
}
