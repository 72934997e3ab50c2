package underwriting

import (
	"errors"
	"fmt"
)

// ErrInvalidMetrics is wrapped by every ValidationError
var ErrInvalidMetrics = errors.New("invalid underwriting metrics")

// Metric group names used in validation errors
const (
	GroupCashFlow    = "cashFlow"
	GroupDebt        = "debt"
	GroupChargebacks = "chargebacks"
	GroupReserves    = "reserves"
)

// ValidationError identifies the metrics group and field that made the input unusable
type ValidationError struct {
	Group  string
	Field  string
	Reason string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s metrics: field '%s' %s", e.Group, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s metrics: %s", e.Group, e.Reason)
}

// Unwrap returns ErrInvalidMetrics so callers can use errors.Is
func (e *ValidationError) Unwrap() error {
	return ErrInvalidMetrics
}

func newValidationError(group, field, reason string) error {
	return &ValidationError{Group: group, Field: field, Reason: reason}
}
