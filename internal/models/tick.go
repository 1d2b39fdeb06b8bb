package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Tick represents a single recorded trade from the archive: the trade time
// with sub-second precision, the execution price, and the traded quantity.
// Ticks are ephemeral; they are consumed by the aggregator and discarded.
type Tick struct {
	Timestamp time.Time
	Price     decimal.Decimal
	Size      decimal.Decimal
}

// Validate checks that the tick carries a usable timestamp and positive price.
// Size may be zero (some venues report zero-quantity administrative prints)
// but never negative.
func (t *Tick) Validate() error {
	if t.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Message: "timestamp cannot be zero"}
	}
	if t.Price.LessThanOrEqual(decimal.Zero) {
		return &ValidationError{Field: "price", Message: "price must be greater than 0"}
	}
	if t.Size.IsNegative() {
		return &ValidationError{Field: "size", Message: "size must be greater than or equal to 0"}
	}
	return nil
}

// String implements fmt.Stringer.
func (t *Tick) String() string {
	return fmt.Sprintf("Tick{T: %s, P: %s, S: %s}",
		t.Timestamp.UTC().Format(time.RFC3339Nano), t.Price, t.Size)
}

// ValidationError represents a model validation failure with field context.
type ValidationError struct {
	Field   string // Field is the name of the field that failed validation
	Message string // Message describes the validation failure
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}
