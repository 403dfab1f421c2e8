package core

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrConfiguration indicates a caller-supplied parameter violates a static precondition.
	ErrConfiguration = errors.New("configuration error")
	// ErrRange indicates a value failed a trading rule bound check.
	ErrRange = errors.New("value out of range")
	// ErrUpstream indicates the exchange API returned a non-success response.
	ErrUpstream = errors.New("upstream error")
	// ErrUnknownAsset indicates the account has no balance entry for the asset.
	ErrUnknownAsset = errors.New("unknown asset")
	// ErrUnknownSymbol indicates the exchange has no rules for the symbol.
	ErrUnknownSymbol = errors.New("unknown symbol")
)

// ConfigurationError is returned before any I/O when a request cannot be valid.
type ConfigurationError struct {
	Msg string
}

func NewConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Msg
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

type BoundKind string

const (
	BoundMin BoundKind = "min"
	BoundMax BoundKind = "max"
)

// RangeError carries the bound a value violated. Bounds are never clamped.
type RangeError struct {
	Field    string
	Value    decimal.Decimal
	Bound    decimal.Decimal
	Kind     BoundKind
	Absolute bool
}

func (e *RangeError) Error() string {
	op := ">="
	if e.Kind == BoundMax {
		op = "<="
	}
	field := e.Field
	if e.Absolute {
		field = "absolute " + field
	}
	return fmt.Sprintf("%s must be %s %s (got %s)", field, op, e.Bound.String(), e.Value.String())
}

func (e *RangeError) Unwrap() error { return ErrRange }
