package core

import (
	"github.com/shopspring/decimal"
)

// Rules are per-symbol trading constraints. An invalid (unset) field means unconstrained.
type Rules struct {
	SizeMin  decimal.NullDecimal `json:"size_min"`
	SizeMax  decimal.NullDecimal `json:"size_max"`
	SizeStep decimal.NullDecimal `json:"size_step"`

	NotionalMin decimal.NullDecimal `json:"notional_min"`
	NotionalMax decimal.NullDecimal `json:"notional_max"`

	// LeverageMax is unset when zero.
	LeverageMax int `json:"leverage_max"`

	PriceMin  decimal.NullDecimal `json:"price_min"`
	PriceMax  decimal.NullDecimal `json:"price_max"`
	PriceStep decimal.NullDecimal `json:"price_step"`
}

// Some returns a set NullDecimal.
func Some(v decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: v, Valid: true}
}

// ValidateSize checks the absolute size against the size bounds and steps it toward zero.
func (r Rules) ValidateSize(size decimal.Decimal) (decimal.Decimal, error) {
	if err := checkBounds("size", size.Abs(), size, r.SizeMin, r.SizeMax, true); err != nil {
		return size, err
	}
	if r.SizeStep.Valid {
		return StepDown(size, r.SizeStep.Decimal), nil
	}
	return size, nil
}

// ValidateNotional checks the absolute notional. The value is never stepped.
func (r Rules) ValidateNotional(notional decimal.Decimal) (decimal.Decimal, error) {
	if err := checkBounds("notional", notional.Abs(), notional, r.NotionalMin, r.NotionalMax, true); err != nil {
		return notional, err
	}
	return notional, nil
}

func (r Rules) ValidateLeverage(leverage int) (int, error) {
	value := decimal.NewFromInt(int64(leverage))
	if leverage < 1 {
		return leverage, &RangeError{Field: "leverage", Value: value, Bound: decimal.NewFromInt(1), Kind: BoundMin}
	}
	if r.LeverageMax > 0 && leverage > r.LeverageMax {
		return leverage, &RangeError{Field: "leverage", Value: value, Bound: decimal.NewFromInt(int64(r.LeverageMax)), Kind: BoundMax}
	}
	return leverage, nil
}

func (r Rules) ValidatePrice(price decimal.Decimal) (decimal.Decimal, error) {
	if err := checkBounds("price", price, price, r.PriceMin, r.PriceMax, false); err != nil {
		return price, err
	}
	if r.PriceStep.Valid {
		return StepDown(price, r.PriceStep.Decimal), nil
	}
	return price, nil
}

func checkBounds(field string, checked, original decimal.Decimal, min, max decimal.NullDecimal, absolute bool) error {
	if min.Valid && checked.Cmp(min.Decimal) < 0 {
		return &RangeError{Field: field, Value: original, Bound: min.Decimal, Kind: BoundMin, Absolute: absolute}
	}
	if max.Valid && checked.Cmp(max.Decimal) > 0 {
		return &RangeError{Field: field, Value: original, Bound: max.Decimal, Kind: BoundMax, Absolute: absolute}
	}
	return nil
}

// StepDown returns the multiple of step closest to value in the direction of zero.
// The quotient is an exact integer division, so no digits are lost to rounding.
func StepDown(value, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return value
	}
	q, _ := value.QuoRem(step, 0)
	return q.Mul(step)
}
