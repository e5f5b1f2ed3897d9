// Package money provides an exact monetary value type.
//
// Amounts are stored as int64 minor units (cents); arithmetic never touches
// floating point. shopspring/decimal is used only at the edges: parsing
// user-facing major-unit strings, NUMERIC database columns, and percentage
// policy math.
package money

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// minorUnitExponent is the number of decimal places in a minor unit.
// All supported currencies use two (cents).
const minorUnitExponent = 2

var minorUnitFactor = decimal.New(1, minorUnitExponent)

// ErrCurrencyMismatch is returned when an operation combines two amounts of
// different currencies. This always indicates a caller bug: currencies are
// fixed per sale draft and validated at the input boundary.
var ErrCurrencyMismatch = errors.New("currency mismatch")

// ErrFractionalMinorUnit is returned when a parsed value carries more
// precision than a minor unit can hold (e.g. "10.005").
var ErrFractionalMinorUnit = errors.New("amount has fractional minor units")

// Money is an exact monetary amount: int64 minor units plus an ISO 4217
// currency code. The zero value is 0 units of the empty currency and is only
// useful as a placeholder.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// New returns a Money of the given minor units.
func New(minorUnits int64, currency string) Money {
	return Money{Amount: minorUnits, Currency: currency}
}

// Zero returns the zero amount in the given currency.
func Zero(currency string) Money {
	return Money{Currency: currency}
}

// Parse converts a major-unit decimal string such as "115.00" into Money.
func Parse(s, currency string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, errors.Wrapf(err, "parse amount %q", s)
	}
	return FromDecimal(d, currency)
}

// FromDecimal converts a major-unit decimal into Money. The value must be
// representable in whole minor units.
func FromDecimal(d decimal.Decimal, currency string) (Money, error) {
	minor := d.Mul(minorUnitFactor)
	if !minor.IsInteger() {
		return Money{}, errors.Wrapf(ErrFractionalMinorUnit, "amount %s", d)
	}
	return Money{Amount: minor.IntPart(), Currency: currency}, nil
}

// Decimal returns the amount in major units as an exact decimal.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Amount, -minorUnitExponent)
}

// SameCurrency reports whether o is denominated in m's currency.
func (m Money) SameCurrency(o Money) bool {
	return m.Currency == o.Currency
}

// Add returns m + o. Currencies must match.
func (m Money) Add(o Money) (Money, error) {
	if !m.SameCurrency(o) {
		return Money{}, errors.Wrapf(ErrCurrencyMismatch, "%s + %s", m.Currency, o.Currency)
	}
	return Money{Amount: m.Amount + o.Amount, Currency: m.Currency}, nil
}

// Sub returns m - o. Currencies must match.
func (m Money) Sub(o Money) (Money, error) {
	if !m.SameCurrency(o) {
		return Money{}, errors.Wrapf(ErrCurrencyMismatch, "%s - %s", m.Currency, o.Currency)
	}
	return Money{Amount: m.Amount - o.Amount, Currency: m.Currency}, nil
}

// Neg returns the amount with its sign flipped.
func (m Money) Neg() Money {
	return Money{Amount: -m.Amount, Currency: m.Currency}
}

// Abs returns the absolute amount.
func (m Money) Abs() Money {
	if m.Amount < 0 {
		return m.Neg()
	}
	return m
}

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool { return m.Amount == 0 }

// IsPositive reports whether the amount is greater than zero.
func (m Money) IsPositive() bool { return m.Amount > 0 }

// IsNegative reports whether the amount is less than zero.
func (m Money) IsNegative() bool { return m.Amount < 0 }

// Cmp compares m against o: -1 if m < o, 0 if equal, 1 if m > o.
// Currencies must match.
func (m Money) Cmp(o Money) (int, error) {
	if !m.SameCurrency(o) {
		return 0, errors.Wrapf(ErrCurrencyMismatch, "compare %s with %s", m.Currency, o.Currency)
	}
	switch {
	case m.Amount < o.Amount:
		return -1, nil
	case m.Amount > o.Amount:
		return 1, nil
	default:
		return 0, nil
	}
}

// Equal reports whether m and o are the same amount of the same currency.
func (m Money) Equal(o Money) bool {
	return m.Currency == o.Currency && m.Amount == o.Amount
}

// MulPercent returns p percent of m, rounded half-up to a whole minor unit.
// Used for policy-derived amounts such as minimum laybye deposits.
func (m Money) MulPercent(p decimal.Decimal) Money {
	amount := decimal.New(m.Amount, 0).
		Mul(p).
		Div(decimal.New(100, 0)).
		Round(0)
	return Money{Amount: amount.IntPart(), Currency: m.Currency}
}

// String formats the amount in major units, e.g. "115.00 ZAR".
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Decimal().StringFixed(minorUnitExponent), m.Currency)
}
