// Package types provides value types shared across notevault.
package types

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultDenomination is the denomination a ledger accepts when none is configured.
const DefaultDenomination = "xrd"

// Amount is an exact decimal quantity of a single denomination.
// Arithmetic never rounds; mixing denominations is a programming error.
//
// Examples:
//   - MustParse("100", "xrd")   = 100 xrd
//   - MustParse("0.25", "xrd")  = 0.25 xrd
type Amount struct {
	Value        decimal.Decimal `json:"value"`
	Denomination string          `json:"denomination"` // lowercase resource symbol: "xrd", "usd"
}

// NewAmount creates an Amount of value in denomination.
func NewAmount(value decimal.Decimal, denomination string) Amount {
	return Amount{Value: value, Denomination: normalize(denomination)}
}

// FromInt creates an Amount from a whole number of units.
func FromInt(units int64, denomination string) Amount {
	return NewAmount(decimal.NewFromInt(units), denomination)
}

// Parse creates an Amount from a decimal string such as "12.50".
func Parse(value, denomination string) (Amount, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return Amount{}, fmt.Errorf("amount: parse %q: %w", value, err)
	}
	return NewAmount(d, denomination), nil
}

// MustParse is like Parse but panics on error. Use for hardcoded values.
func MustParse(value, denomination string) Amount {
	a, err := Parse(value, denomination)
	if err != nil {
		panic(err)
	}
	return a
}

// Zero returns a zero Amount in the specified denomination.
func Zero(denomination string) Amount { return NewAmount(decimal.Zero, denomination) }

// Arithmetic operations

// Add adds two Amounts. Panics if denominations don't match.
func (a Amount) Add(other Amount) Amount {
	a.assertSameDenomination(other)
	return Amount{Value: a.Value.Add(other.Value), Denomination: a.Denomination}
}

// Subtract subtracts another Amount. Panics if denominations don't match.
func (a Amount) Subtract(other Amount) Amount {
	a.assertSameDenomination(other)
	return Amount{Value: a.Value.Sub(other.Value), Denomination: a.Denomination}
}

// Comparison methods

// IsZero returns true if the value is zero.
func (a Amount) IsZero() bool { return a.Value.IsZero() }

// IsPositive returns true if the value is greater than zero.
func (a Amount) IsPositive() bool { return a.Value.IsPositive() }

// IsNegative returns true if the value is less than zero.
func (a Amount) IsNegative() bool { return a.Value.IsNegative() }

// SameDenomination reports whether both Amounts share a denomination.
func (a Amount) SameDenomination(other Amount) bool {
	return a.Denomination == other.Denomination
}

// Equal returns true if both Amounts have the same value and denomination.
// Scale is ignored: 1.50 equals 1.5.
func (a Amount) Equal(other Amount) bool {
	return a.Denomination == other.Denomination && a.Value.Equal(other.Value)
}

// LessThan returns true if a is less than other. Panics if denominations don't match.
func (a Amount) LessThan(other Amount) bool {
	a.assertSameDenomination(other)
	return a.Value.LessThan(other.Value)
}

// GreaterThan returns true if a is greater than other. Panics if denominations don't match.
func (a Amount) GreaterThan(other Amount) bool {
	a.assertSameDenomination(other)
	return a.Value.GreaterThan(other.Value)
}

// Formatting methods

// String returns "<value> <denomination>", e.g. "12.5 xrd".
func (a Amount) String() string {
	if a.Denomination == "" {
		return a.Value.String()
	}
	return a.Value.String() + " " + a.Denomination
}

// MarshalJSON implements json.Marshaler. The value is emitted as a string
// so no consumer ever parses it as a float.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Value        string `json:"value"`
		Denomination string `json:"denomination"`
	}{
		Value:        a.Value.String(),
		Denomination: a.Denomination,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var raw struct {
		Value        decimal.Decimal `json:"value"`
		Denomination string          `json:"denomination"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = NewAmount(raw.Value, raw.Denomination)
	return nil
}

// Sum adds all values. Returns a zero Amount with no denomination when
// values is empty.
func Sum(values ...Amount) Amount {
	if len(values) == 0 {
		return Amount{Value: decimal.Zero}
	}
	total := Zero(values[0].Denomination)
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// Helper functions

// assertSameDenomination panics if denominations don't match.
func (a Amount) assertSameDenomination(other Amount) {
	if a.Denomination != other.Denomination {
		panic(fmt.Sprintf("amount: denomination mismatch: %s != %s", a.Denomination, other.Denomination))
	}
}

func normalize(denomination string) string {
	return strings.ToLower(strings.TrimSpace(denomination))
}
