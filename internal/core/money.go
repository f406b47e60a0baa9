// Package core holds the fleet entities and the numeric helpers shared by
// the metric and aggregation packages.
//
// Amounts and meter readings are decimals. Rounding is half-up on the scaled
// value: 2 places for money and most derived values, 3 for fuel consumption.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

var half = decimal.NewFromFloat(0.5)

// RoundHalfUp rounds d to places decimals, ties going towards +Inf.
//
// Examples:
//
//	RoundHalfUp(0.4005, 3) -> 0.401
//	RoundHalfUp(-1.005, 2) -> -1.00
func RoundHalfUp(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Shift(places).Add(half).Floor().Shift(-places)
}

func Round2(d decimal.Decimal) decimal.Decimal { return RoundHalfUp(d, 2) }

func Round3(d decimal.Decimal) decimal.Decimal { return RoundHalfUp(d, 3) }

// ParseAmount reads a non-negative decimal using either dot or comma as the
// decimal separator. Thousands separators are not accepted.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, &ValidationError{Field: "amount", Reason: "is required"}
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &ValidationError{Field: "amount", Reason: "invalid number"}
	}
	if d.IsNegative() {
		return decimal.Zero, &ValidationError{Field: "amount", Reason: "must not be negative"}
	}
	return d, nil
}

// FormatBRL renders d as "R$ 1.234,56".
func FormatBRL(d decimal.Decimal) string {
	neg := d.IsNegative()
	s := Round2(d.Abs()).StringFixed(2)
	intPart, frac, _ := strings.Cut(s, ".")
	out := "R$ " + groupThousands(intPart) + "," + frac
	if neg {
		return "-" + out
	}
	return out
}

// FormatNumber renders d with '.' thousands and ',' decimals, trimming
// trailing zeros.
func FormatNumber(d decimal.Decimal) string {
	neg := d.IsNegative()
	intPart, frac, _ := strings.Cut(d.Abs().String(), ".")
	out := groupThousands(intPart)
	if frac != "" {
		out += "," + frac
	}
	if neg {
		return "-" + out
	}
	return out
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
