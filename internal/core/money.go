// Package core provides the ledger domain types and the pure
// accounting computations over them.
//
// This file handles parsing and formatting of monetary amounts. The
// ledger works in whole rupiah, so there is no fractional part to
// round; amounts arrive either as plain digit strings or with id-ID
// grouping separators ("1.200.000").
package core

import (
	"strconv"
	"strings"
	"unicode"
)

// ParseAmount converts a user-entered amount string to Money.
//
// Dots and commas are stripped unconditionally as grouping
// separators, so "1.200.000", "1,200,000" and "1200000" all yield
// 1200000 units; there is no decimal point in this currency, so
// "1.5" reads as 15. Returns an error for empty, signed, or
// non-positive input.
//
// Examples:
//
//	ParseAmount("100000")    -> 100000, nil
//	ParseAmount("1.200.000") -> 1200000, nil
//	ParseAmount("1.5")       -> 15, nil
//	ParseAmount("-5")        -> 0, ErrInvalidAmount
func ParseAmount(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		// Only positive values allowed
		return Money{}, ErrInvalidAmount
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '.' || r == ',':
			// grouping separator
		default:
			return Money{}, ErrInvalidAmount
		}
	}
	if b.Len() == 0 {
		return Money{}, ErrInvalidAmount
	}
	units, err := strconv.ParseInt(b.String(), 10, 64)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	if units <= 0 {
		return Money{}, ErrInvalidAmount
	}
	return Money{Units: units}, nil
}

// FormatIDR renders the amount with id-ID dot grouping, e.g.
// "Rp 1.200.000". Used for notifications and log output; calculations
// always stay on Units.
func (m Money) FormatIDR() string {
	neg := m.Units < 0
	v := m.Units
	if neg {
		v = -v
	}
	digits := strconv.FormatInt(v, 10)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	if neg {
		return "Rp -" + b.String()
	}
	return "Rp " + b.String()
}
