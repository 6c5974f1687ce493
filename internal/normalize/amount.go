// Package normalize converts canonical extraction records into the persisted Extraction shape.
package normalize

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoice-ingest/internal/extract"
)

const (
	MoneyPlaces    int32 = 2
	QuantityPlaces int32 = 3
)

// ParseAmount reads a locale-formatted amount such as "1.234,56", "1,234.56", "1234,56" or
// "12,50 €". When both separators appear the last one is the decimal separator; a lone comma
// is a decimal comma; a separator repeated more than once groups thousands. A lone dot is
// always a decimal point, so "1.234" reads as 1.234. Returns nil when no number can be read or
// when letters sit between digits ("1e5", "12abc34").
func ParseAmount(s string) *decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	negative := false
	digits, letterAfterDigit := false, false
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			if letterAfterDigit {
				return nil
			}
			digits = true
			b.WriteRune(r)
		case r == '.', r == ',':
			b.WriteRune(r)
		case unicode.IsLetter(r):
			letterAfterDigit = digits
		case r == '-', r == '−':
			negative = true
		case r == '(' && b.Len() == 0:
			negative = true
		}
	}
	num := strings.Trim(b.String(), ".,")
	if num == "" {
		return nil
	}

	lastDot := strings.LastIndexByte(num, '.')
	lastComma := strings.LastIndexByte(num, ',')
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			num = strings.ReplaceAll(num, ".", "")
			num = strings.Replace(num, ",", ".", 1)
			if strings.Count(num, ",") > 0 {
				return nil
			}
		} else {
			num = strings.ReplaceAll(num, ",", "")
			if strings.Count(num, ".") > 1 {
				return nil
			}
		}
	case lastComma >= 0:
		if strings.Count(num, ",") > 1 {
			num = strings.ReplaceAll(num, ",", "")
		} else {
			num = strings.Replace(num, ",", ".", 1)
		}
	case lastDot >= 0:
		if strings.Count(num, ".") > 1 {
			num = strings.ReplaceAll(num, ".", "")
		}
	}

	d, err := decimal.NewFromString(num)
	if err != nil {
		return nil
	}
	if negative {
		d = d.Neg()
	}
	return &d
}

// Amount resolves a vendor number to a fixed-precision decimal, preferring the typed value
// over the printed text.
func Amount(n extract.Number, places int32) decimal.NullDecimal {
	if n.Value != nil {
		return decimal.NewNullDecimal(n.Value.Round(places))
	}
	if d := ParseAmount(n.Raw); d != nil {
		return decimal.NewNullDecimal(d.Round(places))
	}
	return decimal.NullDecimal{}
}
