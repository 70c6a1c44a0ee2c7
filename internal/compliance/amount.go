package compliance

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount converts an extracted amount into a decimal.
//
// Accepts decimal.Decimal, integers, json.Number, float64 and strings.
// Strings may use "," or "." as decimal separator and the other one as
// thousands separator ("1.234,56", "1,234.56"), and may carry a currency
// code or symbol ("EUR 12,50", "£250").
func ParseAmount(v any) (decimal.Decimal, error) {
	switch val := v.(type) {
	case decimal.Decimal:
		return val, nil
	case *decimal.Decimal:
		if val == nil {
			return decimal.Zero, fmt.Errorf("amount is nil")
		}
		return *val, nil
	case int:
		return decimal.NewFromInt(int64(val)), nil
	case int64:
		return decimal.NewFromInt(val), nil
	case float64:
		return decimal.NewFromFloat(val), nil
	case json.Number:
		return decimal.NewFromString(val.String())
	case string:
		return parseAmountString(val)
	case nil:
		return decimal.Zero, fmt.Errorf("amount is missing")
	default:
		return decimal.Zero, fmt.Errorf("unsupported amount type %T", v)
	}
}

func parseAmountString(s string) (decimal.Decimal, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == ',', r == '.', r == '-':
			return r
		}
		return -1
	}, s)
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}

	comma := strings.LastIndex(cleaned, ",")
	dot := strings.LastIndex(cleaned, ".")
	switch {
	case comma >= 0 && dot >= 0 && comma > dot:
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.Replace(cleaned, ",", ".", 1)
	case comma >= 0 && dot >= 0:
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	case comma >= 0 && strings.Count(cleaned, ",") == 1:
		cleaned = strings.Replace(cleaned, ",", ".", 1)
	case comma >= 0:
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	return d, nil
}

// ValueString renders an extracted value as the text that validation rules
// and corrections compare.
func ValueString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case decimal.Decimal:
		return val.String()
	case fmt.Stringer:
		return val.String()
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}

// Present reports whether an extracted value counts as provided:
// non-nil and, for strings, not blank.
func Present(v any) bool {
	if v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return true
}

// SameValue reports whether two extracted values mean the same thing.
// Values that both parse as amounts are compared numerically, so "12.50"
// and 12.5 are equal; anything else is compared as trimmed text.
func SameValue(a, b any) bool {
	if Present(a) != Present(b) {
		return false
	}
	as := strings.TrimSpace(ValueString(a))
	bs := strings.TrimSpace(ValueString(b))
	if as == bs {
		return true
	}
	if numericLike(as) && numericLike(bs) {
		ad, errA := ParseAmount(as)
		bd, errB := ParseAmount(bs)
		if errA == nil && errB == nil {
			return ad.Equal(bd)
		}
	}
	return false
}

// numericLike accepts only digits and separators so identifiers such as
// "RE-2024-001" are never compared as numbers.
func numericLike(s string) bool {
	if s == "" {
		return false
	}
	digits := 0
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == ',' || r == '.':
		case r == '-' && i == 0:
		default:
			return false
		}
	}
	return digits > 0
}
