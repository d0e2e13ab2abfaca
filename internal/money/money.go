// Package money parses the currency strings auction sites print.
package money

import (
	"errors"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrNoAmount    = errors.New("money: no amount in text")
	ErrNotPositive = errors.New("money: amount is not positive")

	reNumber = regexp.MustCompile(`\d[\d.,]*`)
	reBRL    = regexp.MustCompile(`R\$\s*(\d[\d.,]*)`)
)

// Parse reads the first number in s. Both "1.234,56" and "8,000.00" are
// understood: when both separators appear the last one is the decimal mark,
// a lone separator followed by exactly three digits groups thousands.
func Parse(s string) (decimal.Decimal, error) {
	raw := reNumber.FindString(s)
	raw = strings.TrimRight(raw, ".,")
	if raw == "" {
		return decimal.Zero, ErrNoAmount
	}
	return decimal.NewFromString(canonical(raw))
}

// ParsePositive is Parse restricted to amounts above zero.
func ParsePositive(s string) (decimal.Decimal, error) {
	d, err := Parse(s)
	if err != nil {
		return d, err
	}
	if !d.IsPositive() {
		return d, ErrNotPositive
	}
	return d, nil
}

func canonical(raw string) string {
	lastDot := strings.LastIndex(raw, ".")
	lastComma := strings.LastIndex(raw, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			return strings.ReplaceAll(strings.ReplaceAll(raw, ".", ""), ",", ".")
		}
		return strings.ReplaceAll(raw, ",", "")
	case lastComma >= 0:
		return single(raw, ",")
	case lastDot >= 0:
		return single(raw, ".")
	}
	return raw
}

func single(raw, sep string) string {
	parts := strings.Split(raw, sep)
	if len(parts) > 2 || len(parts[len(parts)-1]) == 3 {
		return strings.Join(parts, "")
	}
	return parts[0] + "." + parts[1]
}

// FindBRL returns every "R$ ..." amount in text, in document order, without
// the currency prefix.
func FindBRL(text string) []string {
	var out []string
	for _, m := range reBRL.FindAllStringSubmatch(text, -1) {
		out = append(out, strings.TrimRight(m[1], ".,"))
	}
	return out
}

// Equal compares two printed amounts numerically, falling back to the
// trimmed text when either side does not parse.
func Equal(a, b string) bool {
	da, errA := Parse(a)
	db, errB := Parse(b)
	if errA != nil || errB != nil {
		return strings.TrimSpace(a) == strings.TrimSpace(b)
	}
	return da.Equal(db)
}
