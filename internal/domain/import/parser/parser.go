// Package parser provides the low-level building blocks for CSV imports:
// a quote-aware line tokenizer and tolerant date and amount parsers.
package parser

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// ISODate is the canonical layout for parsed dates.
const ISODate = "2006-01-02"

// dateLayout pairs a shape check with the layout used to validate it.
// Shapes are disjoint by separator so an input only ever matches one.
type dateLayout struct {
	shape  *regexp.Regexp
	layout string
}

// YYYY-MM-DD, MM/DD/YYYY, DD-MM-YYYY
var dateLayouts = []dateLayout{
	{shape: regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`), layout: ISODate},
	{shape: regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{4}$`), layout: "1/2/2006"},
	{shape: regexp.MustCompile(`^\d{1,2}-\d{1,2}-\d{4}$`), layout: "2-1-2006"},
}

var (
	thousandsGrouped = regexp.MustCompile(`^\d{1,3}(,\d{3})+(\.\d+)?$`)
	plainDecimal     = regexp.MustCompile(`^[+-]?(\d+(\.\d+)?|\.\d+)$`)
)

// ParseDate parses raw into an ISO YYYY-MM-DD string.
// It accepts YYYY-MM-DD, MM/DD/YYYY and DD-MM-YYYY, in that order, and
// reports false when nothing matches or the date does not exist.
func ParseDate(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}

	for _, dl := range dateLayouts {
		if !dl.shape.MatchString(s) {
			continue
		}
		t, err := time.Parse(dl.layout, s)
		if err != nil {
			return "", false
		}
		return t.Format(ISODate), true
	}

	return "", false
}

// ParseAmount parses a money string into a decimal.
//
// Currency symbols and whitespace are stripped, a value wrapped in
// parentheses is negative, and comma thousands separators are removed when
// they cannot be read as a decimal separator. Precision is never reduced.
func ParseAmount(raw string) (decimal.Decimal, bool) {
	s := strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Sc, r) || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw)
	if s == "" {
		return decimal.Zero, false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
		if s == "" || s[0] == '-' || s[0] == '+' {
			return decimal.Zero, false
		}
	}

	s, ok := stripThousands(s)
	if !ok || !plainDecimal.MatchString(s) {
		return decimal.Zero, false
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if negative {
		d = d.Neg()
	}
	return d, true
}

// stripThousands removes comma grouping when it is unambiguous.
func stripThousands(s string) (string, bool) {
	if !strings.Contains(s, ",") {
		return s, true
	}

	sign := ""
	if s[0] == '-' || s[0] == '+' {
		sign, s = s[:1], s[1:]
	}

	// 1,234.56 and 1,234: commas must form groups of three before any dot.
	if !thousandsGrouped.MatchString(s) {
		return "", false
	}
	return sign + strings.ReplaceAll(s, ",", ""), true
}
