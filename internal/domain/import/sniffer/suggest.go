package sniffer

import (
	"github.com/cloudflare/ahocorasick"
)

// Canonical expense fields a header can be mapped to.
const (
	FieldDate        = "date"
	FieldAmount      = "amount"
	FieldDescription = "description"
	FieldCategory    = "category"
)

// ColumnSuggestion maps each canonical field to the suggested source header.
// An empty string means no header matched.
type ColumnSuggestion struct {
	Date        string `json:"date"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// fieldKeywords lists the fields in claim order with the keywords that
// identify them inside a normalized header.
var fieldKeywords = []struct {
	field    string
	keywords []string
}{
	{FieldDate, []string{"date"}},
	{FieldAmount, []string{"amount", "total", "price", "value"}},
	{FieldDescription, []string{"description", "notes", "memo", "payee", "merchant", "details"}},
	{FieldCategory, []string{"category", "type"}},
}

// headerMatcher finds keyword hits in headers with a single Aho-Corasick pass.
type headerMatcher struct {
	matcher *ahocorasick.Matcher
	fieldOf []string // dictionary index -> field
}

var defaultMatcher = newHeaderMatcher()

func newHeaderMatcher() *headerMatcher {
	var dictionary []string
	var fieldOf []string
	for _, fk := range fieldKeywords {
		for _, kw := range fk.keywords {
			dictionary = append(dictionary, kw)
			fieldOf = append(fieldOf, fk.field)
		}
	}
	return &headerMatcher{
		matcher: ahocorasick.NewStringMatcher(dictionary),
		fieldOf: fieldOf,
	}
}

// fields returns the set of canonical fields whose keywords occur in header.
func (m *headerMatcher) fields(header string) map[string]bool {
	normalized := normalizeHeader(header)
	if normalized == "" {
		return nil
	}
	hits := m.matcher.MatchThreadSafe([]byte(normalized))
	if len(hits) == 0 {
		return nil
	}
	out := make(map[string]bool, len(hits))
	for _, idx := range hits {
		out[m.fieldOf[idx]] = true
	}
	return out
}

// suggest assigns headers to fields in field order. The first header (left to
// right) matching a field wins it, and a header is never assigned twice.
func (m *headerMatcher) suggest(headers []string) ColumnSuggestion {
	matches := make([]map[string]bool, len(headers))
	for i, h := range headers {
		matches[i] = m.fields(h)
	}

	claimed := make([]bool, len(headers))
	chosen := make(map[string]string, len(fieldKeywords))
	for _, fk := range fieldKeywords {
		for i, h := range headers {
			if claimed[i] || !matches[i][fk.field] {
				continue
			}
			chosen[fk.field] = h
			claimed[i] = true
			break
		}
	}

	return ColumnSuggestion{
		Date:        chosen[FieldDate],
		Amount:      chosen[FieldAmount],
		Description: chosen[FieldDescription],
		Category:    chosen[FieldCategory],
	}
}

// SuggestColumns returns the suggested mapping for a header row.
func SuggestColumns(headers []string) ColumnSuggestion {
	return defaultMatcher.suggest(headers)
}
