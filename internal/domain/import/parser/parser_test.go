package parser

import (
	"strings"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Tokenizer
// ============================================================================

func TestParseLine(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		delimiter rune
		want      []string
	}{
		{"simple comma", "a,b,c", ',', []string{"a", "b", "c"}},
		{"semicolon", "a;b;c", ';', []string{"a", "b", "c"}},
		{"tab", "a\tb\tc", '\t', []string{"a", "b", "c"}},
		{"quoted delimiter", `2024-01-15,"Groceries, food",12.50`, ',', []string{"2024-01-15", "Groceries, food", "12.50"}},
		{"doubled quote", `"say ""hi""",x`, ',', []string{`say "hi"`, "x"}},
		{"trims whitespace", "  a ,  b  ,c  ", ',', []string{"a", "b", "c"}},
		{"empty fields", ",,", ',', []string{"", "", ""}},
		{"empty line", "", ',', []string{""}},
		{"unterminated quote runs to end", `a,"b,c`, ',', []string{"a", "b,c"}},
		{"other delimiter is literal", "a,b;c", ';', []string{"a,b", "c"}},
		{"quote mid-field toggles", `ab"c,d"e`, ',', []string{"abc,de"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLine(tt.line, tt.delimiter))
		})
	}
}

func TestParseLine_RoundTrip(t *testing.T) {
	faker := gofakeit.New(42)
	pieces := []string{",", ";", `"`, " ", "\t"}

	for _, delim := range []rune{',', ';', '\t'} {
		for i := 0; i < 200; i++ {
			n := faker.Number(1, 6)
			fields := make([]string, n)
			for j := range fields {
				f := faker.Word()
				if faker.Bool() {
					f += pieces[faker.Number(0, len(pieces)-1)] + faker.Word()
				}
				fields[j] = strings.TrimSpace(f)
			}

			first := ParseLine(JoinLine(fields, delim), delim)
			require.Equal(t, fields, first)

			second := ParseLine(JoinLine(first, delim), delim)
			assert.Equal(t, first, second)
		}
	}
}

// ============================================================================
// Field parsers
// ============================================================================

func TestParseDate(t *testing.T) {
	tests := []struct {
		input string
		want  string
		ok    bool
	}{
		{"2024-01-15", "2024-01-15", true},
		{"01/15/2024", "2024-01-15", true},
		{"1/5/2024", "2024-01-05", true},
		{"15-01-2024", "2024-01-15", true},
		{"5-1-2024", "2024-01-05", true},
		{"  2024-12-31  ", "2024-12-31", true},
		{"2024-02-29", "2024-02-29", true},
		{"2023-02-29", "", false},
		{"2024-13-01", "", false},
		{"13/01/2024", "", false},
		{"01-13-2024", "", false},
		{"2024/01/15", "", false},
		{"15.01.2024", "", false},
		{"not-a-date", "", false},
		{"", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			got, ok := ParseDate(tc.input)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"dollar", "$100.50", "100.5", true},
		{"parentheses negative", "(50.00)", "-50", true},
		{"parentheses with symbol", "($1,234.50)", "-1234.5", true},
		{"plain integer", "100", "100", true},
		{"explicit negative", "-4.50", "-4.5", true},
		{"euro symbol", "€ 12.30", "12.3", true},
		{"pound suffix", "9.99£", "9.99", true},
		{"thousands", "1,234.56", "1234.56", true},
		{"thousands no decimals", "12,345,678", "12345678", true},
		{"high precision kept", "10.12345", "10.12345", true},
		{"leading dot", ".5", "0.5", true},
		{"zero", "0", "0", true},
		{"decimal comma rejected", "4,50", "", false},
		{"comma after dot rejected", "1.234,56", "", false},
		{"bad grouping rejected", "12,34.00", "", false},
		{"letters", "abc", "", false},
		{"empty", "", "", false},
		{"only symbol", "$", "", false},
		{"empty parentheses", "()", "", false},
		{"double sign in parentheses", "(-5)", "", false},
		{"exponent rejected", "1e5", "", false},
		{"trailing dot rejected", "5.", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ParseAmount(tc.input)
			require.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.True(t, decimal.RequireFromString(tc.want).Equal(got), "got %s", got)
			}
		})
	}
}
