package parser

import (
	"strings"
)

// ParseLine splits a single CSV line into trimmed fields.
//
// Quotes toggle quoting; a doubled quote inside a quoted section yields a
// literal quote. The delimiter only separates fields outside quotes. The
// tokenizer never fails: an unterminated quote runs to the end of the line.
func ParseLine(line string, delimiter rune) []string {
	fields := make([]string, 0, 8)
	var current strings.Builder
	inQuotes := false

	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"':
			if inQuotes && i+1 < len(runes) && runes[i+1] == '"' {
				current.WriteRune('"')
				i++
				continue
			}
			inQuotes = !inQuotes
		case r == delimiter && !inQuotes:
			fields = append(fields, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	fields = append(fields, strings.TrimSpace(current.String()))

	return fields
}

// JoinLine is the inverse of ParseLine for well-formed fields. Fields that
// contain the delimiter, a quote, or surrounding whitespace are quoted.
func JoinLine(fields []string, delimiter rune) string {
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteRune(delimiter)
		}
		if needsQuoting(f, delimiter) {
			b.WriteByte('"')
			b.WriteString(strings.ReplaceAll(f, `"`, `""`))
			b.WriteByte('"')
			continue
		}
		b.WriteString(f)
	}
	return b.String()
}

func needsQuoting(field string, delimiter rune) bool {
	if field == "" {
		return false
	}
	if strings.ContainsRune(field, delimiter) || strings.ContainsRune(field, '"') {
		return true
	}
	return strings.TrimSpace(field) != field
}
