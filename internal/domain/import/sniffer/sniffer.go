// Package sniffer infers the structure of an uploaded CSV file.
// It identifies the delimiter, the header row, and suggests which headers
// map to the canonical expense fields.
package sniffer

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"unicode"

	"github.com/FACorreiaa/smart-expense-tracker/internal/domain/import/parser"
)

// DefaultSampleRows is the number of leading data rows returned for preview.
const DefaultSampleRows = 5

var ErrInvalidCSV = errors.New("csv must contain a header row and at least one data row")

// Structure holds the detected layout of a CSV file.
type Structure struct {
	Headers          []string         `json:"headers"`
	Delimiter        rune             `json:"-"`
	RowCount         int              `json:"rowCount"`
	SampleRows       [][]string       `json:"sampleRows"`
	SuggestedMapping ColumnSuggestion `json:"suggestedMapping"`
	Fingerprint      string           `json:"fingerprint"`
}

// DelimiterString returns the delimiter as a one-character string.
func (s *Structure) DelimiterString() string {
	return string(s.Delimiter)
}

// Sniffer detects file structure. The zero value is not usable; call New.
type Sniffer struct {
	matcher    *headerMatcher
	sampleRows int
}

// New creates a sniffer returning up to sampleRows preview rows.
// Values below 1 fall back to DefaultSampleRows.
func New(sampleRows int) *Sniffer {
	if sampleRows < 1 {
		sampleRows = DefaultSampleRows
	}
	return &Sniffer{
		matcher:    defaultMatcher,
		sampleRows: sampleRows,
	}
}

// DetectStructure analyzes raw CSV text with the default sample size.
func DetectStructure(raw string) (*Structure, error) {
	return defaultSniffer.DetectStructure(raw)
}

var defaultSniffer = New(DefaultSampleRows)

// DetectStructure analyzes raw CSV text.
func (s *Sniffer) DetectStructure(raw string) (*Structure, error) {
	lines := Lines(raw)
	if len(lines) < 2 {
		return nil, ErrInvalidCSV
	}

	delimiter := DetectDelimiter(lines[0])
	headers := parser.ParseLine(lines[0], delimiter)
	data := lines[1:]

	n := min(s.sampleRows, len(data))
	samples := make([][]string, 0, n)
	for _, line := range data[:n] {
		samples = append(samples, parser.ParseLine(line, delimiter))
	}

	return &Structure{
		Headers:          headers,
		Delimiter:        delimiter,
		RowCount:         len(data),
		SampleRows:       samples,
		SuggestedMapping: s.matcher.suggest(headers),
		Fingerprint:      generateFingerprint(headers),
	}, nil
}

// Lines normalizes line endings, strips a UTF-8 BOM and returns the
// non-blank lines of raw. The first element is the header line.
func Lines(raw string) []string {
	raw = strings.TrimPrefix(raw, "\uFEFF")
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\r", "\n")

	parts := strings.Split(raw, "\n")
	lines := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		lines = append(lines, p)
	}
	return lines
}

// candidateDelimiters is ordered by tie-break priority.
var candidateDelimiters = []rune{',', ';', '\t'}

// DetectDelimiter picks the most frequent candidate in the header line.
// Ties go to the earlier candidate, so a line without any candidate yields a comma.
func DetectDelimiter(header string) rune {
	best := candidateDelimiters[0]
	bestCount := 0
	for _, d := range candidateDelimiters {
		count := strings.Count(header, string(d))
		if count > bestCount {
			best = d
			bestCount = count
		}
	}
	return best
}

// normalizeHeader lowercases and keeps only letters and digits.
func normalizeHeader(h string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, h)
}

// generateFingerprint creates a stable hash from header names
func generateFingerprint(headers []string) string {
	normalized := make([]string, 0, len(headers))
	for _, h := range headers {
		if clean := normalizeHeader(h); clean != "" {
			normalized = append(normalized, clean)
		}
	}

	hash := sha256.Sum256([]byte(strings.Join(normalized, "|")))
	return hex.EncodeToString(hash[:])
}
