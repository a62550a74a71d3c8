// Package fixtures generates realistic expense CSV files for tests and
// benchmarks of the import pipeline.
package fixtures

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/gocarina/gocsv"
)

// Row is one line of a generated expense export.
type Row struct {
	Date        string `csv:"Date"`
	Amount      string `csv:"Amount"`
	Description string `csv:"Description"`
	Category    string `csv:"Category"`
}

// Generator produces expense rows using gofakeit.
type Generator struct {
	faker *gofakeit.Faker
	now   time.Time
}

// NewGenerator creates a generator with a random seed.
func NewGenerator() *Generator {
	return NewGeneratorWithSeed(0)
}

// NewGeneratorWithSeed creates a generator with a specific seed for reproducibility.
func NewGeneratorWithSeed(seed int64) *Generator {
	return &Generator{
		faker: gofakeit.New(seed),
		now:   time.Date(2024, time.June, 30, 0, 0, 0, 0, time.UTC),
	}
}

// ============================================================================
// Row generation
// ============================================================================

// Row generates a single valid expense row. Dates rotate through every
// supported layout and amounts through every supported money notation.
func (g *Generator) Row() Row {
	date := g.faker.DateRange(g.now.AddDate(-1, 0, 0), g.now)

	var dateStr string
	switch g.faker.Number(0, 2) {
	case 0:
		dateStr = date.Format("2006-01-02")
	case 1:
		dateStr = date.Format("01/02/2006")
	default:
		dateStr = date.Format("02-01-2006")
	}

	cents := int64(g.faker.Number(1, 250000))
	var amount string
	switch g.faker.Number(0, 2) {
	case 0:
		amount = fmt.Sprintf("%d.%02d", cents/100, cents%100)
	case 1:
		amount = fmt.Sprintf("$%d.%02d", cents/100, cents%100)
	default:
		amount = groupThousands(cents/100) + fmt.Sprintf(".%02d", cents%100)
	}

	return Row{
		Date:        dateStr,
		Amount:      amount,
		Description: g.Description(),
		Category:    g.Category(),
	}
}

// Rows generates n valid rows.
func (g *Generator) Rows(n int) []Row {
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = g.Row()
	}
	return rows
}

// InvalidRow generates a row that fails validation on at least one field.
func (g *Generator) InvalidRow() Row {
	row := g.Row()
	switch g.faker.Number(0, 3) {
	case 0:
		row.Date = g.faker.Word()
	case 1:
		row.Amount = g.faker.Word()
	case 2:
		row.Amount = "0.00"
	default:
		row.Description = ""
	}
	return row
}

// Description returns a merchant-flavoured description, sometimes with a
// comma so the output exercises quoting.
func (g *Generator) Description() string {
	desc := descriptions[g.faker.Number(0, len(descriptions)-1)]
	if g.faker.Bool() {
		desc = merchants[g.faker.Number(0, len(merchants)-1)] + ", " + desc
	}
	return desc
}

// Category returns a category label, either a canonical name or an alias.
func (g *Generator) Category() string {
	return categories[g.faker.Number(0, len(categories)-1)]
}

// ============================================================================
// Encoding
// ============================================================================

// CSV encodes rows with a header line using the given delimiter.
func CSV(rows []Row, delimiter rune) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = delimiter

	if err := gocsv.MarshalCSV(&rows, gocsv.NewSafeCSVWriter(w)); err != nil {
		return "", fmt.Errorf("failed to encode fixture rows: %w", err)
	}
	return buf.String(), nil
}

// MustCSV is CSV for tests that cannot recover from an encoding failure.
func MustCSV(rows []Row, delimiter rune) string {
	out, err := CSV(rows, delimiter)
	if err != nil {
		panic(err)
	}
	return out
}

func groupThousands(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var out []byte
	lead := len(s) % 3
	if lead > 0 {
		out = append(out, s[:lead]...)
	}
	for i := lead; i < len(s); i += 3 {
		if len(out) > 0 {
			out = append(out, ',')
		}
		out = append(out, s[i:i+3]...)
	}
	return string(out)
}

var categories = []string{
	"Food", "Groceries", "Transport", "Transportation", "Shopping",
	"Entertainment", "Utilities", "Bills", "Health", "Travel",
	"Other", "Misc",
}

var merchants = []string{
	"Amazon", "Walmart", "Target", "Costco", "Starbucks",
	"Uber", "Netflix", "Spotify", "Whole Foods", "Trader Joe's",
	"CVS Pharmacy", "Shell", "Home Depot", "IKEA",
}

var descriptions = []string{
	"Coffee and pastry",
	"Weekly groceries",
	"Gas station fill-up",
	"Online subscription",
	"Restaurant dinner",
	"Utility bill payment",
	"Office supplies",
	"Gym membership",
	"Phone bill",
	"Parking fee",
	"Public transit",
	"Movie tickets",
	`The "good" sandwich`,
}
