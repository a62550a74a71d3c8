// Package validator turns tokenized CSV lines into ParsedRows and re-checks
// rows after user edits.
package validator

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/smart-expense-tracker/internal/domain/import/normalizer"
	"github.com/FACorreiaa/smart-expense-tracker/internal/domain/import/parser"
	"github.com/FACorreiaa/smart-expense-tracker/internal/domain/import/repository"
	"github.com/FACorreiaa/smart-expense-tracker/internal/domain/import/sniffer"
)

// Field error messages.
const (
	MsgDateRequired        = "date is required"
	MsgDateInvalid         = "date is invalid"
	MsgAmountRequired      = "amount is required"
	MsgAmountInvalid       = "amount is invalid"
	MsgAmountNotPositive   = "amount must be greater than zero"
	MsgDescriptionRequired = "description is required"
)

// Options tune the semantic rules.
type Options struct {
	// MaxDecimalPlaces rejects amounts with more fractional digits.
	// Zero means unlimited.
	MaxDecimalPlaces int32
}

// RowUpdate carries user corrections. Nil fields are left as they are.
type RowUpdate struct {
	Date        *string `json:"date,omitempty"`
	Amount      *string `json:"amount,omitempty"`
	Description *string `json:"description,omitempty"`
	Category    *string `json:"category,omitempty"`
}

// Validator applies the field rules. It holds no mutable state.
type Validator struct {
	resolver *normalizer.CategoryResolver
	opts     Options
}

// New creates a validator. A nil resolver resolves no categories.
func New(resolver *normalizer.CategoryResolver, opts Options) *Validator {
	if resolver == nil {
		resolver = normalizer.NewCategoryResolver(nil, nil)
	}
	return &Validator{resolver: resolver, opts: opts}
}

// rawRow holds the untrimmed input of each canonical field.
type rawRow struct {
	date, amount, description, category string
	hasCategory                         bool
}

// ValidateRow builds the ParsedRow for one data line. Fields missing from a
// short line are treated as empty.
func (v *Validator) ValidateRow(rowIndex int, fields []string, headerIndex map[string]int, mapping repository.ColumnMapping) repository.ParsedRow {
	value := func(header string) string {
		idx, ok := headerIndex[header]
		if !ok || idx >= len(fields) {
			return ""
		}
		return fields[idx]
	}

	original := make(map[string]string, len(headerIndex))
	for header := range headerIndex {
		original[header] = value(header)
	}

	row := repository.ParsedRow{
		RowIndex:     rowIndex,
		OriginalData: original,
	}
	in := rawRow{
		date:        value(mapping.Date),
		amount:      value(mapping.Amount),
		description: value(mapping.Description),
	}
	if mapping.Category != "" {
		in.category = value(mapping.Category)
		in.hasCategory = true
	}
	v.apply(&row, in)
	return row
}

// Revalidate applies update to row and re-runs every field rule. The input of
// a field not being updated is its current parsed value, or the original cell
// when it never parsed. A category set by an earlier edit is kept even when
// no column is mapped to it. Skipped is preserved.
func (v *Validator) Revalidate(row repository.ParsedRow, mapping repository.ColumnMapping, update RowUpdate) repository.ParsedRow {
	out := row.Clone()

	in := rawRow{
		date:        currentString(row.Date, row.OriginalData, mapping.Date),
		amount:      currentAmount(row.Amount, row.OriginalData, mapping.Amount),
		description: currentString(row.Description, row.OriginalData, mapping.Description),
	}
	if mapping.Category != "" || row.Category != nil {
		in.category = currentString(row.Category, row.OriginalData, mapping.Category)
		in.hasCategory = true
	}

	if update.Date != nil {
		in.date = *update.Date
	}
	if update.Amount != nil {
		in.amount = *update.Amount
	}
	if update.Description != nil {
		in.description = *update.Description
	}
	if update.Category != nil {
		in.category = *update.Category
		in.hasCategory = true
	}

	v.apply(&out, in)
	return out
}

func (v *Validator) apply(row *repository.ParsedRow, in rawRow) {
	row.Date = nil
	row.Amount = nil
	row.Description = nil
	row.Category = nil
	row.CategoryID = nil
	row.Errors = []repository.FieldError{}

	if msg := v.checkDate(row, in.date); msg != "" {
		row.Errors = append(row.Errors, repository.FieldError{Field: sniffer.FieldDate, Message: msg})
	}
	if msg := v.checkAmount(row, in.amount); msg != "" {
		row.Errors = append(row.Errors, repository.FieldError{Field: sniffer.FieldAmount, Message: msg})
	}
	if desc := strings.TrimSpace(in.description); desc == "" {
		row.Errors = append(row.Errors, repository.FieldError{Field: sniffer.FieldDescription, Message: MsgDescriptionRequired})
	} else {
		row.Description = &desc
	}
	if in.hasCategory {
		v.resolveCategory(row, in.category)
	}
}

func (v *Validator) checkDate(row *repository.ParsedRow, raw string) string {
	if strings.TrimSpace(raw) == "" {
		return MsgDateRequired
	}
	iso, ok := parser.ParseDate(raw)
	if !ok {
		return MsgDateInvalid
	}
	row.Date = &iso
	return ""
}

func (v *Validator) checkAmount(row *repository.ParsedRow, raw string) string {
	if strings.TrimSpace(raw) == "" {
		return MsgAmountRequired
	}
	amount, ok := parser.ParseAmount(raw)
	if !ok {
		return MsgAmountInvalid
	}
	row.Amount = &amount
	if !amount.IsPositive() {
		return MsgAmountNotPositive
	}
	if places := v.opts.MaxDecimalPlaces; places > 0 && !amount.Equal(amount.Truncate(places)) {
		return fmt.Sprintf("amount has more than %d decimal places", places)
	}
	return ""
}

// resolveCategory never records an error; unresolved text leaves the row
// uncategorized.
func (v *Validator) resolveCategory(row *repository.ParsedRow, raw string) {
	c, ok := v.resolver.Resolve(raw)
	if !ok {
		return
	}
	name, id := c.Name, c.ID
	row.Category = &name
	row.CategoryID = &id
}

func currentString(current *string, original map[string]string, header string) string {
	if current != nil {
		return *current
	}
	return original[header]
}

func currentAmount(current *decimal.Decimal, original map[string]string, header string) string {
	if current != nil {
		return current.String()
	}
	return original[header]
}
