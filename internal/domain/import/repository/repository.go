// Package repository provides data access for import sessions, import
// history and the expenses created by a confirmed import.
package repository

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a session does not exist, belongs to
	// another user, or is no longer in a writable state.
	ErrNotFound = errors.New("import session not found")
	// ErrConflict is returned when a conditional write loses to a concurrent one.
	ErrConflict = errors.New("import session was modified concurrently")
)

// SessionStatus represents the lifecycle state of an import session
type SessionStatus string

const (
	StatusUpload    SessionStatus = "upload"
	StatusMapping   SessionStatus = "mapping"
	StatusPreview   SessionStatus = "preview"
	StatusCompleted SessionStatus = "completed"
	StatusCancelled SessionStatus = "cancelled"
)

// ActiveStatuses are the non-terminal states. A user has at most one
// session in any of them.
var ActiveStatuses = []SessionStatus{StatusUpload, StatusMapping, StatusPreview}

// IsTerminal reports whether the session can no longer change.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ColumnMapping maps canonical fields to source header names.
type ColumnMapping struct {
	Date        string `json:"date"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
}

// FieldError is a validation problem on one field of a parsed row.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ParsedRow is one data line after mapping and validation.
// Nil value fields mean the value is absent or failed to parse.
type ParsedRow struct {
	RowIndex     int               `json:"rowIndex"`
	OriginalData map[string]string `json:"originalData"`
	Date         *string           `json:"date"`
	Amount       *decimal.Decimal  `json:"amount"`
	Description  *string           `json:"description"`
	Category     *string           `json:"category"`
	CategoryID   *uuid.UUID        `json:"categoryId"`
	Errors       []FieldError      `json:"errors"`
	Skipped      bool              `json:"skipped"`
}

// Importable reports whether the row will be written on confirm.
func (r ParsedRow) Importable() bool {
	return len(r.Errors) == 0 && !r.Skipped
}

// HasError reports whether the row carries an error for field.
func (r ParsedRow) HasError(field string) bool {
	for _, e := range r.Errors {
		if e.Field == field {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the row.
func (r ParsedRow) Clone() ParsedRow {
	out := r
	out.OriginalData = maps.Clone(r.OriginalData)
	out.Errors = slices.Clone(r.Errors)
	if out.Errors == nil {
		out.Errors = []FieldError{}
	}
	if r.Date != nil {
		v := *r.Date
		out.Date = &v
	}
	if r.Amount != nil {
		v := *r.Amount
		out.Amount = &v
	}
	if r.Description != nil {
		v := *r.Description
		out.Description = &v
	}
	if r.Category != nil {
		v := *r.Category
		out.Category = &v
	}
	if r.CategoryID != nil {
		v := *r.CategoryID
		out.CategoryID = &v
	}
	return out
}

// CloneRows deep-copies a row slice, preserving nil.
func CloneRows(rows []ParsedRow) []ParsedRow {
	if rows == nil {
		return nil
	}
	out := make([]ParsedRow, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}

// RowCounts summarizes a row set. Valid and Invalid partition the rows by
// validation result; Skipped counts user-skipped rows of either kind.
type RowCounts struct {
	Valid      int
	Invalid    int
	Skipped    int
	Importable int
}

// CountRows computes the counters for a row set.
func CountRows(rows []ParsedRow) RowCounts {
	var c RowCounts
	for _, r := range rows {
		if len(r.Errors) == 0 {
			c.Valid++
		} else {
			c.Invalid++
		}
		if r.Skipped {
			c.Skipped++
		}
		if r.Importable() {
			c.Importable++
		}
	}
	return c
}

// ImportSession is one import attempt. Terminal sessions are kept as history.
type ImportSession struct {
	ID                   uuid.UUID      `json:"id"`
	UserID               uuid.UUID      `json:"userId"`
	Status               SessionStatus  `json:"status"`
	FileName             *string        `json:"fileName"`
	FileSize             *int64         `json:"fileSize"`
	RawCSVData           *string        `json:"-"`
	Delimiter            *string        `json:"delimiter"`
	ColumnMapping        *ColumnMapping `json:"columnMapping"`
	ParsedRows           []ParsedRow    `json:"-"`
	ValidRowCount        int            `json:"validRowCount"`
	InvalidRowCount      int            `json:"invalidRowCount"`
	SkippedRowCount      int            `json:"skippedRowCount"`
	ImportedExpenseCount int            `json:"importedExpenseCount"`
	CreatedAt            time.Time      `json:"createdAt"`
	UpdatedAt            time.Time      `json:"updatedAt"`
}

// Clone returns a deep copy of the session.
func (s *ImportSession) Clone() *ImportSession {
	if s == nil {
		return nil
	}
	out := *s
	if s.FileName != nil {
		v := *s.FileName
		out.FileName = &v
	}
	if s.FileSize != nil {
		v := *s.FileSize
		out.FileSize = &v
	}
	if s.RawCSVData != nil {
		v := *s.RawCSVData
		out.RawCSVData = &v
	}
	if s.Delimiter != nil {
		v := *s.Delimiter
		out.Delimiter = &v
	}
	if s.ColumnMapping != nil {
		v := *s.ColumnMapping
		out.ColumnMapping = &v
	}
	out.ParsedRows = CloneRows(s.ParsedRows)
	return &out
}

// ImportHistory is the immutable audit record of a confirmed import.
type ImportHistory struct {
	ID           uuid.UUID `json:"id" csv:"id"`
	SessionID    uuid.UUID `json:"sessionId" csv:"session_id"`
	UserID       uuid.UUID `json:"userId" csv:"-"`
	FileName     string    `json:"fileName" csv:"file_name"`
	TotalRows    int       `json:"totalRows" csv:"total_rows"`
	ImportedRows int       `json:"importedRows" csv:"imported_rows"`
	SkippedRows  int       `json:"skippedRows" csv:"skipped_rows"`
	CreatedAt    time.Time `json:"createdAt" csv:"created_at"`
}

// Expense is a committed expense created from an imported row.
type Expense struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	CategoryID      *uuid.UUID
	AmountMinor     int64
	CurrencyCode    string
	Description     string
	Date            time.Time
	ImportSessionID *uuid.UUID
	CreatedAt       time.Time
}

// ImportRepository defines data access operations for import sessions
type ImportRepository interface {
	// Sessions
	CreateSession(ctx context.Context, userID uuid.UUID) (*ImportSession, error)
	GetActiveSession(ctx context.Context, userID uuid.UUID) (*ImportSession, error)
	GetSession(ctx context.Context, sessionID, userID uuid.UUID) (*ImportSession, error)
	UpdateSession(ctx context.Context, session *ImportSession) error
	CancelSession(ctx context.Context, sessionID, userID uuid.UUID) (bool, error)
	CancelStaleSessions(ctx context.Context, before time.Time) (int, error)

	// Commit
	CompleteImport(ctx context.Context, session *ImportSession, expenses []Expense, history *ImportHistory) error

	// History
	ListImportHistory(ctx context.Context, userID uuid.UUID) ([]ImportHistory, error)
}
