package service

import (
	"errors"

	"github.com/FACorreiaa/smart-expense-tracker/internal/domain/import/sniffer"
)

var (
	ErrInvalidCSV      = sniffer.ErrInvalidCSV
	ErrSessionNotFound = errors.New("import session not found")
	ErrNoCSVData       = errors.New("import session has no uploaded csv data")
	ErrNoParsedRows    = errors.New("import session has no parsed rows")
	ErrRowNotFound     = errors.New("row not found")
	ErrNotInPreview    = errors.New("import session is not in preview")
	ErrNoValidRows     = errors.New("no valid rows to import")

	// ErrSessionClosed is returned when a completed or cancelled session is modified.
	ErrSessionClosed = errors.New("import session is closed")
	// ErrInvalidMapping is returned when a required field is unmapped or
	// names a column the file does not have.
	ErrInvalidMapping = errors.New("invalid column mapping")
	ErrFileTooLarge   = errors.New("file exceeds the upload size limit")
)
