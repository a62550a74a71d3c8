// Package service runs the import session state machine: upload, column
// mapping, row review and the final commit of expenses.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/smart-expense-tracker/internal/domain/import/normalizer"
	"github.com/FACorreiaa/smart-expense-tracker/internal/domain/import/parser"
	"github.com/FACorreiaa/smart-expense-tracker/internal/domain/import/repository"
	"github.com/FACorreiaa/smart-expense-tracker/internal/domain/import/sniffer"
	"github.com/FACorreiaa/smart-expense-tracker/internal/domain/import/validator"
	"github.com/FACorreiaa/smart-expense-tracker/pkg/metrics"
	"github.com/FACorreiaa/smart-expense-tracker/pkg/money"
)

const tracerName = "github.com/FACorreiaa/smart-expense-tracker/internal/domain/import/service"

// RowUpdate carries per-field corrections for one row.
type RowUpdate = validator.RowUpdate

// Config holds the import settings.
type Config struct {
	CurrencyCode     string
	DefaultCategory  string
	SampleRows       int
	MaxDecimalPlaces int32
	MaxUploadBytes   int64
	CategoryAliases  map[string]string
}

// DefaultConfig returns the settings used when none are supplied.
func DefaultConfig() Config {
	return Config{
		CurrencyCode:    money.USD,
		DefaultCategory: "Other",
		SampleRows:      sniffer.DefaultSampleRows,
		MaxUploadBytes:  10 << 20,
		CategoryAliases: normalizer.DefaultAliases,
	}
}

// UploadResult is the session after upload plus the detected structure.
type UploadResult struct {
	Session   *repository.ImportSession `json:"session"`
	Structure *sniffer.Structure        `json:"structure"`
}

// MappingResult is the outcome of saving a column mapping.
type MappingResult struct {
	Session      *repository.ImportSession `json:"session"`
	ParsedRows   []repository.ParsedRow    `json:"parsedRows"`
	ValidCount   int                       `json:"validCount"`
	InvalidCount int                       `json:"invalidCount"`
}

// ConfirmResult is the outcome of a committed import.
type ConfirmResult struct {
	ImportedCount int                       `json:"importedCount"`
	SkippedCount  int                       `json:"skippedCount"`
	History       *repository.ImportHistory `json:"history"`
	Total         *money.Money              `json:"total"`
}

// ImportService orchestrates import sessions. It keeps no per-session state;
// requests for one user are expected to be serialized by the caller.
type ImportService struct {
	repo       repository.ImportRepository
	categories normalizer.CategoryLister // Optional: nil resolves no categories
	metrics    *metrics.Collector        // Optional
	logger     *slog.Logger
	tracer     trace.Tracer
	sniffer    *sniffer.Sniffer
	cfg        Config
	now        func() time.Time
}

// NewImportService creates a new import service
func NewImportService(repo repository.ImportRepository, logger *slog.Logger) *ImportService {
	cfg := DefaultConfig()
	return &ImportService{
		repo:    repo,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
		sniffer: sniffer.New(cfg.SampleRows),
		cfg:     cfg,
		now:     time.Now,
	}
}

// WithConfig replaces the import settings. Zero values fall back to defaults.
func (s *ImportService) WithConfig(cfg Config) *ImportService {
	def := DefaultConfig()
	if cfg.CurrencyCode == "" {
		cfg.CurrencyCode = def.CurrencyCode
	}
	if cfg.DefaultCategory == "" {
		cfg.DefaultCategory = def.DefaultCategory
	}
	if cfg.SampleRows <= 0 {
		cfg.SampleRows = def.SampleRows
	}
	if cfg.CategoryAliases == nil {
		cfg.CategoryAliases = def.CategoryAliases
	}
	s.cfg = cfg
	s.sniffer = sniffer.New(cfg.SampleRows)
	return s
}

// WithCategoryStore sets where categories are loaded from
func (s *ImportService) WithCategoryStore(categories normalizer.CategoryLister) *ImportService {
	s.categories = categories
	return s
}

// WithMetrics enables prometheus counters
func (s *ImportService) WithMetrics(m *metrics.Collector) *ImportService {
	s.metrics = m
	return s
}

// WithClock overrides the time source used for stale-session cutoffs.
func (s *ImportService) WithClock(now func() time.Time) *ImportService {
	s.now = now
	return s
}

// ============================================================================
// Sessions
// ============================================================================

// CreateSession cancels any active session of the user and starts a new one.
func (s *ImportService) CreateSession(ctx context.Context, userID uuid.UUID) (session *repository.ImportSession, err error) {
	ctx, done := s.begin(ctx, "create_session", userID)
	defer func() { done(err) }()

	session, err = s.repo.CreateSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create import session: %w", err)
	}
	s.metrics.SessionCreated()
	s.logger.Info("import session created", "userID", userID, "sessionID", session.ID)
	return session, nil
}

// GetActiveSession returns the user's non-terminal session, or nil.
func (s *ImportService) GetActiveSession(ctx context.Context, userID uuid.UUID) (*repository.ImportSession, error) {
	session, err := s.repo.GetActiveSession(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active session: %w", err)
	}
	return session, nil
}

// GetSession returns a session of the user, or nil.
func (s *ImportService) GetSession(ctx context.Context, sessionID, userID uuid.UUID) (*repository.ImportSession, error) {
	session, err := s.repo.GetSession(ctx, sessionID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// CancelSession cancels a non-terminal session. It returns false when the
// session had already finished.
func (s *ImportService) CancelSession(ctx context.Context, sessionID, userID uuid.UUID) (cancelled bool, err error) {
	ctx, done := s.begin(ctx, "cancel_session", userID)
	defer func() { done(err) }()

	cancelled, err = s.repo.CancelSession(ctx, sessionID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, ErrSessionNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to cancel session: %w", err)
	}
	if cancelled {
		s.logger.Info("import session cancelled", "userID", userID, "sessionID", sessionID)
	}
	return cancelled, nil
}

// CancelStaleSessions cancels sessions left untouched for longer than olderThan.
func (s *ImportService) CancelStaleSessions(ctx context.Context, olderThan time.Duration) (int, error) {
	n, err := s.repo.CancelStaleSessions(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to cancel stale sessions: %w", err)
	}
	s.metrics.StaleSessionsCancelled(n)
	if n > 0 {
		s.logger.Info("stale import sessions cancelled", "count", n, "olderThan", olderThan)
	}
	return n, nil
}

// ============================================================================
// Upload and mapping
// ============================================================================

// UploadCSV stores a file on the user's upload session and returns its
// detected structure. An active session still in upload is reused; otherwise
// a new one replaces whatever was active. A file that fails sniffing changes
// no existing session.
func (s *ImportService) UploadCSV(ctx context.Context, userID uuid.UUID, fileName, rawText string) (result *UploadResult, err error) {
	ctx, done := s.begin(ctx, "upload_csv", userID)
	defer func() { done(err) }()

	if s.cfg.MaxUploadBytes > 0 && int64(len(rawText)) > s.cfg.MaxUploadBytes {
		s.metrics.Upload(metrics.UploadTooLarge)
		return nil, ErrFileTooLarge
	}

	structure, sniffErr := s.sniffer.DetectStructure(rawText)
	if sniffErr != nil {
		s.metrics.Upload(metrics.UploadInvalid)
		if err := s.ensureSession(ctx, userID); err != nil {
			return nil, err
		}
		return nil, sniffErr
	}

	session, err := s.uploadSession(ctx, userID)
	if err != nil {
		return nil, err
	}

	size := int64(len(rawText))
	delimiter := structure.DelimiterString()
	session.RawCSVData = &rawText
	session.FileName = &fileName
	session.FileSize = &size
	session.Delimiter = &delimiter
	session.Status = repository.StatusMapping

	if err := s.repo.UpdateSession(ctx, session); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	s.metrics.Upload(metrics.UploadAccepted)
	s.logger.Info("csv uploaded",
		"userID", userID,
		"sessionID", session.ID,
		"fileName", fileName,
		"rows", structure.RowCount,
		"delimiter", delimiter,
		"fingerprint", structure.Fingerprint,
	)
	return &UploadResult{Session: session, Structure: structure}, nil
}

func (s *ImportService) uploadSession(ctx context.Context, userID uuid.UUID) (*repository.ImportSession, error) {
	session, err := s.repo.GetActiveSession(ctx, userID)
	switch {
	case err == nil && session.Status == repository.StatusUpload:
		return session, nil
	case err == nil, errors.Is(err, repository.ErrNotFound):
		session, err = s.repo.CreateSession(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to create import session: %w", err)
		}
		s.metrics.SessionCreated()
		return session, nil
	default:
		return nil, fmt.Errorf("failed to get active session: %w", err)
	}
}

// ensureSession leaves an existing active session alone and creates an
// upload session only when the user has none.
func (s *ImportService) ensureSession(ctx context.Context, userID uuid.UUID) error {
	_, err := s.repo.GetActiveSession(ctx, userID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("failed to get active session: %w", err)
	}
	if _, err := s.repo.CreateSession(ctx, userID); err != nil {
		return fmt.Errorf("failed to create import session: %w", err)
	}
	s.metrics.SessionCreated()
	return nil
}

// SaveMapping parses every data line under mapping and moves the session to
// preview. Any previous rows, including user edits, are replaced.
func (s *ImportService) SaveMapping(ctx context.Context, sessionID, userID uuid.UUID, mapping repository.ColumnMapping) (result *MappingResult, err error) {
	ctx, done := s.begin(ctx, "save_mapping", userID)
	defer func() { done(err) }()

	session, err := s.openSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session.RawCSVData == nil {
		return nil, ErrNoCSVData
	}

	lines := sniffer.Lines(*session.RawCSVData)
	if len(lines) == 0 {
		return nil, ErrNoCSVData
	}
	delimiter := sessionDelimiter(session, lines[0])
	headers := parser.ParseLine(lines[0], delimiter)
	headerIndex := indexHeaders(headers)

	if err := checkMapping(mapping, headerIndex); err != nil {
		return nil, err
	}

	v, err := s.validator(ctx, userID)
	if err != nil {
		return nil, err
	}

	rows := make([]repository.ParsedRow, 0, len(lines)-1)
	for i, line := range lines[1:] {
		rows = append(rows, v.ValidateRow(i, parser.ParseLine(line, delimiter), headerIndex, mapping))
	}

	counts := repository.CountRows(rows)
	session.ColumnMapping = &mapping
	session.ParsedRows = rows
	session.ValidRowCount = counts.Valid
	session.InvalidRowCount = counts.Invalid
	session.SkippedRowCount = counts.Skipped
	session.Status = repository.StatusPreview

	if err := s.saveSession(ctx, session); err != nil {
		return nil, err
	}

	s.metrics.RowsParsed(counts.Valid, counts.Invalid)
	s.logger.Info("column mapping saved",
		"userID", userID,
		"sessionID", session.ID,
		"rows", len(rows),
		"valid", counts.Valid,
		"invalid", counts.Invalid,
	)
	return &MappingResult{
		Session:      session,
		ParsedRows:   repository.CloneRows(rows),
		ValidCount:   counts.Valid,
		InvalidCount: counts.Invalid,
	}, nil
}

// ============================================================================
// Row review
// ============================================================================

// UpdateRow applies corrections to one row and revalidates it.
func (s *ImportService) UpdateRow(ctx context.Context, sessionID, userID uuid.UUID, rowIndex int, update RowUpdate) (row *repository.ParsedRow, err error) {
	ctx, done := s.begin(ctx, "update_row", userID)
	defer func() { done(err) }()

	session, idx, err := s.sessionRow(ctx, sessionID, userID, rowIndex)
	if err != nil {
		return nil, err
	}

	v, err := s.validator(ctx, userID)
	if err != nil {
		return nil, err
	}

	var mapping repository.ColumnMapping
	if session.ColumnMapping != nil {
		mapping = *session.ColumnMapping
	}
	session.ParsedRows[idx] = v.Revalidate(session.ParsedRows[idx], mapping, update)

	if err := s.saveRows(ctx, session); err != nil {
		return nil, err
	}
	updated := session.ParsedRows[idx].Clone()
	return &updated, nil
}

// SkipRow marks a row as skipped or not. Validation errors are kept.
func (s *ImportService) SkipRow(ctx context.Context, sessionID, userID uuid.UUID, rowIndex int, skip bool) (row *repository.ParsedRow, err error) {
	ctx, done := s.begin(ctx, "skip_row", userID)
	defer func() { done(err) }()

	session, idx, err := s.sessionRow(ctx, sessionID, userID, rowIndex)
	if err != nil {
		return nil, err
	}

	session.ParsedRows[idx].Skipped = skip
	if err := s.saveRows(ctx, session); err != nil {
		return nil, err
	}
	updated := session.ParsedRows[idx].Clone()
	return &updated, nil
}

// GetParsedRows returns the rows of a session. It never fails: a missing
// session, missing rows or a store error yield an empty slice.
func (s *ImportService) GetParsedRows(ctx context.Context, sessionID, userID uuid.UUID) []repository.ParsedRow {
	session, err := s.repo.GetSession(ctx, sessionID, userID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("failed to load parsed rows", "sessionID", sessionID, "error", err)
		}
		return []repository.ParsedRow{}
	}
	if session.ParsedRows == nil {
		return []repository.ParsedRow{}
	}
	return session.ParsedRows
}

// ============================================================================
// Commit
// ============================================================================

// ConfirmImport writes every importable row as an expense, completes the
// session and records history, all in one transaction. On failure the
// session stays in preview and the call can be retried.
func (s *ImportService) ConfirmImport(ctx context.Context, sessionID, userID uuid.UUID) (result *ConfirmResult, err error) {
	ctx, done := s.begin(ctx, "confirm_import", userID)
	defer func() { done(err) }()

	session, err := s.repo.GetSession(ctx, sessionID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session.Status != repository.StatusPreview {
		return nil, ErrNotInPreview
	}
	if session.ParsedRows == nil {
		return nil, ErrNoParsedRows
	}

	importable := make([]repository.ParsedRow, 0, len(session.ParsedRows))
	for _, r := range session.ParsedRows {
		if r.Importable() {
			importable = append(importable, r)
		}
	}
	if len(importable) == 0 {
		return nil, ErrNoValidRows
	}

	resolver, err := s.resolver(ctx, userID)
	if err != nil {
		return nil, err
	}
	var defaultCategory *uuid.UUID
	if c, ok := resolver.ByName(s.cfg.DefaultCategory); ok {
		defaultCategory = &c.ID
	}

	expenses, total, err := s.buildExpenses(session, importable, defaultCategory)
	if err != nil {
		return nil, err
	}

	totalRows := len(session.ParsedRows)
	notImported := totalRows - len(expenses)
	fileName := ""
	if session.FileName != nil {
		fileName = *session.FileName
	}
	history := &repository.ImportHistory{
		SessionID:    session.ID,
		UserID:       userID,
		FileName:     fileName,
		TotalRows:    totalRows,
		ImportedRows: len(expenses),
		SkippedRows:  notImported,
	}
	session.ImportedExpenseCount = len(expenses)
	session.SkippedRowCount = notImported

	if err := s.repo.CompleteImport(ctx, session, expenses, history); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrNotInPreview
		}
		return nil, fmt.Errorf("failed to complete import: %w", err)
	}

	s.metrics.ImportConfirmed(len(expenses), notImported)
	s.logger.Info("import confirmed",
		"userID", userID,
		"sessionID", session.ID,
		"imported", len(expenses),
		"skipped", notImported,
		"total", total.Display(),
		"currency", total.Currency(),
	)
	return &ConfirmResult{
		ImportedCount: len(expenses),
		SkippedCount:  notImported,
		History:       history,
		Total:         total,
	}, nil
}

func (s *ImportService) buildExpenses(session *repository.ImportSession, rows []repository.ParsedRow, defaultCategory *uuid.UUID) ([]repository.Expense, *money.Money, error) {
	expenses := make([]repository.Expense, 0, len(rows))
	total := money.New(0, s.cfg.CurrencyCode)
	sessionID := session.ID

	for _, r := range rows {
		if r.Date == nil || r.Amount == nil || r.Description == nil {
			return nil, nil, fmt.Errorf("failed to build expense: row %d is incomplete", r.RowIndex)
		}
		date, err := time.Parse(parser.ISODate, *r.Date)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse date of row %d: %w", r.RowIndex, err)
		}
		amount, err := money.NewFromDecimal(*r.Amount, s.cfg.CurrencyCode)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to convert amount of row %d: %w", r.RowIndex, err)
		}
		if total, err = total.Add(amount); err != nil {
			return nil, nil, fmt.Errorf("failed to sum amounts: %w", err)
		}

		categoryID := r.CategoryID
		if categoryID == nil {
			categoryID = defaultCategory
		}
		expenses = append(expenses, repository.Expense{
			ID:              uuid.New(),
			UserID:          session.UserID,
			CategoryID:      categoryID,
			AmountMinor:     amount.Amount(),
			CurrencyCode:    amount.Currency(),
			Description:     *r.Description,
			Date:            date,
			ImportSessionID: &sessionID,
		})
	}
	return expenses, total, nil
}

// ============================================================================
// History
// ============================================================================

// ListImportHistory returns the user's confirmed imports, newest first.
func (s *ImportService) ListImportHistory(ctx context.Context, userID uuid.UUID) ([]repository.ImportHistory, error) {
	history, err := s.repo.ListImportHistory(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list import history: %w", err)
	}
	return history, nil
}

// ExportHistoryCSV writes the user's import history to w as CSV.
func (s *ImportService) ExportHistoryCSV(ctx context.Context, userID uuid.UUID, w io.Writer) error {
	history, err := s.ListImportHistory(ctx, userID)
	if err != nil {
		return err
	}
	if err := gocsv.Marshal(&history, w); err != nil {
		return fmt.Errorf("failed to write history csv: %w", err)
	}
	return nil
}

// ============================================================================
// Helpers
// ============================================================================

// begin starts a span and a duration measurement for one operation. The
// returned func ends both and records err on the span.
func (s *ImportService) begin(ctx context.Context, operation string, userID uuid.UUID) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "ImportService."+operation,
		trace.WithAttributes(attribute.String("user.id", userID.String())))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		s.metrics.ObserveDuration(operation, start)
	}
}

// openSession loads a session that may still change.
func (s *ImportService) openSession(ctx context.Context, sessionID, userID uuid.UUID) (*repository.ImportSession, error) {
	session, err := s.repo.GetSession(ctx, sessionID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session.Status.IsTerminal() {
		return nil, ErrSessionClosed
	}
	return session, nil
}

func (s *ImportService) sessionRow(ctx context.Context, sessionID, userID uuid.UUID, rowIndex int) (*repository.ImportSession, int, error) {
	session, err := s.openSession(ctx, sessionID, userID)
	if err != nil {
		return nil, 0, err
	}
	if session.ParsedRows == nil {
		return nil, 0, ErrNoParsedRows
	}
	for i, r := range session.ParsedRows {
		if r.RowIndex == rowIndex {
			return session, i, nil
		}
	}
	return nil, 0, ErrRowNotFound
}

// saveRows refreshes the counters from the rows and persists the session.
func (s *ImportService) saveRows(ctx context.Context, session *repository.ImportSession) error {
	counts := repository.CountRows(session.ParsedRows)
	session.ValidRowCount = counts.Valid
	session.InvalidRowCount = counts.Invalid
	session.SkippedRowCount = counts.Skipped
	return s.saveSession(ctx, session)
}

func (s *ImportService) saveSession(ctx context.Context, session *repository.ImportSession) error {
	if err := s.repo.UpdateSession(ctx, session); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSessionClosed
		}
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

func (s *ImportService) resolver(ctx context.Context, userID uuid.UUID) (*normalizer.CategoryResolver, error) {
	var categories []normalizer.Category
	if s.categories != nil {
		var err error
		categories, err = s.categories.ListCategories(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to load categories: %w", err)
		}
	}
	return normalizer.NewCategoryResolver(categories, s.cfg.CategoryAliases), nil
}

func (s *ImportService) validator(ctx context.Context, userID uuid.UUID) (*validator.Validator, error) {
	resolver, err := s.resolver(ctx, userID)
	if err != nil {
		return nil, err
	}
	return validator.New(resolver, validator.Options{MaxDecimalPlaces: s.cfg.MaxDecimalPlaces}), nil
}

// sessionDelimiter returns the delimiter detected at upload, or detects it
// again from the header for sessions stored without one.
func sessionDelimiter(session *repository.ImportSession, header string) rune {
	if session.Delimiter != nil {
		if r, _ := utf8.DecodeRuneInString(*session.Delimiter); r != utf8.RuneError {
			return r
		}
	}
	return sniffer.DetectDelimiter(header)
}

// indexHeaders maps each header to its column. The first of duplicated
// headers wins.
func indexHeaders(headers []string) map[string]int {
	idx := make(map[string]int, len(headers))
	for i, h := range headers {
		if _, exists := idx[h]; !exists {
			idx[h] = i
		}
	}
	return idx
}

func checkMapping(mapping repository.ColumnMapping, headerIndex map[string]int) error {
	required := []struct {
		field, header string
	}{
		{sniffer.FieldDate, mapping.Date},
		{sniffer.FieldAmount, mapping.Amount},
		{sniffer.FieldDescription, mapping.Description},
	}
	for _, r := range required {
		if r.header == "" {
			return fmt.Errorf("%w: %s is not mapped", ErrInvalidMapping, r.field)
		}
		if _, ok := headerIndex[r.header]; !ok {
			return fmt.Errorf("%w: %s column %q not found", ErrInvalidMapping, r.field, r.header)
		}
	}
	if mapping.Category != "" {
		if _, ok := headerIndex[mapping.Category]; !ok {
			return fmt.Errorf("%w: %s column %q not found", ErrInvalidMapping, sniffer.FieldCategory, mapping.Category)
		}
	}
	return nil
}
