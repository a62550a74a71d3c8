package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool used by the repository. pgxmock pools
// satisfy it as well.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const uniqueViolation = "23505"

const sessionColumns = `id, user_id, status, file_name, file_size, raw_csv_data, delimiter,
		column_mapping, parsed_rows, valid_row_count, invalid_row_count,
		skipped_row_count, imported_expense_count, created_at, updated_at`

// PostgresImportRepository implements ImportRepository using PostgreSQL
type PostgresImportRepository struct {
	db DB
}

// NewPostgresImportRepository creates a new PostgreSQL import repository
func NewPostgresImportRepository(db DB) *PostgresImportRepository {
	return &PostgresImportRepository{db: db}
}

// CreateSession cancels any active session of the user and inserts a new one
// in the upload state, in one transaction.
func (r *PostgresImportRepository) CreateSession(ctx context.Context, userID uuid.UUID) (*ImportSession, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	cancelQuery := `
		UPDATE import_sessions
		SET status = 'cancelled', updated_at = now()
		WHERE user_id = $1 AND status IN ('upload', 'mapping', 'preview')`
	if _, err := tx.Exec(ctx, cancelQuery, userID); err != nil {
		return nil, fmt.Errorf("failed to cancel active sessions: %w", err)
	}

	session := &ImportSession{
		ID:     uuid.New(),
		UserID: userID,
		Status: StatusUpload,
	}

	insertQuery := `
		INSERT INTO import_sessions (id, user_id, status)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at`
	err = tx.QueryRow(ctx, insertQuery, session.ID, session.UserID, string(session.Status)).
		Scan(&session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit session: %w", err)
	}
	return session, nil
}

// GetActiveSession returns the user's non-terminal session
func (r *PostgresImportRepository) GetActiveSession(ctx context.Context, userID uuid.UUID) (*ImportSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM import_sessions
		WHERE user_id = $1 AND status IN ('upload', 'mapping', 'preview')
		ORDER BY created_at DESC
		LIMIT 1`

	session, err := scanSession(r.db.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active session: %w", err)
	}
	return session, nil
}

// GetSession retrieves a session owned by the user
func (r *PostgresImportRepository) GetSession(ctx context.Context, sessionID, userID uuid.UUID) (*ImportSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM import_sessions
		WHERE id = $1 AND user_id = $2`

	session, err := scanSession(r.db.QueryRow(ctx, query, sessionID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// UpdateSession writes the mutable state of a non-terminal session.
// The raw CSV text is write-once.
func (r *PostgresImportRepository) UpdateSession(ctx context.Context, session *ImportSession) error {
	mappingJSON, rowsJSON, err := encodeSessionJSON(session)
	if err != nil {
		return err
	}

	query := `
		UPDATE import_sessions
		SET status = $3,
			file_name = $4,
			file_size = $5,
			raw_csv_data = COALESCE(raw_csv_data, $6),
			delimiter = $7,
			column_mapping = $8,
			parsed_rows = $9,
			valid_row_count = $10,
			invalid_row_count = $11,
			skipped_row_count = $12,
			updated_at = now()
		WHERE id = $1 AND user_id = $2 AND status IN ('upload', 'mapping', 'preview')
		RETURNING updated_at`

	err = r.db.QueryRow(ctx, query,
		session.ID,
		session.UserID,
		string(session.Status),
		session.FileName,
		session.FileSize,
		session.RawCSVData,
		session.Delimiter,
		mappingJSON,
		rowsJSON,
		session.ValidRowCount,
		session.InvalidRowCount,
		session.SkippedRowCount,
	).Scan(&session.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

// CancelSession moves a non-terminal session to cancelled. It reports false
// when the session was already terminal.
func (r *PostgresImportRepository) CancelSession(ctx context.Context, sessionID, userID uuid.UUID) (bool, error) {
	query := `
		UPDATE import_sessions
		SET status = 'cancelled', updated_at = now()
		WHERE id = $1 AND user_id = $2 AND status IN ('upload', 'mapping', 'preview')`

	result, err := r.db.Exec(ctx, query, sessionID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to cancel session: %w", err)
	}
	if result.RowsAffected() > 0 {
		return true, nil
	}

	var status string
	err = r.db.QueryRow(ctx, `SELECT status FROM import_sessions WHERE id = $1 AND user_id = $2`, sessionID, userID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to get session status: %w", err)
	}
	return false, nil
}

// CancelStaleSessions cancels active sessions last touched before the cutoff
func (r *PostgresImportRepository) CancelStaleSessions(ctx context.Context, before time.Time) (int, error) {
	query := `
		UPDATE import_sessions
		SET status = 'cancelled', updated_at = now()
		WHERE status IN ('upload', 'mapping', 'preview') AND updated_at < $1`

	result, err := r.db.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel stale sessions: %w", err)
	}
	return int(result.RowsAffected()), nil
}

// CompleteImport inserts the expenses, completes the session and records the
// history entry atomically. Nothing is written unless the session is still
// in preview.
func (r *PostgresImportRepository) CompleteImport(ctx context.Context, session *ImportSession, expenses []Expense, history *ImportHistory) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	completeQuery := `
		UPDATE import_sessions
		SET status = 'completed',
			imported_expense_count = $3,
			skipped_row_count = $4,
			updated_at = now()
		WHERE id = $1 AND user_id = $2 AND status = 'preview'
		RETURNING updated_at`

	var updatedAt time.Time
	err = tx.QueryRow(ctx, completeQuery,
		session.ID,
		session.UserID,
		session.ImportedExpenseCount,
		session.SkippedRowCount,
	).Scan(&updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to complete session: %w", err)
	}

	for i := range expenses {
		if expenses[i].ID == uuid.Nil {
			expenses[i].ID = uuid.New()
		}
	}

	copied, err := tx.CopyFrom(ctx,
		pgx.Identifier{"expenses"},
		[]string{"id", "user_id", "category_id", "amount_minor", "currency_code", "description", "expense_date", "import_session_id"},
		pgx.CopyFromSlice(len(expenses), func(i int) ([]any, error) {
			e := expenses[i]
			return []any{e.ID, e.UserID, e.CategoryID, e.AmountMinor, e.CurrencyCode, e.Description, e.Date, e.ImportSessionID}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to insert expenses: %w", err)
	}
	if int(copied) != len(expenses) {
		return fmt.Errorf("failed to insert expenses: inserted %d of %d", copied, len(expenses))
	}

	if history.ID == uuid.Nil {
		history.ID = uuid.New()
	}
	historyQuery := `
		INSERT INTO import_history (id, session_id, user_id, file_name, total_rows, imported_rows, skipped_rows)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`
	err = tx.QueryRow(ctx, historyQuery,
		history.ID,
		history.SessionID,
		history.UserID,
		history.FileName,
		history.TotalRows,
		history.ImportedRows,
		history.SkippedRows,
	).Scan(&history.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert import history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit import: %w", err)
	}

	session.Status = StatusCompleted
	session.UpdatedAt = updatedAt
	return nil
}

// ListImportHistory returns the user's import history, newest first
func (r *PostgresImportRepository) ListImportHistory(ctx context.Context, userID uuid.UUID) ([]ImportHistory, error) {
	query := `
		SELECT id, session_id, user_id, file_name, total_rows, imported_rows, skipped_rows, created_at
		FROM import_history
		WHERE user_id = $1
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list import history: %w", err)
	}
	defer rows.Close()

	history := []ImportHistory{}
	for rows.Next() {
		var h ImportHistory
		err := rows.Scan(
			&h.ID,
			&h.SessionID,
			&h.UserID,
			&h.FileName,
			&h.TotalRows,
			&h.ImportedRows,
			&h.SkippedRows,
			&h.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan import history: %w", err)
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

func scanSession(row pgx.Row) (*ImportSession, error) {
	var (
		s           ImportSession
		status      string
		mappingJSON []byte
		rowsJSON    []byte
	)
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&status,
		&s.FileName,
		&s.FileSize,
		&s.RawCSVData,
		&s.Delimiter,
		&mappingJSON,
		&rowsJSON,
		&s.ValidRowCount,
		&s.InvalidRowCount,
		&s.SkippedRowCount,
		&s.ImportedExpenseCount,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Status = SessionStatus(status)

	if len(mappingJSON) > 0 {
		var m ColumnMapping
		if err := json.Unmarshal(mappingJSON, &m); err != nil {
			return nil, fmt.Errorf("failed to decode column mapping: %w", err)
		}
		s.ColumnMapping = &m
	}
	if len(rowsJSON) > 0 {
		if err := json.Unmarshal(rowsJSON, &s.ParsedRows); err != nil {
			return nil, fmt.Errorf("failed to decode parsed rows: %w", err)
		}
	}
	return &s, nil
}

func encodeSessionJSON(s *ImportSession) (mapping, rows []byte, err error) {
	if s.ColumnMapping != nil {
		if mapping, err = json.Marshal(s.ColumnMapping); err != nil {
			return nil, nil, fmt.Errorf("failed to encode column mapping: %w", err)
		}
	}
	if s.ParsedRows != nil {
		if rows, err = json.Marshal(s.ParsedRows); err != nil {
			return nil, nil, fmt.Errorf("failed to encode parsed rows: %w", err)
		}
	}
	return mapping, rows, nil
}
