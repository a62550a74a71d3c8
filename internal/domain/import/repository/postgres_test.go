package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sessionColumnNames = []string{
	"id", "user_id", "status", "file_name", "file_size", "raw_csv_data", "delimiter",
	"column_mapping", "parsed_rows", "valid_row_count", "invalid_row_count",
	"skipped_row_count", "imported_expense_count", "created_at", "updated_at",
}

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *PostgresImportRepository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPostgresImportRepository(mock)
}

// ============================================================================
// Sessions
// ============================================================================

func TestPostgresImportRepository_CreateSession(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	now := time.Now()

	t.Run("cancels active and inserts", func(t *testing.T) {
		mock, repo := newMockRepo(t)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE import_sessions`).
			WithArgs(userID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectQuery(`INSERT INTO import_sessions`).
			WithArgs(pgxmock.AnyArg(), userID, "upload").
			WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
		mock.ExpectCommit()

		s, err := repo.CreateSession(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, StatusUpload, s.Status)
		assert.Equal(t, userID, s.UserID)
		assert.NotEqual(t, uuid.Nil, s.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation is a conflict", func(t *testing.T) {
		mock, repo := newMockRepo(t)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE import_sessions`).
			WithArgs(userID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(`INSERT INTO import_sessions`).
			WithArgs(pgxmock.AnyArg(), userID, "upload").
			WillReturnError(&pgconn.PgError{Code: "23505"})
		mock.ExpectRollback()

		_, err := repo.CreateSession(ctx, userID)
		assert.ErrorIs(t, err, ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresImportRepository_GetSession(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	sessionID := uuid.New()
	now := time.Now()

	t.Run("decodes json columns", func(t *testing.T) {
		mock, repo := newMockRepo(t)

		fileName := "bank.csv"
		size := int64(42)
		raw := "Date,Amount,Description\n2024-01-15,100,Groceries"
		delim := ","
		mappingJSON := []byte(`{"date":"Date","amount":"Amount","description":"Description"}`)
		rowsJSON := []byte(`[{"rowIndex":0,"originalData":{"Date":"2024-01-15"},"date":"2024-01-15","amount":"100","description":"Groceries","category":null,"categoryId":null,"errors":[],"skipped":false}]`)

		mock.ExpectQuery(`SELECT .* FROM import_sessions`).
			WithArgs(sessionID, userID).
			WillReturnRows(pgxmock.NewRows(sessionColumnNames).AddRow(
				sessionID, userID, "preview", &fileName, &size, &raw, &delim,
				mappingJSON, rowsJSON, 1, 0, 0, 0, now, now,
			))

		s, err := repo.GetSession(ctx, sessionID, userID)
		require.NoError(t, err)
		assert.Equal(t, StatusPreview, s.Status)
		require.NotNil(t, s.ColumnMapping)
		assert.Equal(t, "Date", s.ColumnMapping.Date)
		require.Len(t, s.ParsedRows, 1)
		assert.True(t, decimal.NewFromInt(100).Equal(*s.ParsedRows[0].Amount))
		assert.True(t, s.ParsedRows[0].Importable())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing session", func(t *testing.T) {
		mock, repo := newMockRepo(t)

		mock.ExpectQuery(`SELECT .* FROM import_sessions`).
			WithArgs(sessionID, userID).
			WillReturnError(pgx.ErrNoRows)

		_, err := repo.GetSession(ctx, sessionID, userID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("active session absent", func(t *testing.T) {
		mock, repo := newMockRepo(t)

		mock.ExpectQuery(`SELECT .* FROM import_sessions`).
			WithArgs(userID).
			WillReturnError(pgx.ErrNoRows)

		_, err := repo.GetActiveSession(ctx, userID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestPostgresImportRepository_UpdateSession(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := &ImportSession{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		Status:        StatusPreview,
		ColumnMapping: &ColumnMapping{Date: "Date", Amount: "Amount", Description: "Description"},
		ParsedRows:    []ParsedRow{{RowIndex: 0, Errors: []FieldError{}}},
		ValidRowCount: 1,
	}

	t.Run("writes state", func(t *testing.T) {
		mock, repo := newMockRepo(t)

		mock.ExpectQuery(`UPDATE import_sessions`).
			WithArgs(s.ID, s.UserID, "preview",
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), 1, 0, 0).
			WillReturnRows(pgxmock.NewRows([]string{"updated_at"}).AddRow(now))

		require.NoError(t, repo.UpdateSession(ctx, s))
		assert.Equal(t, now, s.UpdatedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("terminal or missing", func(t *testing.T) {
		mock, repo := newMockRepo(t)

		mock.ExpectQuery(`UPDATE import_sessions`).
			WillReturnError(pgx.ErrNoRows)

		assert.ErrorIs(t, repo.UpdateSession(ctx, s), ErrNotFound)
	})
}

func TestPostgresImportRepository_CancelSession(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	sessionID := uuid.New()

	t.Run("cancels active", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		mock.ExpectExec(`UPDATE import_sessions`).
			WithArgs(sessionID, userID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		ok, err := repo.CancelSession(ctx, sessionID, userID)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("already terminal", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		mock.ExpectExec(`UPDATE import_sessions`).
			WithArgs(sessionID, userID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(`SELECT status FROM import_sessions`).
			WithArgs(sessionID, userID).
			WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("completed"))

		ok, err := repo.CancelSession(ctx, sessionID, userID)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		mock.ExpectExec(`UPDATE import_sessions`).
			WithArgs(sessionID, userID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(`SELECT status FROM import_sessions`).
			WithArgs(sessionID, userID).
			WillReturnError(pgx.ErrNoRows)

		_, err := repo.CancelSession(ctx, sessionID, userID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestPostgresImportRepository_CancelStaleSessions(t *testing.T) {
	mock, repo := newMockRepo(t)
	cutoff := time.Now().Add(-24 * time.Hour)

	mock.ExpectExec(`UPDATE import_sessions`).
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := repo.CancelStaleSessions(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

// ============================================================================
// Commit
// ============================================================================

var expenseColumns = []string{"id", "user_id", "category_id", "amount_minor", "currency_code", "description", "expense_date", "import_session_id"}

func TestPostgresImportRepository_CompleteImport(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	userID := uuid.New()

	newInputs := func() (*ImportSession, []Expense, *ImportHistory) {
		s := &ImportSession{ID: uuid.New(), UserID: userID, Status: StatusPreview, ImportedExpenseCount: 2, SkippedRowCount: 1}
		expenses := []Expense{
			{UserID: userID, AmountMinor: 1000, CurrencyCode: "USD", Description: "a", Date: now, ImportSessionID: &s.ID},
			{UserID: userID, AmountMinor: 250, CurrencyCode: "USD", Description: "b", Date: now, ImportSessionID: &s.ID},
		}
		h := &ImportHistory{SessionID: s.ID, UserID: userID, FileName: "f.csv", TotalRows: 3, ImportedRows: 2, SkippedRows: 1}
		return s, expenses, h
	}

	t.Run("commits all writes", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		s, expenses, h := newInputs()

		mock.ExpectBegin()
		mock.ExpectQuery(`UPDATE import_sessions`).
			WithArgs(s.ID, userID, 2, 1).
			WillReturnRows(pgxmock.NewRows([]string{"updated_at"}).AddRow(now))
		mock.ExpectCopyFrom(pgx.Identifier{"expenses"}, expenseColumns).
			WillReturnResult(2)
		mock.ExpectQuery(`INSERT INTO import_history`).
			WithArgs(pgxmock.AnyArg(), s.ID, userID, "f.csv", 3, 2, 1).
			WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(now))
		mock.ExpectCommit()

		require.NoError(t, repo.CompleteImport(ctx, s, expenses, h))
		assert.Equal(t, StatusCompleted, s.Status)
		assert.NotEqual(t, uuid.Nil, h.ID)
		assert.NotEqual(t, uuid.Nil, expenses[0].ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("session left preview", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		s, expenses, h := newInputs()

		mock.ExpectBegin()
		mock.ExpectQuery(`UPDATE import_sessions`).
			WithArgs(s.ID, userID, 2, 1).
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectRollback()

		err := repo.CompleteImport(ctx, s, expenses, h)
		assert.ErrorIs(t, err, ErrConflict)
		assert.Equal(t, StatusPreview, s.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("history insert failure rolls back", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		s, expenses, h := newInputs()

		mock.ExpectBegin()
		mock.ExpectQuery(`UPDATE import_sessions`).
			WithArgs(s.ID, userID, 2, 1).
			WillReturnRows(pgxmock.NewRows([]string{"updated_at"}).AddRow(now))
		mock.ExpectCopyFrom(pgx.Identifier{"expenses"}, expenseColumns).
			WillReturnResult(2)
		mock.ExpectQuery(`INSERT INTO import_history`).
			WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		err := repo.CompleteImport(ctx, s, expenses, h)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert import history")
		assert.Equal(t, StatusPreview, s.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresImportRepository_ListImportHistory(t *testing.T) {
	mock, repo := newMockRepo(t)
	userID := uuid.New()
	now := time.Now()

	mock.ExpectQuery(`SELECT id, session_id, user_id`).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "session_id", "user_id", "file_name", "total_rows", "imported_rows", "skipped_rows", "created_at",
		}).
			AddRow(uuid.New(), uuid.New(), userID, "b.csv", 5, 4, 1, now).
			AddRow(uuid.New(), uuid.New(), userID, "a.csv", 2, 2, 0, now.Add(-time.Hour)))

	list, err := repo.ListImportHistory(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b.csv", list[0].FileName)
	assert.Equal(t, 4, list[0].ImportedRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
