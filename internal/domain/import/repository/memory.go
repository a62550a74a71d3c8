package repository

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryImportRepository implements ImportRepository in memory. It is used
// by tests and by the API when no database is configured.
type MemoryImportRepository struct {
	mu sync.Mutex

	sessions map[uuid.UUID]*ImportSession
	history  []ImportHistory
	expenses []Expense
	now      func() time.Time
}

// NewMemoryImportRepository creates an empty in-memory repository
func NewMemoryImportRepository() *MemoryImportRepository {
	return &MemoryImportRepository{
		sessions: make(map[uuid.UUID]*ImportSession),
		now:      time.Now,
	}
}

// WithClock overrides the time source (tests).
func (r *MemoryImportRepository) WithClock(now func() time.Time) *MemoryImportRepository {
	r.now = now
	return r
}

func (r *MemoryImportRepository) CreateSession(_ context.Context, userID uuid.UUID) (*ImportSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for _, s := range r.sessions {
		if s.UserID == userID && !s.Status.IsTerminal() {
			s.Status = StatusCancelled
			s.UpdatedAt = now
		}
	}

	session := &ImportSession{
		ID:        uuid.New(),
		UserID:    userID,
		Status:    StatusUpload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.sessions[session.ID] = session
	return session.Clone(), nil
}

func (r *MemoryImportRepository) GetActiveSession(_ context.Context, userID uuid.UUID) (*ImportSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var active *ImportSession
	for _, s := range r.sessions {
		if s.UserID != userID || s.Status.IsTerminal() {
			continue
		}
		if active == nil || s.CreatedAt.After(active.CreatedAt) {
			active = s
		}
	}
	if active == nil {
		return nil, ErrNotFound
	}
	return active.Clone(), nil
}

func (r *MemoryImportRepository) GetSession(_ context.Context, sessionID, userID uuid.UUID) (*ImportSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok || s.UserID != userID {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (r *MemoryImportRepository) UpdateSession(_ context.Context, session *ImportSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.sessions[session.ID]
	if !ok || stored.UserID != session.UserID || stored.Status.IsTerminal() {
		return ErrNotFound
	}

	updated := session.Clone()
	if stored.RawCSVData != nil {
		updated.RawCSVData = stored.RawCSVData
	}
	updated.CreatedAt = stored.CreatedAt
	updated.ImportedExpenseCount = stored.ImportedExpenseCount
	updated.UpdatedAt = r.now()

	r.sessions[session.ID] = updated
	session.UpdatedAt = updated.UpdatedAt
	return nil
}

func (r *MemoryImportRepository) CancelSession(_ context.Context, sessionID, userID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok || s.UserID != userID {
		return false, ErrNotFound
	}
	if s.Status.IsTerminal() {
		return false, nil
	}
	s.Status = StatusCancelled
	s.UpdatedAt = r.now()
	return true, nil
}

func (r *MemoryImportRepository) CancelStaleSessions(_ context.Context, before time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cancelled := 0
	for _, s := range r.sessions {
		if !s.Status.IsTerminal() && s.UpdatedAt.Before(before) {
			s.Status = StatusCancelled
			s.UpdatedAt = now
			cancelled++
		}
	}
	return cancelled, nil
}

// CompleteImport applies all writes or none.
func (r *MemoryImportRepository) CompleteImport(_ context.Context, session *ImportSession, expenses []Expense, history *ImportHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.sessions[session.ID]
	if !ok || stored.UserID != session.UserID || stored.Status != StatusPreview {
		return ErrConflict
	}

	now := r.now()
	for i := range expenses {
		if expenses[i].ID == uuid.Nil {
			expenses[i].ID = uuid.New()
		}
		expenses[i].CreatedAt = now
	}
	if history.ID == uuid.Nil {
		history.ID = uuid.New()
	}
	history.CreatedAt = now

	stored.Status = StatusCompleted
	stored.ImportedExpenseCount = session.ImportedExpenseCount
	stored.SkippedRowCount = session.SkippedRowCount
	stored.UpdatedAt = now
	r.expenses = append(r.expenses, expenses...)
	r.history = append(r.history, *history)

	session.Status = StatusCompleted
	session.UpdatedAt = now
	return nil
}

func (r *MemoryImportRepository) ListImportHistory(_ context.Context, userID uuid.UUID) ([]ImportHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []ImportHistory{}
	for _, h := range r.history {
		if h.UserID == userID {
			out = append(out, h)
		}
	}
	slices.Reverse(out)
	return out, nil
}

// Expenses returns the committed expenses of a user (tests and diagnostics).
func (r *MemoryImportRepository) Expenses(userID uuid.UUID) []Expense {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Expense
	for _, e := range r.expenses {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}
