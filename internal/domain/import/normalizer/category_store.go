package normalizer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Querier is the subset of pgxpool.Pool the category store needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// CategoryLister loads the categories visible to a user.
type CategoryLister interface {
	ListCategories(ctx context.Context, userID uuid.UUID) ([]Category, error)
}

// CategoryStore reads categories from the database. The user's own
// categories come before global ones so they win name collisions.
type CategoryStore struct {
	db Querier
}

// NewCategoryStore creates a new category store
func NewCategoryStore(db Querier) *CategoryStore {
	return &CategoryStore{db: db}
}

// ListCategories returns global categories and the user's own categories.
func (s *CategoryStore) ListCategories(ctx context.Context, userID uuid.UUID) ([]Category, error) {
	query := `
		SELECT id, name, aliases
		FROM categories
		WHERE user_id IS NULL OR user_id = $1
		ORDER BY (user_id IS NULL), name`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var categories []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Aliases); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate categories: %w", err)
	}
	return categories, nil
}

// StaticCategoryStore serves a fixed category list to every user.
type StaticCategoryStore struct {
	categories []Category
}

// NewStaticCategoryStore creates a store over categories.
func NewStaticCategoryStore(categories []Category) *StaticCategoryStore {
	return &StaticCategoryStore{categories: categories}
}

// DefaultCategories returns the global categories seeded by the migrations,
// with fresh IDs.
func DefaultCategories() []Category {
	names := []string{"Food", "Transport", "Utilities", "Health", "Entertainment", "Shopping", "Travel", "Other"}
	out := make([]Category, len(names))
	for i, n := range names {
		out[i] = Category{ID: uuid.New(), Name: n}
	}
	return out
}

func (s *StaticCategoryStore) ListCategories(_ context.Context, _ uuid.UUID) ([]Category, error) {
	out := make([]Category, len(s.categories))
	copy(out, s.categories)
	return out, nil
}
