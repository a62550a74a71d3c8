package normalizer

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCategories() []Category {
	return []Category{
		{ID: uuid.New(), Name: "Food"},
		{ID: uuid.New(), Name: "Transport"},
		{ID: uuid.New(), Name: "Side Hustle", Aliases: []string{"gig", "freelance"}},
		{ID: uuid.New(), Name: "Other"},
	}
}

func TestCategoryResolver_Resolve(t *testing.T) {
	cats := testCategories()
	r := NewCategoryResolver(cats, DefaultAliases)

	tests := []struct {
		name   string
		raw    string
		want   string
		wantOK bool
	}{
		{"exact name", "Food", "Food", true},
		{"case insensitive", "fOOd", "Food", true},
		{"extra whitespace", "  side   hustle ", "Side Hustle", true},
		{"own alias", "Freelance", "Side Hustle", true},
		{"static alias", "Groceries", "Food", true},
		{"static alias to transport", "TAXI", "Transport", true},
		{"static alias to missing category", "medical", "", false},
		{"unknown", "Crypto", "", false},
		{"empty", "   ", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.Resolve(tt.raw)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got.Name)
		})
	}
}

func TestCategoryResolver_EarlierWins(t *testing.T) {
	userFood := Category{ID: uuid.New(), Name: "food"}
	globalFood := Category{ID: uuid.New(), Name: "Food"}

	r := NewCategoryResolver([]Category{userFood, globalFood}, nil)
	got, ok := r.Resolve("FOOD")
	require.True(t, ok)
	assert.Equal(t, userFood.ID, got.ID)
}

func TestCategoryResolver_NameBeatsAlias(t *testing.T) {
	cats := []Category{
		{ID: uuid.New(), Name: "Coffee"},
		{ID: uuid.New(), Name: "Food"},
	}
	r := NewCategoryResolver(cats, DefaultAliases)

	got, ok := r.Resolve("coffee")
	require.True(t, ok)
	assert.Equal(t, "Coffee", got.Name)
}

func TestCategoryResolver_NilAliases(t *testing.T) {
	r := NewCategoryResolver(testCategories(), nil)
	_, ok := r.Resolve("groceries")
	assert.False(t, ok)

	c, ok := r.ByName("other")
	require.True(t, ok)
	assert.Equal(t, "Other", c.Name)
}

func TestMergeAliases(t *testing.T) {
	base := map[string]string{"a": "Food", "b": "Travel"}
	extra := map[string]string{"b": "Other", "c": "Health"}

	got := MergeAliases(base, extra)
	assert.Equal(t, map[string]string{"a": "Food", "b": "Other", "c": "Health"}, got)
	assert.Equal(t, "Travel", base["b"])
}
