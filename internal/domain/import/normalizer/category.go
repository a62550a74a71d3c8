// Package normalizer resolves free-text category labels from imported rows
// to the user's categories.
package normalizer

import (
	"strings"

	"github.com/google/uuid"
)

// Category is a read-only category as seen by the import pipeline.
type Category struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Aliases []string  `json:"aliases,omitempty"`
}

// DefaultAliases maps common free-text labels to canonical category names.
// Keys and values are matched case-insensitively.
var DefaultAliases = map[string]string{
	"groceries":      "Food",
	"grocery":        "Food",
	"supermarket":    "Food",
	"restaurant":     "Food",
	"restaurants":    "Food",
	"dining":         "Food",
	"food & dining":  "Food",
	"coffee":         "Food",
	"transportation": "Transport",
	"gas":            "Transport",
	"fuel":           "Transport",
	"taxi":           "Transport",
	"parking":        "Transport",
	"bills":          "Utilities",
	"electricity":    "Utilities",
	"internet":       "Utilities",
	"phone":          "Utilities",
	"medical":        "Health",
	"pharmacy":       "Health",
	"doctor":         "Health",
	"movies":         "Entertainment",
	"subscriptions":  "Entertainment",
	"clothing":       "Shopping",
	"clothes":        "Shopping",
	"flights":        "Travel",
	"hotel":          "Travel",
	"misc":           "Other",
	"miscellaneous":  "Other",
	"uncategorized":  "Other",
}

// CategoryResolver resolves labels by exact name, then by a category's own
// aliases, then through the static alias table. Resolution is a pure
// function of its inputs; a resolver is safe for concurrent use.
type CategoryResolver struct {
	byName  map[string]Category
	byAlias map[string]Category
	aliases map[string]string
}

// NewCategoryResolver builds a resolver. Earlier categories win when two
// share a name. A nil alias table disables static aliases.
func NewCategoryResolver(categories []Category, aliases map[string]string) *CategoryResolver {
	r := &CategoryResolver{
		byName:  make(map[string]Category, len(categories)),
		byAlias: make(map[string]Category),
		aliases: make(map[string]string, len(aliases)),
	}

	for _, c := range categories {
		key := normalizeLabel(c.Name)
		if _, exists := r.byName[key]; !exists {
			r.byName[key] = c
		}
	}
	for _, c := range categories {
		for _, a := range c.Aliases {
			key := normalizeLabel(a)
			if _, exists := r.byAlias[key]; !exists {
				r.byAlias[key] = c
			}
		}
	}
	for alias, target := range aliases {
		r.aliases[normalizeLabel(alias)] = normalizeLabel(target)
	}

	return r
}

// Resolve returns the category matching raw, if any.
func (r *CategoryResolver) Resolve(raw string) (Category, bool) {
	key := normalizeLabel(raw)
	if key == "" {
		return Category{}, false
	}
	if c, ok := r.byName[key]; ok {
		return c, true
	}
	if c, ok := r.byAlias[key]; ok {
		return c, true
	}
	if target, ok := r.aliases[key]; ok {
		if c, ok := r.byName[target]; ok {
			return c, true
		}
	}
	return Category{}, false
}

// ByName returns the category with the given name, ignoring aliases.
func (r *CategoryResolver) ByName(name string) (Category, bool) {
	c, ok := r.byName[normalizeLabel(name)]
	return c, ok
}

// MergeAliases returns base overlaid with extra. Neither input is modified.
func MergeAliases(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
