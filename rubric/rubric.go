// Package rubric synthesizes weighted evaluation criteria from scenario
// text, the agent's strength axis, and the target tier. Synthesis is
// deterministic: the same inputs always produce the same rubric, so a test
// can be reproduced exactly.
package rubric

import (
	"sort"

	"github.com/gauntletlabs/gauntlet/difficulty"
)

// Category tags a criterion for weighted aggregation during evaluation.
type Category string

// Criterion categories.
const (
	CategoryRequirements  Category = "requirements"
	CategoryDifficulty    Category = "difficulty"
	CategoryAgent         Category = "agent"
	CategoryTechnical     Category = "technical"
	CategoryQuality       Category = "quality"
	CategoryCollaboration Category = "collaboration"
)

// AllCategories returns every category in a stable order.
func AllCategories() []Category {
	return []Category{
		CategoryRequirements,
		CategoryDifficulty,
		CategoryAgent,
		CategoryTechnical,
		CategoryQuality,
		CategoryCollaboration,
	}
}

// Criterion is one weighted evaluation criterion.
type Criterion struct {
	Description string   `json:"description"`
	Category    Category `json:"category"`
	Weight      float64  `json:"weight"`
}

// Rubric is the ordered set of criteria for one test instance. It is built
// fresh per cycle and immutable once built.
type Rubric struct {
	Tier     difficulty.Tier `json:"tier"`
	Criteria []Criterion     `json:"criteria"`
}

// ByCategory groups criteria by their category tag.
func (r Rubric) ByCategory() map[Category][]Criterion {
	out := make(map[Category][]Criterion)
	for _, c := range r.Criteria {
		out[c.Category] = append(out[c.Category], c)
	}
	return out
}

// Categories returns the categories present in the rubric, in the stable
// package order.
func (r Rubric) Categories() []Category {
	present := make(map[Category]bool)
	for _, c := range r.Criteria {
		present[c.Category] = true
	}
	out := make([]Category, 0, len(present))
	for _, cat := range AllCategories() {
		if present[cat] {
			out = append(out, cat)
		}
	}
	// Unknown categories (none are generated, but rubrics may be loaded
	// from snapshots) sort after the known ones.
	if len(out) < len(present) {
		var extra []string
		for cat := range present {
			known := false
			for _, k := range AllCategories() {
				if cat == k {
					known = true
					break
				}
			}
			if !known {
				extra = append(extra, string(cat))
			}
		}
		sort.Strings(extra)
		for _, e := range extra {
			out = append(out, Category(e))
		}
	}
	return out
}

// Empty reports whether the rubric has no criteria.
func (r Rubric) Empty() bool {
	return len(r.Criteria) == 0
}
