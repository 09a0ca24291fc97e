// Package evaluate scores free-form responses against a rubric. Scoring is
// intentionally lexical: keyword matches against criterion descriptions,
// aggregated through tier-weighted category tables. The numeric constants
// are tunable configuration; only their shape (monotonic, floor-bounded,
// tier-sensitive) is load-bearing.
package evaluate

import (
	"fmt"

	"github.com/gauntletlabs/gauntlet/difficulty"
	"github.com/gauntletlabs/gauntlet/rubric"
)

// Config holds the scoring tables, keyed by tier label so they can live in
// the YAML configuration.
type Config struct {
	// PassThresholds maps tier label to the composite score required to
	// pass. Must cover every tier and be non-decreasing up the scale.
	PassThresholds map[string]float64 `yaml:"pass_thresholds" json:"pass_thresholds"`

	// CategoryWeights maps tier label to per-category weights. Weights are
	// renormalized over the categories present in a rubric, so they need
	// not sum to 1.
	CategoryWeights map[string]map[string]float64 `yaml:"category_weights" json:"category_weights"`

	// MatchScores maps keyword match counts to criterion scores:
	// MatchScores[0] is the zero-match floor, the final entry applies to
	// all higher counts. Must be monotonically non-decreasing.
	MatchScores []float64 `yaml:"match_scores" json:"match_scores"`

	// DivergenceBonusScale scales the collaborative bonus term.
	DivergenceBonusScale float64 `yaml:"divergence_bonus_scale" json:"divergence_bonus_scale"`
}

// DefaultConfig returns the standard scoring tables. Lower tiers weight
// requirements most heavily; upper tiers shift weight toward agent-specific
// and technical insight.
func DefaultConfig() Config {
	thresholds := map[string]float64{}
	weights := map[string]map[string]float64{}
	for _, tier := range difficulty.AllTiers() {
		idx := float64(tier.Index())
		thresholds[tier.String()] = 70 + 3*idx

		// Slide weight from requirements toward agent+technical as the
		// tier rises.
		shift := idx / float64(difficulty.TierCount-1) // 0..1
		weights[tier.String()] = map[string]float64{
			string(rubric.CategoryRequirements):  0.40 - 0.25*shift,
			string(rubric.CategoryDifficulty):    0.15,
			string(rubric.CategoryAgent):         0.10 + 0.15*shift,
			string(rubric.CategoryTechnical):     0.10 + 0.15*shift,
			string(rubric.CategoryQuality):       0.20 - 0.05*shift,
			string(rubric.CategoryCollaboration): 0.05,
		}
	}
	return Config{
		PassThresholds:       thresholds,
		CategoryWeights:      weights,
		MatchScores:          []float64{20, 40, 55, 68, 78, 86, 92, 96, 99, 100},
		DivergenceBonusScale: 2.0,
	}
}

// Validate checks the tables cover every tier and keep the required shape.
func (c Config) Validate() error {
	if len(c.MatchScores) < 2 {
		return fmt.Errorf("match_scores needs at least a floor and one step")
	}
	prev := -1.0
	for i, s := range c.MatchScores {
		if s < prev {
			return fmt.Errorf("match_scores must be non-decreasing: entry %d is %v after %v", i, s, prev)
		}
		if s < 0 || s > 100 {
			return fmt.Errorf("match_scores entries must be in [0,100], got %v", s)
		}
		prev = s
	}
	if c.MatchScores[0] <= 0 {
		return fmt.Errorf("match_scores floor must be positive to avoid a cliff-edge penalty")
	}

	prevThreshold := 0.0
	for _, tier := range difficulty.AllTiers() {
		th, ok := c.PassThresholds[tier.String()]
		if !ok {
			return fmt.Errorf("pass_thresholds missing tier %s", tier)
		}
		if th <= 0 || th > 100 {
			return fmt.Errorf("pass threshold for %s must be in (0,100], got %v", tier, th)
		}
		if th < prevThreshold {
			return fmt.Errorf("pass threshold for %s (%v) lower than previous tier (%v)", tier, th, prevThreshold)
		}
		prevThreshold = th

		w, ok := c.CategoryWeights[tier.String()]
		if !ok {
			return fmt.Errorf("category_weights missing tier %s", tier)
		}
		total := 0.0
		for cat, weight := range w {
			if weight < 0 {
				return fmt.Errorf("category weight %s/%s must be >= 0", tier, cat)
			}
			total += weight
		}
		if total <= 0 {
			return fmt.Errorf("category weights for %s sum to zero", tier)
		}
	}
	if c.DivergenceBonusScale < 0 {
		return fmt.Errorf("divergence_bonus_scale must be >= 0")
	}
	return nil
}

func (c Config) thresholdFor(tier difficulty.Tier) float64 {
	return c.PassThresholds[tier.String()]
}

func (c Config) weightsFor(tier difficulty.Tier) map[string]float64 {
	return c.CategoryWeights[tier.String()]
}

func (c Config) scoreForMatches(matches int) float64 {
	if matches < 0 {
		matches = 0
	}
	if matches >= len(c.MatchScores) {
		return c.MatchScores[len(c.MatchScores)-1]
	}
	return c.MatchScores[matches]
}
