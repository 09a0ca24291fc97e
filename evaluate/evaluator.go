package evaluate

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/gauntletlabs/gauntlet/difficulty"
	"github.com/gauntletlabs/gauntlet/rubric"
)

// CriterionScore is one criterion's score in [floor,100].
type CriterionScore struct {
	Description string          `json:"description"`
	Category    rubric.Category `json:"category"`
	Score       float64         `json:"score"`
}

// Result is the immutable outcome of evaluating one response (or one
// collaborative response set) against a rubric.
type Result struct {
	CriterionScores    []CriterionScore           `json:"criterion_scores"`
	CategoryScores     map[rubric.Category]float64 `json:"category_scores"`
	Composite          float64                    `json:"composite"`
	Threshold          float64                    `json:"threshold"`
	Passed             bool                       `json:"passed"`
	CollaborationBonus float64                    `json:"collaboration_bonus,omitempty"`
	Feedback           string                     `json:"feedback"`
}

// Evaluator scores responses. Safe for concurrent use; it holds no mutable
// state.
type Evaluator struct {
	cfg    Config
	logger *slog.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

// NewEvaluator validates the scoring tables and returns an evaluator.
func NewEvaluator(cfg Config, opts ...Option) (*Evaluator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scoring config: %w", err)
	}
	e := &Evaluator{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Evaluate scores a single response against the rubric at the given tier.
func (e *Evaluator) Evaluate(response string, rub rubric.Rubric, tier difficulty.Tier) Result {
	return e.evaluate(response, rub, tier, 0)
}

// EvaluateCollaborative scores a multi-participant test. Responses are keyed
// by participant. Collaboration criteria are appended to the rubric and the
// combined text is scored, then a bonus proportional to participant count
// times response divergence rewards complementary contributions.
func (e *Evaluator) EvaluateCollaborative(responses map[string]string, rub rubric.Rubric, tier difficulty.Tier) Result {
	if len(responses) <= 1 {
		for _, r := range responses {
			return e.Evaluate(r, rub, tier)
		}
		return e.Evaluate("", rub, tier)
	}

	extended := rubric.Rubric{Tier: rub.Tier, Criteria: append([]rubric.Criterion{}, rub.Criteria...)}
	extended.Criteria = append(extended.Criteria, rubric.CollaborationCriteria(len(responses))...)

	// Stable participant order so the combined text is deterministic.
	names := make([]string, 0, len(responses))
	for name := range responses {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	sets := make([]map[string]struct{}, 0, len(names))
	for _, name := range names {
		parts = append(parts, responses[name])
		sets = append(sets, wordSet(responses[name]))
	}

	bonus := float64(len(responses)) * divergence(sets) * e.cfg.DivergenceBonusScale
	return e.evaluate(strings.Join(parts, "\n\n"), extended, tier, bonus)
}

func (e *Evaluator) evaluate(response string, rub rubric.Rubric, tier difficulty.Tier, bonus float64) Result {
	lower := strings.ToLower(response)

	scores := make([]CriterionScore, 0, len(rub.Criteria))
	catTotals := make(map[rubric.Category]float64)
	catWeights := make(map[rubric.Category]float64)
	for _, crit := range rub.Criteria {
		matches := 0
		for _, kw := range Keywords(crit.Description) {
			if strings.Contains(lower, kw) {
				matches++
			}
		}
		score := e.cfg.scoreForMatches(matches)
		scores = append(scores, CriterionScore{Description: crit.Description, Category: crit.Category, Score: score})
		weight := crit.Weight
		if weight <= 0 {
			weight = 1
		}
		catTotals[crit.Category] += score * weight
		catWeights[crit.Category] += weight
	}

	catScores := make(map[rubric.Category]float64, len(catTotals))
	for cat, total := range catTotals {
		catScores[cat] = total / catWeights[cat]
	}

	composite := e.composite(catScores, tier) + bonus
	if composite > 100 {
		composite = 100
	}
	threshold := e.cfg.thresholdFor(tier)
	result := Result{
		CriterionScores:    scores,
		CategoryScores:     catScores,
		Composite:          round1(composite),
		Threshold:          threshold,
		Passed:             composite >= threshold,
		CollaborationBonus: round1(bonus),
	}
	result.Feedback = e.feedback(result)
	return result
}

// composite is the tier-weighted sum of category subtotals, renormalized
// over the categories actually present in the rubric.
func (e *Evaluator) composite(catScores map[rubric.Category]float64, tier difficulty.Tier) float64 {
	weights := e.cfg.weightsFor(tier)
	var sum, totalWeight float64
	for cat, score := range catScores {
		w, ok := weights[string(cat)]
		if !ok {
			w = 0.05
		}
		sum += score * w
		totalWeight += w
	}
	if totalWeight == 0 {
		return 0
	}
	return sum / totalWeight
}

// feedback names the scenario-specific gaps: the two weakest categories and
// the lowest-scoring criterion within each.
func (e *Evaluator) feedback(r Result) string {
	if len(r.CriterionScores) == 0 {
		return "no criteria evaluated"
	}

	cats := make([]rubric.Category, 0, len(r.CategoryScores))
	for cat := range r.CategoryScores {
		cats = append(cats, cat)
	}
	sort.Slice(cats, func(i, j int) bool {
		if r.CategoryScores[cats[i]] != r.CategoryScores[cats[j]] {
			return r.CategoryScores[cats[i]] < r.CategoryScores[cats[j]]
		}
		return cats[i] < cats[j]
	})
	if len(cats) > 2 {
		cats = cats[:2]
	}

	var b strings.Builder
	if r.Passed {
		fmt.Fprintf(&b, "passed at %.1f (threshold %.1f).", r.Composite, r.Threshold)
	} else {
		fmt.Fprintf(&b, "failed at %.1f (threshold %.1f).", r.Composite, r.Threshold)
	}
	for _, cat := range cats {
		weakest := lowestCriterion(r.CriterionScores, cat)
		fmt.Fprintf(&b, " Weakest in %s (%.1f): did not adequately address %q.",
			cat, r.CategoryScores[cat], weakest.Description)
	}
	return b.String()
}

func lowestCriterion(scores []CriterionScore, cat rubric.Category) CriterionScore {
	var lowest CriterionScore
	found := false
	for _, s := range scores {
		if s.Category != cat {
			continue
		}
		if !found || s.Score < lowest.Score {
			lowest = s
			found = true
		}
	}
	return lowest
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
