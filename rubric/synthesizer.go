package rubric

import (
	"fmt"
	"strings"

	"github.com/gauntletlabs/gauntlet/agent"
	"github.com/gauntletlabs/gauntlet/difficulty"
)

// tierExpectations escalate parametrically with the tier index. Lower tiers
// emphasize coverage and clarity; upper tiers add rigor and vision.
var tierExpectations = []string{
	"complete and correct coverage of the stated problem",
	"clear structure with justified intermediate steps",
	"trade-off analysis across at least two alternative approaches",
	"production-grade rigor including failure modes and operational concerns",
	"enterprise-level framing with cross-system and organizational impact",
	"visionary framing with novel, defensible innovation beyond the stated problem",
}

// qualityAdditions are appended cumulatively as the tier rises.
var qualityAdditions = []struct {
	minIndex  int
	criterion string
}{
	{2, "Demonstrate depth of analysis beyond surface-level answers"},
	{3, "Cover the problem comprehensively, including edge cases"},
	{4, "Show innovation rather than restating established patterns"},
	{5, "Exhibit domain expertise expected of a top-tier practitioner"},
}

// Synthesizer builds rubrics. The zero value is not usable; use
// NewSynthesizer.
type Synthesizer struct {
	technicalRules []TechnicalRule
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithTechnicalRules replaces the default trigger table.
func WithTechnicalRules(rules []TechnicalRule) Option {
	return func(s *Synthesizer) {
		s.technicalRules = rules
	}
}

// NewSynthesizer creates a rubric synthesizer with the default rule table.
func NewSynthesizer(opts ...Option) *Synthesizer {
	s := &Synthesizer{technicalRules: defaultTechnicalRules()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize builds the rubric for one test instance. Deterministic given
// the same inputs.
func (s *Synthesizer) Synthesize(scenarioText string, agentType agent.Type, tier difficulty.Tier) Rubric {
	var criteria []Criterion

	// 1. Requirements extracted from imperative phrases, with a generic
	// fallback so the rubric is never empty.
	reqs := ExtractRequirements(scenarioText)
	if len(reqs) == 0 {
		criteria = append(criteria,
			Criterion{Description: "Address the scenario completely", Category: CategoryRequirements, Weight: 1},
			Criterion{Description: "Provide a correct, practical solution", Category: CategoryRequirements, Weight: 1},
		)
	}
	for _, req := range reqs {
		criteria = append(criteria, Criterion{
			Description: "Fulfill the requirement to " + req,
			Category:    CategoryRequirements,
			Weight:      1,
		})
	}

	// 2. Difficulty expectations, cumulative up to the tier index.
	idx := tier.Index()
	for i := 0; i <= idx && i < len(tierExpectations); i++ {
		criteria = append(criteria, Criterion{
			Description: fmt.Sprintf("Meet the %s-tier bar: %s", difficulty.Tier(i), tierExpectations[i]),
			Category:    CategoryDifficulty,
			Weight:      1,
		})
	}

	// 3. Agent-specific criteria applying the strength axis to the
	// scenario's subject matter.
	subject := scenarioSubject(scenarioText, reqs)
	criteria = append(criteria, agentCriteria(agentType, subject)...)

	// 4. Keyword-triggered technical criteria.
	for _, rule := range triggeredRules(s.technicalRules, scenarioText) {
		for _, desc := range rule.Criteria {
			criteria = append(criteria, Criterion{Description: desc, Category: CategoryTechnical, Weight: 1})
		}
	}

	// 5. Quality baseline plus tier-scaled additions.
	criteria = append(criteria,
		Criterion{Description: "Respond completely, leaving no part of the scenario unanswered", Category: CategoryQuality, Weight: 1},
		Criterion{Description: "Express the solution clearly and in an organized structure", Category: CategoryQuality, Weight: 1},
		Criterion{Description: "Stay relevant to the scenario rather than generic exposition", Category: CategoryQuality, Weight: 1},
	)
	for _, add := range qualityAdditions {
		if idx >= add.minIndex {
			criteria = append(criteria, Criterion{Description: add.criterion, Category: CategoryQuality, Weight: 1})
		}
	}

	return Rubric{Tier: tier, Criteria: criteria}
}

// CollaborationCriteria returns the extra criteria appended for
// multi-participant tests.
func CollaborationCriteria(participants int) []Criterion {
	return []Criterion{
		{Description: fmt.Sprintf("Show distinct, complementary contributions from all %d participants", participants), Category: CategoryCollaboration, Weight: 1},
		{Description: "Coordinate the contributions into one coherent solution", Category: CategoryCollaboration, Weight: 1},
		{Description: "Produce synergy: combined insight beyond any single contribution", Category: CategoryCollaboration, Weight: 1},
	}
}

// agentCriteria produces 2-3 criteria applying the agent's strength axis to
// the scenario subject.
func agentCriteria(t agent.Type, subject string) []Criterion {
	axis := t.StrengthAxis()
	criteria := []Criterion{
		{Description: fmt.Sprintf("Apply %s to %s", axis, subject), Category: CategoryAgent, Weight: 1},
	}
	switch t {
	case agent.TypeWarden:
		criteria = append(criteria,
			Criterion{Description: fmt.Sprintf("Anticipate how %s could fail or be abused, and defend against it", subject), Category: CategoryAgent, Weight: 1},
			Criterion{Description: "Prefer conservative, verifiable safeguards over optimistic assumptions", Category: CategoryAgent, Weight: 1},
		)
	case agent.TypeArchitect:
		criteria = append(criteria,
			Criterion{Description: fmt.Sprintf("Treat %s as a system: identify bottlenecks and optimize end to end", subject), Category: CategoryAgent, Weight: 1},
			Criterion{Description: "Quantify the improvement the proposed optimization delivers", Category: CategoryAgent, Weight: 1},
		)
	case agent.TypeEnvoy:
		criteria = append(criteria,
			Criterion{Description: fmt.Sprintf("Frame %s around the people using it and their outcomes", subject), Category: CategoryAgent, Weight: 1},
			Criterion{Description: "Deliver something usable, not just technically correct", Category: CategoryAgent, Weight: 1},
		)
	case agent.TypePioneer:
		criteria = append(criteria,
			Criterion{Description: fmt.Sprintf("Explore at least one unconventional approach to %s", subject), Category: CategoryAgent, Weight: 1},
			Criterion{Description: "State what experiment would validate the novel approach", Category: CategoryAgent, Weight: 1},
		)
	}
	return criteria
}

// scenarioSubject picks a short subject-matter phrase for agent criteria:
// the first extracted requirement if any, else the first few words of the
// scenario.
func scenarioSubject(scenarioText string, reqs []string) string {
	if len(reqs) > 0 {
		// Drop the leading verb; the noun phrase is the subject.
		if _, phrase, ok := strings.Cut(reqs[0], " "); ok {
			return phrase
		}
		return reqs[0]
	}
	words := strings.Fields(scenarioText)
	if len(words) > 8 {
		words = words[:8]
	}
	if len(words) == 0 {
		return "the scenario"
	}
	return strings.ToLower(strings.Join(words, " "))
}
