package rubric

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gauntletlabs/gauntlet/agent"
	"github.com/gauntletlabs/gauntlet/difficulty"
)

const sampleScenario = `Design a payment processing service for a retail
platform. Implement idempotent charge handling and secure the stored card
data with encryption. The service must scale to peak holiday load.`

func TestSynthesizeExtractsRequirements(t *testing.T) {
	s := NewSynthesizer()
	r := s.Synthesize(sampleScenario, agent.TypeArchitect, difficulty.TierAdvanced)

	byCat := r.ByCategory()
	require.NotEmpty(t, byCat[CategoryRequirements])

	var descs []string
	for _, c := range byCat[CategoryRequirements] {
		descs = append(descs, c.Description)
	}
	joined := strings.Join(descs, " | ")
	assert.Contains(t, joined, "design")
	assert.Contains(t, joined, "payment processing service")
	assert.Contains(t, joined, "implement")
}

// A scenario with no imperative verbs still yields a non-empty rubric via
// the generic fallback criteria.
func TestSynthesizeFallbackWithoutActionVerbs(t *testing.T) {
	s := NewSynthesizer()
	text := "The weather over the data center was cloudy. Nothing happened."
	r := s.Synthesize(text, agent.TypeEnvoy, difficulty.TierBasic)

	require.False(t, r.Empty())
	reqs := r.ByCategory()[CategoryRequirements]
	require.Len(t, reqs, 2)
	assert.Contains(t, reqs[0].Description, "Address the scenario")
}

func TestSynthesizeDifficultyCriteriaScaleWithTier(t *testing.T) {
	s := NewSynthesizer()

	low := s.Synthesize(sampleScenario, agent.TypeWarden, difficulty.TierBasic)
	high := s.Synthesize(sampleScenario, agent.TypeWarden, difficulty.TierLegendary)

	lowDiff := low.ByCategory()[CategoryDifficulty]
	highDiff := high.ByCategory()[CategoryDifficulty]
	assert.Greater(t, len(highDiff), len(lowDiff))

	var joined string
	for _, c := range highDiff {
		joined += c.Description + " "
	}
	assert.Contains(t, joined, "innovation", "top tiers add innovation framing")
	assert.Contains(t, joined, "enterprise", "top tiers add enterprise framing")
}

func TestSynthesizeAgentAxisCriteria(t *testing.T) {
	s := NewSynthesizer()

	tests := []struct {
		agentType agent.Type
		wantWord  string
	}{
		{agent.TypeWarden, "defend"},
		{agent.TypeArchitect, "bottleneck"},
		{agent.TypeEnvoy, "usable"},
		{agent.TypePioneer, "unconventional"},
	}

	for _, tt := range tests {
		t.Run(string(tt.agentType), func(t *testing.T) {
			r := s.Synthesize(sampleScenario, tt.agentType, difficulty.TierIntermediate)
			agentCrit := r.ByCategory()[CategoryAgent]
			require.GreaterOrEqual(t, len(agentCrit), 2)
			require.LessOrEqual(t, len(agentCrit), 3)

			var joined string
			for _, c := range agentCrit {
				joined += strings.ToLower(c.Description) + " "
			}
			assert.Contains(t, joined, tt.wantWord)
		})
	}
}

func TestSynthesizeTechnicalTriggers(t *testing.T) {
	s := NewSynthesizer()

	tests := []struct {
		name     string
		text     string
		wantHit  string
		wantMiss string
	}{
		{
			name:    "security terms",
			text:    "Implement authentication for the admin portal.",
			wantHit: "authorization",
		},
		{
			name:    "performance terms",
			text:    "Reduce the latency of the search endpoint.",
			wantHit: "throughput",
		},
		{
			name:    "scale terms",
			text:    "Plan for a distributed deployment across regions.",
			wantHit: "scales under load",
		},
		{
			name:     "no technical terms",
			text:     "Write a poem about gardens.",
			wantMiss: "any",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := s.Synthesize(tt.text, agent.TypePioneer, difficulty.TierBasic)
			tech := r.ByCategory()[CategoryTechnical]
			if tt.wantMiss != "" {
				assert.Empty(t, tech)
				return
			}
			require.NotEmpty(t, tech)
			var joined string
			for _, c := range tech {
				joined += strings.ToLower(c.Description) + " "
			}
			assert.Contains(t, joined, tt.wantHit)
		})
	}
}

func TestSynthesizeDeterministic(t *testing.T) {
	s := NewSynthesizer()
	a := s.Synthesize(sampleScenario, agent.TypeArchitect, difficulty.TierExpert)
	b := s.Synthesize(sampleScenario, agent.TypeArchitect, difficulty.TierExpert)
	assert.Equal(t, a, b)
}

func TestCollaborationCriteria(t *testing.T) {
	crit := CollaborationCriteria(3)
	require.Len(t, crit, 3)
	for _, c := range crit {
		assert.Equal(t, CategoryCollaboration, c.Category)
	}
	assert.Contains(t, crit[0].Description, "3 participants")
}

func TestRubricCategoriesStableOrder(t *testing.T) {
	s := NewSynthesizer()
	r := s.Synthesize(sampleScenario, agent.TypeWarden, difficulty.TierMaster)
	cats := r.Categories()
	require.NotEmpty(t, cats)

	pos := make(map[Category]int)
	for i, c := range AllCategories() {
		pos[c] = i
	}
	for i := 1; i < len(cats); i++ {
		assert.Less(t, pos[cats[i-1]], pos[cats[i]], "categories out of order")
	}
}
