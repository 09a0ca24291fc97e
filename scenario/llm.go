package scenario

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/gauntletlabs/gauntlet/agent"
	"github.com/gauntletlabs/gauntlet/difficulty"
	"github.com/gauntletlabs/gauntlet/generation"
)

// Generator is the slice of the generation client the LLM provider needs.
type Generator interface {
	Generate(ctx context.Context, req generation.Request) (*generation.Result, error)
}

// LLMProvider asks the generation client to write a scenario, falling back
// to the template provider when the call fails. A scenario is never the
// reason a cycle dies.
type LLMProvider struct {
	gen      Generator
	fallback Provider
	logger   *slog.Logger
}

// NewLLMProvider returns a provider backed by gen with the given fallback.
// A nil fallback uses the template provider.
func NewLLMProvider(gen Generator, fallback Provider, logger *slog.Logger) *LLMProvider {
	if fallback == nil {
		fallback = NewTemplateProvider()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMProvider{gen: gen, fallback: fallback, logger: logger}
}

// GetScenario prompts the generation client for a fresh scenario.
func (p *LLMProvider) GetScenario(ctx context.Context, domain string, tier difficulty.Tier, agentType agent.Type) (Scenario, error) {
	prompt := fmt.Sprintf(
		"Write a single practical %s challenge at %s difficulty for an evaluee whose strength is %s. "+
			"Open with concrete imperative requirements (design, implement, build, secure, optimize). "+
			"Two short paragraphs, no preamble, no solution.",
		domain, tier, agentType.StrengthAxis())

	result, err := p.gen.Generate(ctx, generation.Request{
		Messages: []generation.Message{
			{Role: "system", Content: "You write capability-evaluation scenarios. Output only the scenario text."},
			{Role: "user", Content: prompt},
		},
		MaxTokens: 512,
	})
	if err != nil {
		p.logger.Warn("scenario generation failed, using template",
			"domain", domain, "tier", tier.String(), "agent_type", string(agentType), "error", err)
		return p.fallback.GetScenario(ctx, domain, tier, agentType)
	}

	return Scenario{
		ID:        uuid.New().String(),
		Domain:    domain,
		Tier:      tier,
		AgentType: agentType,
		Text:      result.Text,
	}, nil
}
