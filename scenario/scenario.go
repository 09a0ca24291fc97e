// Package scenario produces test scenarios for a (domain, tier, agent type)
// triple. The template provider is deterministic and serves as both the
// offline fallback and the test fixture source; the LLM provider asks the
// generation client for a fresh scenario and falls back to templates when
// the call fails.
package scenario

import (
	"context"

	"github.com/gauntletlabs/gauntlet/agent"
	"github.com/gauntletlabs/gauntlet/difficulty"
)

// Scenario is one test challenge.
type Scenario struct {
	ID        string          `json:"id"`
	Domain    string          `json:"domain"`
	Tier      difficulty.Tier `json:"tier"`
	AgentType agent.Type      `json:"agent_type"`
	Text      string          `json:"text"`
}

// Provider supplies scenarios.
type Provider interface {
	GetScenario(ctx context.Context, domain string, tier difficulty.Tier, agentType agent.Type) (Scenario, error)
}

// DefaultDomains lists the built-in challenge domains, matching the agent
// types' preferred territories.
func DefaultDomains() []string {
	return []string{"security", "system_design", "optimization", "product", "experimentation"}
}
