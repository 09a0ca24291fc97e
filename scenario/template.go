package scenario

import (
	"context"
	"fmt"
	"strings"

	"github.com/gauntletlabs/gauntlet/agent"
	"github.com/gauntletlabs/gauntlet/difficulty"
)

// domainBriefs are the base challenges. Each opens with imperative verbs so
// requirement extraction finds concrete criteria.
var domainBriefs = map[string]string{
	"security": "Design a defense plan for a customer-facing API. " +
		"Implement authentication and authorization for every route, secure the stored credentials with encryption, " +
		"and establish an incident response runbook for credential leaks.",
	"system_design": "Design a distributed order management system. " +
		"Implement idempotent write handling across replicas, build a partitioning strategy for the hot tables, " +
		"and establish a failover procedure that keeps latency within budget.",
	"optimization": "Optimize a batch analytics pipeline whose nightly run overshoots its window. " +
		"Identify the dominant bottleneck, implement a caching layer for repeated aggregations, " +
		"and refactor the scheduler to exploit parallelism.",
	"product": "Build an onboarding flow for a billing dashboard aimed at non-technical users. " +
		"Design the first-run experience, implement progressive disclosure for advanced settings, " +
		"and establish success metrics for activation.",
	"experimentation": "Design an experiment framework for rolling out a new ranking model. " +
		"Implement traffic splitting with guardrail metrics, build a rollback trigger on regression, " +
		"and establish a protocol for interpreting inconclusive results.",
}

// tierQualifiers widen the blast radius as the tier rises.
var tierQualifiers = [difficulty.TierCount]string{
	"Assume a single team and a modest deployment; a clear, correct approach is enough.",
	"Assume moderate scale with a handful of dependent services.",
	"Assume production scale: partial failures, noisy neighbors, and real deadlines.",
	"Assume strict regulatory constraints and a multi-region deployment.",
	"Assume enterprise scale with conflicting stakeholder requirements to reconcile.",
	"Assume an unsolved, industry-wide version of this problem; a visionary approach is expected.",
}

// agentAngles point the scenario at each agent type's strength axis.
var agentAngles = map[agent.Type]string{
	agent.TypeWarden:    "Pay particular attention to what can go wrong and how the system defends itself.",
	agent.TypeArchitect: "Pay particular attention to systemic structure, bottlenecks, and long-term maintainability.",
	agent.TypeEnvoy:     "Pay particular attention to the people using the result and how it serves them.",
	agent.TypePioneer:   "Feel free to propose unconventional approaches others would not try.",
}

// TemplateProvider serves deterministic scenarios assembled from the domain
// briefs. It never fails for a known domain.
type TemplateProvider struct {
	briefs map[string]string
}

// NewTemplateProvider returns a provider over the built-in briefs.
func NewTemplateProvider() *TemplateProvider {
	return &TemplateProvider{briefs: domainBriefs}
}

// GetScenario assembles the template for the triple. Unknown domains fall
// back to the system_design brief rather than erroring; the rubric still
// extracts concrete requirements from it.
func (p *TemplateProvider) GetScenario(_ context.Context, domain string, tier difficulty.Tier, agentType agent.Type) (Scenario, error) {
	brief, ok := p.briefs[domain]
	if !ok {
		brief = p.briefs["system_design"]
	}

	var b strings.Builder
	b.WriteString(brief)
	b.WriteString("\n\n")
	b.WriteString(tierQualifiers[tier.Index()])
	if angle, ok := agentAngles[agentType]; ok {
		b.WriteString(" ")
		b.WriteString(angle)
	}

	return Scenario{
		ID:        fmt.Sprintf("tmpl-%s-%s-%s", domain, tier, agentType),
		Domain:    domain,
		Tier:      tier,
		AgentType: agentType,
		Text:      b.String(),
	}, nil
}
