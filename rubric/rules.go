package rubric

import (
	"regexp"
	"strings"
)

// requirementPattern matches an imperative verb followed by the noun phrase
// it acts on. The phrase capture stops at sentence punctuation.
var requirementPattern = regexp.MustCompile(
	`(?i)\b(create|build|implement|design|develop|optimize|secure|deploy|integrate|refactor|migrate|automate|configure|establish|provision|harden)\b[ \t]+(an?\s+|the\s+)?([a-zA-Z0-9][a-zA-Z0-9 _/-]{2,60}?)(?:[.,;:!?\n]|$)`)

// TechnicalRule adds criteria when scenario text contains trigger keywords.
// Rules are evaluated in order; each fires at most once per scenario.
type TechnicalRule struct {
	Name     string
	Triggers []string
	Criteria []string
}

// defaultTechnicalRules is the declarative trigger table replacing ad hoc
// keyword scanning: ordered, so rubrics are stable across runs.
func defaultTechnicalRules() []TechnicalRule {
	return []TechnicalRule{
		{
			Name:     "security",
			Triggers: []string{"security", "secure", "authentication", "authorization", "encryption", "vulnerability", "threat", "exploit", "credential"},
			Criteria: []string{
				"Identify security risks and apply authentication, authorization and encryption controls",
				"Address vulnerability and threat mitigation for the described system",
			},
		},
		{
			Name:     "performance",
			Triggers: []string{"performance", "latency", "throughput", "optimize", "optimization", "efficiency", "caching", "speed"},
			Criteria: []string{
				"Optimize for performance: latency, throughput and resource efficiency",
				"Justify optimization choices with measurable performance criteria",
			},
		},
		{
			Name:     "scale",
			Triggers: []string{"scale", "scalability", "distributed", "architecture", "load", "concurrent", "replication"},
			Criteria: []string{
				"Propose an architecture that scales under load",
				"Account for distributed-system concerns: partitioning, replication and failure handling",
			},
		},
	}
}

// ExtractRequirements returns the noun phrases following imperative verbs in
// the scenario text, deduplicated, in order of appearance.
func ExtractRequirements(scenarioText string) []string {
	matches := requirementPattern.FindAllStringSubmatch(scenarioText, -1)
	seen := make(map[string]bool)
	var out []string
	for _, m := range matches {
		verb := strings.ToLower(m[1])
		phrase := strings.TrimSpace(m[3])
		if phrase == "" {
			continue
		}
		req := verb + " " + strings.ToLower(phrase)
		if seen[req] {
			continue
		}
		seen[req] = true
		out = append(out, req)
	}
	return out
}

// triggeredRules returns the technical rules whose triggers appear in the
// scenario text.
func triggeredRules(rules []TechnicalRule, scenarioText string) []TechnicalRule {
	lower := strings.ToLower(scenarioText)
	var out []TechnicalRule
	for _, rule := range rules {
		for _, trig := range rule.Triggers {
			if strings.Contains(lower, trig) {
				out = append(out, rule)
				break
			}
		}
	}
	return out
}
