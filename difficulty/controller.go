package difficulty

import (
	"fmt"
	"sort"
)

// Progress is the streak state the controller owns for one agent. It is the
// controller's entire view of an agent: no XP, no level, no history.
type Progress struct {
	// Tier is the sole source of truth for the next test's target difficulty.
	Tier Tier `json:"tier" yaml:"tier"`

	// ConsecutiveSuccesses counts the current pass streak.
	ConsecutiveSuccesses int `json:"consecutive_successes" yaml:"consecutive_successes"`

	// ConsecutiveFailures counts the current fail streak.
	ConsecutiveFailures int `json:"consecutive_failures" yaml:"consecutive_failures"`

	// StreakTier is the tier held when the current failure streak began.
	// De-escalation is recomputed from this anchor and the total streak
	// length, so a long failure run always lands where the streak table
	// says, instead of stalling after the first drop.
	StreakTier Tier `json:"streak_tier" yaml:"streak_tier"`
}

// DeescalationStep maps a minimum failure streak to a tier drop.
type DeescalationStep struct {
	MinStreak int `yaml:"min_streak" json:"min_streak"`
	Drop      int `yaml:"drop" json:"drop"`
}

// Rules configures the tier state machine.
type Rules struct {
	// EscalationStreak is the pass streak required to move up one tier.
	EscalationStreak int `yaml:"escalation_streak" json:"escalation_streak"`

	// Deescalation maps failure streak lengths to tier drops. The largest
	// matching step wins; magnitudes must be non-decreasing in streak
	// length.
	Deescalation []DeescalationStep `yaml:"deescalation" json:"deescalation"`
}

// DefaultRules returns the standard streak tables: escalate after 3
// consecutive passes, drop 2/3/4/5 tiers at failure streaks of 3/5/10/20.
func DefaultRules() Rules {
	return Rules{
		EscalationStreak: 3,
		Deescalation: []DeescalationStep{
			{MinStreak: 20, Drop: 5},
			{MinStreak: 10, Drop: 4},
			{MinStreak: 5, Drop: 3},
			{MinStreak: 3, Drop: 2},
		},
	}
}

// Validate checks the rule tables for consistency.
func (r Rules) Validate() error {
	if r.EscalationStreak < 1 {
		return fmt.Errorf("escalation_streak must be >= 1, got %d", r.EscalationStreak)
	}
	if len(r.Deescalation) == 0 {
		return fmt.Errorf("deescalation table must not be empty")
	}
	steps := sortedSteps(r.Deescalation)
	prevDrop := 0
	prevStreak := 0
	for _, s := range steps {
		if s.MinStreak < 1 {
			return fmt.Errorf("deescalation min_streak must be >= 1, got %d", s.MinStreak)
		}
		if s.MinStreak == prevStreak {
			return fmt.Errorf("duplicate deescalation min_streak %d", s.MinStreak)
		}
		if s.Drop < prevDrop {
			return fmt.Errorf("deescalation drop must be non-decreasing in streak length: streak %d drops %d after %d", s.MinStreak, s.Drop, prevDrop)
		}
		prevDrop = s.Drop
		prevStreak = s.MinStreak
	}
	return nil
}

func sortedSteps(steps []DeescalationStep) []DeescalationStep {
	out := make([]DeescalationStep, len(steps))
	copy(out, steps)
	sort.Slice(out, func(i, j int) bool { return out[i].MinStreak < out[j].MinStreak })
	return out
}

// Outcome describes one controller transition, including an audit rationale
// naming the rule that fired.
type Outcome struct {
	Previous  Tier
	Next      Tier
	Rationale string
}

// Controller applies streak rules to agent progress.
type Controller struct {
	rules Rules
}

// NewController validates the rules and returns a controller.
func NewController(rules Rules) (*Controller, error) {
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("invalid difficulty rules: %w", err)
	}
	return &Controller{rules: rules}, nil
}

// DropFor returns the de-escalation magnitude for a total failure streak.
func (c *Controller) DropFor(streak int) int {
	drop := 0
	for _, s := range sortedSteps(c.rules.Deescalation) {
		if streak >= s.MinStreak {
			drop = s.Drop
		}
	}
	return drop
}

// MaxDelta returns the largest tier change a single update can produce given
// the current streak: 1 for an escalation, DropFor(streak) for failures.
func (c *Controller) MaxDelta(streak int) int {
	if d := c.DropFor(streak); d > 1 {
		return d
	}
	return 1
}

// Update applies one test outcome to the agent's progress, mutating it in
// place, and returns the transition taken.
func (c *Controller) Update(p *Progress, passed bool) Outcome {
	prev := p.Tier
	if passed {
		p.ConsecutiveSuccesses++
		p.ConsecutiveFailures = 0
		p.StreakTier = p.Tier
		if p.ConsecutiveSuccesses >= c.rules.EscalationStreak {
			p.ConsecutiveSuccesses = 0
			next := (p.Tier + 1).Clamp()
			if next == prev {
				p.Tier = next
				return Outcome{Previous: prev, Next: next,
					Rationale: fmt.Sprintf("pass streak reached %d at maximum tier %s; holding", c.rules.EscalationStreak, prev)}
			}
			p.Tier = next
			p.StreakTier = next
			return Outcome{Previous: prev, Next: next,
				Rationale: fmt.Sprintf("escalated %s -> %s after %d consecutive passes", prev, next, c.rules.EscalationStreak)}
		}
		return Outcome{Previous: prev, Next: prev,
			Rationale: fmt.Sprintf("pass %d of %d toward escalation from %s", p.ConsecutiveSuccesses, c.rules.EscalationStreak, prev)}
	}

	if p.ConsecutiveFailures == 0 {
		// A new failure streak anchors at the tier where it began.
		p.StreakTier = p.Tier
	}
	p.ConsecutiveFailures++
	p.ConsecutiveSuccesses = 0

	drop := c.DropFor(p.ConsecutiveFailures)
	if drop == 0 {
		return Outcome{Previous: prev, Next: prev,
			Rationale: fmt.Sprintf("failure streak %d below de-escalation threshold; holding %s", p.ConsecutiveFailures, prev)}
	}

	// Recompute from the streak anchor, not the already-lowered tier, so N
	// failures land exactly where the table says for streak N.
	next := (p.StreakTier - Tier(drop)).Clamp()
	p.Tier = next
	if next == MinTier && p.StreakTier-Tier(drop) < MinTier {
		return Outcome{Previous: prev, Next: next,
			Rationale: fmt.Sprintf("failure streak %d triggered %d-tier drop from %s, clamped at %s", p.ConsecutiveFailures, drop, p.StreakTier, MinTier)}
	}
	return Outcome{Previous: prev, Next: next,
		Rationale: fmt.Sprintf("failure streak %d triggered %d-tier drop from %s to %s", p.ConsecutiveFailures, drop, p.StreakTier, next)}
}
