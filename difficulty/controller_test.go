package difficulty

import (
	"testing"
)

func mustController(t *testing.T) *Controller {
	t.Helper()
	c, err := NewController(DefaultRules())
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	return c
}

func TestUpdateEscalation(t *testing.T) {
	c := mustController(t)
	p := &Progress{Tier: TierIntermediate, StreakTier: TierIntermediate}

	for i := 0; i < 2; i++ {
		out := c.Update(p, true)
		if out.Next != TierIntermediate {
			t.Fatalf("pass %d: tier = %s, want intermediate", i+1, out.Next)
		}
	}
	out := c.Update(p, true)
	if out.Next != TierAdvanced {
		t.Errorf("third pass: tier = %s, want advanced", out.Next)
	}
	if p.ConsecutiveSuccesses != 0 {
		t.Errorf("success streak = %d after escalation, want 0", p.ConsecutiveSuccesses)
	}
}

func TestUpdateEscalationCapsAtMaxTier(t *testing.T) {
	c := mustController(t)
	p := &Progress{Tier: TierLegendary, StreakTier: TierLegendary}

	for i := 0; i < 9; i++ {
		c.Update(p, true)
	}
	if p.Tier != TierLegendary {
		t.Errorf("tier = %s after passes at max tier, want legendary", p.Tier)
	}
}

// Three consecutive failures with no prior streak trigger the 3-streak rule:
// a drop of exactly two tiers from where the streak began.
func TestUpdateThreeFailureStreakDropsTwoTiers(t *testing.T) {
	c := mustController(t)
	p := &Progress{Tier: TierAdvanced, StreakTier: TierAdvanced}

	c.Update(p, false)
	c.Update(p, false)
	if p.Tier != TierAdvanced {
		t.Fatalf("tier = %s after 2 failures, want advanced (below threshold)", p.Tier)
	}
	out := c.Update(p, false)
	if out.Next != TierBasic {
		t.Errorf("tier = %s after 3 failures from advanced, want basic (2-tier drop)", out.Next)
	}
}

// A 10-failure streak must land where the 10-streak rule says (4 tiers below
// the streak anchor), not accumulate repeated smaller drops.
func TestUpdateLongStreakRecomputedFromAnchor(t *testing.T) {
	c := mustController(t)
	p := &Progress{Tier: TierLegendary, StreakTier: TierLegendary}

	for i := 0; i < 10; i++ {
		c.Update(p, false)
	}
	if p.Tier != TierIntermediate {
		t.Errorf("tier = %s after 10 failures from legendary, want intermediate (4-tier drop from anchor)", p.Tier)
	}
	if p.ConsecutiveFailures != 10 {
		t.Errorf("failure streak = %d, want 10", p.ConsecutiveFailures)
	}
}

func TestUpdateFloorClampOnLongStreak(t *testing.T) {
	c := mustController(t)
	p := &Progress{Tier: TierIntermediate, StreakTier: TierIntermediate}

	// 107 consecutive failures must not leave the agent stuck mid-scale.
	for i := 0; i < 107; i++ {
		c.Update(p, false)
	}
	if p.Tier != TierBasic {
		t.Errorf("tier = %s after 107 failures, want basic", p.Tier)
	}
}

func TestUpdatePassResetsFailureStreak(t *testing.T) {
	c := mustController(t)
	p := &Progress{Tier: TierExpert, StreakTier: TierExpert}

	c.Update(p, false)
	c.Update(p, false)
	c.Update(p, true)
	if p.ConsecutiveFailures != 0 {
		t.Errorf("failure streak = %d after pass, want 0", p.ConsecutiveFailures)
	}

	// The next failure starts a fresh streak anchored at the current tier.
	c.Update(p, false)
	if p.ConsecutiveFailures != 1 {
		t.Errorf("failure streak = %d, want 1", p.ConsecutiveFailures)
	}
	if p.StreakTier != TierExpert {
		t.Errorf("streak anchor = %s, want expert", p.StreakTier)
	}
}

func TestDropForMonotonic(t *testing.T) {
	c := mustController(t)

	prev := 0
	for streak := 0; streak <= 40; streak++ {
		drop := c.DropFor(streak)
		if drop < prev {
			t.Fatalf("DropFor(%d) = %d, less than DropFor(%d) = %d", streak, drop, streak-1, prev)
		}
		prev = drop
	}

	tests := []struct {
		streak int
		want   int
	}{
		{0, 0}, {1, 0}, {2, 0},
		{3, 2}, {4, 2},
		{5, 3}, {9, 3},
		{10, 4}, {19, 4},
		{20, 5}, {107, 5},
	}
	for _, tt := range tests {
		if got := c.DropFor(tt.streak); got != tt.want {
			t.Errorf("DropFor(%d) = %d, want %d", tt.streak, got, tt.want)
		}
	}
}

// Every single update moves the tier by at most MaxDelta(streak).
func TestUpdateBoundedByMaxDelta(t *testing.T) {
	c := mustController(t)

	outcomes := []bool{false, false, false, true, false, true, true, true, false, false, false, false, false, true}
	p := &Progress{Tier: TierMaster, StreakTier: TierMaster}
	for i, passed := range outcomes {
		before := p.Tier
		c.Update(p, passed)
		streak := p.ConsecutiveFailures
		delta := int(before) - int(p.Tier)
		if delta < 0 {
			delta = -delta
		}
		if delta > c.MaxDelta(streak) {
			t.Fatalf("step %d: tier moved %d, more than MaxDelta(%d) = %d", i, delta, streak, c.MaxDelta(streak))
		}
	}
}

func TestRulesValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Rules)
		wantErr bool
	}{
		{
			name:    "default rules",
			modify:  func(r *Rules) {},
			wantErr: false,
		},
		{
			name:    "zero escalation streak",
			modify:  func(r *Rules) { r.EscalationStreak = 0 },
			wantErr: true,
		},
		{
			name:    "empty deescalation table",
			modify:  func(r *Rules) { r.Deescalation = nil },
			wantErr: true,
		},
		{
			name: "non-monotonic drops",
			modify: func(r *Rules) {
				r.Deescalation = []DeescalationStep{{MinStreak: 3, Drop: 4}, {MinStreak: 10, Drop: 2}}
			},
			wantErr: true,
		},
		{
			name: "duplicate streak threshold",
			modify: func(r *Rules) {
				r.Deescalation = []DeescalationStep{{MinStreak: 3, Drop: 2}, {MinStreak: 3, Drop: 3}}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules := DefaultRules()
			tt.modify(&rules)
			err := rules.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseTierRoundTrip(t *testing.T) {
	for _, tier := range AllTiers() {
		parsed, err := ParseTier(tier.String())
		if err != nil {
			t.Fatalf("ParseTier(%q) error = %v", tier.String(), err)
		}
		if parsed != tier {
			t.Errorf("ParseTier(%q) = %v, want %v", tier.String(), parsed, tier)
		}
	}
	if _, err := ParseTier("mythic"); err == nil {
		t.Error("ParseTier(mythic) expected error")
	}
}
