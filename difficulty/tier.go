// Package difficulty implements the per-agent tier state machine.
// Tier transitions are driven entirely by pass/fail streaks; the package
// deliberately has no view of XP or levels so that leveling can never
// influence which tier an agent is tested at.
package difficulty

import (
	"encoding/json"
	"fmt"
)

// Tier is an ordered difficulty level. The next test an agent receives is
// always generated for its stored tier.
type Tier int

// Tiers in ascending order of difficulty.
const (
	TierBasic Tier = iota
	TierIntermediate
	TierAdvanced
	TierExpert
	TierMaster
	TierLegendary
)

// MinTier and MaxTier bound the tier scale.
const (
	MinTier = TierBasic
	MaxTier = TierLegendary
)

// TierCount is the number of tiers on the scale.
const TierCount = int(MaxTier) + 1

var tierLabels = [TierCount]string{
	"basic",
	"intermediate",
	"advanced",
	"expert",
	"master",
	"legendary",
}

// String returns the tier label.
func (t Tier) String() string {
	if t < MinTier || t > MaxTier {
		return fmt.Sprintf("tier(%d)", int(t))
	}
	return tierLabels[t]
}

// Valid reports whether the tier is on the scale.
func (t Tier) Valid() bool {
	return t >= MinTier && t <= MaxTier
}

// Clamp bounds the tier to [MinTier, MaxTier].
func (t Tier) Clamp() Tier {
	if t < MinTier {
		return MinTier
	}
	if t > MaxTier {
		return MaxTier
	}
	return t
}

// Index returns the zero-based position of the tier on the scale.
// Useful for parametric scaling of expectations and weights.
func (t Tier) Index() int {
	return int(t.Clamp())
}

// ParseTier resolves a tier label to its Tier value.
func ParseTier(label string) (Tier, error) {
	for i, l := range tierLabels {
		if l == label {
			return Tier(i), nil
		}
	}
	return MinTier, fmt.Errorf("unknown tier label %q", label)
}

// AllTiers returns every tier in ascending order.
func AllTiers() []Tier {
	tiers := make([]Tier, TierCount)
	for i := range tiers {
		tiers[i] = Tier(i)
	}
	return tiers
}

// MarshalJSON encodes the tier as its label.
func (t Tier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a tier label.
func (t *Tier) UnmarshalJSON(data []byte) error {
	var label string
	if err := json.Unmarshal(data, &label); err != nil {
		return err
	}
	parsed, err := ParseTier(label)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalYAML encodes the tier as its label.
func (t Tier) MarshalYAML() (interface{}, error) {
	return t.String(), nil
}

// UnmarshalYAML decodes a tier label.
func (t *Tier) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var label string
	if err := unmarshal(&label); err != nil {
		return err
	}
	parsed, err := ParseTier(label)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
