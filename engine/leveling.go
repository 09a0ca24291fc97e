package engine

import (
	"math"

	"github.com/gauntletlabs/gauntlet/difficulty"
	"github.com/gauntletlabs/gauntlet/evaluate"
)

// LevelingConfig controls XP awards and level thresholds. Leveling reads
// evaluation results and tiers but its output feeds only XP and level; the
// difficulty controller never sees either.
type LevelingConfig struct {
	// BaseXP is the award for a clean pass at the bottom tier.
	BaseXP int `yaml:"base_xp" json:"base_xp"`

	// ConsolationXP is awarded for a failure whose composite still cleared
	// ConsolationFloor. Below the floor a failure earns nothing.
	ConsolationXP    int     `yaml:"consolation_xp" json:"consolation_xp"`
	ConsolationFloor float64 `yaml:"consolation_floor" json:"consolation_floor"`

	// TierMultiplierStep raises the pass award per tier index:
	// multiplier = 1 + step*index.
	TierMultiplierStep float64 `yaml:"tier_multiplier_step" json:"tier_multiplier_step"`

	// LevelUnit scales the quadratic level thresholds: reaching level n
	// requires cumulative XP of LevelUnit * n*(n-1)/2.
	LevelUnit int `yaml:"level_unit" json:"level_unit"`
}

// DefaultLevelingConfig mirrors the classic 10-per-pass, 1-per-fail scheme.
func DefaultLevelingConfig() LevelingConfig {
	return LevelingConfig{
		BaseXP:             10,
		ConsolationXP:      1,
		ConsolationFloor:   40,
		TierMultiplierStep: 0.5,
		LevelUnit:          50,
	}
}

// XPAward computes the XP delta for one scored cycle.
func (c LevelingConfig) XPAward(result evaluate.Result, tier difficulty.Tier) int {
	if !result.Passed {
		if result.Composite >= c.ConsolationFloor {
			return c.ConsolationXP
		}
		return 0
	}
	multiplier := 1 + c.TierMultiplierStep*float64(tier.Index())
	return int(math.Round(float64(c.BaseXP) * result.Composite / 100 * multiplier))
}

// LevelFor maps cumulative XP to a level, starting at 1.
func (c LevelingConfig) LevelFor(xp int) int {
	level := 1
	for xp >= c.thresholdFor(level+1) {
		level++
	}
	return level
}

// thresholdFor is the cumulative XP required to hold the given level.
func (c LevelingConfig) thresholdFor(level int) int {
	if level <= 1 {
		return 0
	}
	return c.LevelUnit * level * (level - 1) / 2
}
