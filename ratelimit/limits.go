// Package ratelimit gates external generation calls behind token budgets.
// The arbiter is the single synchronization point shared by concurrent test
// cycles: acquisition never blocks, denial is a normal return value, and the
// caller decides whether to skip or defer.
package ratelimit

import (
	"fmt"
	"time"
)

// Default utilization thresholds, as fractions of a window's limit.
const (
	DefaultWarningFraction   = 0.80
	DefaultCriticalFraction  = 0.95
	DefaultEmergencyFraction = 0.98
)

// Limits is the tunable budget configuration. Zero-valued hourly and daily
// ceilings are derived from the monthly ceiling (daily = monthly/30,
// hourly = daily/24) during normalization.
type Limits struct {
	MonthlyTokens    int64         `yaml:"monthly_tokens" json:"monthly_tokens"`
	DailyTokens      int64         `yaml:"daily_tokens" json:"daily_tokens"`
	HourlyTokens     int64         `yaml:"hourly_tokens" json:"hourly_tokens"`
	PerRequestTokens int64         `yaml:"per_request_tokens" json:"per_request_tokens"`
	Cooldown         time.Duration `yaml:"cooldown" json:"cooldown"`
	MaxConcurrency   int           `yaml:"max_concurrency" json:"max_concurrency"`

	// Fractions of a window's limit at which leveled signals fire. Unset
	// values take the package defaults.
	WarningFraction   float64 `yaml:"warning_fraction" json:"warning_fraction"`
	CriticalFraction  float64 `yaml:"critical_fraction" json:"critical_fraction"`
	EmergencyFraction float64 `yaml:"emergency_fraction" json:"emergency_fraction"`
}

// DefaultLimits returns a conservative starting budget.
func DefaultLimits() Limits {
	return Limits{
		MonthlyTokens:    3_000_000,
		PerRequestTokens: 8_000,
		Cooldown:         90 * time.Second,
		MaxConcurrency:   4,
	}
}

// Normalized fills derived ceilings and threshold defaults.
func (l Limits) Normalized() Limits {
	if l.DailyTokens == 0 && l.MonthlyTokens > 0 {
		l.DailyTokens = l.MonthlyTokens / 30
	}
	if l.HourlyTokens == 0 && l.DailyTokens > 0 {
		l.HourlyTokens = l.DailyTokens / 24
	}
	if l.WarningFraction == 0 {
		l.WarningFraction = DefaultWarningFraction
	}
	if l.CriticalFraction == 0 {
		l.CriticalFraction = DefaultCriticalFraction
	}
	if l.EmergencyFraction == 0 {
		l.EmergencyFraction = DefaultEmergencyFraction
	}
	return l
}

// Validate checks the normalized form of the limits.
func (l Limits) Validate() error {
	n := l.Normalized()
	if n.MonthlyTokens <= 0 {
		return fmt.Errorf("monthly_tokens must be positive")
	}
	if n.DailyTokens <= 0 || n.HourlyTokens <= 0 {
		return fmt.Errorf("window ceilings must be positive after derivation")
	}
	if n.DailyTokens > n.MonthlyTokens || n.HourlyTokens > n.DailyTokens {
		return fmt.Errorf("window ceilings must narrow: hourly <= daily <= monthly")
	}
	if n.PerRequestTokens <= 0 {
		return fmt.Errorf("per_request_tokens must be positive")
	}
	if n.Cooldown < 0 {
		return fmt.Errorf("cooldown must be >= 0")
	}
	if n.MaxConcurrency <= 0 {
		return fmt.Errorf("max_concurrency must be positive")
	}
	if !(0 < n.WarningFraction && n.WarningFraction <= n.CriticalFraction && n.CriticalFraction <= n.EmergencyFraction && n.EmergencyFraction <= 1) {
		return fmt.Errorf("thresholds must satisfy 0 < warning <= critical <= emergency <= 1")
	}
	return nil
}
