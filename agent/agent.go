// Package agent defines the fixed roster of evaluated agents and their
// persistent state. Agents are created once at roster initialization and are
// never deleted, only reset administratively.
package agent

import (
	"fmt"
	"time"

	"github.com/gauntletlabs/gauntlet/difficulty"
)

// Type identifies an agent on the roster. The roster is a fixed enumeration;
// each type declares a strength axis used during rubric synthesis.
type Type string

// The roster.
const (
	// TypeWarden favors protective and defensive reasoning.
	TypeWarden Type = "warden"
	// TypeArchitect favors systemic optimization.
	TypeArchitect Type = "architect"
	// TypeEnvoy favors user-centered delivery.
	TypeEnvoy Type = "envoy"
	// TypePioneer favors exploratory, innovative reasoning.
	TypePioneer Type = "pioneer"
)

// AllTypes returns the full roster in a stable order.
func AllTypes() []Type {
	return []Type{TypeWarden, TypeArchitect, TypeEnvoy, TypePioneer}
}

// Valid reports whether the type is on the roster.
func (t Type) Valid() bool {
	switch t {
	case TypeWarden, TypeArchitect, TypeEnvoy, TypePioneer:
		return true
	}
	return false
}

// StrengthAxis describes the reasoning axis the agent is expected to excel
// at. Rubric synthesis turns this into agent-specific criteria.
func (t Type) StrengthAxis() string {
	switch t {
	case TypeWarden:
		return "protective and defensive reasoning"
	case TypeArchitect:
		return "systemic optimization"
	case TypeEnvoy:
		return "user-centered delivery"
	case TypePioneer:
		return "exploratory and innovative reasoning"
	}
	return "general problem solving"
}

// PreferredDomains lists the scenario domains the agent is most often
// tested in, in preference order.
func (t Type) PreferredDomains() []string {
	switch t {
	case TypeWarden:
		return []string{"security", "system_design"}
	case TypeArchitect:
		return []string{"optimization", "system_design"}
	case TypeEnvoy:
		return []string{"product", "system_design"}
	case TypePioneer:
		return []string{"experimentation", "optimization"}
	}
	return []string{"system_design"}
}

// State is an agent's persistent evaluation state, mutated once per
// completed test cycle.
type State struct {
	ID   string `json:"id"`
	Type Type   `json:"type"`

	// Progress holds tier and streaks. It is owned by the difficulty
	// controller; nothing else writes it.
	Progress difficulty.Progress `json:"progress"`

	// XP is cumulative and monotonically non-decreasing outside Reset.
	XP    int `json:"xp"`
	Level int `json:"level"`

	LastTestAt time.Time `json:"last_test_at,omitempty"`
}

// New returns the initial state for one agent of the given type.
func New(t Type) (*State, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown agent type %q", t)
	}
	return &State{
		ID:    string(t),
		Type:  t,
		Level: 1,
		Progress: difficulty.Progress{
			Tier:       difficulty.TierBasic,
			StreakTier: difficulty.TierBasic,
		},
	}, nil
}

// NewRoster returns the full fixed roster in initial state.
func NewRoster() []*State {
	roster := make([]*State, 0, len(AllTypes()))
	for _, t := range AllTypes() {
		s, _ := New(t)
		roster = append(roster, s)
	}
	return roster
}

// Reset administratively returns the agent to initial state. This is the
// only path by which XP may decrease.
func (s *State) Reset() {
	s.Progress = difficulty.Progress{
		Tier:       difficulty.TierBasic,
		StreakTier: difficulty.TierBasic,
	}
	s.XP = 0
	s.Level = 1
	s.LastTestAt = time.Time{}
}

// Clone returns a copy of the state. Cycles mutate the copy and only adopt
// it after a successful atomic persist.
func (s *State) Clone() *State {
	c := *s
	return &c
}
