// Package record defines the immutable audit record written after every
// test cycle, whatever its outcome.
package record

import (
	"time"

	"github.com/gauntletlabs/gauntlet/difficulty"
	"github.com/gauntletlabs/gauntlet/evaluate"
	"github.com/gauntletlabs/gauntlet/rubric"
)

// Modality distinguishes solo from collaborative tests.
type Modality string

const (
	ModalitySolo          Modality = "solo"
	ModalityCollaborative Modality = "collaborative"
)

// Outcome classifies how a cycle ended.
type Outcome string

const (
	// OutcomePassed and OutcomeFailed are scored results.
	OutcomePassed Outcome = "passed"
	OutcomeFailed Outcome = "failed"

	// OutcomeSkipped means the rate arbiter denied the permit; no agent
	// state changed.
	OutcomeSkipped Outcome = "skipped"

	// OutcomeInconclusive means the external generation call failed; no
	// agent state changed.
	OutcomeInconclusive Outcome = "inconclusive"
)

// Record is one test cycle's audit trail. Skipped and inconclusive records
// carry no evaluation result.
type Record struct {
	ID           string          `json:"id"`
	AgentID      string          `json:"agent_id"`
	Participants []string        `json:"participants,omitempty"`
	Domain       string          `json:"domain"`
	ScenarioID   string          `json:"scenario_id"`
	ScenarioText string          `json:"scenario_text"`
	Tier         difficulty.Tier `json:"tier"`
	Modality     Modality        `json:"modality"`

	Rubric  rubric.Rubric    `json:"rubric"`
	Result  *evaluate.Result `json:"result,omitempty"`
	Outcome Outcome          `json:"outcome"`

	// TierChange is the difficulty controller's audit rationale, empty for
	// skipped and inconclusive cycles.
	TierChange string `json:"tier_change,omitempty"`
	XPAwarded  int    `json:"xp_awarded"`

	// DenialReason is set for skipped cycles, Error for inconclusive ones.
	DenialReason string `json:"denial_reason,omitempty"`
	Error        string `json:"error,omitempty"`

	TokensUsed  int64     `json:"tokens_used"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Scored reports whether the cycle produced an evaluation.
func (r Record) Scored() bool {
	return r.Outcome == OutcomePassed || r.Outcome == OutcomeFailed
}
