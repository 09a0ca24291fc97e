package events

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gauntletlabs/gauntlet/difficulty"
	"github.com/gauntletlabs/gauntlet/evaluate"
	"github.com/gauntletlabs/gauntlet/record"
)

func TestPublisherNilConnectionIsNoOp(t *testing.T) {
	p := NewPublisher(nil, nil)

	assert.NotPanics(t, func() {
		p.CycleCompleted(record.Record{
			ID:      "r1",
			AgentID: "warden",
			Tier:    difficulty.TierBasic,
			Outcome: record.OutcomePassed,
			Result:  &evaluate.Result{Composite: 84.2},
		})
	})
}

func TestNilPublisherIsNoOp(t *testing.T) {
	var p *Publisher
	assert.NotPanics(t, func() {
		p.CycleCompleted(record.Record{ID: "r1"})
	})
}
