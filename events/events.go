// Package events publishes cycle completion events over NATS so downstream
// consumers (dashboards, audit pipelines) can follow the evaluation loop.
// Publishing is best-effort: a nil connection disables it and failures are
// logged, never propagated into the cycle.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/gauntletlabs/gauntlet/record"
)

// CycleCompletedSubject carries one message per finished test cycle.
const CycleCompletedSubject = "gauntlet.cycle.completed"

// CycleEvent is the wire format for a completed cycle.
type CycleEvent struct {
	RecordID  string         `json:"record_id"`
	AgentID   string         `json:"agent_id"`
	Domain    string         `json:"domain"`
	Tier      string         `json:"tier"`
	Outcome   record.Outcome `json:"outcome"`
	Composite float64        `json:"composite,omitempty"`
	XPAwarded int            `json:"xp_awarded"`
	Timestamp time.Time      `json:"timestamp"`
}

// Publisher emits cycle events. The zero value and a nil receiver are safe
// no-ops, so callers never need to branch on whether events are enabled.
type Publisher struct {
	nc     *nats.Conn
	logger *slog.Logger
}

// NewPublisher wraps a NATS connection. A nil conn disables publishing.
func NewPublisher(nc *nats.Conn, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{nc: nc, logger: logger}
}

// CycleCompleted publishes the event for a finished cycle.
func (p *Publisher) CycleCompleted(rec record.Record) {
	if p == nil || p.nc == nil {
		return // Skip publishing without a NATS connection (graceful degradation)
	}

	event := CycleEvent{
		RecordID:  rec.ID,
		AgentID:   rec.AgentID,
		Domain:    rec.Domain,
		Tier:      rec.Tier.String(),
		Outcome:   rec.Outcome,
		XPAwarded: rec.XPAwarded,
		Timestamp: time.Now().UTC(),
	}
	if rec.Result != nil {
		event.Composite = rec.Result.Composite
	}

	if err := p.publish(CycleCompletedSubject, event); err != nil {
		p.logger.Warn("failed to publish cycle event",
			"record_id", rec.ID, "agent_id", rec.AgentID, "error", err)
	}
}

func (p *Publisher) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal cycle event: %w", err)
	}
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish cycle event: %w", err)
	}
	return nil
}
