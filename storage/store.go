// Package storage persists test records, agent state and the rate budget.
// The memory backend is the default; a sqlite backend is available behind
// the sqlite build tag.
package storage

import (
	"context"

	"github.com/gauntletlabs/gauntlet/agent"
	"github.com/gauntletlabs/gauntlet/ratelimit"
	"github.com/gauntletlabs/gauntlet/record"
)

// Store defines the persistence operations for the evaluation engine.
type Store interface {
	Init(ctx context.Context) error

	SaveTestRecord(ctx context.Context, rec record.Record) error
	GetTestRecord(ctx context.Context, id string) (record.Record, bool, error)
	ListTestRecords(ctx context.Context, agentID string) ([]record.Record, error)

	SaveAgentState(ctx context.Context, state agent.State) error
	GetAgentState(ctx context.Context, id string) (agent.State, bool, error)
	ListAgentStates(ctx context.Context) ([]agent.State, error)

	// SaveRoster persists every agent state in one call, used when seeding
	// a fresh roster at startup.
	SaveRoster(ctx context.Context, states []agent.State) error

	SaveBudgetSnapshot(ctx context.Context, snap ratelimit.Snapshot) error
	GetBudgetSnapshot(ctx context.Context) (ratelimit.Snapshot, bool, error)

	// SaveCycle commits a test record, every participant's updated state
	// and the budget snapshot atomically: either all land or none do.
	// Solo cycles pass a single state, collaborative cycles pass all.
	SaveCycle(ctx context.Context, rec record.Record, states []agent.State, snap ratelimit.Snapshot) error
}
