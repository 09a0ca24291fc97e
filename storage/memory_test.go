package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gauntletlabs/gauntlet/agent"
	"github.com/gauntletlabs/gauntlet/difficulty"
	"github.com/gauntletlabs/gauntlet/ratelimit"
	"github.com/gauntletlabs/gauntlet/record"
)

func testAgentState(t *testing.T) agent.State {
	t.Helper()
	st, err := agent.New(agent.TypeWarden)
	require.NoError(t, err)
	return *st
}

func testRecord(id, agentID string, start time.Time) record.Record {
	return record.Record{
		ID:        id,
		AgentID:   agentID,
		Domain:    "security",
		Tier:      difficulty.TierAdvanced,
		Modality:  record.ModalitySolo,
		Outcome:   record.OutcomePassed,
		StartedAt: start,
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Init(ctx))

	state := testAgentState(t)
	require.NoError(t, s.SaveAgentState(ctx, state))

	got, ok, err := s.GetAgentState(ctx, "warden")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, state, got)

	_, ok, err = s.GetAgentState(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreListTestRecords(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Init(ctx))

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveTestRecord(ctx, testRecord("r2", "a", base.Add(time.Hour))))
	require.NoError(t, s.SaveTestRecord(ctx, testRecord("r1", "a", base)))
	require.NoError(t, s.SaveTestRecord(ctx, testRecord("r3", "b", base)))

	recs, err := s.ListTestRecords(ctx, "a")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "r1", recs[0].ID, "records sort by start time")
	assert.Equal(t, "r2", recs[1].ID)

	all, err := s.ListTestRecords(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemoryStoreSaveRoster(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Init(ctx))

	var states []agent.State
	for _, typ := range agent.AllTypes() {
		st, err := agent.New(typ)
		require.NoError(t, err)
		states = append(states, *st)
	}
	require.NoError(t, s.SaveRoster(ctx, states))

	got, err := s.ListAgentStates(ctx)
	require.NoError(t, err)
	assert.Len(t, got, len(states))
}

func TestMemoryStoreBudgetSnapshot(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Init(ctx))

	_, ok, err := s.GetBudgetSnapshot(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	snap := ratelimit.Snapshot{
		Windows:   map[string]ratelimit.Window{"hour": {Consumed: 42, Limit: 100}},
		Cooldowns: map[string]time.Time{"warden-1": time.Now().UTC()},
	}
	require.NoError(t, s.SaveBudgetSnapshot(ctx, snap))

	got, ok, err := s.GetBudgetSnapshot(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snap, got)
}

func TestMemoryStoreSaveCycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Init(ctx))

	state := testAgentState(t)
	state.XP = 30
	rec := testRecord("r1", "warden", time.Now().UTC())
	snap := ratelimit.Snapshot{Windows: map[string]ratelimit.Window{"hour": {Consumed: 5, Limit: 10}}}

	require.NoError(t, s.SaveCycle(ctx, rec, []agent.State{state}, snap))

	gotRec, ok, err := s.GetTestRecord(ctx, "r1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec, gotRec)

	gotState, ok, err := s.GetAgentState(ctx, "warden")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 30, gotState.XP)

	_, ok, err = s.GetBudgetSnapshot(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStoreSaveCyclePersistsAllParticipants(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Init(ctx))

	lead, err := agent.New(agent.TypeArchitect)
	require.NoError(t, err)
	partner, err := agent.New(agent.TypeWarden)
	require.NoError(t, err)
	lead.XP, partner.XP = 12, 12

	rec := testRecord("r1", lead.ID, time.Now().UTC())
	rec.Modality = record.ModalityCollaborative
	snap := ratelimit.Snapshot{Windows: map[string]ratelimit.Window{"hour": {Consumed: 5, Limit: 10}}}

	require.NoError(t, s.SaveCycle(ctx, rec, []agent.State{*lead, *partner}, snap))

	for _, id := range []string{lead.ID, partner.ID} {
		got, ok, err := s.GetAgentState(ctx, id)
		require.NoError(t, err)
		require.True(t, ok, id)
		assert.Equal(t, 12, got.XP, id)
	}
}
