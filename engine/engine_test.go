package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gauntletlabs/gauntlet/agent"
	"github.com/gauntletlabs/gauntlet/difficulty"
	"github.com/gauntletlabs/gauntlet/evaluate"
	"github.com/gauntletlabs/gauntlet/generation"
	"github.com/gauntletlabs/gauntlet/ratelimit"
	"github.com/gauntletlabs/gauntlet/record"
	"github.com/gauntletlabs/gauntlet/scenario"
	"github.com/gauntletlabs/gauntlet/storage"
)

// stubGen returns canned responses in order, then repeats the last one.
type stubGen struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
	block     chan struct{}
}

func (g *stubGen) Generate(ctx context.Context, _ generation.Request) (*generation.Result, error) {
	if g.block != nil {
		select {
		case <-g.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	g.mu.Lock()
	idx := g.calls
	if idx >= len(g.responses) {
		idx = len(g.responses) - 1
	}
	g.calls++
	g.mu.Unlock()
	return &generation.Result{
		Text:  g.responses[idx],
		Model: "stub",
		Usage: generation.Usage{PromptTokens: 50, CompletionTokens: 50, TotalTokens: 100},
	}, nil
}

func (g *stubGen) EstimateCost(_ generation.Request) int64 { return 200 }

// evaluatorWithThreshold builds an evaluator whose pass thresholds are
// pinned, making pass/fail deterministic regardless of match counts.
func evaluatorWithThreshold(t *testing.T, threshold float64) *evaluate.Evaluator {
	t.Helper()
	cfg := evaluate.DefaultConfig()
	for _, tier := range difficulty.AllTiers() {
		cfg.PassThresholds[tier.String()] = threshold
	}
	ev, err := evaluate.NewEvaluator(cfg)
	require.NoError(t, err)
	return ev
}

func openLimits() ratelimit.Limits {
	return ratelimit.Limits{
		MonthlyTokens:    72_000_000,
		PerRequestTokens: 100_000,
		Cooldown:         0,
		MaxConcurrency:   16,
	}
}

type engineFixture struct {
	engine  *Engine
	store   *storage.MemoryStore
	arbiter *ratelimit.Arbiter
	gen     *stubGen
}

func newFixture(t *testing.T, threshold float64, limits ratelimit.Limits, gen *stubGen) engineFixture {
	t.Helper()

	ctrl, err := difficulty.NewController(difficulty.DefaultRules())
	require.NoError(t, err)
	arb, err := ratelimit.NewArbiter(limits)
	require.NoError(t, err)
	store := storage.NewMemoryStore()
	require.NoError(t, store.Init(context.Background()))

	eng := New(ctrl, evaluatorWithThreshold(t, threshold), arb, scenario.NewTemplateProvider(), gen, store)
	return engineFixture{engine: eng, store: store, arbiter: arb, gen: gen}
}

func newAgent(t *testing.T, typ agent.Type) *agent.State {
	t.Helper()
	st, err := agent.New(typ)
	require.NoError(t, err)
	return st
}

func TestRunCyclePass(t *testing.T) {
	fix := newFixture(t, 1, openLimits(), &stubGen{responses: []string{"a solid answer"}})
	st := newAgent(t, agent.TypeWarden)
	ctx := context.Background()

	rec, err := fix.engine.RunCycle(ctx, st)
	require.NoError(t, err)

	assert.Equal(t, record.OutcomePassed, rec.Outcome)
	assert.Equal(t, record.ModalitySolo, rec.Modality)
	assert.Equal(t, "security", rec.Domain, "warden leads with its preferred domain")
	require.NotNil(t, rec.Result)
	assert.True(t, rec.Result.Passed)
	assert.NotEmpty(t, rec.TierChange)
	assert.Equal(t, int64(100), rec.TokensUsed)

	// Agent state advanced and was persisted.
	assert.Greater(t, st.XP, 0)
	assert.Equal(t, rec.XPAwarded, st.XP)
	assert.Equal(t, 1, st.Progress.ConsecutiveSuccesses)
	saved, ok, err := fix.store.GetAgentState(ctx, st.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, *st, saved)

	// Budget snapshot landed with the cycle.
	_, ok, err = fix.store.GetBudgetSnapshot(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, fix.arbiter.InFlight())
}

func TestRunCycleFail(t *testing.T) {
	fix := newFixture(t, 100, openLimits(), &stubGen{responses: []string{"gibberish"}})
	st := newAgent(t, agent.TypeArchitect)

	rec, err := fix.engine.RunCycle(context.Background(), st)
	require.NoError(t, err)

	assert.Equal(t, record.OutcomeFailed, rec.Outcome)
	assert.Equal(t, 1, st.Progress.ConsecutiveFailures)
	assert.Zero(t, st.Progress.ConsecutiveSuccesses)
	assert.Equal(t, difficulty.TierBasic, st.Progress.Tier, "one failure does not de-escalate")
}

func TestRunCycleDenialSkips(t *testing.T) {
	limits := openLimits()
	limits.Cooldown = time.Hour
	fix := newFixture(t, 1, limits, &stubGen{responses: []string{"x"}})
	st := newAgent(t, agent.TypeEnvoy)
	ctx := context.Background()

	// First cycle grants; the second hits the cooldown.
	_, err := fix.engine.RunCycle(ctx, st)
	require.NoError(t, err)
	before := *st

	rec, err := fix.engine.RunCycle(ctx, st)
	require.NoError(t, err)

	assert.Equal(t, record.OutcomeSkipped, rec.Outcome)
	assert.Equal(t, string(ratelimit.CooldownActive), rec.DenialReason)
	assert.Nil(t, rec.Result)
	assert.Equal(t, before, *st, "skipped cycles leave agent state untouched")

	// The skip itself is still auditable.
	saved, ok, err := fix.store.GetTestRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, record.OutcomeSkipped, saved.Outcome)
}

func TestRunCycleGenerationErrorInconclusive(t *testing.T) {
	gen := &stubGen{err: generation.NewTransientError(errors.New("provider down"))}
	fix := newFixture(t, 1, openLimits(), gen)
	st := newAgent(t, agent.TypePioneer)
	before := *st

	rec, err := fix.engine.RunCycle(context.Background(), st)
	require.NoError(t, err)

	assert.Equal(t, record.OutcomeInconclusive, rec.Outcome)
	assert.Contains(t, rec.Error, "provider down")
	assert.Equal(t, before, *st, "inconclusive cycles leave agent state untouched")
	assert.Equal(t, 0, fix.arbiter.InFlight(), "permit released on failure")
}

// failingStore passes everything through except the atomic cycle commit.
type failingStore struct {
	*storage.MemoryStore
}

func (s *failingStore) SaveCycle(_ context.Context, _ record.Record, _ []agent.State, _ ratelimit.Snapshot) error {
	return errors.New("disk full")
}

func TestRunCyclePersistFailureCommitsNothing(t *testing.T) {
	fix := newFixture(t, 1, openLimits(), &stubGen{responses: []string{"x"}})
	store := &failingStore{MemoryStore: fix.store}

	ctrl, err := difficulty.NewController(difficulty.DefaultRules())
	require.NoError(t, err)
	eng := New(ctrl, evaluatorWithThreshold(t, 1), fix.arbiter, scenario.NewTemplateProvider(), fix.gen, store)

	st := newAgent(t, agent.TypeWarden)
	before := *st

	_, err = eng.RunCycle(context.Background(), st)
	require.Error(t, err)
	assert.Equal(t, before, *st, "no partial state on persistence failure")
}

func TestRunCycleAgentBusy(t *testing.T) {
	gen := &stubGen{responses: []string{"x"}, block: make(chan struct{})}
	fix := newFixture(t, 1, openLimits(), gen)
	st := newAgent(t, agent.TypeWarden)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = fix.engine.RunCycle(context.Background(), st)
	}()

	// Wait until the first cycle holds the permit, then collide.
	require.Eventually(t, func() bool {
		return fix.arbiter.InFlight() == 1
	}, time.Second, time.Millisecond)

	_, err := fix.engine.RunCycle(context.Background(), st)
	assert.ErrorIs(t, err, ErrAgentBusy)

	close(gen.block)
	<-done
}

func TestRunRoster(t *testing.T) {
	fix := newFixture(t, 1, openLimits(), &stubGen{responses: []string{"x"}})
	roster := []*agent.State{
		newAgent(t, agent.TypeWarden),
		newAgent(t, agent.TypeArchitect),
		newAgent(t, agent.TypeEnvoy),
		newAgent(t, agent.TypePioneer),
	}

	recs := fix.engine.RunRoster(context.Background(), roster)
	assert.Len(t, recs, 4)
	for _, st := range roster {
		assert.Greater(t, st.XP, 0, st.ID)
	}
}

func TestDomainRotation(t *testing.T) {
	fix := newFixture(t, 1, openLimits(), &stubGen{responses: []string{"x"}})
	st := newAgent(t, agent.TypeWarden)
	ctx := context.Background()

	first, err := fix.engine.RunCycle(ctx, st)
	require.NoError(t, err)
	second, err := fix.engine.RunCycle(ctx, st)
	require.NoError(t, err)

	assert.Equal(t, "security", first.Domain)
	assert.Equal(t, "system_design", second.Domain, "cycles rotate the preferred domains")
}

func TestRunCollaborative(t *testing.T) {
	divergentGen := &stubGen{responses: []string{
		"Partition the log and add backpressure with tiered storage.",
		"Mutual TLS everywhere, encrypt at rest, rotate credentials.",
		"Replay production traffic against probabilistic sketches.",
	}}
	fix := newFixture(t, 1, openLimits(), divergentGen)
	group := []*agent.State{
		newAgent(t, agent.TypeArchitect),
		newAgent(t, agent.TypeWarden),
		newAgent(t, agent.TypePioneer),
	}

	rec, err := fix.engine.RunCollaborative(context.Background(), group, "system_design")
	require.NoError(t, err)

	assert.Equal(t, record.ModalityCollaborative, rec.Modality)
	assert.Len(t, rec.Participants, 3)
	assert.Equal(t, record.OutcomePassed, rec.Outcome)
	require.NotNil(t, rec.Result)
	assert.Greater(t, rec.Result.CollaborationBonus, 0.0)
	for _, st := range group {
		assert.Equal(t, 1, st.Progress.ConsecutiveSuccesses, st.ID)
		assert.Greater(t, st.XP, 0, st.ID)
	}
	assert.Equal(t, int64(300), rec.TokensUsed)
}

// Complementary groups must outscore groups that all say the same thing.
func TestRunCollaborativeDivergenceBeatsRedundancy(t *testing.T) {
	divergent := &stubGen{responses: []string{
		"Partition the order log and add backpressure with tiered storage budgets.",
		"Enforce mutual TLS on replication, encrypt snapshots, rotate credentials.",
		"Probe failover with randomized partition experiments and replayed traffic.",
	}}
	identical := &stubGen{responses: []string{
		"Replicate the order system and keep latency low.",
		"Replicate the order system and keep latency low.",
		"Replicate the order system and keep latency low.",
	}}

	run := func(gen *stubGen) float64 {
		fix := newFixture(t, 1, openLimits(), gen)
		group := []*agent.State{
			newAgent(t, agent.TypeArchitect),
			newAgent(t, agent.TypeWarden),
			newAgent(t, agent.TypePioneer),
		}
		rec, err := fix.engine.RunCollaborative(context.Background(), group, "system_design")
		require.NoError(t, err)
		require.NotNil(t, rec.Result)
		return rec.Result.Composite
	}

	assert.Greater(t, run(divergent), run(identical))
}

func TestRunCollaborativePersistFailureCommitsNothing(t *testing.T) {
	fix := newFixture(t, 1, openLimits(), &stubGen{responses: []string{"x", "y"}})
	store := &failingStore{MemoryStore: fix.store}

	ctrl, err := difficulty.NewController(difficulty.DefaultRules())
	require.NoError(t, err)
	eng := New(ctrl, evaluatorWithThreshold(t, 1), fix.arbiter, scenario.NewTemplateProvider(), fix.gen, store)

	lead := newAgent(t, agent.TypeArchitect)
	partner := newAgent(t, agent.TypeWarden)
	leadBefore := *lead
	partnerBefore := *partner

	_, err = eng.RunCollaborative(context.Background(), []*agent.State{lead, partner}, "system_design")
	require.Error(t, err)

	assert.Equal(t, leadBefore, *lead, "lead state must not advance on persistence failure")
	assert.Equal(t, partnerBefore, *partner)

	// Nothing may have landed in the store either: no advanced lead state,
	// no scored record.
	_, ok, err := fix.store.GetAgentState(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.False(t, ok, "failed commit must not persist the lead's state")
	recs, err := fix.store.ListTestRecords(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, recs, "failed commit must not persist a scored record")
}

func TestRunCollaborativeNeedsTwo(t *testing.T) {
	fix := newFixture(t, 1, openLimits(), &stubGen{responses: []string{"x"}})
	_, err := fix.engine.RunCollaborative(context.Background(), []*agent.State{newAgent(t, agent.TypeWarden)}, "security")
	assert.Error(t, err)
}

func TestRunCollaborativeTestsAtHighestTier(t *testing.T) {
	fix := newFixture(t, 1, openLimits(), &stubGen{responses: []string{"x"}})
	a := newAgent(t, agent.TypeArchitect)
	b := newAgent(t, agent.TypeWarden)
	b.Progress.Tier = difficulty.TierExpert
	b.Progress.StreakTier = difficulty.TierExpert

	rec, err := fix.engine.RunCollaborative(context.Background(), []*agent.State{a, b}, "security")
	require.NoError(t, err)
	assert.Equal(t, difficulty.TierExpert, rec.Tier)
}
