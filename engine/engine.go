// Package engine orchestrates test cycles: it asks the difficulty controller
// for a target tier, obtains a scenario, synthesizes a rubric, gates the
// external generation call behind the rate arbiter, scores the response,
// updates tier and XP, and persists everything atomically.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gauntletlabs/gauntlet/agent"
	"github.com/gauntletlabs/gauntlet/difficulty"
	"github.com/gauntletlabs/gauntlet/evaluate"
	"github.com/gauntletlabs/gauntlet/events"
	"github.com/gauntletlabs/gauntlet/generation"
	"github.com/gauntletlabs/gauntlet/ratelimit"
	"github.com/gauntletlabs/gauntlet/record"
	"github.com/gauntletlabs/gauntlet/rubric"
	"github.com/gauntletlabs/gauntlet/scenario"
	"github.com/gauntletlabs/gauntlet/storage"
)

// ErrAgentBusy is returned when a cycle is requested for an agent that
// already has one in flight.
var ErrAgentBusy = errors.New("agent already has a test in flight")

// Generator is the slice of the generation client the engine needs.
type Generator interface {
	Generate(ctx context.Context, req generation.Request) (*generation.Result, error)
	EstimateCost(req generation.Request) int64
}

// MetricsHook receives engine-level observations. All methods must be safe
// for concurrent use.
type MetricsHook interface {
	CycleCompleted(outcome record.Outcome)
	GenerationError(transient bool)
	ObserveGeneration(d time.Duration)
}

// Engine runs evaluation cycles over the agent roster.
type Engine struct {
	controller *difficulty.Controller
	synth      *rubric.Synthesizer
	evaluator  *evaluate.Evaluator
	arbiter    *ratelimit.Arbiter
	scenarios  scenario.Provider
	gen        Generator
	store      storage.Store
	events     *events.Publisher
	metrics    MetricsHook
	leveling   LevelingConfig
	logger     *slog.Logger
	now        func() time.Time

	mu       sync.Mutex
	inFlight map[string]bool
	cycleSeq map[string]int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithEvents sets the cycle event publisher.
func WithEvents(pub *events.Publisher) Option {
	return func(e *Engine) {
		e.events = pub
	}
}

// WithMetrics sets the metrics hook.
func WithMetrics(m MetricsHook) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLeveling overrides the leveling configuration.
func WithLeveling(cfg LevelingConfig) Option {
	return func(e *Engine) {
		e.leveling = cfg
	}
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New wires an engine from its collaborators.
func New(
	controller *difficulty.Controller,
	evaluator *evaluate.Evaluator,
	arbiter *ratelimit.Arbiter,
	scenarios scenario.Provider,
	gen Generator,
	store storage.Store,
	opts ...Option,
) *Engine {
	e := &Engine{
		controller: controller,
		synth:      rubric.NewSynthesizer(),
		evaluator:  evaluator,
		arbiter:    arbiter,
		scenarios:  scenarios,
		gen:        gen,
		store:      store,
		leveling:   DefaultLevelingConfig(),
		logger:     slog.Default(),
		now:        time.Now,
		inFlight:   make(map[string]bool),
		cycleSeq:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunCycle executes one test cycle for the agent. The agent state is only
// mutated after the cycle's record, state and budget snapshot have been
// persisted atomically; skipped and inconclusive cycles leave it untouched.
func (e *Engine) RunCycle(ctx context.Context, st *agent.State) (record.Record, error) {
	if !e.begin(st.ID) {
		return record.Record{}, fmt.Errorf("%w: %s", ErrAgentBusy, st.ID)
	}
	defer e.end(st.ID)

	clone := st.Clone()
	tier := clone.Progress.Tier
	domain := e.nextDomain(clone)
	startedAt := e.now()

	rec := record.Record{
		ID:        uuid.New().String(),
		AgentID:   clone.ID,
		Domain:    domain,
		Tier:      tier,
		Modality:  record.ModalitySolo,
		StartedAt: startedAt,
	}

	sc, err := e.scenarios.GetScenario(ctx, domain, tier, clone.Type)
	if err != nil {
		return e.finishUnscored(ctx, rec, record.OutcomeInconclusive, "", fmt.Sprintf("scenario: %v", err))
	}
	rec.ScenarioID = sc.ID
	rec.ScenarioText = sc.Text
	rec.Rubric = e.synth.Synthesize(sc.Text, clone.Type, tier)

	req := responseRequest(sc, clone.Type)
	permit, denial := e.arbiter.Acquire(clone.ID, e.gen.EstimateCost(req))
	if denial != nil {
		e.logger.Info("cycle skipped",
			"agent_id", clone.ID, "tier", tier.String(), "reason", string(denial.Reason))
		return e.finishUnscored(ctx, rec, record.OutcomeSkipped, string(denial.Reason), "")
	}

	result, tokens, err := e.generate(ctx, permit, req)
	rec.TokensUsed = tokens
	if err != nil {
		e.logger.Warn("generation failed, cycle inconclusive",
			"agent_id", clone.ID, "tier", tier.String(), "error", err)
		return e.finishUnscored(ctx, rec, record.OutcomeInconclusive, "", err.Error())
	}

	eval := e.evaluator.Evaluate(result.Text, rec.Rubric, tier)
	return e.finishScored(ctx, st, clone, rec, eval)
}

// RunRoster runs one concurrent cycle per agent and returns the records in
// roster order. Per-agent errors are logged, not fatal to the pass.
func (e *Engine) RunRoster(ctx context.Context, roster []*agent.State) []record.Record {
	results := make([]record.Record, len(roster))
	var wg sync.WaitGroup
	for i, st := range roster {
		wg.Add(1)
		go func(i int, st *agent.State) {
			defer wg.Done()
			rec, err := e.RunCycle(ctx, st)
			if err != nil {
				e.logger.Error("cycle failed", "agent_id", st.ID, "error", err)
				return
			}
			results[i] = rec
		}(i, st)
	}
	wg.Wait()

	out := make([]record.Record, 0, len(results))
	for _, rec := range results {
		if rec.ID != "" {
			out = append(out, rec)
		}
	}
	return out
}

// RunCollaborative runs one shared scenario across several agents. Each
// participant generates its own response under a single combined permit; the
// group is scored together and every participant's tier and XP move on the
// shared result.
func (e *Engine) RunCollaborative(ctx context.Context, participants []*agent.State, domain string) (record.Record, error) {
	if len(participants) < 2 {
		return record.Record{}, fmt.Errorf("collaborative cycle needs at least 2 participants, got %d", len(participants))
	}
	for _, st := range participants {
		if !e.begin(st.ID) {
			for _, prev := range participants {
				if prev == st {
					break
				}
				e.end(prev.ID)
			}
			return record.Record{}, fmt.Errorf("%w: %s", ErrAgentBusy, st.ID)
		}
	}
	defer func() {
		for _, st := range participants {
			e.end(st.ID)
		}
	}()

	// The group is tested at the highest member tier; the rubric leans on
	// the first participant's strength axis.
	lead := participants[0]
	tier := lead.Progress.Tier
	ids := make([]string, 0, len(participants))
	for _, st := range participants {
		ids = append(ids, st.ID)
		if st.Progress.Tier > tier {
			tier = st.Progress.Tier
		}
	}
	sort.Strings(ids)
	startedAt := e.now()

	rec := record.Record{
		ID:           uuid.New().String(),
		AgentID:      lead.ID,
		Participants: ids,
		Domain:       domain,
		Tier:         tier,
		Modality:     record.ModalityCollaborative,
		StartedAt:    startedAt,
	}

	sc, err := e.scenarios.GetScenario(ctx, domain, tier, lead.Type)
	if err != nil {
		return e.finishUnscored(ctx, rec, record.OutcomeInconclusive, "", fmt.Sprintf("scenario: %v", err))
	}
	rec.ScenarioID = sc.ID
	rec.ScenarioText = sc.Text
	rec.Rubric = e.synth.Synthesize(sc.Text, lead.Type, tier)

	// One permit covers the whole group's generation burst.
	var estimate int64
	for _, st := range participants {
		estimate += e.gen.EstimateCost(responseRequest(sc, st.Type))
	}
	permit, denial := e.arbiter.AcquireGroup(ids, estimate)
	if denial != nil {
		e.logger.Info("collaborative cycle skipped",
			"participants", ids, "tier", tier.String(), "reason", string(denial.Reason))
		return e.finishUnscored(ctx, rec, record.OutcomeSkipped, string(denial.Reason), "")
	}

	responses := make(map[string]string, len(participants))
	var totalTokens int64
	genStart := e.now()
	for _, st := range participants {
		result, err := e.gen.Generate(ctx, responseRequest(sc, st.Type))
		if err != nil {
			e.arbiter.Release(permit, totalTokens, false)
			if e.metrics != nil {
				e.metrics.GenerationError(generation.IsTransient(err))
			}
			rec.TokensUsed = totalTokens
			return e.finishUnscored(ctx, rec, record.OutcomeInconclusive, "", err.Error())
		}
		responses[st.ID] = result.Text
		totalTokens += int64(result.Usage.TotalTokens)
	}
	e.arbiter.Release(permit, totalTokens, true)
	if e.metrics != nil {
		e.metrics.ObserveGeneration(e.now().Sub(genStart))
	}
	rec.TokensUsed = totalTokens

	eval := e.evaluator.EvaluateCollaborative(responses, rec.Rubric, tier)
	rec.Result = &eval
	rec.CompletedAt = e.now()

	// Every participant's streaks move on the shared outcome; all updated
	// states land in one commit with the shared record.
	clones := make([]*agent.State, len(participants))
	var rationales []string
	for i, st := range participants {
		clone := st.Clone()
		outcome := e.controller.Update(&clone.Progress, eval.Passed)
		award := e.leveling.XPAward(eval, tier)
		clone.XP += award
		clone.Level = e.leveling.LevelFor(clone.XP)
		clone.LastTestAt = rec.CompletedAt
		clones[i] = clone
		rationales = append(rationales, fmt.Sprintf("%s: %s", st.ID, outcome.Rationale))
		rec.XPAwarded += award
	}
	rec.TierChange = strings.Join(rationales, "; ")
	if eval.Passed {
		rec.Outcome = record.OutcomePassed
	} else {
		rec.Outcome = record.OutcomeFailed
	}

	states := make([]agent.State, len(clones))
	for i, clone := range clones {
		states[i] = *clone
	}
	if err := e.store.SaveCycle(ctx, rec, states, e.arbiter.Snapshot()); err != nil {
		return record.Record{}, fmt.Errorf("persist collaborative cycle: %w", err)
	}
	for i, st := range participants {
		*st = *clones[i]
	}

	e.emit(rec)
	return rec, nil
}

// generate executes the gated external call and settles the permit with the
// actual cost, whatever the outcome.
func (e *Engine) generate(ctx context.Context, permit ratelimit.Permit, req generation.Request) (*generation.Result, int64, error) {
	start := e.now()
	result, err := e.gen.Generate(ctx, req)
	if err != nil {
		// Cost of the failed call is unknown; settle at zero.
		e.arbiter.Release(permit, 0, false)
		if e.metrics != nil {
			e.metrics.GenerationError(generation.IsTransient(err))
		}
		return nil, 0, err
	}
	tokens := int64(result.Usage.TotalTokens)
	e.arbiter.Release(permit, tokens, true)
	if e.metrics != nil {
		e.metrics.ObserveGeneration(e.now().Sub(start))
	}
	return result, tokens, nil
}

// finishScored applies controller and leveling updates to the clone,
// persists atomically, then adopts the clone into the live state.
func (e *Engine) finishScored(ctx context.Context, st, clone *agent.State, rec record.Record, eval evaluate.Result) (record.Record, error) {
	outcome := e.controller.Update(&clone.Progress, eval.Passed)
	award := e.leveling.XPAward(eval, rec.Tier)
	clone.XP += award
	clone.Level = e.leveling.LevelFor(clone.XP)
	clone.LastTestAt = e.now()

	rec.Result = &eval
	rec.TierChange = outcome.Rationale
	rec.XPAwarded = award
	rec.CompletedAt = clone.LastTestAt
	if eval.Passed {
		rec.Outcome = record.OutcomePassed
	} else {
		rec.Outcome = record.OutcomeFailed
	}

	if err := e.store.SaveCycle(ctx, rec, []agent.State{*clone}, e.arbiter.Snapshot()); err != nil {
		return record.Record{}, fmt.Errorf("persist cycle: %w", err)
	}
	*st = *clone

	e.logger.Info("cycle completed",
		"agent_id", st.ID,
		"outcome", string(rec.Outcome),
		"composite", eval.Composite,
		"tier", outcome.Next.String(),
		"xp_awarded", award)
	e.emit(rec)
	return rec, nil
}

// finishUnscored persists a skipped or inconclusive record. Agent state is
// deliberately untouched.
func (e *Engine) finishUnscored(ctx context.Context, rec record.Record, outcome record.Outcome, denialReason, errText string) (record.Record, error) {
	rec.Outcome = outcome
	rec.DenialReason = denialReason
	rec.Error = errText
	rec.CompletedAt = e.now()

	if err := e.store.SaveTestRecord(ctx, rec); err != nil {
		return record.Record{}, fmt.Errorf("persist %s record: %w", outcome, err)
	}
	e.emit(rec)
	return rec, nil
}

func (e *Engine) emit(rec record.Record) {
	if e.metrics != nil {
		e.metrics.CycleCompleted(rec.Outcome)
	}
	e.events.CycleCompleted(rec)
}

// begin reserves the per-agent in-flight slot.
func (e *Engine) begin(agentID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight[agentID] {
		return false
	}
	e.inFlight[agentID] = true
	return true
}

func (e *Engine) end(agentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, agentID)
}

// nextDomain rotates through the agent's preferred domains across cycles.
func (e *Engine) nextDomain(st *agent.State) string {
	domains := st.Type.PreferredDomains()
	e.mu.Lock()
	defer e.mu.Unlock()
	seq := e.cycleSeq[st.ID]
	e.cycleSeq[st.ID] = seq + 1
	return domains[seq%len(domains)]
}

// responseRequest frames the scenario for the evaluated agent.
func responseRequest(sc scenario.Scenario, agentType agent.Type) generation.Request {
	return generation.Request{
		Messages: []generation.Message{
			{Role: "system", Content: fmt.Sprintf(
				"You are being evaluated. Your strength is %s. Answer the scenario directly and concretely.",
				agentType.StrengthAxis())},
			{Role: "user", Content: sc.Text},
		},
		MaxTokens: 1024,
	}
}
