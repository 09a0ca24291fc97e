package ratelimit

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DenialReason classifies why an acquisition was refused.
type DenialReason string

const (
	CooldownActive        DenialReason = "cooldown_active"
	ConcurrencyExhausted  DenialReason = "concurrency_exhausted"
	RequestTooLarge       DenialReason = "request_too_large"
	WindowBudgetExceeded  DenialReason = "window_budget_exceeded"
	EmergencyShutdown     DenialReason = "emergency_shutdown"
)

// Denial is the normal-return form of a refused acquisition.
type Denial struct {
	Reason DenialReason
	Detail string
}

func (d *Denial) Error() string {
	return fmt.Sprintf("permit denied (%s): %s", d.Reason, d.Detail)
}

// Permit authorizes one external generation call. It must be released
// exactly once with the actual cost incurred.
type Permit struct {
	ID            string    `json:"id"`
	AgentID       string    `json:"agent_id"`
	EstimatedCost int64     `json:"estimated_cost"`
	GrantedAt     time.Time `json:"granted_at"`
}

// Window is one rolling budget period.
type Window struct {
	Start    time.Time `yaml:"start" json:"start"`
	Consumed int64     `yaml:"consumed" json:"consumed"`
	Limit    int64     `yaml:"limit" json:"limit"`
}

// Utilization is the consumed fraction of the window's limit.
func (w Window) Utilization() float64 {
	if w.Limit <= 0 {
		return 0
	}
	return float64(w.Consumed) / float64(w.Limit)
}

// Observer receives arbiter events, typically for metrics export. All
// methods are called with the arbiter lock held; implementations must not
// call back into the arbiter.
type Observer interface {
	PermitGranted(estimatedCost int64)
	PermitDenied(reason DenialReason)
	PermitReleased(actualCost int64, succeeded bool)
	WindowUtilization(window string, fraction float64)
}

type windowName string

const (
	windowHour  windowName = "hour"
	windowDay   windowName = "day"
	windowMonth windowName = "month"
)

var windowOrder = []windowName{windowHour, windowDay, windowMonth}

// Arbiter grants and settles generation permits against hourly, daily and
// monthly token windows. It is the only cross-cycle shared mutable state;
// all access is serialized behind one mutex and Acquire never blocks beyond
// that critical section.
type Arbiter struct {
	mu        sync.Mutex
	limits    Limits
	windows   map[windowName]*Window
	cooldowns map[string]time.Time
	inflight  int
	pending   map[string]struct{}

	now      func() time.Time
	logger   *slog.Logger
	observer Observer
}

// ArbiterOption configures an Arbiter.
type ArbiterOption func(*Arbiter)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ArbiterOption {
	return func(a *Arbiter) {
		a.logger = logger
	}
}

// WithObserver attaches a metrics observer.
func WithObserver(obs Observer) ArbiterOption {
	return func(a *Arbiter) {
		a.observer = obs
	}
}

// WithClock overrides the time source. Tests use this to drive window
// rollover and cooldown expiry deterministically.
func WithClock(now func() time.Time) ArbiterOption {
	return func(a *Arbiter) {
		a.now = now
	}
}

// NewArbiter validates and normalizes the limits and returns an arbiter
// with empty windows anchored at the current period boundaries.
func NewArbiter(limits Limits, opts ...ArbiterOption) (*Arbiter, error) {
	if err := limits.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rate limits: %w", err)
	}
	a := &Arbiter{
		limits:    limits.Normalized(),
		cooldowns: make(map[string]time.Time),
		pending:   make(map[string]struct{}),
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	now := a.now()
	a.windows = map[windowName]*Window{
		windowHour:  {Start: hourStart(now), Limit: a.limits.HourlyTokens},
		windowDay:   {Start: dayStart(now), Limit: a.limits.DailyTokens},
		windowMonth: {Start: monthStart(now), Limit: a.limits.MonthlyTokens},
	}
	return a, nil
}

// Acquire requests authorization for one generation call. Checks run in
// order: agent cooldown, concurrency headroom, per-request ceiling, then
// window budgets after lazy rollover. A grant increments the concurrency
// counter and stamps the cooldown but does not yet commit any cost; that
// happens at Release with the actual amount.
func (a *Arbiter) Acquire(agentID string, estimatedCost int64) (Permit, *Denial) {
	return a.acquire([]string{agentID}, agentID, estimatedCost)
}

// AcquireGroup requests one permit covering a burst of calls on behalf of
// several agents. Every member's cooldown is checked, and a grant stamps
// them all, so no member can immediately follow with a solo call. The
// permit is keyed by the joined member IDs and released once.
func (a *Arbiter) AcquireGroup(agentIDs []string, estimatedCost int64) (Permit, *Denial) {
	return a.acquire(agentIDs, strings.Join(agentIDs, "+"), estimatedCost)
}

func (a *Arbiter) acquire(agentIDs []string, permitKey string, estimatedCost int64) (Permit, *Denial) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()

	for _, id := range agentIDs {
		if last, ok := a.cooldowns[id]; ok {
			if remaining := a.limits.Cooldown - now.Sub(last); remaining > 0 {
				return a.deny(CooldownActive, fmt.Sprintf("agent %s on cooldown for %s", id, remaining.Round(time.Second)))
			}
		}
	}
	if a.inflight >= a.limits.MaxConcurrency {
		return a.deny(ConcurrencyExhausted, fmt.Sprintf("%d calls in flight (max %d)", a.inflight, a.limits.MaxConcurrency))
	}
	if estimatedCost > a.limits.PerRequestTokens {
		return a.deny(RequestTooLarge, fmt.Sprintf("estimated %d tokens exceeds per-request ceiling %d", estimatedCost, a.limits.PerRequestTokens))
	}

	a.rollover(now)

	if a.allWindowsAtLeast(a.limits.EmergencyFraction) {
		return a.deny(EmergencyShutdown, fmt.Sprintf("all windows at or above %.0f%% of their limits", a.limits.EmergencyFraction*100))
	}
	for _, name := range windowOrder {
		w := a.windows[name]
		if w.Consumed+estimatedCost > w.Limit {
			return a.deny(WindowBudgetExceeded, fmt.Sprintf("%s window has %d tokens of headroom, need %d", name, w.Limit-w.Consumed, estimatedCost))
		}
	}

	permit := Permit{
		ID:            uuid.New().String(),
		AgentID:       permitKey,
		EstimatedCost: estimatedCost,
		GrantedAt:     now,
	}
	a.inflight++
	for _, id := range agentIDs {
		a.cooldowns[id] = now
	}
	a.pending[permit.ID] = struct{}{}
	if a.observer != nil {
		a.observer.PermitGranted(estimatedCost)
	}
	return permit, nil
}

// Release settles a permit. The actual cost is committed to every active
// window whether or not the call succeeded: a failed external call that
// incurred cost still consumed quota. Releasing an unknown or already
// settled permit is a no-op.
func (a *Arbiter) Release(permit Permit, actualCost int64, succeeded bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.pending[permit.ID]; !ok {
		a.logger.Warn("release of unknown permit ignored", "permit_id", permit.ID, "agent_id", permit.AgentID)
		return
	}
	delete(a.pending, permit.ID)
	a.inflight--

	if actualCost < 0 {
		actualCost = 0
	}
	now := a.now()
	a.rollover(now)
	for _, name := range windowOrder {
		w := a.windows[name]
		before := w.Utilization()
		w.Consumed += actualCost
		if w.Consumed > w.Limit {
			w.Consumed = w.Limit
		}
		after := w.Utilization()
		a.signalThreshold(name, before, after)
		if a.observer != nil {
			a.observer.WindowUtilization(string(name), after)
		}
	}
	if a.observer != nil {
		a.observer.PermitReleased(actualCost, succeeded)
	}
}

// SetLimits swaps in a new budget, preserving consumed counts (clamped to
// the new ceilings). Used by configuration hot reload.
func (a *Arbiter) SetLimits(limits Limits) error {
	if err := limits.Validate(); err != nil {
		return fmt.Errorf("invalid rate limits: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.limits = limits.Normalized()
	a.windows[windowHour].Limit = a.limits.HourlyTokens
	a.windows[windowDay].Limit = a.limits.DailyTokens
	a.windows[windowMonth].Limit = a.limits.MonthlyTokens
	for _, name := range windowOrder {
		if w := a.windows[name]; w.Consumed > w.Limit {
			w.Consumed = w.Limit
		}
	}
	a.logger.Info("rate limits updated",
		"hourly", a.limits.HourlyTokens,
		"daily", a.limits.DailyTokens,
		"monthly", a.limits.MonthlyTokens,
		"max_concurrency", a.limits.MaxConcurrency)
	return nil
}

// InFlight reports the current concurrency counter.
func (a *Arbiter) InFlight() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inflight
}

// Utilization reports each window's consumed fraction after rollover.
func (a *Arbiter) Utilization() map[string]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollover(a.now())
	out := make(map[string]float64, len(a.windows))
	for name, w := range a.windows {
		out[string(name)] = w.Utilization()
	}
	return out
}

// Snapshot captures the persistable budget state. In-flight permits are
// process-local and intentionally excluded.
type Snapshot struct {
	Windows   map[string]Window    `yaml:"windows" json:"windows"`
	Cooldowns map[string]time.Time `yaml:"cooldowns" json:"cooldowns"`
}

// Snapshot returns a copy of the current budget state.
func (a *Arbiter) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := Snapshot{
		Windows:   make(map[string]Window, len(a.windows)),
		Cooldowns: make(map[string]time.Time, len(a.cooldowns)),
	}
	for name, w := range a.windows {
		snap.Windows[string(name)] = *w
	}
	for agentID, t := range a.cooldowns {
		snap.Cooldowns[agentID] = t
	}
	return snap
}

// Restore replaces the budget state from a snapshot, clamping consumed
// counts to the current limits. Windows absent from the snapshot keep their
// current state.
func (a *Arbiter) Restore(snap Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, name := range windowOrder {
		saved, ok := snap.Windows[string(name)]
		if !ok {
			continue
		}
		w := a.windows[name]
		w.Start = saved.Start
		w.Consumed = saved.Consumed
		if w.Consumed > w.Limit {
			w.Consumed = w.Limit
		}
	}
	a.cooldowns = make(map[string]time.Time, len(snap.Cooldowns))
	for agentID, t := range snap.Cooldowns {
		a.cooldowns[agentID] = t
	}
	a.rollover(a.now())
}

func (a *Arbiter) deny(reason DenialReason, detail string) (Permit, *Denial) {
	if a.observer != nil {
		a.observer.PermitDenied(reason)
	}
	a.logger.Debug("permit denied", "reason", string(reason), "detail", detail)
	return Permit{}, &Denial{Reason: reason, Detail: detail}
}

// rollover resets any window whose period has elapsed, anchoring the new
// window at the current period boundary. Caller holds the lock.
func (a *Arbiter) rollover(now time.Time) {
	if w := a.windows[windowHour]; !hourStart(now).Equal(hourStart(w.Start)) {
		w.Start, w.Consumed = hourStart(now), 0
	}
	if w := a.windows[windowDay]; !dayStart(now).Equal(dayStart(w.Start)) {
		w.Start, w.Consumed = dayStart(now), 0
	}
	if w := a.windows[windowMonth]; !monthStart(now).Equal(monthStart(w.Start)) {
		w.Start, w.Consumed = monthStart(now), 0
	}
}

func (a *Arbiter) allWindowsAtLeast(fraction float64) bool {
	for _, name := range windowOrder {
		if a.windows[name].Utilization() < fraction {
			return false
		}
	}
	return true
}

// signalThreshold logs once per crossing of the warning and critical
// fractions. Caller holds the lock.
func (a *Arbiter) signalThreshold(name windowName, before, after float64) {
	switch {
	case before < a.limits.CriticalFraction && after >= a.limits.CriticalFraction:
		a.logger.Error("token window critical", "window", string(name), "utilization", after)
	case before < a.limits.WarningFraction && after >= a.limits.WarningFraction:
		a.logger.Warn("token window near limit", "window", string(name), "utilization", after)
	}
}

func hourStart(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

func dayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func monthStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}
