package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/gauntletlabs/gauntlet/agent"
	"github.com/gauntletlabs/gauntlet/ratelimit"
	"github.com/gauntletlabs/gauntlet/record"
)

// MemoryStore keeps everything in mutex-guarded maps. SaveCycle is atomic
// by construction: all three writes happen under one lock.
type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	records     map[string]record.Record
	agents      map[string]agent.State
	budget      *ratelimit.Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.records = make(map[string]record.Record)
	s.agents = make(map[string]agent.State)
	s.budget = nil
	return nil
}

func (s *MemoryStore) SaveTestRecord(_ context.Context, rec record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.ID] = rec
	return nil
}

func (s *MemoryStore) GetTestRecord(_ context.Context, id string) (record.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	return rec, ok, nil
}

func (s *MemoryStore) ListTestRecords(_ context.Context, agentID string) ([]record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []record.Record
	for _, rec := range s.records {
		if agentID == "" || rec.AgentID == agentID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

func (s *MemoryStore) SaveAgentState(_ context.Context, state agent.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.agents[state.ID] = state
	return nil
}

func (s *MemoryStore) SaveRoster(_ context.Context, states []agent.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, state := range states {
		s.agents[state.ID] = state
	}
	return nil
}

func (s *MemoryStore) GetAgentState(_ context.Context, id string) (agent.State, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.agents[id]
	return state, ok, nil
}

func (s *MemoryStore) ListAgentStates(_ context.Context) ([]agent.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]agent.State, 0, len(s.agents))
	for _, state := range s.agents {
		out = append(out, state)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) SaveBudgetSnapshot(_ context.Context, snap ratelimit.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.budget = &snap
	return nil
}

func (s *MemoryStore) GetBudgetSnapshot(_ context.Context) (ratelimit.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.budget == nil {
		return ratelimit.Snapshot{}, false, nil
	}
	return *s.budget, true, nil
}

func (s *MemoryStore) SaveCycle(_ context.Context, rec record.Record, states []agent.State, snap ratelimit.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.ID] = rec
	for _, state := range states {
		s.agents[state.ID] = state
	}
	s.budget = &snap
	return nil
}
