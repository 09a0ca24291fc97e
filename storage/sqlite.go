//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/gauntletlabs/gauntlet/agent"
	"github.com/gauntletlabs/gauntlet/ratelimit"
	"github.com/gauntletlabs/gauntlet/record"

	_ "modernc.org/sqlite"
)

// budgetRowID keys the single budget snapshot row.
const budgetRowID = "global"

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveTestRecord(ctx context.Context, rec record.Record) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeTestRecord(rec)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, upsertRecordSQL, rec.ID, rec.AgentID, payload)
	return err
}

func (s *SQLiteStore) GetTestRecord(ctx context.Context, id string) (record.Record, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return record.Record{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM test_records WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return record.Record{}, false, nil
		}
		return record.Record{}, false, err
	}

	rec, err := DecodeTestRecord(payload)
	if err != nil {
		return record.Record{}, false, fmt.Errorf("decode test record %s: %w", id, err)
	}
	return rec, true, nil
}

func (s *SQLiteStore) ListTestRecords(ctx context.Context, agentID string) ([]record.Record, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	query := `SELECT payload FROM test_records ORDER BY rowid`
	args := []any{}
	if agentID != "" {
		query = `SELECT payload FROM test_records WHERE agent_id = ? ORDER BY rowid`
		args = append(args, agentID)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []record.Record
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		rec, err := DecodeTestRecord(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveAgentState(ctx context.Context, state agent.State) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeAgentState(state)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, upsertAgentSQL, state.ID, payload)
	return err
}

func (s *SQLiteStore) SaveRoster(ctx context.Context, states []agent.State) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, state := range states {
		payload, err := EncodeAgentState(state)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, upsertAgentSQL, state.ID, payload); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetAgentState(ctx context.Context, id string) (agent.State, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return agent.State{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM agent_states WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return agent.State{}, false, nil
		}
		return agent.State{}, false, err
	}

	state, err := DecodeAgentState(payload)
	if err != nil {
		return agent.State{}, false, fmt.Errorf("decode agent state %s: %w", id, err)
	}
	return state, true, nil
}

func (s *SQLiteStore) ListAgentStates(ctx context.Context) ([]agent.State, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT payload FROM agent_states ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []agent.State
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		state, err := DecodeAgentState(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, state)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveBudgetSnapshot(ctx context.Context, snap ratelimit.Snapshot) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeBudgetSnapshot(snap)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, upsertBudgetSQL, budgetRowID, payload)
	return err
}

func (s *SQLiteStore) GetBudgetSnapshot(ctx context.Context) (ratelimit.Snapshot, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return ratelimit.Snapshot{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM budget_snapshots WHERE id = ?`, budgetRowID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ratelimit.Snapshot{}, false, nil
		}
		return ratelimit.Snapshot{}, false, err
	}

	snap, err := DecodeBudgetSnapshot(payload)
	if err != nil {
		return ratelimit.Snapshot{}, false, fmt.Errorf("decode budget snapshot: %w", err)
	}
	return snap, true, nil
}

// SaveCycle writes the record, every participant state and the budget
// snapshot inside one transaction.
func (s *SQLiteStore) SaveCycle(ctx context.Context, rec record.Record, states []agent.State, snap ratelimit.Snapshot) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	recPayload, err := EncodeTestRecord(rec)
	if err != nil {
		return err
	}
	statePayloads := make([][]byte, len(states))
	for i, state := range states {
		if statePayloads[i], err = EncodeAgentState(state); err != nil {
			return err
		}
	}
	budgetPayload, err := EncodeBudgetSnapshot(snap)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, upsertRecordSQL, rec.ID, rec.AgentID, recPayload); err != nil {
		return err
	}
	for i, state := range states {
		if _, err := tx.ExecContext(ctx, upsertAgentSQL, state.ID, statePayloads[i]); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, upsertBudgetSQL, budgetRowID, budgetPayload); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	return s.db, nil
}

const (
	upsertRecordSQL = `
		INSERT INTO test_records (id, agent_id, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			agent_id = excluded.agent_id,
			payload = excluded.payload`

	upsertAgentSQL = `
		INSERT INTO agent_states (id, payload)
		VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload = excluded.payload`

	upsertBudgetSQL = `
		INSERT INTO budget_snapshots (id, payload)
		VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload = excluded.payload`
)

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS test_records (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_test_records_agent ON test_records(agent_id);
		CREATE TABLE IF NOT EXISTS agent_states (
			id TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS budget_snapshots (
			id TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		);
	`)
	return err
}

func newSQLiteStore(path string) (Store, error) {
	return NewSQLiteStore(path), nil
}
