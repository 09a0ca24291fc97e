package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gauntletlabs/gauntlet/agent"
	"github.com/gauntletlabs/gauntlet/ratelimit"
	"github.com/gauntletlabs/gauntlet/record"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// envelope wraps every stored payload with versioning so schema evolution
// fails loudly instead of silently misreading old rows.
type envelope struct {
	SchemaVersion int             `json:"schema_version"`
	CodecVersion  int             `json:"codec_version"`
	Payload       json.RawMessage `json:"payload"`
}

func encode(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{
		SchemaVersion: CurrentSchemaVersion,
		CodecVersion:  CurrentCodecVersion,
		Payload:       payload,
	})
}

func decode(data []byte, v any) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	if env.SchemaVersion != CurrentSchemaVersion || env.CodecVersion != CurrentCodecVersion {
		return fmt.Errorf("%w: schema %d codec %d", ErrVersionMismatch, env.SchemaVersion, env.CodecVersion)
	}
	return json.Unmarshal(env.Payload, v)
}

func EncodeTestRecord(rec record.Record) ([]byte, error) {
	return encode(rec)
}

func DecodeTestRecord(data []byte) (record.Record, error) {
	var rec record.Record
	if err := decode(data, &rec); err != nil {
		return record.Record{}, err
	}
	return rec, nil
}

func EncodeAgentState(state agent.State) ([]byte, error) {
	return encode(state)
}

func DecodeAgentState(data []byte) (agent.State, error) {
	var state agent.State
	if err := decode(data, &state); err != nil {
		return agent.State{}, err
	}
	return state, nil
}

func EncodeBudgetSnapshot(snap ratelimit.Snapshot) ([]byte, error) {
	return encode(snap)
}

func DecodeBudgetSnapshot(data []byte) (ratelimit.Snapshot, error) {
	var snap ratelimit.Snapshot
	if err := decode(data, &snap); err != nil {
		return ratelimit.Snapshot{}, err
	}
	return snap, nil
}
