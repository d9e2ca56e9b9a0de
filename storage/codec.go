package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// NewState returns an empty state at the current schema version.
func NewState() *State {
	return &State{Version: StateVersion}
}

// MarshalState encodes state in the persisted JSON form.
func MarshalState(state *State) ([]byte, error) {
	if state == nil {
		state = NewState()
	}
	out := *state
	if out.Version == 0 {
		out.Version = StateVersion
	}
	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding auth state: %w", err)
	}
	return append(data, '\n'), nil
}

// UnmarshalState decodes persisted JSON. Any failure wraps ErrCorrupt.
func UnmarshalState(data []byte) (*State, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrCorrupt)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var state State
	if err := dec.Decode(&state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrCorrupt)
	}
	if state.Version != StateVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, state.Version)
	}
	if c := state.Credential; c != nil && c.Username == "" {
		return nil, fmt.Errorf("%w: credential without username", ErrCorrupt)
	}
	return &state, nil
}
