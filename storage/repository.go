// Package storage persists the control panel's auth state: the session
// signing secret and the single admin credential.
package storage

import (
	"errors"

	"github.com/jmcleod/ocpanel/credential"
)

var (
	// ErrCorrupt is returned by a Repository when persisted state exists but
	// cannot be parsed.
	ErrCorrupt = errors.New("stored auth state is corrupt")
	// ErrCredentialExists is returned when creating a credential while one is
	// already configured.
	ErrCredentialExists = errors.New("credential already exists")
	// ErrNoCredential is returned when updating a credential that does not exist.
	ErrNoCredential = errors.New("no credential configured")
	// ErrCredentialChanged is returned when a conditional update finds the
	// credential was modified concurrently.
	ErrCredentialChanged = errors.New("credential was changed concurrently")
)

// StateVersion is the current on-disk schema version.
const StateVersion = 1

// State is the persisted auth state.
type State struct {
	Version    int                `json:"version"`
	Secret     []byte             `json:"secret,omitempty"`
	Credential *credential.Record `json:"credential,omitempty"`
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := &State{Version: s.Version, Credential: s.Credential.Clone()}
	if s.Secret != nil {
		out.Secret = append([]byte(nil), s.Secret...)
	}
	return out
}

// Repository loads and saves the whole auth state as one unit.
//
// Load returns an empty State and no error when nothing has been persisted
// yet, and an error wrapping ErrCorrupt when persisted data is unreadable.
// Save must replace the previous state atomically.
type Repository interface {
	Load() (*State, error)
	Save(state *State) error
}
