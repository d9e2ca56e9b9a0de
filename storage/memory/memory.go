// Package memory provides an in-memory storage repository for tests and
// ephemeral deployments.
package memory

import (
	"sync"

	"github.com/jmcleod/ocpanel/storage"
)

// Repository implements storage.Repository in memory. State is kept in its
// serialized form so callers never share slices with the repository.
type Repository struct {
	mu    sync.Mutex
	data  []byte
	saves int
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository returns an empty in-memory repository.
func NewRepository() *Repository {
	return &Repository{}
}

// Load returns the last saved state, or an empty one.
func (r *Repository) Load() (*storage.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data == nil {
		return storage.NewState(), nil
	}
	return storage.UnmarshalState(r.data)
}

// Save stores state.
func (r *Repository) Save(state *storage.State) error {
	data, err := storage.MarshalState(state)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = data
	r.saves++
	return nil
}

// SetRaw replaces the stored document with data verbatim.
func (r *Repository) SetRaw(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = append([]byte(nil), data...)
}

// Saves returns how many times Save has succeeded.
func (r *Repository) Saves() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves
}
