// Package file provides a JSON-file-backed storage repository.
package file

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmcleod/ocpanel/storage"
)

// DefaultFileName is the state file name used inside a data directory.
const DefaultFileName = "auth.json"

// Repository implements storage.Repository on a single JSON file. Writes go
// to a temporary file in the same directory which is synced and renamed over
// the target, so readers never observe a partial document.
type Repository struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository returns a Repository that reads and writes path.
func NewRepository(path string) *Repository {
	return &Repository{path: path, now: time.Now}
}

// NewRepositoryInDir returns a Repository for DefaultFileName inside dir.
func NewRepositoryInDir(dir string) *Repository {
	return NewRepository(filepath.Join(dir, DefaultFileName))
}

// Path returns the state file path.
func (r *Repository) Path() string {
	return r.path
}

// Load reads the state file. A missing file yields an empty state. An
// unparseable file is renamed aside with a ".broken.<timestamp>" suffix and
// an error wrapping storage.ErrCorrupt is returned.
func (r *Repository) Load() (*storage.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return storage.NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", r.path, err)
	}
	state, err := storage.UnmarshalState(data)
	if err != nil {
		backup := r.path + ".broken." + r.now().UTC().Format("20060102150405")
		if rerr := os.Rename(r.path, backup); rerr != nil {
			return nil, fmt.Errorf("%w (quarantine failed: %v)", err, rerr)
		}
		return nil, fmt.Errorf("%w (moved to %s)", err, backup)
	}
	return state, nil
}

// Save atomically replaces the state file with state.
func (r *Repository) Save(state *storage.State) error {
	data, err := storage.MarshalState(state)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("setting permissions on %s: %w", tmpPath, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		return fmt.Errorf("replacing %s: %w", r.path, err)
	}
	committed = true
	syncDir(dir)
	return nil
}

// syncDir makes the rename durable where the platform supports it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
