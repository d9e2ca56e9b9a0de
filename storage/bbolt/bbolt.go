// Package bbolt provides a BBolt-backed storage repository.
package bbolt

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/ocpanel/storage"
)

var (
	bucketName = []byte("ocpanel")
	stateKey   = []byte("state")
)

// Store implements storage.Repository backed by a BBolt database. The whole
// state lives under a single key so every Save is one transaction.
type Store struct {
	db  *bbolt.DB
	now func() time.Time
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// NewRepositoryFromFile opens a BBolt database at the given path and returns a new Repository.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	if options == nil {
		options = &bbolt.Options{Timeout: time.Second}
	}
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewRepository(db), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load reads the state. An unparseable value is moved to a
// "state.broken.<timestamp>" key and storage.ErrCorrupt is returned.
func (s *Store) Load() (*storage.State, error) {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return nil
		}
		if v := b.Get(stateKey); v != nil {
			// Values are only valid inside the transaction.
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading auth state: %w", err)
	}
	if data == nil {
		return storage.NewState(), nil
	}
	state, err := storage.UnmarshalState(data)
	if err != nil {
		backup := append([]byte("state.broken."), s.now().UTC().Format("20060102150405")...)
		qerr := s.db.Update(func(tx *bbolt.Tx) error {
			b := tx.Bucket(bucketName)
			if err := b.Put(backup, data); err != nil {
				return err
			}
			return b.Delete(stateKey)
		})
		if qerr != nil {
			return nil, fmt.Errorf("%w (quarantine failed: %v)", err, qerr)
		}
		return nil, err
	}
	return state, nil
}

// Save replaces the stored state in a single transaction.
func (s *Store) Save(state *storage.State) error {
	data, err := storage.MarshalState(state)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}
		return b.Put(stateKey, data)
	})
}
