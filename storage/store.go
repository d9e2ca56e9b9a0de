package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/ocpanel/credential"
	"github.com/jmcleod/ocpanel/internal/util"
)

// SecretLen is the size in bytes of a generated signing secret.
const SecretLen = 32

// Store is the process-wide owner of the auth state. It lazily loads the
// state from its Repository on first use, generating and persisting the
// signing secret exactly once. All mutations go through the Store so the
// cached view and the persisted state never diverge.
type Store struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	loaded bool
	secret *memguard.Enclave
	cred   *credential.Record
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for storage warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source used for credential timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore returns a Store over repo. No I/O happens until first use.
func NewStore(repo Repository, opts ...Option) *Store {
	s := &Store{
		repo:   repo,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) ensureLoaded() error {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if loaded {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() error {
	if s.loaded {
		return nil
	}
	state, err := s.repo.Load()
	if errors.Is(err, ErrCorrupt) {
		s.logger.Warn("auth state unreadable, starting from empty state", "error", err)
		state, err = NewState(), nil
	}
	if err != nil {
		return fmt.Errorf("loading auth state: %w", err)
	}
	if state == nil {
		state = NewState()
	}

	if len(state.Secret) == 0 {
		secret, err := util.RandomBytes(SecretLen)
		if err != nil {
			return fmt.Errorf("generating signing secret: %w", err)
		}
		state.Version = StateVersion
		state.Secret = secret
		if err := s.repo.Save(state); err != nil {
			util.WipeBytes(secret)
			return fmt.Errorf("persisting signing secret: %w", err)
		}
		s.logger.Info("generated session signing secret")
	}

	s.secret = memguard.NewEnclave(util.CopyBytes(state.Secret))
	s.cred = state.Credential.Clone()
	util.WipeBytes(state.Secret)
	s.loaded = true
	return nil
}

// Load returns a snapshot of the persisted state. The caller owns the
// returned secret bytes and should wipe them when done.
func (s *Store) Load() (*State, error) {
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Save replaces the whole state. The new state becomes visible to readers
// only after it has been persisted.
func (s *Store) Save(state *State) error {
	if state == nil || len(state.Secret) == 0 {
		return errors.New("auth state requires a signing secret")
	}
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := state.Clone()
	next.Version = StateVersion
	if err := s.repo.Save(next); err != nil {
		return fmt.Errorf("saving auth state: %w", err)
	}
	s.secret = memguard.NewEnclave(next.Secret)
	s.cred = next.Credential
	return nil
}

// WithSecret calls fn with the signing secret. The slice is only valid for
// the duration of the call.
func (s *Store) WithSecret(fn func(secret []byte) error) error {
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	s.mu.RLock()
	enclave := s.secret
	s.mu.RUnlock()
	buf, err := enclave.Open()
	if err != nil {
		return fmt.Errorf("opening signing secret: %w", err)
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}

// Credential returns a copy of the configured credential, or nil if setup
// has not been completed.
func (s *Store) Credential() (*credential.Record, error) {
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred.Clone(), nil
}

// SetupRequired reports whether no credential has been configured yet.
func (s *Store) SetupRequired() (bool, error) {
	if err := s.ensureLoaded(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred == nil, nil
}

// CreateCredential stores the first credential. It fails with
// ErrCredentialExists if one is already configured; the check and the write
// happen under the same lock.
func (s *Store) CreateCredential(username string, hash credential.PasswordHash) (*credential.Record, error) {
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cred != nil {
		return nil, ErrCredentialExists
	}
	now := s.now().UTC()
	rec := &credential.Record{
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.persistLocked(rec, nil); err != nil {
		return nil, err
	}
	s.cred = rec
	return rec.Clone(), nil
}

// UpdatePasswordHash replaces the stored password hash if it still equals
// expected, and fails with ErrCredentialChanged otherwise. When rotate is
// true a fresh signing secret is persisted in the same write, invalidating
// every outstanding session token.
func (s *Store) UpdatePasswordHash(expected, next credential.PasswordHash, rotate bool) error {
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cred == nil {
		return ErrNoCredential
	}
	if !s.cred.PasswordHash.Equal(expected) {
		return ErrCredentialChanged
	}
	rec := s.cred.Clone()
	rec.PasswordHash = next
	rec.UpdatedAt = s.now().UTC()

	var secret []byte
	if rotate {
		var err error
		if secret, err = util.RandomBytes(SecretLen); err != nil {
			return fmt.Errorf("generating signing secret: %w", err)
		}
	}
	if err := s.persistLocked(rec, secret); err != nil {
		util.WipeBytes(secret)
		return err
	}
	s.cred = rec
	if secret != nil {
		s.secret = memguard.NewEnclave(secret)
	}
	return nil
}

// RotateSecret replaces the signing secret, invalidating every outstanding
// session token.
func (s *Store) RotateSecret() error {
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	secret, err := util.RandomBytes(SecretLen)
	if err != nil {
		return fmt.Errorf("generating signing secret: %w", err)
	}
	if err := s.persistLocked(s.cred, secret); err != nil {
		util.WipeBytes(secret)
		return err
	}
	s.secret = memguard.NewEnclave(secret)
	return nil
}

// persistLocked writes cred together with either the given secret or, when
// secret is nil, the current one.
func (s *Store) persistLocked(cred *credential.Record, secret []byte) error {
	state := &State{Version: StateVersion, Credential: cred}
	if secret != nil {
		state.Secret = util.CopyBytes(secret)
	} else {
		buf, err := s.secret.Open()
		if err != nil {
			return fmt.Errorf("opening signing secret: %w", err)
		}
		state.Secret = util.CopyBytes(buf.Bytes())
		buf.Destroy()
	}
	defer util.WipeBytes(state.Secret)
	if err := s.repo.Save(state); err != nil {
		return fmt.Errorf("saving auth state: %w", err)
	}
	return nil
}

func (s *Store) snapshotLocked() (*State, error) {
	buf, err := s.secret.Open()
	if err != nil {
		return nil, fmt.Errorf("opening signing secret: %w", err)
	}
	defer buf.Destroy()
	return &State{
		Version:    StateVersion,
		Secret:     util.CopyBytes(buf.Bytes()),
		Credential: s.cred.Clone(),
	}, nil
}
