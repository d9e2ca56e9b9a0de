// Package bootstrap implements the first-run flow that creates the single
// administrative credential.
//
// The flow has two states. NeedsSetup holds while no credential exists and
// offers exactly one transition, Setup. Ready holds afterwards and is
// permanent: Setup is refused from then on, including for a caller that
// raced another setup and lost.
package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmcleod/ocpanel/credential"
	"github.com/jmcleod/ocpanel/session"
	"github.com/jmcleod/ocpanel/storage"
)

// DefaultUsername is the account name given to the bootstrapped credential.
const DefaultUsername = "admin"

var (
	// ErrAlreadyConfigured is returned by Setup once a credential exists.
	ErrAlreadyConfigured = errors.New("admin credential is already configured")
	// ErrSetupRequired is returned when an operation needs a credential and
	// none exists yet.
	ErrSetupRequired = errors.New("setup required")
)

// Flow drives the NeedsSetup to Ready transition.
type Flow struct {
	store    *storage.Store
	hasher   *credential.Hasher
	codec    *session.Codec
	username string
	logger   *slog.Logger
}

// Option configures a Flow.
type Option func(*Flow)

// WithUsername sets the account name of the created credential.
func WithUsername(name string) Option {
	return func(f *Flow) {
		if name != "" {
			f.username = name
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Flow) {
		if l != nil {
			f.logger = l
		}
	}
}

// New returns a Flow over store.
func New(store *storage.Store, hasher *credential.Hasher, codec *session.Codec, opts ...Option) *Flow {
	f := &Flow{
		store:    store,
		hasher:   hasher,
		codec:    codec,
		username: DefaultUsername,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Username returns the account name the flow creates.
func (f *Flow) Username() string { return f.username }

// SetupRequired reports whether the system is still in NeedsSetup.
func (f *Flow) SetupRequired() (bool, error) {
	return f.store.SetupRequired()
}

// Setup validates password, creates the credential and issues a session
// token for it. Exactly one concurrent caller can succeed; the others get
// ErrAlreadyConfigured.
func (f *Flow) Setup(password string) (string, session.Claims, error) {
	required, err := f.store.SetupRequired()
	if err != nil {
		return "", session.Claims{}, err
	}
	if !required {
		return "", session.Claims{}, ErrAlreadyConfigured
	}
	if err := credential.ValidatePassword(password); err != nil {
		return "", session.Claims{}, err
	}

	hash, err := f.hasher.Hash(password)
	if err != nil {
		return "", session.Claims{}, fmt.Errorf("hashing password: %w", err)
	}
	rec, err := f.store.CreateCredential(f.username, hash)
	if errors.Is(err, storage.ErrCredentialExists) {
		return "", session.Claims{}, ErrAlreadyConfigured
	}
	if err != nil {
		return "", session.Claims{}, err
	}
	f.logger.Info("admin credential created", "username", rec.Username)

	token, claims, err := IssueSession(f.store, f.codec, rec.Username)
	if err != nil {
		return "", session.Claims{}, err
	}
	return token, claims, nil
}

// IssueSession signs a session token for subject with the store's current
// secret.
func IssueSession(store *storage.Store, codec *session.Codec, subject string) (string, session.Claims, error) {
	var (
		token  string
		claims session.Claims
	)
	err := store.WithSecret(func(secret []byte) error {
		var err error
		token, claims, err = codec.Issue(subject, secret)
		return err
	})
	if err != nil {
		return "", session.Claims{}, fmt.Errorf("issuing session: %w", err)
	}
	return token, claims, nil
}

// VerifySession checks token against the store's current secret.
func VerifySession(store *storage.Store, codec *session.Codec, token string) (session.Claims, error) {
	var claims session.Claims
	err := store.WithSecret(func(secret []byte) error {
		var err error
		claims, err = codec.Verify(token, secret)
		return err
	})
	return claims, err
}
