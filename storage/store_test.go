package storage_test

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ocpanel/credential"
	"github.com/jmcleod/ocpanel/storage"
	"github.com/jmcleod/ocpanel/storage/file"
	"github.com/jmcleod/ocpanel/storage/memory"
)

func secretOf(t *testing.T, s *storage.Store) []byte {
	t.Helper()
	var out []byte
	require.NoError(t, s.WithSecret(func(secret []byte) error {
		out = append([]byte(nil), secret...)
		return nil
	}))
	return out
}

func testHash() credential.PasswordHash {
	return credential.PasswordHash{
		Algorithm:  credential.AlgorithmPBKDF2,
		Iterations: 1000,
		Digest:     "sha256",
		Salt:       bytes.Repeat([]byte{1}, 16),
		Hash:       bytes.Repeat([]byte{2}, 32),
	}
}

func TestStoreGeneratesSecretOnce(t *testing.T) {
	repo := memory.NewRepository()
	s := storage.NewStore(repo)

	var wg sync.WaitGroup
	secrets := make([][]byte, 16)
	for i := range secrets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			secrets[i] = secretOf(t, s)
		}(i)
	}
	wg.Wait()

	assert.Len(t, secrets[0], storage.SecretLen)
	for _, sec := range secrets[1:] {
		assert.Equal(t, secrets[0], sec)
	}
	assert.Equal(t, 1, repo.Saves())

	persisted, err := repo.Load()
	require.NoError(t, err)
	assert.Equal(t, secrets[0], persisted.Secret)
}

func TestStoreSecretSurvivesRestart(t *testing.T) {
	repo := file.NewRepositoryInDir(t.TempDir())
	first := secretOf(t, storage.NewStore(repo))
	second := secretOf(t, storage.NewStore(repo))
	assert.Equal(t, first, second)
}

func TestStoreSetupRequired(t *testing.T) {
	s := storage.NewStore(memory.NewRepository())
	required, err := s.SetupRequired()
	require.NoError(t, err)
	assert.True(t, required)

	cred, err := s.Credential()
	require.NoError(t, err)
	assert.Nil(t, cred)

	_, err = s.CreateCredential("admin", testHash())
	require.NoError(t, err)

	required, err = s.SetupRequired()
	require.NoError(t, err)
	assert.False(t, required)
}

func TestStoreCreateCredentialOnlyOnce(t *testing.T) {
	s := storage.NewStore(memory.NewRepository())

	var wg sync.WaitGroup
	var mu sync.Mutex
	var created, rejected int
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreateCredential("admin", testHash())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, storage.ErrCredentialExists):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)
	assert.Equal(t, 9, rejected)
}

func TestStoreCredentialTimestamps(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := storage.NewStore(memory.NewRepository(), storage.WithClock(func() time.Time { return now }))

	rec, err := s.CreateCredential("admin", testHash())
	require.NoError(t, err)
	assert.Equal(t, now, rec.CreatedAt)
	assert.Equal(t, now, rec.UpdatedAt)

	now = now.Add(time.Hour)
	require.NoError(t, s.UpdatePasswordHash(testHash(), testHash(), false))
	got, err := s.Credential()
	require.NoError(t, err)
	assert.Equal(t, now.Add(-time.Hour), got.CreatedAt)
	assert.Equal(t, now, got.UpdatedAt)
}

func TestStoreCredentialIsCopied(t *testing.T) {
	s := storage.NewStore(memory.NewRepository())
	_, err := s.CreateCredential("admin", testHash())
	require.NoError(t, err)

	got, err := s.Credential()
	require.NoError(t, err)
	got.PasswordHash.Hash[0] = 0xff
	got.Username = "mallory"

	again, err := s.Credential()
	require.NoError(t, err)
	assert.Equal(t, "admin", again.Username)
	assert.Equal(t, byte(2), again.PasswordHash.Hash[0])
}

func TestStoreUpdatePasswordHash(t *testing.T) {
	repo := memory.NewRepository()
	s := storage.NewStore(repo)

	assert.ErrorIs(t, s.UpdatePasswordHash(testHash(), testHash(), false), storage.ErrNoCredential)

	_, err := s.CreateCredential("admin", testHash())
	require.NoError(t, err)
	before := secretOf(t, s)

	next := testHash()
	next.Hash = bytes.Repeat([]byte{3}, 32)
	require.NoError(t, s.UpdatePasswordHash(testHash(), next, false))
	assert.Equal(t, before, secretOf(t, s), "secret must be kept without rotation")

	// The expected hash is now stale.
	assert.ErrorIs(t, s.UpdatePasswordHash(testHash(), testHash(), true), storage.ErrCredentialChanged)
	assert.Equal(t, before, secretOf(t, s))

	require.NoError(t, s.UpdatePasswordHash(next, next, true))
	rotated := secretOf(t, s)
	assert.NotEqual(t, before, rotated)

	persisted, err := repo.Load()
	require.NoError(t, err)
	assert.Equal(t, rotated, persisted.Secret)
	assert.Equal(t, next.Hash, persisted.Credential.PasswordHash.Hash)
}

func TestStoreConcurrentPasswordUpdatesOneWins(t *testing.T) {
	s := storage.NewStore(memory.NewRepository())
	_, err := s.CreateCredential("admin", testHash())
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok int
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := testHash()
			next.Hash = bytes.Repeat([]byte{byte(10 + i)}, 32)
			if err := s.UpdatePasswordHash(testHash(), next, false); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			} else if !errors.Is(err, storage.ErrCredentialChanged) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
}

func TestStoreRotateSecretKeepsCredential(t *testing.T) {
	s := storage.NewStore(memory.NewRepository())
	_, err := s.CreateCredential("admin", testHash())
	require.NoError(t, err)
	before := secretOf(t, s)

	require.NoError(t, s.RotateSecret())
	assert.NotEqual(t, before, secretOf(t, s))

	cred, err := s.Credential()
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "admin", cred.Username)
}

func TestStoreFallsBackOnCorruptState(t *testing.T) {
	repo := memory.NewRepository()
	repo.SetRaw([]byte("definitely not json"))
	s := storage.NewStore(repo)

	required, err := s.SetupRequired()
	require.NoError(t, err)
	assert.True(t, required)
	assert.Len(t, secretOf(t, s), storage.SecretLen)

	// The fallback state replaced the corrupt document.
	persisted, err := repo.Load()
	require.NoError(t, err)
	assert.Len(t, persisted.Secret, storage.SecretLen)
}

type failingRepo struct{ err error }

func (f failingRepo) Load() (*storage.State, error) { return nil, f.err }
func (f failingRepo) Save(*storage.State) error    { return f.err }

func TestStorePropagatesReadErrors(t *testing.T) {
	boom := errors.New("disk on fire")
	s := storage.NewStore(failingRepo{err: boom})
	_, err := s.SetupRequired()
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, s.WithSecret(func([]byte) error { return nil }), boom)
}

func TestStoreSaveAndLoad(t *testing.T) {
	s := storage.NewStore(memory.NewRepository())
	secret := bytes.Repeat([]byte{7}, storage.SecretLen)
	require.NoError(t, s.Save(&storage.State{
		Secret:     secret,
		Credential: &credential.Record{Username: "root", PasswordHash: testHash()},
	}))

	state, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, secret, state.Secret)
	assert.Equal(t, "root", state.Credential.Username)

	assert.Error(t, s.Save(&storage.State{}))
}
