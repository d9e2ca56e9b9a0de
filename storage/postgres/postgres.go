// Package postgres implements storage.Repository backed by PostgreSQL.
//
// The auth state is a single row in auth_state holding the same JSON
// document the file backend writes. Unreadable documents are moved to
// auth_state_broken before storage.ErrCorrupt is reported.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/ocpanel/storage"
)

// DefaultTimeout bounds each Load and Save round trip.
const DefaultTimeout = 5 * time.Second

// Store implements storage.Repository backed by PostgreSQL.
type Store struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given pgx connection pool.
func NewRepository(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, timeout: DefaultTimeout}
}

// NewRepositoryFromDSN creates a connection pool from a DSN string, ensures
// the schema exists, and returns a new Repository.
func NewRepositoryFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewRepository(pool), nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Load reads the state row. A missing row is an empty state.
func (s *Store) Load() (*storage.State, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT document FROM auth_state WHERE id = 1`).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading auth state: %w", err)
	}

	state, err := storage.UnmarshalState(data)
	if err != nil {
		if qerr := s.quarantine(ctx, data); qerr != nil {
			return nil, fmt.Errorf("%w (quarantine failed: %v)", err, qerr)
		}
		return nil, err
	}
	return state, nil
}

func (s *Store) quarantine(ctx context.Context, data []byte) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `INSERT INTO auth_state_broken (document) VALUES ($1)`, data); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM auth_state WHERE id = 1`); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Save upserts the state row in one statement.
func (s *Store) Save(state *storage.State) error {
	data, err := storage.MarshalState(state)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	_, err = s.pool.Exec(ctx,
		`INSERT INTO auth_state (id, document, updated_at)
		 VALUES (1, $1, now())
		 ON CONFLICT (id) DO UPDATE SET document = $1, updated_at = now()`,
		data)
	if err != nil {
		return fmt.Errorf("writing auth state: %w", err)
	}
	return nil
}
