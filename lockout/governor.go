// Package lockout tracks consecutive failed logins per client and enforces a
// fixed-length lockout once a threshold is reached.
//
// Each client moves through Clear -> Warming(n failures) -> Locked(until t).
// Failures are counted since the last success, not within a sliding window.
// A lock lasts exactly LockDuration from the failure that tripped it; further
// failures while locked do not extend it. When a lock elapses the counter
// starts again from zero.
//
// Password checks go through Begin, which reserves a slot for the attempt
// before any verification runs. Outstanding reservations count toward the
// threshold, so a burst of concurrent guesses cannot exceed it.
package lockout

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLocked is reported to a client whose lock is active.
var ErrLocked = errors.New("too many failed login attempts; try again later")

// BusyRetryAfter is reported when a client's remaining attempts are all in
// flight. They either trip the lock or clear the record shortly.
const BusyRetryAfter = time.Second

const (
	// DefaultThreshold is the number of consecutive failures that trips a lock.
	DefaultThreshold = 5
	// DefaultLockDuration is how long a tripped lock lasts.
	DefaultLockDuration = 10 * time.Minute
	// DefaultIdleExpiry is how long a cleared, unlocked record is retained
	// after its last failure before it may be collected.
	DefaultIdleExpiry = 1 * time.Hour
)

// Governor is safe for concurrent use. All reads and writes of a client's
// record happen under one mutex, so two concurrent failures at
// threshold-1 always trip the lock, and failures plus in-flight attempts
// never exceed the threshold.
type Governor struct {
	mu       sync.Mutex
	attempts map[string]*attemptRecord

	threshold    int
	lockDuration time.Duration
	idleExpiry   time.Duration
	now          func() time.Time
}

type attemptRecord struct {
	failures    int
	inflight    int
	lastFailure time.Time
	lockedUntil time.Time
}

// Option configures a Governor.
type Option func(*Governor)

// WithThreshold sets the number of consecutive failures that trips a lock.
func WithThreshold(n int) Option {
	return func(g *Governor) {
		if n > 0 {
			g.threshold = n
		}
	}
}

// WithLockDuration sets the lock length.
func WithLockDuration(d time.Duration) Option {
	return func(g *Governor) {
		if d > 0 {
			g.lockDuration = d
		}
	}
}

// WithIdleExpiry sets the retention of cleared records.
func WithIdleExpiry(d time.Duration) Option {
	return func(g *Governor) {
		if d > 0 {
			g.idleExpiry = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) {
		if now != nil {
			g.now = now
		}
	}
}

// New creates a Governor with the default policy: 5 failures, 10 minute lock.
func New(opts ...Option) *Governor {
	g := &Governor{
		attempts:     make(map[string]*attemptRecord),
		threshold:    DefaultThreshold,
		lockDuration: DefaultLockDuration,
		idleExpiry:   DefaultIdleExpiry,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Threshold returns the configured failure threshold.
func (g *Governor) Threshold() int { return g.threshold }

// Check reports whether clientID is currently locked out and, if so, how
// long remains. A zero duration means the attempt may proceed.
func (g *Governor) Check(clientID string) (blocked bool, retryAfter time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.attempts[clientID]
	if !ok {
		return false, 0
	}
	now := g.now()
	g.releaseElapsed(rec, now)
	if now.Before(rec.lockedUntil) {
		return true, rec.lockedUntil.Sub(now)
	}
	if g.collectible(rec, now) {
		delete(g.attempts, clientID)
	}
	return false, 0
}

// Attempt is a reserved password check for one client. Exactly one of
// Fail, Succeed or Release takes effect; later calls are no-ops.
type Attempt struct {
	g        *Governor
	clientID string
	done     bool
}

// Begin reserves an attempt for clientID. It returns ErrLocked with the time
// to wait when the client is locked or when its failures plus in-flight
// attempts already reach the threshold.
func (g *Governor) Begin(clientID string) (*Attempt, time.Duration, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.attempts[clientID]
	if !ok {
		rec = &attemptRecord{}
		g.attempts[clientID] = rec
	}
	now := g.now()
	g.releaseElapsed(rec, now)
	if now.Before(rec.lockedUntil) {
		return nil, rec.lockedUntil.Sub(now), ErrLocked
	}
	if rec.failures+rec.inflight >= g.threshold {
		return nil, BusyRetryAfter, ErrLocked
	}
	rec.inflight++
	return &Attempt{g: g, clientID: clientID}, 0, nil
}

// Fail records the attempt as a failed login. See RecordFailure.
func (a *Attempt) Fail() (tripped bool, retryAfter time.Duration) {
	a.g.mu.Lock()
	defer a.g.mu.Unlock()
	if a.done {
		return false, 0
	}
	a.done = true
	a.g.unreserve(a.clientID)
	return a.g.recordFailure(a.clientID)
}

// Succeed clears the client's failures and lock. Other attempts still in
// flight keep their reservations.
func (a *Attempt) Succeed() {
	a.g.mu.Lock()
	defer a.g.mu.Unlock()
	if a.done {
		return
	}
	a.done = true
	if rec, ok := a.g.attempts[a.clientID]; ok {
		rec.failures = 0
		rec.lockedUntil = time.Time{}
	}
	a.g.unreserve(a.clientID)
}

// Release gives the slot back without counting the attempt, for requests
// that never reached password verification.
func (a *Attempt) Release() {
	a.g.mu.Lock()
	defer a.g.mu.Unlock()
	if a.done {
		return
	}
	a.done = true
	a.g.unreserve(a.clientID)
}

// Callers must hold g.mu.
func (g *Governor) unreserve(clientID string) {
	rec, ok := g.attempts[clientID]
	if !ok {
		return
	}
	if rec.inflight > 0 {
		rec.inflight--
	}
	if rec.failures == 0 && rec.inflight == 0 && rec.lockedUntil.IsZero() {
		delete(g.attempts, clientID)
	}
}

// RecordFailure counts a failed attempt. tripped is true only for the
// failure that moved the client into the Locked state; retryAfter is the
// remaining lock time whenever the client is locked.
func (g *Governor) RecordFailure(clientID string) (tripped bool, retryAfter time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.recordFailure(clientID)
}

// Callers must hold g.mu.
func (g *Governor) recordFailure(clientID string) (tripped bool, retryAfter time.Duration) {
	rec, ok := g.attempts[clientID]
	if !ok {
		rec = &attemptRecord{}
		g.attempts[clientID] = rec
	}
	now := g.now()
	g.releaseElapsed(rec, now)

	rec.failures++
	rec.lastFailure = now
	if rec.failures >= g.threshold && rec.lockedUntil.IsZero() {
		rec.lockedUntil = now.Add(g.lockDuration)
		tripped = true
	}
	if now.Before(rec.lockedUntil) {
		retryAfter = rec.lockedUntil.Sub(now)
	}
	return tripped, retryAfter
}

// RecordSuccess clears all state for clientID.
func (g *Governor) RecordSuccess(clientID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.attempts, clientID)
}

// Failures returns the current consecutive failure count for clientID.
func (g *Governor) Failures(clientID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.attempts[clientID]
	if !ok {
		return 0
	}
	g.releaseElapsed(rec, g.now())
	return rec.failures
}

// Len returns the number of tracked clients.
func (g *Governor) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.attempts)
}

// Sweep drops records with no failures, no lock and no activity within the
// idle expiry. It returns the number of records removed.
func (g *Governor) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	removed := 0
	for id, rec := range g.attempts {
		g.releaseElapsed(rec, now)
		if g.collectible(rec, now) {
			delete(g.attempts, id)
			removed++
		}
	}
	return removed
}

// Run calls Sweep every interval until ctx is done.
func (g *Governor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Sweep()
		}
	}
}

// releaseElapsed moves a record whose lock has run out back to Clear.
// Callers must hold g.mu.
func (g *Governor) releaseElapsed(rec *attemptRecord, now time.Time) {
	if !rec.lockedUntil.IsZero() && !now.Before(rec.lockedUntil) {
		rec.failures = 0
		rec.lockedUntil = time.Time{}
	}
}

// Callers must hold g.mu.
func (g *Governor) collectible(rec *attemptRecord, now time.Time) bool {
	return rec.failures == 0 && rec.inflight == 0 && rec.lockedUntil.IsZero() && now.Sub(rec.lastFailure) > g.idleExpiry
}
