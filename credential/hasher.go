// Package credential implements PBKDF2 password hashing, constant-time
// verification and the administrative password policy.
package credential

import (
	"fmt"

	"github.com/jmcleod/ocpanel/internal/util"
)

const (
	AlgorithmPBKDF2   = "pbkdf2"
	DefaultIterations = 150_000
	DefaultDigest     = util.DigestSHA256
	SaltLen           = 16
	KeyLen            = 32
)

// Hasher produces PasswordHash values with its configured cost parameters.
// A Hasher is immutable after construction and safe for concurrent use.
type Hasher struct {
	iterations int
	digest     string
}

// Option configures a Hasher.
type Option func(*Hasher)

// WithIterations sets the PBKDF2 iteration count for new hashes.
// Values outside (0, util.MaxPBKDF2Iterations] are ignored.
func WithIterations(n int) Option {
	return func(h *Hasher) {
		if n > 0 && n <= util.MaxPBKDF2Iterations {
			h.iterations = n
		}
	}
}

// WithDigest sets the PBKDF2 digest for new hashes. Unknown names are ignored.
func WithDigest(name string) Option {
	return func(h *Hasher) {
		if _, ok := util.DigestFunc(name); ok {
			h.digest = name
		}
	}
}

// NewHasher creates a Hasher using pbkdf2/sha256 with 150000 iterations
// unless overridden.
func NewHasher(opts ...Option) *Hasher {
	h := &Hasher{
		iterations: DefaultIterations,
		digest:     DefaultDigest,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Iterations returns the iteration count used for new hashes.
func (h *Hasher) Iterations() int { return h.iterations }

// Hash derives a PasswordHash with a fresh random salt.
func (h *Hasher) Hash(password string) (PasswordHash, error) {
	salt, err := util.RandomBytes(SaltLen)
	if err != nil {
		return PasswordHash{}, fmt.Errorf("generating salt: %w", err)
	}
	key, err := util.DerivePBKDF2Key(util.Normalize(password), salt, util.PBKDF2Params{
		Iterations: h.iterations,
		Digest:     h.digest,
		KeyLen:     KeyLen,
	})
	if err != nil {
		return PasswordHash{}, fmt.Errorf("deriving password hash: %w", err)
	}
	return PasswordHash{
		Algorithm:  AlgorithmPBKDF2,
		Iterations: h.iterations,
		Digest:     h.digest,
		Salt:       salt,
		Hash:       key,
	}, nil
}

// Verify reports whether password matches ph.
func (h *Hasher) Verify(password string, ph PasswordHash) bool {
	return Verify(password, ph)
}

// NeedsRehash reports whether ph was produced with weaker parameters than
// the ones h would use today.
func (h *Hasher) NeedsRehash(ph PasswordHash) bool {
	if ph.Algorithm != AlgorithmPBKDF2 || ph.Digest != h.digest {
		return true
	}
	return ph.Iterations < h.iterations
}

// Verify recomputes the derived key using the salt, iteration count and
// digest stored in ph and compares it to ph.Hash in constant time.
// Malformed or incomplete hashes never match.
func Verify(password string, ph PasswordHash) bool {
	if ph.Algorithm != AlgorithmPBKDF2 || len(ph.Hash) == 0 || len(ph.Salt) == 0 {
		return false
	}
	ok, err := util.ComparePBKDF2Key(util.Normalize(password), ph.Salt, util.PBKDF2Params{
		Iterations: ph.Iterations,
		Digest:     ph.Digest,
		KeyLen:     len(ph.Hash),
	}, ph.Hash)
	if err != nil {
		return false
	}
	return ok
}
