package credential

import (
	"bytes"
	"time"

	"github.com/jmcleod/ocpanel/internal/util"
)

// PasswordHash is a self-describing PBKDF2 hash. The cost parameters travel
// with each record so they can be raised without breaking verification of
// older hashes.
type PasswordHash struct {
	Algorithm  string `json:"algorithm"`
	Iterations int    `json:"iterations"`
	Digest     string `json:"digest"`
	Salt       []byte `json:"salt"`
	Hash       []byte `json:"hash"`
}

// Equal reports whether p and o describe the same hash.
func (p PasswordHash) Equal(o PasswordHash) bool {
	return p.Algorithm == o.Algorithm &&
		p.Iterations == o.Iterations &&
		p.Digest == o.Digest &&
		bytes.Equal(p.Salt, o.Salt) &&
		bytes.Equal(p.Hash, o.Hash)
}

// Record is the single administrative credential.
type Record struct {
	Username     string       `json:"username"`
	PasswordHash PasswordHash `json:"password_hash"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.PasswordHash.Salt = util.CopyBytes(r.PasswordHash.Salt)
	c.PasswordHash.Hash = util.CopyBytes(r.PasswordHash.Hash)
	return &c
}
