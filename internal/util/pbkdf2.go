package util

import (
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"fmt"
	"hash"

	"golang.org/x/crypto/pbkdf2"
)

const (
	DigestSHA256 = "sha256"
	DigestSHA512 = "sha512"

	// MaxPBKDF2Iterations bounds the work a single verification may do.
	MaxPBKDF2Iterations = 10_000_000
)

type PBKDF2Params struct {
	Iterations int    `json:"iterations"`
	Digest     string `json:"digest"`
	KeyLen     int    `json:"key_len"`
}

// DigestFunc returns the hash constructor for a digest name.
func DigestFunc(name string) (func() hash.Hash, bool) {
	switch name {
	case DigestSHA256:
		return sha256.New, true
	case DigestSHA512:
		return sha512.New, true
	default:
		return nil, false
	}
}

func DerivePBKDF2Key(password string, salt []byte, params PBKDF2Params) ([]byte, error) {
	h, ok := DigestFunc(params.Digest)
	if !ok {
		return nil, fmt.Errorf("pbkdf2: unsupported digest %q", params.Digest)
	}
	if params.Iterations < 1 || params.Iterations > MaxPBKDF2Iterations {
		return nil, fmt.Errorf("pbkdf2: iteration count %d out of range", params.Iterations)
	}
	if params.KeyLen < 1 || params.KeyLen > 64 {
		return nil, fmt.Errorf("pbkdf2: key length %d out of range", params.KeyLen)
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("pbkdf2: empty salt")
	}
	return pbkdf2.Key([]byte(password), salt, params.Iterations, params.KeyLen, h), nil
}

// ComparePBKDF2Key derives a key from password and compares it to expectedKey
// in constant time.
func ComparePBKDF2Key(password string, salt []byte, params PBKDF2Params, expectedKey []byte) (bool, error) {
	key, err := DerivePBKDF2Key(password, salt, params)
	if err != nil {
		return false, err
	}
	defer WipeBytes(key)
	return subtle.ConstantTimeCompare(key, expectedKey) == 1, nil
}
