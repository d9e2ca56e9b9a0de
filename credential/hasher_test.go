package credential

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastHasher() *Hasher {
	return NewHasher(WithIterations(1000))
}

func TestHashDefaults(t *testing.T) {
	ph, err := NewHasher().Hash("Abcd1234!")
	require.NoError(t, err)

	assert.Equal(t, AlgorithmPBKDF2, ph.Algorithm)
	assert.Equal(t, 150000, ph.Iterations)
	assert.Equal(t, "sha256", ph.Digest)
	assert.Len(t, ph.Salt, 16)
	assert.Len(t, ph.Hash, 32)
	assert.True(t, Verify("Abcd1234!", ph))
}

func TestHashSymmetry(t *testing.T) {
	h := fastHasher()
	passwords := []string{"Abcd1234!", "correct horse battery staple", "pässwörd-Ü1", "x"}
	for _, pw := range passwords {
		ph, err := h.Hash(pw)
		require.NoError(t, err)
		assert.True(t, h.Verify(pw, ph), "password %q should verify", pw)
		assert.False(t, h.Verify(pw+"?", ph), "altered password %q should not verify", pw)
	}
}

func TestHashFreshSaltPerCall(t *testing.T) {
	h := fastHasher()
	a, err := h.Hash("Abcd1234!")
	require.NoError(t, err)
	b, err := h.Hash("Abcd1234!")
	require.NoError(t, err)

	assert.False(t, bytes.Equal(a.Salt, b.Salt), "salt must not be reused")
	assert.False(t, bytes.Equal(a.Hash, b.Hash), "same password must hash differently")
}

func TestVerifyUsesRecordParameters(t *testing.T) {
	old, err := NewHasher(WithIterations(500), WithDigest("sha512")).Hash("Abcd1234!")
	require.NoError(t, err)

	// A hasher configured differently still verifies the older record.
	assert.True(t, fastHasher().Verify("Abcd1234!", old))
}

func TestVerifyMalformedRecords(t *testing.T) {
	good, err := fastHasher().Hash("Abcd1234!")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*PasswordHash)
	}{
		{"zero value", func(p *PasswordHash) { *p = PasswordHash{} }},
		{"unknown algorithm", func(p *PasswordHash) { p.Algorithm = "bcrypt" }},
		{"unknown digest", func(p *PasswordHash) { p.Digest = "md5" }},
		{"zero iterations", func(p *PasswordHash) { p.Iterations = 0 }},
		{"negative iterations", func(p *PasswordHash) { p.Iterations = -5 }},
		{"absurd iterations", func(p *PasswordHash) { p.Iterations = 1 << 40 }},
		{"missing salt", func(p *PasswordHash) { p.Salt = nil }},
		{"missing hash", func(p *PasswordHash) { p.Hash = nil }},
		{"truncated hash", func(p *PasswordHash) { p.Hash = p.Hash[:16] }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ph := *(&Record{PasswordHash: good}).Clone()
			tt.mutate(&ph.PasswordHash)
			assert.NotPanics(t, func() {
				assert.False(t, Verify("Abcd1234!", ph.PasswordHash))
			})
		})
	}
}

func TestNormalizedPasswordsMatch(t *testing.T) {
	h := fastHasher()
	// Precomposed "é" versus "e" followed by a combining acute accent.
	ph, err := h.Hash("Caf\u00e9-1234")
	require.NoError(t, err)
	assert.True(t, h.Verify("Cafe\u0301-1234", ph))
}

func TestNeedsRehash(t *testing.T) {
	h := NewHasher(WithIterations(2000))

	weak, err := NewHasher(WithIterations(1000)).Hash("Abcd1234!")
	require.NoError(t, err)
	assert.True(t, h.NeedsRehash(weak))

	current, err := h.Hash("Abcd1234!")
	require.NoError(t, err)
	assert.False(t, h.NeedsRehash(current))

	other, err := NewHasher(WithIterations(2000), WithDigest("sha512")).Hash("Abcd1234!")
	require.NoError(t, err)
	assert.True(t, h.NeedsRehash(other))
}

func TestHasherOptionsIgnoreInvalid(t *testing.T) {
	h := NewHasher(WithIterations(0), WithDigest("md5"))
	assert.Equal(t, DefaultIterations, h.Iterations())
	assert.Equal(t, DefaultDigest, h.digest)
}

func TestRecordCloneIsDeep(t *testing.T) {
	ph, err := fastHasher().Hash("Abcd1234!")
	require.NoError(t, err)
	rec := &Record{Username: "admin", PasswordHash: ph}

	c := rec.Clone()
	c.PasswordHash.Salt[0] ^= 0xff
	c.PasswordHash.Hash[0] ^= 0xff
	assert.True(t, Verify("Abcd1234!", rec.PasswordHash))

	var nilRec *Record
	assert.Nil(t, nilRec.Clone())
}
