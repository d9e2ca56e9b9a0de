// Package session issues and verifies stateless, HMAC-signed session tokens.
//
// A token is two URL-safe, unpadded base64 segments joined by a dot:
//
//	base64url(json{"sub": username, "exp": unix-seconds}) "." base64url(HMAC-SHA256(secret, segment1))
//
// Nothing about a token is stored server-side; its validity is recomputed on
// every request from the signing secret.
package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmcleod/ocpanel/internal/util"
)

// DefaultLifetime is the fixed validity window of a token from issuance.
const DefaultLifetime = 24 * time.Hour

const (
	separator   = "."
	maxTokenLen = 4096
)

var (
	// ErrInvalidToken covers every malformed, forged or tampered token.
	ErrInvalidToken = errors.New("invalid session token")
	// ErrExpired indicates a correctly signed token past its expiry.
	ErrExpired = errors.New("session token expired")
	// ErrNoSecret indicates an empty signing secret was supplied.
	ErrNoSecret = errors.New("signing secret is empty")
)

// Claims is the signed token payload.
type Claims struct {
	Subject   string `json:"sub"`
	ExpiresAt int64  `json:"exp"`
}

// Expiry returns ExpiresAt as a time.Time.
func (c Claims) Expiry() time.Time {
	return time.Unix(c.ExpiresAt, 0)
}

// Codec signs and verifies tokens. It holds no key material; the secret is
// passed per call so that rotating it takes effect immediately.
type Codec struct {
	lifetime time.Duration
	now      func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithLifetime overrides the token lifetime.
func WithLifetime(d time.Duration) Option {
	return func(c *Codec) {
		if d > 0 {
			c.lifetime = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCodec creates a Codec with DefaultLifetime.
func NewCodec(opts ...Option) *Codec {
	c := &Codec{
		lifetime: DefaultLifetime,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lifetime returns the validity window of issued tokens.
func (c *Codec) Lifetime() time.Duration { return c.lifetime }

// Issue returns a token for subject expiring Lifetime from now.
func (c *Codec) Issue(subject string, secret []byte) (string, Claims, error) {
	if len(secret) == 0 {
		return "", Claims{}, ErrNoSecret
	}
	if subject == "" {
		return "", Claims{}, fmt.Errorf("issuing token: empty subject")
	}
	claims := Claims{
		Subject:   subject,
		ExpiresAt: c.now().Add(c.lifetime).Unix(),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", Claims{}, fmt.Errorf("encoding token payload: %w", err)
	}
	segment := util.B64URLEncode(payload)
	return segment + separator + util.B64URLEncode(sign(secret, segment)), claims, nil
}

// Verify checks the signature of token under secret and returns its claims.
// It returns ErrExpired for a genuine but expired token and ErrInvalidToken
// for anything else that does not verify.
func (c *Codec) Verify(token string, secret []byte) (Claims, error) {
	if len(secret) == 0 {
		return Claims{}, ErrNoSecret
	}
	if token == "" || len(token) > maxTokenLen {
		return Claims{}, ErrInvalidToken
	}
	segment, sig, ok := strings.Cut(token, separator)
	if !ok || segment == "" || sig == "" || strings.Contains(sig, separator) {
		return Claims{}, ErrInvalidToken
	}

	mac := sign(secret, segment)
	defer util.WipeBytes(mac)
	want := util.B64URLEncode(mac)
	if subtle.ConstantTimeCompare([]byte(want), []byte(sig)) != 1 {
		return Claims{}, ErrInvalidToken
	}

	raw, err := util.B64URLDecode(segment)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	var payload struct {
		Subject   *string `json:"sub"`
		ExpiresAt *int64  `json:"exp"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Claims{}, ErrInvalidToken
	}
	if payload.Subject == nil || *payload.Subject == "" || payload.ExpiresAt == nil || *payload.ExpiresAt <= 0 {
		return Claims{}, ErrInvalidToken
	}

	claims := Claims{Subject: *payload.Subject, ExpiresAt: *payload.ExpiresAt}
	if c.now().Unix() > claims.ExpiresAt {
		return Claims{}, ErrExpired
	}
	return claims, nil
}

func sign(secret []byte, segment string) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(segment))
	return h.Sum(nil)
}
