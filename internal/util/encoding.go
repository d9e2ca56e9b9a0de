package util

import (
	"encoding/base64"

	"golang.org/x/text/unicode/norm"
)

// b64url is strict so that a token segment has exactly one valid encoding;
// non-zero trailing bits are rejected instead of silently dropped.
var b64url = base64.RawURLEncoding.Strict()

// Normalize returns the NFKC form of s. Passwords are normalized before
// hashing so that visually identical input derives the same key.
func Normalize(s string) string {
	return norm.NFKC.String(s)
}

func B64URLEncode(b []byte) string {
	return b64url.EncodeToString(b)
}

func B64URLDecode(s string) ([]byte, error) {
	return b64url.DecodeString(s)
}
