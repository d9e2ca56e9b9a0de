package api

import (
	"crypto/tls"
	"net/http"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractClientIPWithTrustedProxies(t *testing.T) {
	trustedCIDR := netip.MustParsePrefix("10.0.0.0/8")

	tests := []struct {
		name           string
		remoteAddr     string
		headers        map[string]string
		trustedProxies []netip.Prefix
		want           string
	}{
		{
			name:           "trusted proxy honors XFF",
			remoteAddr:     "10.0.0.1:80",
			headers:        map[string]string{"X-Forwarded-For": "198.51.100.25"},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "198.51.100.25",
		},
		{
			name:           "rightmost untrusted XFF entry wins",
			remoteAddr:     "10.0.0.1:80",
			headers:        map[string]string{"X-Forwarded-For": "junk, 198.51.100.26, 10.0.0.5"},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "198.51.100.26",
		},
		{
			name:           "client-written XFF prefix is ignored",
			remoteAddr:     "10.0.0.1:80",
			headers:        map[string]string{"X-Forwarded-For": "127.0.0.1, 192.0.2.77, 198.51.100.30"},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "198.51.100.30",
		},
		{
			name:           "all trusted hops yield the outermost",
			remoteAddr:     "10.0.0.1:80",
			headers:        map[string]string{"X-Forwarded-For": "10.0.0.7, 10.0.0.5"},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "10.0.0.7",
		},
		{
			name:           "unparsable hop stops the walk",
			remoteAddr:     "10.0.0.1:80",
			headers:        map[string]string{"X-Forwarded-For": "198.51.100.1, junk, 10.0.0.5"},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "10.0.0.5",
		},
		{
			name:           "Forwarded resolves right to left",
			remoteAddr:     "10.0.0.1:80",
			headers:        map[string]string{"Forwarded": "for=127.0.0.1, for=203.0.113.40;proto=https, for=10.0.0.9"},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "203.0.113.40",
		},
		{
			name:           "trusted proxy honors Forwarded",
			remoteAddr:     "10.0.0.1:80",
			headers:        map[string]string{"Forwarded": `for="[2001:db8::1]:4711";proto=https`},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "2001:db8::1",
		},
		{
			name:           "trusted proxy honors X-Real-IP",
			remoteAddr:     "10.0.0.1:80",
			headers:        map[string]string{"X-Real-IP": "203.0.113.11"},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "203.0.113.11",
		},
		{
			name:           "untrusted peer ignores XFF",
			remoteAddr:     "192.168.1.1:80",
			headers:        map[string]string{"X-Forwarded-For": "198.51.100.25"},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "192.168.1.1",
		},
		{
			name:           "untrusted peer ignores Forwarded",
			remoteAddr:     "192.168.1.1:80",
			headers:        map[string]string{"Forwarded": "for=198.51.100.25"},
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "192.168.1.1",
		},
		{
			name:           "no trusted proxies ignores headers",
			remoteAddr:     "192.168.1.1:80",
			headers:        map[string]string{"X-Forwarded-For": "198.51.100.25"},
			trustedProxies: nil,
			want:           "192.168.1.1",
		},
		{
			name:           "trusted proxy with no headers falls back to remote",
			remoteAddr:     "10.0.0.1:80",
			trustedProxies: []netip.Prefix{trustedCIDR},
			want:           "10.0.0.1",
		},
		{
			name:       "ipv6 remote",
			remoteAddr: "[::1]:5555",
			want:       "::1",
		},
		{
			name:       "ipv4-mapped remote is unmapped",
			remoteAddr: "[::ffff:127.0.0.1]:5555",
			want:       "127.0.0.1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &http.Request{RemoteAddr: tt.remoteAddr, Header: make(http.Header)}
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, extractClientIPWithProxies(r, tt.trustedProxies))
		})
	}
}

func TestExtractClientIPSpoofAttempt(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
	r := &http.Request{
		RemoteAddr: "203.0.113.99:12345",
		Header: http.Header{
			"X-Forwarded-For": []string{"127.0.0.1"},
			"Forwarded":       []string{"for=127.0.0.1"},
			"X-Real-Ip":       []string{"127.0.0.1"},
		},
	}
	got := extractClientIPWithProxies(r, trusted)
	assert.Equal(t, "203.0.113.99", got, "should use TCP peer, not spoofed headers")
	assert.False(t, isLoopback(got))
}

func TestExtractClientIPJoinsRepeatedXFF(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("127.0.0.0/8")}
	r := &http.Request{
		RemoteAddr: "127.0.0.1:40000",
		Header: http.Header{
			"X-Forwarded-For": []string{"127.0.0.1", "203.0.113.9"},
		},
	}
	got := extractClientIPWithProxies(r, trusted)
	assert.Equal(t, "203.0.113.9", got)
	assert.False(t, isLoopback(got))
}

func TestDefaultTrustsNoProxy(t *testing.T) {
	assert.Empty(t, DefaultTrustedProxies)

	a := New(nil)
	r := &http.Request{
		RemoteAddr: "127.0.0.1:40000",
		Header:     http.Header{"X-Forwarded-For": []string{"203.0.113.9"}},
	}
	assert.Equal(t, "127.0.0.1", a.clientIP(r))
}

func TestParseTrustedProxies(t *testing.T) {
	t.Run("valid CIDRs", func(t *testing.T) {
		got, err := ParseTrustedProxies([]string{"10.0.0.0/8", " 172.16.0.0/12 ", ""})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("bare addresses become host prefixes", func(t *testing.T) {
		got, err := ParseTrustedProxies([]string{"10.0.0.1", "::1"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, 32, got[0].Bits())
		assert.Equal(t, 128, got[1].Bits())
	})

	t.Run("invalid entry returns error", func(t *testing.T) {
		_, err := ParseTrustedProxies([]string{"10.0.0.0/8", "garbage"})
		require.Error(t, err)
	})

	t.Run("option wraps parser", func(t *testing.T) {
		_, err := WithTrustedProxies([]string{"not-a-cidr"})
		require.Error(t, err)
		opt, err := WithTrustedProxies([]string{"127.0.0.0/8", "::1"})
		require.NoError(t, err)
		require.NotNil(t, opt)
	})
}

func TestRequestIsSecure(t *testing.T) {
	loopback, err := ParseTrustedProxies([]string{"127.0.0.0/8", "::1"})
	require.NoError(t, err)

	direct := &http.Request{RemoteAddr: "127.0.0.1:1", Header: http.Header{}, TLS: &tls.ConnectionState{}}
	assert.True(t, requestIsSecure(direct, nil))

	proxied := &http.Request{RemoteAddr: "127.0.0.1:1", Header: http.Header{"X-Forwarded-Proto": []string{"https"}}}
	assert.True(t, requestIsSecure(proxied, loopback))

	forwarded := &http.Request{RemoteAddr: "127.0.0.1:1", Header: http.Header{"Forwarded": []string{"for=1.2.3.4;proto=https"}}}
	assert.True(t, requestIsSecure(forwarded, loopback))

	spoofed := &http.Request{RemoteAddr: "203.0.113.9:1", Header: http.Header{"X-Forwarded-Proto": []string{"https"}}}
	assert.False(t, requestIsSecure(spoofed, loopback))

	plain := &http.Request{RemoteAddr: "127.0.0.1:1", Header: http.Header{}}
	assert.False(t, requestIsSecure(plain, loopback))
}
