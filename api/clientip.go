package api

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// DefaultTrustedProxies are the peers whose forwarding headers are honored
// when no explicit list is configured. None: forwarding headers are ignored
// until a proxy is named.
var DefaultTrustedProxies []string

// ParseTrustedProxies parses CIDR ranges or bare addresses.
func ParseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, raw := range entries {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// clientIP returns the address the request is attributed to for lockout and
// loopback decisions.
func (a *API) clientIP(r *http.Request) string {
	return extractClientIPWithProxies(r, a.trustedProxies)
}

// peerTrusted reports whether the direct peer may set forwarding headers.
func peerTrusted(r *http.Request, trustedProxies []netip.Prefix) bool {
	remoteIP, ok := parseIPCandidate(r.RemoteAddr)
	return ok && ipTrusted(remoteIP, trustedProxies)
}

func ipTrusted(ip string, trustedProxies []netip.Prefix) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, prefix := range trustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// rightmostUntrusted walks a forwarding chain from the nearest hop outward
// and returns the first address that is not a trusted proxy. Entries left
// of it were written by the client and are ignored. When every hop is
// trusted the outermost one is returned. An unparsable hop ends the walk.
func rightmostUntrusted(hops []string, trustedProxies []netip.Prefix) (string, bool) {
	var last string
	for i := len(hops) - 1; i >= 0; i-- {
		ip, ok := parseIPCandidate(hops[i])
		if !ok {
			break
		}
		if !ipTrusted(ip, trustedProxies) {
			return ip, true
		}
		last = ip
	}
	return last, last != ""
}

// forwardedFor returns the "for=" values of an RFC 7239 Forwarded header in
// hop order.
func forwardedFor(header string) []string {
	var hops []string
	for _, elem := range strings.Split(header, ",") {
		for _, param := range strings.Split(elem, ";") {
			param = strings.TrimSpace(param)
			if strings.HasPrefix(strings.ToLower(param), "for=") {
				hops = append(hops, param[4:])
			}
		}
	}
	return hops
}

// extractClientIPWithProxies returns the best-effort client IP address.
//
// Proxy headers are only honored when the request's RemoteAddr falls within
// one of the trusted ranges. Priority when they are:
// 1. Rightmost untrusted entry in X-Forwarded-For
// 2. Rightmost untrusted "for=" value in Forwarded
// 3. X-Real-IP
// 4. RemoteAddr
func extractClientIPWithProxies(r *http.Request, trustedProxies []netip.Prefix) string {
	remoteIP, _ := parseIPCandidate(r.RemoteAddr)
	if !peerTrusted(r, trustedProxies) {
		return remoteIP
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		if ip, ok := rightmostUntrusted(strings.Split(strings.Join(xff, ","), ","), trustedProxies); ok {
			return ip
		}
	}
	if fwd := r.Header.Values("Forwarded"); len(fwd) > 0 {
		if ip, ok := rightmostUntrusted(forwardedFor(strings.Join(fwd, ",")), trustedProxies); ok {
			return ip
		}
	}
	if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
		if ip, ok := parseIPCandidate(xrip); ok {
			return ip
		}
	}
	return remoteIP
}

func parseIPCandidate(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, "\"")
	if s == "" {
		return "", false
	}

	// RFC 7239 quoted IPv6 may appear as [::1]:1234.
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}

	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	// Drop zone if any (e.g. fe80::1%eth0).
	if i := strings.IndexByte(s, '%'); i >= 0 {
		s = s[:i]
	}

	if addr, err := netip.ParseAddr(s); err == nil {
		return addr.Unmap().String(), true
	}
	return "", false
}

func isLoopback(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	return err == nil && addr.IsLoopback()
}

// isLocalRequest reports whether r originates on this host. A loopback peer
// that is not a trusted proxy but still carries forwarding headers is a
// relay for someone else and does not count.
func (a *API) isLocalRequest(r *http.Request) bool {
	if !isLoopback(a.clientIP(r)) {
		return false
	}
	if peerTrusted(r, a.trustedProxies) {
		return true
	}
	for _, h := range []string{"X-Forwarded-For", "Forwarded", "X-Real-IP"} {
		if r.Header.Get(h) != "" {
			return false
		}
	}
	return true
}

// requestIsSecure reports whether the client reached us over HTTPS, either
// directly or through a trusted proxy that says so.
func requestIsSecure(r *http.Request, trustedProxies []netip.Prefix) bool {
	if r.TLS != nil {
		return true
	}
	if !peerTrusted(r, trustedProxies) {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}
