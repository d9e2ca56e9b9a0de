package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jmcleod/ocpanel/bootstrap"
	"github.com/jmcleod/ocpanel/session"
)

type contextKey int

const claimsKey contextKey = iota

// SessionCookieName is the cookie carrying the signed session token.
const SessionCookieName = "oc_session"

// LoginPath is where unauthenticated page requests are redirected.
const LoginPath = "/login"

// publicPages are page paths reachable without a session.
var publicPages = map[string]bool{
	"/login":       true,
	"/login.html":  true,
	"/favicon.ico": true,
}

// publicPagePrefixes cover the login page's static assets.
var publicPagePrefixes = []string{
	"/assets/login.",
}

func isPublicPage(path string) bool {
	if publicPages[path] {
		return true
	}
	for _, p := range publicPagePrefixes {
		if strings.HasPrefix(path, p) && !strings.Contains(path[len(p):], "/") {
			return true
		}
	}
	return false
}

// ClaimsFromContext returns the verified session claims stored by the gate.
func ClaimsFromContext(ctx context.Context) (session.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(session.Claims)
	return c, ok
}

// authenticate verifies the session cookie, if any.
func (a *API) authenticate(r *http.Request) (session.Claims, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return session.Claims{}, errUnauthenticated
	}
	return bootstrap.VerifySession(a.store, a.codec, cookie.Value)
}

// withClaims runs next with claims on the context, or reports why the
// request is unauthenticated. Storage errors are surfaced as such so they
// are not mistaken for a bad cookie.
func (a *API) withClaims(w http.ResponseWriter, r *http.Request, next http.Handler, deny func(error)) {
	claims, err := a.authenticate(r)
	if err != nil {
		deny(err)
		return
	}
	ctx := context.WithValue(r.Context(), claimsKey, claims)
	next.ServeHTTP(w, r.WithContext(ctx))
}

// noteDenied records why a gated request was refused. A missing cookie is
// routine; a cookie that fails verification is audited; anything else is a
// server-side failure.
func (a *API) noteDenied(r *http.Request, err error) {
	switch {
	case errors.Is(err, errUnauthenticated), errors.Is(err, session.ErrExpired):
	case errors.Is(err, session.ErrInvalidToken):
		a.audit.logFailure(AuditUnauthenticatedCall, r, a.clientIP(r), "invalid session token")
	default:
		a.logger.Error("session verification failed", "error", err)
	}
}

// RequireSession rejects API requests without a valid session with a 401
// JSON error. It never redirects.
func (a *API) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.withClaims(w, r, next, func(err error) {
			a.noteDenied(r, err)
			mapError(w, errUnauthenticated)
		})
	})
}

// PageGate protects page routes. Public pages pass through; everything else
// needs a valid session or is redirected to the login page.
func (a *API) PageGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPage(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		a.withClaims(w, r, next, func(err error) {
			a.noteDenied(r, err)
			w.Header().Set("Cache-Control", "no-store")
			http.Redirect(w, r, LoginPath, http.StatusFound)
		})
	})
}

// loopbackOrSession lets requests from this host through without a session
// and applies RequireSession to everyone else.
func (a *API) loopbackOrSession(next http.Handler) http.Handler {
	gated := a.RequireSession(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.isLocalRequest(r) {
			next.ServeHTTP(w, r)
			return
		}
		gated.ServeHTTP(w, r)
	})
}

// writeSessionCookie sets the session cookie for the codec's full lifetime.
func (a *API) writeSessionCookie(w http.ResponseWriter, r *http.Request, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   requestIsSecure(r, a.trustedProxies),
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(a.codec.Lifetime() / time.Second),
	})
}

// clearSessionCookie expires the cookie immediately (Max-Age=0).
func (a *API) clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   requestIsSecure(r, a.trustedProxies),
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
}
