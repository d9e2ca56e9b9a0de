package api

import (
	"context"
	_ "embed"
	"log/slog"
	"net/http"
	"net/netip"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/ocpanel/bootstrap"
	"github.com/jmcleod/ocpanel/credential"
	"github.com/jmcleod/ocpanel/lockout"
	"github.com/jmcleod/ocpanel/session"
	"github.com/jmcleod/ocpanel/storage"
)

// StatusProber reports the state of the managed gateway for the dashboard.
type StatusProber interface {
	Status(ctx context.Context) (any, error)
}

// HotPatcher applies a hot patch to the managed gateway and returns its
// combined output.
type HotPatcher interface {
	HotPatch(ctx context.Context) (string, error)
}

// API holds the dependencies needed by the REST handlers and the gates.
type API struct {
	store    *storage.Store
	flow     *bootstrap.Flow
	hasher   *credential.Hasher
	codec    *session.Codec
	governor *lockout.Governor
	audit    *auditLogger
	logger   *slog.Logger

	trustedProxies         []netip.Prefix
	username               string
	rotateOnPasswordChange bool
	alertFn                AlertFunc

	prober  StatusProber
	patcher HotPatcher
	mounts  []mount
}

type mount struct {
	pattern string
	handler http.Handler
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for request errors and audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithHasher sets the password hasher used for setup, login and password
// change.
func WithHasher(h *credential.Hasher) Option {
	return func(a *API) { a.hasher = h }
}

// WithCodec sets the session token codec.
func WithCodec(c *session.Codec) Option {
	return func(a *API) { a.codec = c }
}

// WithGovernor sets the login governor. Callers that run its sweep loop
// pass the same instance here.
func WithGovernor(g *lockout.Governor) Option {
	return func(a *API) { a.governor = g }
}

// WithTrustedProxies sets the CIDR ranges whose forwarding headers are
// honored. Bare addresses are treated as single-host prefixes.
func WithTrustedProxies(entries []string) (Option, error) {
	prefixes, err := ParseTrustedProxies(entries)
	if err != nil {
		return nil, err
	}
	return func(a *API) { a.trustedProxies = prefixes }, nil
}

// WithAlertFunc registers a callback for login failure and lockout spikes.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) { a.alertFn = fn }
}

// WithAdminUsername sets the account name created by bootstrap.
func WithAdminUsername(name string) Option {
	return func(a *API) {
		if name != "" {
			a.username = name
		}
	}
}

// WithRotateSecretOnPasswordChange controls whether a password change
// invalidates every outstanding session. It defaults to true.
func WithRotateSecretOnPasswordChange(rotate bool) Option {
	return func(a *API) { a.rotateOnPasswordChange = rotate }
}

// WithStatusProber enables GET /status.
func WithStatusProber(p StatusProber) Option {
	return func(a *API) { a.prober = p }
}

// WithHotPatcher enables POST /hotpatch.
func WithHotPatcher(p HotPatcher) Option {
	return func(a *API) { a.patcher = p }
}

// WithProtectedMount mounts handler under pattern behind the session gate.
func WithProtectedMount(pattern string, handler http.Handler) Option {
	return func(a *API) { a.mounts = append(a.mounts, mount{pattern: pattern, handler: handler}) }
}

// New creates a new API instance.
func New(store *storage.Store, opts ...Option) *API {
	a := &API{
		store:                  store,
		username:               bootstrap.DefaultUsername,
		rotateOnPasswordChange: true,
	}
	a.trustedProxies, _ = ParseTrustedProxies(DefaultTrustedProxies)
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	if a.hasher == nil {
		a.hasher = credential.NewHasher()
	}
	if a.codec == nil {
		a.codec = session.NewCodec()
	}
	if a.governor == nil {
		a.governor = lockout.New()
	}
	a.audit = newAuditLogger(a.logger)
	if a.alertFn != nil {
		a.audit.metrics = newMetricsCollector(a.alertFn)
	}
	a.flow = bootstrap.New(store, a.hasher, a.codec,
		bootstrap.WithUsername(a.username),
		bootstrap.WithLogger(a.logger))
	return a
}

// Governor returns the login governor so the caller can run its sweep loop.
func (a *API) Governor() *lockout.Governor { return a.governor }

// Router returns a chi.Router with all API routes. It is meant to be
// mounted at /api.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	// Public: bootstrap and login.
	r.Get("/auth/bootstrap", a.BootstrapStatus)
	r.Post("/auth/bootstrap", a.BootstrapSetup)
	r.Post("/auth/login", a.Login)

	// Public from loopback only.
	r.With(a.loopbackOrSession).Post("/hotpatch", a.HotPatch)

	r.Group(func(r chi.Router) {
		r.Use(a.RequireSession)

		r.Post("/auth/logout", a.Logout)
		r.Post("/auth/change-password", a.ChangePassword)
		r.Get("/auth/session", a.Session)
		r.Get("/status", a.Status)

		r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/yaml")
			w.Write(openapiSpec)
		})
		r.With(docsCSP).Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
			SpecURL: "/api/openapi.yaml",
			Path:    "api/docs",
		}, nil))
		r.With(docsCSP).Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
			SpecURL: "/api/openapi.yaml",
			Path:    "api/redoc",
		}, nil))

		for _, m := range a.mounts {
			r.Mount(m.pattern, m.handler)
		}
	})

	// Unknown API paths are still gated so they reveal nothing without a session.
	r.NotFound(a.RequireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})).ServeHTTP)
	r.MethodNotAllowed(a.RequireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})).ServeHTTP)

	return r
}

// docsCSP relaxes the content security policy for the documentation UIs,
// which load their bundles from public CDNs.
func docsCSP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy",
			"default-src 'self'; script-src 'self' 'unsafe-inline' https://unpkg.com https://cdn.jsdelivr.net; "+
				"style-src 'self' 'unsafe-inline' https://unpkg.com https://fonts.googleapis.com; "+
				"font-src https://fonts.gstatic.com; img-src 'self' data: https:; connect-src 'self'; worker-src blob:")
		next.ServeHTTP(w, r)
	})
}
