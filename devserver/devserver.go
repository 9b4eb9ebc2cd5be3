// Package devserver is an in-memory reference backend for local
// development and integration tests. It implements the documented
// user-management API surface: login, logout, silent refresh, CSRF
// token issuance, and the current-user profile endpoints.
package devserver

import (
	_ "embed"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultRefreshTokenTTL = 7 * 24 * time.Hour
	defaultCSRFTokenTTL    = time.Hour
)

//go:embed openapi.yaml
var openapiSpec []byte

// Server holds the in-memory state behind the REST handlers.
type Server struct {
	accounts *accountStore
	logger   *slog.Logger
	now      func() time.Time

	signingKey      []byte
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
	csrfTokenTTL    time.Duration
	enforceCSRF     bool

	mu            sync.Mutex
	refreshTokens map[string]refreshSession
	csrfTokens    map[string]time.Time

	limiter *loginRateLimiter
	metrics *metricsCollector
}

type refreshSession struct {
	userID    string
	expiresAt time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithAccessTokenTTL overrides the issued access-token lifetime.
func WithAccessTokenTTL(ttl time.Duration) Option {
	return func(s *Server) { s.accessTokenTTL = ttl }
}

// WithCSRFTokenTTL overrides the issued CSRF-token lifetime.
func WithCSRFTokenTTL(ttl time.Duration) Option {
	return func(s *Server) { s.csrfTokenTTL = ttl }
}

// WithCSRFEnforcement toggles CSRF validation on mutating endpoints.
// Enabled by default; disable for handler-level unit tests that call
// endpoints directly.
func WithCSRFEnforcement(on bool) Option {
	return func(s *Server) { s.enforceCSRF = on }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates a Server pre-seeded with the development accounts. The
// JWT signing key is random per instance: tokens do not survive a
// restart, which is the behavior a client SDK has to cope with anyway.
func New(opts ...Option) (*Server, error) {
	s := &Server{
		now:             time.Now,
		accessTokenTTL:  defaultAccessTokenTTL,
		refreshTokenTTL: defaultRefreshTokenTTL,
		csrfTokenTTL:    defaultCSRFTokenTTL,
		enforceCSRF:     true,
		refreshTokens:   make(map[string]refreshSession),
		csrfTokens:      make(map[string]time.Time),
		limiter:         newLoginRateLimiter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}

	key, err := newSigningKey()
	if err != nil {
		return nil, err
	}
	s.signingKey = key

	accounts, err := seedAccounts()
	if err != nil {
		return nil, err
	}
	s.accounts = accounts
	s.metrics = newMetricsCollector()
	return s, nil
}

// Router returns a chi.Router with all routes mounted under the
// caller's chosen prefix (conventionally /api/v1).
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(securityHeaders)
	r.Use(s.metrics.middleware)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})
	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))
	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Get("/auth/csrf-token", s.CSRFToken)

	r.Group(func(r chi.Router) {
		r.Use(s.csrfMiddleware)
		r.Post("/auth/login", s.Login)
		r.Post("/auth/refresh", s.Refresh)
		r.With(s.authMiddleware).Post("/auth/logout", s.Logout)
		r.With(s.authMiddleware).Patch("/users/me", s.UpdateProfile)
	})
	r.With(s.authMiddleware).Get("/users/me", s.Profile)

	return r
}

// MetricsHandler serves the Prometheus registry for this instance.
// Mounted outside the API prefix, conventionally at /metrics.
func (s *Server) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}
