// Package csrf obtains and caches the backend-issued anti-forgery token
// that must accompany every mutating request. Tokens are fetched lazily,
// refreshed proactively inside a configurable threshold of expiry, and
// concurrent fetches are coalesced into a single HTTP request.
package csrf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// HeaderName is the request header carrying the anti-forgery token.
const HeaderName = "X-CSRF-Token"

const (
	// DefaultTTL is the cached token lifetime.
	DefaultTTL = time.Hour
	// DefaultRefreshThreshold is how close to expiry a token is treated
	// as expired for allocation purposes. The token remains accepted by
	// the backend during this window; refreshing early just keeps the
	// latency off the request path.
	DefaultRefreshThreshold = 5 * time.Minute
	// DefaultFetchTimeout bounds a single token fetch.
	DefaultFetchTimeout = 5 * time.Second

	// minTokenLength rejects obviously malformed backend responses.
	minTokenLength = 16
)

// ErrInvalidToken indicates the token endpoint returned a response that
// failed shape validation. A previously cached token is left in place.
var ErrInvalidToken = errors.New("invalid CSRF token response")

// Doer is the minimal HTTP transport dependency.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type record struct {
	token     string
	issuedAt  time.Time
	expiresAt time.Time
}

// Manager fetches and caches the CSRF token. Safe for concurrent use.
type Manager struct {
	client       Doer
	endpoint     string
	ttl          time.Duration
	threshold    time.Duration
	fetchTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time

	mu     sync.RWMutex
	cached *record
	// gen advances on Clear so a fetch already in flight cannot write a
	// token belonging to the cleared session back into the cache.
	gen   uint64
	group singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL overrides the cached token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

// WithRefreshThreshold overrides the proactive-refresh window.
func WithRefreshThreshold(threshold time.Duration) Option {
	return func(m *Manager) { m.threshold = threshold }
}

// WithFetchTimeout overrides the per-fetch timeout.
func WithFetchTimeout(timeout time.Duration) Option {
	return func(m *Manager) { m.fetchTimeout = timeout }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager fetching tokens from endpoint (the full
// URL of the GET token route) via client.
func NewManager(client Doer, endpoint string, opts ...Option) *Manager {
	m := &Manager{
		client:       client,
		endpoint:     endpoint,
		ttl:          DefaultTTL,
		threshold:    DefaultRefreshThreshold,
		fetchTimeout: DefaultFetchTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return m
}

// Token returns a valid token, fetching one if the cache is empty,
// expired, or inside the refresh threshold. Concurrent callers during an
// in-flight fetch share that single request: its token on success, its
// error on failure.
func (m *Manager) Token(ctx context.Context) (string, error) {
	if tok, ok := m.TokenSync(); ok {
		return tok, nil
	}

	v, err, _ := m.group.Do("fetch", func() (any, error) {
		// A caller that queued behind a completed fetch can use its result.
		if tok, ok := m.TokenSync(); ok {
			return tok, nil
		}
		return m.fetchToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// TokenSync returns the cached token without blocking. It reports false
// once the token is past the refresh threshold, forcing callers onto the
// async path.
func (m *Manager) TokenSync() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.validLocked() {
		return "", false
	}
	return m.cached.token, true
}

// Header returns the header name/value pair for the cached token.
func (m *Manager) Header() (name, value string, ok bool) {
	tok, ok := m.TokenSync()
	if !ok {
		return "", "", false
	}
	return HeaderName, tok, true
}

// Valid reports whether a cached token exists outside the refresh
// threshold.
func (m *Manager) Valid() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.validLocked()
}

// TimeUntilExpiry returns the remaining nominal lifetime of the cached
// token, ignoring the refresh threshold. Zero when nothing is cached.
func (m *Manager) TimeUntilExpiry() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cached == nil {
		return 0
	}
	remaining := m.cached.expiresAt.Sub(m.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Clear drops the cached token and forgets any in-flight fetch. Used on
// logout. A fetch that already passed validation when Clear ran will
// find the generation advanced and skip the cache write.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.cached = nil
	m.gen++
	m.mu.Unlock()
	m.group.Forget("fetch")
}

func (m *Manager) validLocked() bool {
	if m.cached == nil {
		return false
	}
	return m.now().Before(m.cached.expiresAt.Add(-m.threshold))
}

type tokenResponse struct {
	CSRFToken string `json:"csrf_token"`
	ExpiresAt string `json:"expires_at"`
}

// fetchToken issues one GET to the token endpoint. Validation failures
// return ErrInvalidToken and leave any cached token untouched, so a
// not-yet-expired token stays usable across a flaky refresh.
func (m *Manager) fetchToken(ctx context.Context) (string, error) {
	m.mu.RLock()
	gen := m.gen
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("building CSRF token request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching CSRF token: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: unexpected status %d", ErrInvalidToken, resp.StatusCode)
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if len(body.CSRFToken) < minTokenLength {
		return "", fmt.Errorf("%w: token shorter than %d characters", ErrInvalidToken, minTokenLength)
	}
	if _, err := time.Parse(time.RFC3339, body.ExpiresAt); err != nil {
		return "", fmt.Errorf("%w: unparseable expires_at: %v", ErrInvalidToken, err)
	}

	// The cache lifetime is the configured TTL; the server's expires_at
	// is validated for shape but the client clock is authoritative.
	issuedAt := m.now()
	m.mu.Lock()
	if m.gen == gen {
		m.cached = &record{
			token:     body.CSRFToken,
			issuedAt:  issuedAt,
			expiresAt: issuedAt.Add(m.ttl),
		}
	}
	m.mu.Unlock()

	m.logger.Debug("CSRF token refreshed", "expires_in", m.ttl)
	return body.CSRFToken, nil
}
