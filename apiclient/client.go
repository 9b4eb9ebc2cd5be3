// Package apiclient is the typed REST transport for the user-management
// backend. It maps HTTP status codes onto the session error taxonomy and
// injects bearer, CSRF, and request-ID headers; all session semantics
// live in the session package.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/sangram0022/user-mn-go/csrf"
)

// Doer is the minimal HTTP transport dependency.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// defaultTokenTTL is assumed when a token response omits expires_in and
// the access token carries no parseable exp claim.
const defaultTokenTTL = 15 * time.Minute

// Client calls the documented backend endpoints.
type Client struct {
	http    Doer
	baseURL string
	csrf    *csrf.Manager
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithCSRF attaches a CSRF token manager; mutating requests then carry
// the X-CSRF-Token header.
func WithCSRF(m *csrf.Manager) Option {
	return func(c *Client) { c.csrf = m }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a Client for the given API base URL (including the
// versioned prefix, e.g. "https://host/api/v1").
func New(httpClient Doer, baseURL string, opts ...Option) *Client {
	c := &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return c
}

// Login exchanges email/password for a token pair and identity snapshot.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	var out LoginResponse
	err := c.doJSON(ctx, http.MethodPost, "/auth/login", LoginRequest{Email: email, Password: password}, "", &out)
	if err != nil {
		if se, ok := err.(*statusError); ok && se.code == http.StatusUnauthorized {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if out.AccessToken == "" || out.RefreshToken == "" {
		return nil, &TransientError{Err: fmt.Errorf("login response missing tokens")}
	}
	return &out, nil
}

// Logout notifies the backend that the session is over. Best-effort: the
// caller clears local state regardless of the outcome.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	err := c.doJSON(ctx, http.MethodPost, "/auth/logout", struct{}{}, accessToken, nil)
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Refresh exchanges the refresh token for a new access token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*RefreshResponse, error) {
	var out RefreshResponse
	err := c.doJSON(ctx, http.MethodPost, "/auth/refresh", RefreshRequest{RefreshToken: refreshToken}, "", &out)
	if err != nil {
		if se, ok := err.(*statusError); ok &&
			(se.code == http.StatusUnauthorized || se.code == http.StatusForbidden) {
			return nil, ErrRefreshRejected
		}
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, &TransientError{Err: fmt.Errorf("refresh response missing access token")}
	}
	return &out, nil
}

// Profile fetches the full identity record for the bearer.
func (c *Client) Profile(ctx context.Context, accessToken string) (*UserProfile, error) {
	var out UserProfile
	if err := c.doJSON(ctx, http.MethodGet, "/users/me", nil, accessToken, &out); err != nil {
		return nil, translateStatus(err)
	}
	return &out, nil
}

// UpdateProfile applies a partial profile update. Server-side validation
// failures come back as a *ValidationError with the field map intact.
func (c *Client) UpdateProfile(ctx context.Context, accessToken string, update ProfileUpdate) (*UserProfile, error) {
	var out UserProfile
	if err := c.doJSON(ctx, http.MethodPatch, "/users/me", update, accessToken, &out); err != nil {
		return nil, translateStatus(err)
	}
	return &out, nil
}

// AccessTokenTTL resolves the lifetime of an access token: expires_in
// when the backend sent one, otherwise the token's own exp claim, read
// without signature validation (the client has no verification key and
// only needs a refresh schedule).
func AccessTokenTTL(expiresIn int64, accessToken string, now time.Time) time.Duration {
	if expiresIn > 0 {
		return time.Duration(expiresIn) * time.Second
	}
	var claims jwt.RegisteredClaims
	_, _ = jwt.ParseWithClaims(accessToken, &claims,
		func(*jwt.Token) (any, error) { return nil, nil },
		jwt.WithoutClaimsValidation(),
	)
	if claims.ExpiresAt != nil && claims.ExpiresAt.Time.After(now) {
		return claims.ExpiresAt.Time.Sub(now)
	}
	return defaultTokenTTL
}

// statusError is an internal carrier for non-2xx responses before they
// are mapped onto the exported taxonomy.
type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.msg)
}

func translateStatus(err error) error {
	if se, ok := err.(*statusError); ok && se.code == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return err
}

// mutating reports whether a method requires CSRF protection.
func mutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

// doJSON performs one request/response cycle. Transport failures become
// *TransientError; 422 becomes *ValidationError; other non-2xx statuses
// surface as *statusError for the typed wrappers to map.
func (c *Client) doJSON(ctx context.Context, method, path string, body any, accessToken string, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if c.csrf != nil && mutating(method) {
		// A mutating request never goes out unprotected: fetch a fresh
		// token rather than silently skipping the header.
		tok, err := c.csrf.Token(ctx)
		if err != nil {
			return fmt.Errorf("obtaining CSRF token: %w", err)
		}
		req.Header.Set(csrf.HeaderName, tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusUnprocessableEntity {
		var eb ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&eb); err != nil || len(eb.Errors) == 0 {
			return &ValidationError{Fields: map[string][]string{}}
		}
		return &ValidationError{Fields: eb.Errors}
	}
	if resp.StatusCode >= 500 {
		var eb ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		return &TransientError{Err: &statusError{code: resp.StatusCode, msg: eb.Error}}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		return &statusError{code: resp.StatusCode, msg: eb.Error}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &TransientError{Err: fmt.Errorf("decoding response: %w", err)}
		}
	}
	return nil
}
