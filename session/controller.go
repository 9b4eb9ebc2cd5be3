// Package session orchestrates the authentication lifecycle: login,
// logout, silent refresh, startup restore, and permission evaluation.
// The Controller is the single owner of the credential record; nothing
// else writes to the credential store.
package session

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/sangram0022/user-mn-go/apiclient"
	"github.com/sangram0022/user-mn-go/credstore"
	"github.com/sangram0022/user-mn-go/csrf"
)

const (
	// defaultCheckInterval is how often Run wakes up to consider a
	// proactive refresh.
	defaultCheckInterval = 30 * time.Second
	// defaultRefreshLead is how much usable lifetime may remain before
	// Run refreshes proactively.
	defaultRefreshLead = 2 * time.Minute
)

// API is the transport dependency, satisfied by *apiclient.Client.
type API interface {
	Login(ctx context.Context, email, password string) (*apiclient.LoginResponse, error)
	Logout(ctx context.Context, accessToken string) error
	Refresh(ctx context.Context, refreshToken string) (*apiclient.RefreshResponse, error)
	Profile(ctx context.Context, accessToken string) (*apiclient.UserProfile, error)
	UpdateProfile(ctx context.Context, accessToken string, update apiclient.ProfileUpdate) (*apiclient.UserProfile, error)
}

// Controller drives the session state machine. All methods are safe for
// concurrent use; state-mutating operations are serialized so the
// credential record never sees interleaved partial writes. An operation
// that queued behind another re-reads the store after acquiring the lock,
// so a response belonging to a superseded operation can never overwrite
// newer state. Profile completions, which run outside the operation
// lock, are guarded by a session generation counter instead.
type Controller struct {
	api    API
	creds  *credstore.Store
	csrf   *csrf.Manager
	logger *slog.Logger
	now    func() time.Time

	onChange      func(Snapshot)
	checkInterval time.Duration
	refreshLead   time.Duration

	// opMu serializes login, logout, refresh, and the startup check.
	opMu sync.Mutex

	mu      sync.RWMutex
	state   State
	user    *apiclient.UserProfile
	lastErr string
	// gen advances at every session boundary: tokens stored by a login
	// or cleared by a logout, rejection, or failed startup check. A
	// profile response fetched under an older generation belongs to a
	// session that no longer exists and is discarded on arrival.
	gen uint64
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithOnChange registers a callback invoked after every published state
// change. The callback runs outside the controller's locks and receives
// an independent snapshot.
func WithOnChange(fn func(Snapshot)) Option {
	return func(c *Controller) { c.onChange = fn }
}

// WithCheckInterval overrides how often Run considers a proactive refresh.
func WithCheckInterval(d time.Duration) Option {
	return func(c *Controller) { c.checkInterval = d }
}

// WithRefreshLead overrides the remaining-lifetime threshold below which
// Run refreshes proactively.
func WithRefreshLead(d time.Duration) Option {
	return func(c *Controller) { c.refreshLead = d }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController creates a Controller. The initial state is Authenticating:
// callers are expected to invoke CheckAuthStatus (or Run, which does so)
// to resolve it. csrfManager may be nil when the transport handles CSRF
// itself.
func NewController(api API, creds *credstore.Store, csrfManager *csrf.Manager, opts ...Option) *Controller {
	c := &Controller{
		api:           api,
		creds:         creds,
		csrf:          csrfManager,
		now:           time.Now,
		state:         Authenticating,
		checkInterval: defaultCheckInterval,
		refreshLead:   defaultRefreshLead,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return c
}

// Snapshot returns the current published session state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

// HasPermission evaluates a permission against the current user snapshot.
// Deterministic and synchronous: no network or storage access.
func (c *Controller) HasPermission(permission string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return HasPermission(c.user, permission)
}

// Login authenticates with email and password. On any failure the
// credential record is guaranteed absent and the state machine ends in
// Unauthenticated; the underlying error is returned for the UI to
// classify (invalid credentials vs. transient).
func (c *Controller) Login(ctx context.Context, email, password string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.publish(Authenticating, c.currentUser(), "")

	resp, err := c.api.Login(ctx, email, password)
	if err != nil {
		c.failToUnauthenticated(err)
		return err
	}

	ttl := apiclient.AccessTokenTTL(resp.ExpiresIn, resp.AccessToken, c.now())
	identity := credstore.Identity{
		UserID: resp.User.ID,
		Email:  resp.User.Email,
		Role:   roleName(&resp.User),
	}
	if err := c.creds.SetTokens(resp.AccessToken, resp.RefreshToken, ttl, identity); err != nil {
		c.clearSession()
		c.failToUnauthenticated(err)
		return err
	}
	c.advanceGen()

	// The login payload carries a minimal user object; the profile
	// endpoint is the source of truth. Login is atomic: a failed profile
	// fetch rolls the whole operation back.
	profile, err := c.api.Profile(ctx, resp.AccessToken)
	if err != nil {
		c.clearSession()
		c.failToUnauthenticated(err)
		return err
	}

	c.logger.Info("login succeeded", "user_id", profile.ID)
	c.publish(Authenticated, profile, "")
	return nil
}

// Logout ends the session. The local clear always happens and happens
// first; the server notification is best-effort and its failure is
// swallowed. Logout never returns an error.
func (c *Controller) Logout(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	accessToken, _ := c.creds.AccessToken()

	c.clearSession()
	c.publish(Unauthenticated, nil, "")

	if accessToken != "" {
		if err := c.api.Logout(ctx, accessToken); err != nil {
			c.logger.Warn("server logout failed, local state already cleared", "error", err)
		}
	}
	if c.csrf != nil {
		c.csrf.Clear()
	}
	c.logger.Info("logged out")
	return nil
}

// Refresh performs a silent token refresh. A rejected refresh token is
// terminal: the credential record is cleared and the state becomes
// Unauthenticated. A transient failure leaves the session as it was so
// the caller can retry.
func (c *Controller) Refresh(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.refreshLocked(ctx)
}

// AccessToken returns a valid bearer token, silently refreshing first if
// the stored one is expired or missing. The non-destructive
// ValidAccessToken accessor is used throughout: reading an expired
// record through AccessToken destroys it, refresh token included, which
// would make the refresh impossible.
func (c *Controller) AccessToken(ctx context.Context) (string, error) {
	if tok, ok := c.creds.ValidAccessToken(); ok {
		return tok, nil
	}

	c.opMu.Lock()
	// Another operation may have refreshed while this caller waited.
	if tok, ok := c.creds.ValidAccessToken(); ok {
		c.opMu.Unlock()
		return tok, nil
	}
	err := c.refreshLocked(ctx)
	c.opMu.Unlock()
	if err != nil {
		return "", err
	}

	tok, ok := c.creds.ValidAccessToken()
	if !ok {
		// The refresh went through but the token it stored is already
		// past the buffer; nothing shorter-lived is worth handing out.
		return "", ErrTokenExpired
	}
	return tok, nil
}

// RefreshProfile re-fetches the identity snapshot without touching
// tokens. Used after out-of-band profile changes. Completion is guarded
// by the session generation: a response that arrives after the session
// ended or was replaced is discarded instead of resurrecting it.
func (c *Controller) RefreshProfile(ctx context.Context) error {
	gen := c.generation()
	tok, err := c.AccessToken(ctx)
	if err != nil {
		return err
	}
	profile, err := c.api.Profile(ctx, tok)
	if err != nil {
		return err
	}
	if !c.publishIfCurrent(gen, Authenticated, profile, "") {
		return ErrNotAuthenticated
	}
	return nil
}

// UpdateProfile applies a partial profile update and publishes the
// server's updated record. Validation errors propagate verbatim with
// their field map intact. Like RefreshProfile, a response outlived by
// its session is not published.
func (c *Controller) UpdateProfile(ctx context.Context, update apiclient.ProfileUpdate) (*apiclient.UserProfile, error) {
	gen := c.generation()
	tok, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	profile, err := c.api.UpdateProfile(ctx, tok, update)
	if err != nil {
		return nil, err
	}
	if !c.publishIfCurrent(gen, Authenticated, profile, "") {
		return nil, ErrNotAuthenticated
	}
	return cloneProfile(profile), nil
}

// CheckAuthStatus resolves the startup state: Authenticated when a valid
// credential record and a successful profile fetch are obtained (trying a
// silent refresh if only the refresh token survived), Unauthenticated
// otherwise.
func (c *Controller) CheckAuthStatus(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.publish(Authenticating, nil, "")

	// The refresh token is checked before any access-token read: reading
	// an expired record through AccessToken destroys it whole.
	if _, hasRefresh := c.creds.RefreshToken(); !hasRefresh {
		c.clearSession()
		c.publish(Unauthenticated, nil, "")
		return nil
	}

	tok, ok := c.creds.ValidAccessToken()
	if !ok {
		if err := c.refreshLocked(ctx); err != nil {
			c.clearSession()
			c.publish(Unauthenticated, nil, errorMessage(err))
			return err
		}
		if tok, ok = c.creds.ValidAccessToken(); !ok {
			c.clearSession()
			c.publish(Unauthenticated, nil, "")
			return nil
		}
	}

	profile, err := c.api.Profile(ctx, tok)
	if err != nil {
		c.clearSession()
		c.publish(Unauthenticated, nil, errorMessage(err))
		return err
	}

	c.publish(Authenticated, profile, "")
	return nil
}

// Run resolves the startup state and then refreshes proactively whenever
// the access token's remaining usable lifetime drops below the refresh
// lead. Returns when ctx is done.
func (c *Controller) Run(ctx context.Context) {
	if err := c.CheckAuthStatus(ctx); err != nil {
		c.logger.Warn("startup auth check failed", "error", err)
	}

	ticker := time.NewTicker(c.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.Snapshot().IsAuthenticated {
				continue
			}
			if c.creds.TimeUntilExpiry() > c.refreshLead {
				continue
			}
			if err := c.Refresh(ctx); err != nil {
				c.logger.Warn("proactive refresh failed", "error", err)
			}
		}
	}
}

// refreshLocked runs the refresh flow. Caller must hold opMu. The
// refresh token is re-read under the lock, so a refresh that queued
// behind a logout finds the record gone and bails instead of resurrecting
// a dead session.
func (c *Controller) refreshLocked(ctx context.Context) error {
	refreshToken, ok := c.creds.RefreshToken()
	if !ok {
		c.clearSession()
		c.publish(Unauthenticated, nil, "")
		return ErrNotAuthenticated
	}

	prev := c.Snapshot()
	c.publish(Refreshing, prev.User, "")

	resp, err := c.api.Refresh(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, apiclient.ErrRefreshRejected) {
			c.logger.Info("refresh token rejected, session expired")
			c.clearSession()
			c.publish(Unauthenticated, nil, "session expired")
			return err
		}
		// Transient: the session survives, the caller may retry.
		c.publish(prev.State, prev.User, errorMessage(err))
		return err
	}

	ttl := apiclient.AccessTokenTTL(resp.ExpiresIn, resp.AccessToken, c.now())
	if err := c.creds.UpdateAccessToken(resp.AccessToken, ttl); err != nil {
		c.publish(prev.State, prev.User, errorMessage(err))
		return err
	}

	c.logger.Debug("access token refreshed", "expires_in", ttl)
	c.publish(Authenticated, prev.User, "")
	return nil
}

// failToUnauthenticated records the failure, passes through the Failed
// state, and settles in Unauthenticated with no user.
func (c *Controller) failToUnauthenticated(err error) {
	msg := errorMessage(err)
	c.publish(Failed, nil, msg)
	c.publish(Unauthenticated, nil, msg)
}

// publish updates the snapshot under the state lock and notifies the
// OnChange hook outside it.
func (c *Controller) publish(state State, user *apiclient.UserProfile, lastErr string) {
	c.mu.Lock()
	c.state = state
	c.user = cloneProfile(user)
	c.lastErr = lastErr
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if c.onChange != nil {
		c.onChange(snap)
	}
}

// publishIfCurrent publishes only while the session generation still
// matches gen. Reports whether the publish happened.
func (c *Controller) publishIfCurrent(gen uint64, state State, user *apiclient.UserProfile, lastErr string) bool {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return false
	}
	c.state = state
	c.user = cloneProfile(user)
	c.lastErr = lastErr
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if c.onChange != nil {
		c.onChange(snap)
	}
	return true
}

func (c *Controller) generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

func (c *Controller) advanceGen() {
	c.mu.Lock()
	c.gen++
	c.mu.Unlock()
}

// clearSession wipes the credential record and advances the session
// generation.
func (c *Controller) clearSession() {
	c.creds.ClearTokens()
	c.advanceGen()
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		State:           c.state,
		User:            cloneProfile(c.user),
		IsAuthenticated: c.user != nil,
		IsLoading:       c.state == Authenticating || c.state == Refreshing,
		LastError:       c.lastErr,
	}
}

func (c *Controller) currentUser() *apiclient.UserProfile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneProfile(c.user)
}

func cloneProfile(p *apiclient.UserProfile) *apiclient.UserProfile {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Role != nil {
		role := *p.Role
		role.Permissions = append([]string(nil), p.Role.Permissions...)
		cp.Role = &role
	}
	return &cp
}

func roleName(u *apiclient.UserProfile) string {
	if u == nil || u.Role == nil {
		return ""
	}
	return u.Role.Name
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
