package csrf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "0123456789abcdef0123456789abcdef"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// gatedDoer counts requests and optionally blocks them until released.
type gatedDoer struct {
	calls   atomic.Int64
	gate    chan struct{}
	respond func() (*http.Response, error)
}

func (d *gatedDoer) Do(req *http.Request) (*http.Response, error) {
	d.calls.Add(1)
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
	}
	return d.respond()
}

func jsonResponse(status int, body string) (*http.Response, error) {
	rec := httptest.NewRecorder()
	rec.Header().Set("Content-Type", "application/json")
	rec.WriteHeader(status)
	io.WriteString(rec, body)
	return rec.Result(), nil
}

func validBody(expiresAt time.Time) string {
	return fmt.Sprintf(`{"csrf_token":%q,"expires_at":%q}`, testToken, expiresAt.Format(time.RFC3339))
}

func newTestManager(t *testing.T, d Doer, opts ...Option) (*Manager, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	opts = append(opts,
		WithClock(clk.Now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return NewManager(d, "https://api.test/v1/auth/csrf-token", opts...), clk
}

func TestToken_FetchAndCache(t *testing.T) {
	d := &gatedDoer{respond: func() (*http.Response, error) {
		return jsonResponse(http.StatusOK, validBody(time.Now().Add(time.Hour)))
	}}
	m, _ := newTestManager(t, d)

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testToken, tok)
	assert.EqualValues(t, 1, d.calls.Load())

	// Cached token served without another fetch.
	tok, err = m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testToken, tok)
	assert.EqualValues(t, 1, d.calls.Load())

	assert.True(t, m.Valid())
	name, value, ok := m.Header()
	require.True(t, ok)
	assert.Equal(t, HeaderName, name)
	assert.Equal(t, testToken, value)
}

// Concurrent callers during an in-flight fetch share a
// single HTTP request and all resolve to its token.
func TestToken_CoalescesConcurrentFetches(t *testing.T) {
	d := &gatedDoer{
		gate: make(chan struct{}),
		respond: func() (*http.Response, error) {
			return jsonResponse(http.StatusOK, validBody(time.Now().Add(time.Hour)))
		},
	}
	m, _ := newTestManager(t, d)

	const callers = 5
	results := make(chan string, callers)
	errs := make(chan error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := m.Token(context.Background())
			results <- tok
			errs <- err
		}()
	}

	// Give the goroutines time to pile up behind the gate, then release.
	time.Sleep(50 * time.Millisecond)
	close(d.gate)
	wg.Wait()

	assert.EqualValues(t, 1, d.calls.Load())
	for i := 0; i < callers; i++ {
		assert.NoError(t, <-errs)
		assert.Equal(t, testToken, <-results)
	}
}

func TestToken_CoalescedErrorSharedByAllCallers(t *testing.T) {
	d := &gatedDoer{
		gate: make(chan struct{}),
		respond: func() (*http.Response, error) {
			return nil, errors.New("connection refused")
		},
	}
	m, _ := newTestManager(t, d)

	const callers = 3
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Token(context.Background())
			errs <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(d.gate)
	wg.Wait()

	assert.EqualValues(t, 1, d.calls.Load())
	for i := 0; i < callers; i++ {
		assert.Error(t, <-errs)
	}
}

// After a coalesced fetch resolves, a later expiry triggers a fresh fetch.
func TestToken_RefetchAfterExpiry(t *testing.T) {
	d := &gatedDoer{respond: func() (*http.Response, error) {
		return jsonResponse(http.StatusOK, validBody(time.Now().Add(time.Hour)))
	}}
	m, clk := newTestManager(t, d)

	_, err := m.Token(context.Background())
	require.NoError(t, err)

	clk.Advance(2 * time.Hour)
	_, err = m.Token(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, d.calls.Load())
}

// Inside the refresh threshold the token is reported invalid and the
// sync accessor refuses to hand it out.
func TestRefreshThreshold_SoftExpiry(t *testing.T) {
	d := &gatedDoer{respond: func() (*http.Response, error) {
		return jsonResponse(http.StatusOK, validBody(time.Now().Add(time.Hour)))
	}}
	m, clk := newTestManager(t, d)

	_, err := m.Token(context.Background())
	require.NoError(t, err)

	// 56 minutes into a 1h TTL: 4 minutes remain, threshold is 5.
	clk.Advance(56 * time.Minute)

	assert.False(t, m.Valid())
	_, ok := m.TokenSync()
	assert.False(t, ok)

	// But the token has not actually reached expiry yet.
	assert.Equal(t, 4*time.Minute, m.TimeUntilExpiry())
}

func TestFetchValidation_KeepsCachedToken(t *testing.T) {
	bodies := []string{
		`{"csrf_token":"short","expires_at":"2025-06-01T13:00:00Z"}`,
		fmt.Sprintf(`{"csrf_token":%q,"expires_at":"not-a-time"}`, testToken),
		`{not json`,
	}
	good := validBody(time.Now().Add(time.Hour))
	i := -1
	d := &gatedDoer{respond: func() (*http.Response, error) {
		if i < 0 {
			return jsonResponse(http.StatusOK, good)
		}
		return jsonResponse(http.StatusOK, bodies[i])
	}}
	m, clk := newTestManager(t, d)

	_, err := m.Token(context.Background())
	require.NoError(t, err)

	// Step into the threshold so Token() tries to refresh.
	clk.Advance(56 * time.Minute)

	for i = 0; i < len(bodies); i++ {
		_, err := m.Token(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidToken)

		// The stale-but-not-expired token survives the failed refresh.
		assert.Equal(t, 4*time.Minute, m.TimeUntilExpiry())
	}
}

func TestFetch_Non200Status(t *testing.T) {
	d := &gatedDoer{respond: func() (*http.Response, error) {
		return jsonResponse(http.StatusServiceUnavailable, `{"error":"down"}`)
	}}
	m, _ := newTestManager(t, d)

	_, err := m.Token(context.Background())
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.False(t, m.Valid())
}

func TestFetch_TimeoutAborts(t *testing.T) {
	d := &gatedDoer{
		gate: make(chan struct{}), // never released
		respond: func() (*http.Response, error) {
			return jsonResponse(http.StatusOK, "{}")
		},
	}
	m, _ := newTestManager(t, d, WithFetchTimeout(30*time.Millisecond))

	_, err := m.Token(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClear_DropsCache(t *testing.T) {
	d := &gatedDoer{respond: func() (*http.Response, error) {
		return jsonResponse(http.StatusOK, validBody(time.Now().Add(time.Hour)))
	}}
	m, _ := newTestManager(t, d)

	_, err := m.Token(context.Background())
	require.NoError(t, err)
	require.True(t, m.Valid())

	m.Clear()

	assert.False(t, m.Valid())
	assert.Equal(t, time.Duration(0), m.TimeUntilExpiry())
	_, _, ok := m.Header()
	assert.False(t, ok)

	_, err = m.Token(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, d.calls.Load())
}

// A fetch still in flight when Clear runs must not write its token back
// into the cache afterwards.
func TestClear_InFlightFetchDoesNotRepopulateCache(t *testing.T) {
	d := &gatedDoer{
		gate: make(chan struct{}),
		respond: func() (*http.Response, error) {
			return jsonResponse(http.StatusOK, validBody(time.Now().Add(time.Hour)))
		},
	}
	m, _ := newTestManager(t, d)

	errCh := make(chan error, 1)
	go func() {
		_, err := m.Token(context.Background())
		errCh <- err
	}()

	// Wait for the fetch to reach the transport, then clear underneath it.
	require.Eventually(t, func() bool { return d.calls.Load() == 1 },
		time.Second, 5*time.Millisecond)
	m.Clear()
	close(d.gate)

	// The in-flight caller still gets its token, but the cache stays empty.
	require.NoError(t, <-errCh)
	assert.False(t, m.Valid())
	_, ok := m.TokenSync()
	assert.False(t, ok)
}
