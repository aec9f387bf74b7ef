package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeGitHub scripts the API side of the client: the token exchange
// endpoints plus one business endpoint whose responses are played back in
// order.
type fakeGitHub struct {
	t *testing.T

	mu            sync.Mutex
	tokensIssued  int
	businessCalls int
	responses     []scriptedResponse
	lastAuth      string
}

type scriptedResponse struct {
	status     int
	body       string
	retryAfter string
}

func (f *fakeGitHub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /orgs/testorg/installation", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": 99}`)
	})
	mux.HandleFunc("POST /app/installations/99/access_tokens", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.tokensIssued++
		n := f.tokensIssued
		f.mu.Unlock()
		expires := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
		fmt.Fprintf(w, `{"token": "tok-%d", "expires_at": %q}`, n, expires)
	})
	mux.HandleFunc("/repos/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.businessCalls++
		f.lastAuth = r.Header.Get("Authorization")
		var resp scriptedResponse
		if len(f.responses) > 0 {
			resp = f.responses[0]
			f.responses = f.responses[1:]
		} else {
			resp = scriptedResponse{status: 200, body: "{}"}
		}
		f.mu.Unlock()

		if resp.retryAfter != "" {
			w.Header().Set("Retry-After", resp.retryAfter)
		}
		w.WriteHeader(resp.status)
		fmt.Fprint(w, resp.body)
	})
	return mux
}

func (f *fakeGitHub) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.businessCalls
}

func (f *fakeGitHub) tokens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokensIssued
}

// newTestClient builds a client against the fake, with sleeps recorded
// instead of slept so retry tests run instantly.
func newTestClient(t *testing.T, f *fakeGitHub, tune func(*Config)) (*Client, *[]time.Duration) {
	t.Helper()

	ts := httptest.NewServer(f.handler())
	t.Cleanup(ts.Close)

	keyPath := writeTestKeyPEM(t, generateTestKey(t))
	cfg := Config{
		BaseURL:        ts.URL + "/",
		Organization:   "testorg",
		AppID:          1,
		PrivateKeyPath: keyPath,
		BackoffBase:    time.Second,
	}
	if tune != nil {
		tune(&cfg)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	c, err := New(cfg, logger)
	require.NoError(t, err)

	sleeps := &[]time.Duration{}
	var mu sync.Mutex
	c.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		*sleeps = append(*sleeps, d)
		mu.Unlock()
		return nil
	}
	return c, sleeps
}

func TestDoRetriesTransientFailures(t *testing.T) {
	f := &fakeGitHub{t: t, responses: []scriptedResponse{
		{status: 503, body: `{"message":"unavailable"}`},
		{status: 503, body: `{"message":"unavailable"}`},
		{status: 200, body: `{"name":"widgets"}`},
	}}
	c, sleeps := newTestClient(t, f, nil)

	var out struct {
		Name string `json:"name"`
	}
	err := c.Get(context.Background(), "repos/testorg/widgets", &out)
	require.NoError(t, err)
	require.Equal(t, "widgets", out.Name)
	require.Equal(t, 3, f.calls(), "two retries plus the final success")

	// Backoff schedule: exponential in the attempt, with up to 50% jitter.
	require.Len(t, *sleeps, 2)
	require.GreaterOrEqual(t, (*sleeps)[0], 1*time.Second)
	require.LessOrEqual(t, (*sleeps)[0], 1500*time.Millisecond)
	require.GreaterOrEqual(t, (*sleeps)[1], 2*time.Second)
	require.LessOrEqual(t, (*sleeps)[1], 3*time.Second)
}

func TestDoExhaustsRetryBudget(t *testing.T) {
	f := &fakeGitHub{t: t, responses: []scriptedResponse{
		{status: 503}, {status: 503}, {status: 503},
	}}
	c, sleeps := newTestClient(t, f, func(cfg *Config) {
		cfg.MaxAttempts = 3
	})

	err := c.Get(context.Background(), "repos/testorg/widgets", nil)

	var exhausted *RetryExhaustedError
	require.True(t, errors.As(err, &exhausted))
	require.Equal(t, 3, exhausted.Attempts)
	require.Equal(t, 3, f.calls())
	require.Len(t, *sleeps, 2, "no backoff after the final attempt")

	var se *StatusError
	require.True(t, errors.As(exhausted.Err, &se))
	require.Equal(t, 503, se.Status)
}

func TestDoAuthFailureInvalidatesAndRetriesOnce(t *testing.T) {
	f := &fakeGitHub{t: t, responses: []scriptedResponse{
		{status: 401, body: `{"message":"Bad credentials"}`},
		{status: 401, body: `{"message":"Bad credentials"}`},
	}}
	c, sleeps := newTestClient(t, f, nil)

	err := c.Get(context.Background(), "repos/testorg/widgets", nil)

	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	require.Equal(t, 401, authErr.Status)
	require.Equal(t, 2, f.calls(), "one forced-renewal retry, then terminal")
	require.Equal(t, 2, f.tokens(), "the 401 must invalidate the cached token")
	require.Empty(t, *sleeps, "auth retries do not back off")
}

func TestDoAuthFailureRecoversWithFreshToken(t *testing.T) {
	f := &fakeGitHub{t: t, responses: []scriptedResponse{
		{status: 401, body: `{"message":"Bad credentials"}`},
		{status: 200, body: `{}`},
	}}
	c, _ := newTestClient(t, f, nil)

	err := c.Get(context.Background(), "repos/testorg/widgets", nil)
	require.NoError(t, err)
	require.Equal(t, 2, f.calls())
	require.Equal(t, 2, f.tokens())
	require.Equal(t, "Bearer tok-2", f.lastAuth)
}

func TestDoClientErrorIsNotRetried(t *testing.T) {
	f := &fakeGitHub{t: t, responses: []scriptedResponse{
		{status: 404, body: `{"message":"Not Found"}`},
	}}
	c, sleeps := newTestClient(t, f, nil)

	err := c.Get(context.Background(), "repos/testorg/widgets", nil)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, 404, se.Status)
	require.Contains(t, se.Body, "Not Found")
	require.Equal(t, 1, f.calls(), "4xx must not be retried")
	require.Empty(t, *sleeps)
}

func TestDoHonorsRetryAfter(t *testing.T) {
	f := &fakeGitHub{t: t, responses: []scriptedResponse{
		{status: 429, retryAfter: "7"},
		{status: 200, body: `{}`},
	}}
	c, sleeps := newTestClient(t, f, nil)

	err := c.Get(context.Background(), "repos/testorg/widgets", nil)
	require.NoError(t, err)
	require.Len(t, *sleeps, 1)
	require.GreaterOrEqual(t, (*sleeps)[0], 7*time.Second)
}

func TestDoDecodesEmptyBodyAsEmptyObject(t *testing.T) {
	f := &fakeGitHub{t: t, responses: []scriptedResponse{
		{status: 204, body: ""},
	}}
	c, _ := newTestClient(t, f, nil)

	var out struct {
		Name string `json:"name"`
	}
	err := c.Put(context.Background(), "repos/testorg/widgets/branches/main/protection",
		map[string]any{"enforce_admins": true}, &out)
	require.NoError(t, err)
	require.Empty(t, out.Name)
}

func TestDoAttachesInstallationToken(t *testing.T) {
	f := &fakeGitHub{t: t}
	c, _ := newTestClient(t, f, nil)

	require.NoError(t, c.Get(context.Background(), "repos/testorg/widgets", nil))
	require.Equal(t, "Bearer tok-1", f.lastAuth)

	// A second call reuses the cached token: no new exchange.
	require.NoError(t, c.Get(context.Background(), "repos/testorg/widgets", nil))
	require.Equal(t, 1, f.tokens())
}

func TestDoSurfacesExchangeFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The installation lookup itself is rejected: the App is not
		// installed on this org.
		if strings.HasPrefix(r.URL.Path, "/orgs/") {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"message":"Not Found"}`)
			return
		}
		t.Errorf("unexpected request to %s", r.URL.Path)
	}))
	t.Cleanup(ts.Close)

	keyPath := writeTestKeyPEM(t, generateTestKey(t))
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	c, err := New(Config{
		BaseURL:        ts.URL + "/",
		Organization:   "testorg",
		AppID:          1,
		PrivateKeyPath: keyPath,
	}, logger)
	require.NoError(t, err)

	err = c.Get(context.Background(), "repos/testorg/widgets", nil)

	var exErr *ExchangeError
	require.True(t, errors.As(err, &exErr))
	require.Equal(t, "testorg", exErr.Org)
}

func TestNewRejectsBadKey(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	_, err := New(Config{
		BaseURL:        "https://api.github.com/",
		Organization:   "testorg",
		AppID:          1,
		PrivateKeyPath: "/does/not/exist.pem",
	}, logger)

	var keyErr *PrivateKeyError
	require.True(t, errors.As(err, &keyErr))
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"7", 7 * time.Second},
		{" 30 ", 30 * time.Second},
		{"-1", 0},
		{"soon", 0},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, parseRetryAfter(tt.in), "input %q", tt.in)
	}
}
