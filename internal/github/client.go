package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Default call executor tuning.
const (
	DefaultMaxAttempts    = 4
	DefaultBackoffBase    = time.Second
	DefaultBackoffCap     = time.Minute
	DefaultRequestTimeout = 30 * time.Second

	// Responses are decoded fully; cap how much of a body we buffer.
	maxResponseBody = 4 * 1024 * 1024
)

const acceptHeader = "application/vnd.github.v3+json"

// Config holds the settings the GitHub client needs. All durations and
// counts fall back to package defaults when zero.
type Config struct {
	// BaseURL is the API root with a trailing slash, e.g. https://api.github.com/.
	BaseURL string
	// Organization is the slug of the org the App is installed on.
	Organization string
	// AppID is the numeric GitHub App ID, used as the JWT issuer.
	AppID int64
	// PrivateKeyPath points at the App's RSA private key PEM file.
	PrivateKeyPath string

	ClockSkew      time.Duration
	JWTLifetime    time.Duration
	RenewalMargin  time.Duration
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	RequestTimeout time.Duration
	UserAgent      string
}

// Client makes authenticated GitHub API calls as a GitHub App installation.
//
// Authentication is transparent: before each call the client resolves a
// currently-valid installation access token from its internal cache,
// exchanging a freshly signed App JWT for a new token when the cached one is
// stale. Transient failures (429, 5xx, transport errors) are retried with
// exponential backoff and jitter; an unauthorized response triggers one
// forced token renewal before giving up. Safe for concurrent use.
//
// Retries are only safe for idempotent or acceptably-repeatable calls; the
// client does not deduplicate side effects on the remote end.
type Client struct {
	cfg    Config
	base   *url.URL
	httpc  *http.Client
	logger *slog.Logger
	signer *signer
	tokens *tokenCache

	// Resolved once during the first token exchange; only touched inside
	// the single-flighted exchange, so unsynchronized access is fine.
	installationID int64

	// Injection points for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a Client from config, loading and parsing the App private key.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.github.com/"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultBackoffCap
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "branchguard"
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", cfg.BaseURL, err)
	}

	key, err := LoadPrivateKey(cfg.PrivateKeyPath)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:    cfg,
		base:   base,
		httpc:  &http.Client{},
		logger: logger.With("component", "github"),
		signer: newSigner(strconv.FormatInt(cfg.AppID, 10), key, cfg.ClockSkew, cfg.JWTLifetime),
		sleep:  sleepCtx,
	}
	c.tokens = newTokenCache(cfg.RenewalMargin, c.exchangeToken)
	return c, nil
}

// Get makes a GET request to an API endpoint (path without leading slash,
// e.g. "repos/acme/widgets"). The JSON response is decoded into out.
func (c *Client) Get(ctx context.Context, endpoint string, out any) error {
	return c.Do(ctx, http.MethodGet, endpoint, nil, out)
}

// Post makes a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, endpoint string, body, out any) error {
	return c.Do(ctx, http.MethodPost, endpoint, body, out)
}

// Put makes a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, endpoint string, body, out any) error {
	return c.Do(ctx, http.MethodPut, endpoint, body, out)
}

// Delete makes a DELETE request.
func (c *Client) Delete(ctx context.Context, endpoint string, out any) error {
	return c.Do(ctx, http.MethodDelete, endpoint, nil, out)
}

// Do makes an authenticated request as the App installation.
func (c *Client) Do(ctx context.Context, method, endpoint string, body, out any) error {
	return c.execute(ctx, method, endpoint, body, out, c.installationAuth, true)
}

func (c *Client) installationAuth(ctx context.Context) (string, error) {
	tok, err := c.tokens.acquire(ctx)
	if err != nil {
		return "", err
	}
	return "Bearer " + tok, nil
}

// exchangeToken trades a freshly signed App JWT for an installation access
// token. Runs only inside the token cache's single flight.
func (c *Client) exchangeToken(ctx context.Context) (accessToken, error) {
	appJWT, err := c.signer.sign()
	if err != nil {
		return accessToken{}, &ExchangeError{Org: c.cfg.Organization, Err: err}
	}
	jwtAuth := func(context.Context) (string, error) { return "Bearer " + appJWT, nil }

	if c.installationID == 0 {
		var inst struct {
			ID int64 `json:"id"`
		}
		endpoint := "orgs/" + c.cfg.Organization + "/installation"
		if err := c.execute(ctx, http.MethodGet, endpoint, nil, &inst, jwtAuth, false); err != nil {
			return accessToken{}, &ExchangeError{Org: c.cfg.Organization, Err: err}
		}
		c.installationID = inst.ID
	}

	var created struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	endpoint := fmt.Sprintf("app/installations/%d/access_tokens", c.installationID)
	if err := c.execute(ctx, http.MethodPost, endpoint, nil, &created, jwtAuth, false); err != nil {
		return accessToken{}, &ExchangeError{Org: c.cfg.Organization, Err: err}
	}

	c.logger.Info("obtained installation access token",
		"org", c.cfg.Organization,
		"installation_id", c.installationID,
		"expires_at", created.ExpiresAt,
	)
	return accessToken{value: created.Token, expiresAt: created.ExpiresAt}, nil
}

// Outcome classification for a single attempt.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeRetryable
	outcomeAuthRejected
	outcomeFatal
)

type attemptResult struct {
	outcome    outcome
	retryAfter time.Duration
	err        error
}

type authFunc func(ctx context.Context) (string, error)

// execute drives the attempt/backoff state machine: resolve auth, make one
// attempt, classify, then either return, retry after a backoff delay, or
// (when refreshAuth is set) invalidate the token cache and retry once with
// a fresh token.
func (c *Client) execute(ctx context.Context, method, endpoint string, body, out any, auth authFunc, refreshAuth bool) error {
	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body for %s: %w", endpoint, err)
		}
	}

	var (
		attempts    int
		authRetried bool
		lastErr     error
	)
	for {
		attempts++

		header, err := auth(ctx)
		if err != nil {
			return err
		}

		res := c.attempt(ctx, method, endpoint, encoded, out, header)
		switch res.outcome {
		case outcomeSuccess:
			return nil

		case outcomeFatal:
			return res.err

		case outcomeAuthRejected:
			if !refreshAuth {
				// Exchange path: the JWT itself was rejected, a new
				// token will not help.
				return res.err
			}
			c.tokens.invalidate()
			if authRetried {
				status := 0
				var se *StatusError
				if errors.As(res.err, &se) {
					status = se.Status
				}
				return &AuthError{Status: status, Endpoint: endpoint}
			}
			authRetried = true
			c.logger.Warn("token rejected, renewing and retrying", "endpoint", endpoint)
			continue

		case outcomeRetryable:
			lastErr = res.err
			if attempts >= c.cfg.MaxAttempts {
				return &RetryExhaustedError{Attempts: attempts, Err: lastErr}
			}
			delay := c.backoff(attempts)
			if res.retryAfter > delay {
				delay = res.retryAfter
			}
			c.logger.Warn("transient failure, backing off",
				"endpoint", endpoint,
				"attempt", attempts,
				"delay", delay,
				"error", res.err,
			)
			if err := c.sleep(ctx, delay); err != nil {
				return err
			}
		}
	}
}

// attempt performs a single HTTP exchange and classifies the result.
func (c *Client) attempt(ctx context.Context, method, endpoint string, body []byte, out any, auth string) attemptResult {
	u, err := c.base.Parse(endpoint)
	if err != nil {
		return attemptResult{outcome: outcomeFatal, err: fmt.Errorf("invalid endpoint %q: %w", endpoint, err)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return attemptResult{outcome: outcomeFatal, err: fmt.Errorf("building request for %s: %w", endpoint, err)}
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		// Transport-level failures (timeouts, resets) are transient.
		// A cancelled caller context is not worth retrying.
		if errors.Is(err, context.Canceled) {
			return attemptResult{outcome: outcomeFatal, err: err}
		}
		return attemptResult{outcome: outcomeRetryable, err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return attemptResult{outcome: outcomeRetryable, err: fmt.Errorf("reading response from %s: %w", endpoint, err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return attemptResult{outcome: outcomeSuccess}
		}
		// Empty bodies (204s and friends) decode as empty objects.
		if len(respBody) == 0 {
			respBody = []byte("{}")
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return attemptResult{outcome: outcomeFatal, err: fmt.Errorf("decoding response from %s: %w", endpoint, err)}
		}
		return attemptResult{outcome: outcomeSuccess}

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return attemptResult{
			outcome: outcomeAuthRejected,
			err:     &StatusError{Status: resp.StatusCode, Endpoint: endpoint, Body: trimBody(respBody)},
		}

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return attemptResult{
			outcome:    outcomeRetryable,
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			err:        &StatusError{Status: resp.StatusCode, Endpoint: endpoint, Body: trimBody(respBody)},
		}

	default:
		return attemptResult{
			outcome: outcomeFatal,
			err:     &StatusError{Status: resp.StatusCode, Endpoint: endpoint, Body: trimBody(respBody)},
		}
	}
}

// backoff computes the delay before the next attempt: exponential in the
// attempt count, capped, with up to 50% added jitter.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.cfg.BackoffCap {
			d = c.cfg.BackoffCap
			break
		}
	}
	return d + time.Duration(rand.Int63n(int64(d/2)+1))
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func trimBody(b []byte) string {
	const max = 1024
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
