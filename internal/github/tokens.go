package github

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultRenewalMargin is how long before expiry a cached token is treated
// as stale and proactively renewed.
const DefaultRenewalMargin = time.Minute

// accessToken is an installation access token with its absolute expiry.
// Replaced wholesale on renewal, never mutated in place.
type accessToken struct {
	value     string
	expiresAt time.Time
}

// tokenCache holds the single installation access token for the configured
// organization. Reads of a still-valid token are cheap; renewal is
// single-flighted so concurrent callers hitting an expired token trigger
// exactly one exchange and share its result.
type tokenCache struct {
	margin   time.Duration
	now      func() time.Time
	exchange func(ctx context.Context) (accessToken, error)

	mu      sync.Mutex
	current accessToken
	group   singleflight.Group
}

func newTokenCache(margin time.Duration, exchange func(ctx context.Context) (accessToken, error)) *tokenCache {
	if margin <= 0 {
		margin = DefaultRenewalMargin
	}
	return &tokenCache{
		margin:   margin,
		now:      time.Now,
		exchange: exchange,
	}
}

func (tc *tokenCache) valid(tok accessToken) bool {
	return tok.value != "" && tok.expiresAt.Sub(tc.now()) > tc.margin
}

// acquire returns a currently-valid token, renewing it first if the cached
// one is absent, expired, or inside the renewal margin.
func (tc *tokenCache) acquire(ctx context.Context) (string, error) {
	tc.mu.Lock()
	cur := tc.current
	tc.mu.Unlock()

	if tc.valid(cur) {
		return cur.value, nil
	}

	ch := tc.group.DoChan("token", func() (any, error) {
		// A previous flight may have refreshed the token between our
		// staleness check and joining this flight.
		tc.mu.Lock()
		cur := tc.current
		tc.mu.Unlock()
		if tc.valid(cur) {
			return cur.value, nil
		}

		// Detached from the caller's cancellation: if the initiating
		// request is abandoned the renewal still completes (or fails)
		// cleanly, and waiters in other requests get the result. The
		// exchange carries its own per-request timeouts.
		fresh, err := tc.exchange(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}

		tc.mu.Lock()
		tc.current = fresh
		tc.mu.Unlock()
		return fresh.value, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// invalidate drops the cached token so the next acquire performs a fresh
// exchange. Called when the API rejects a token before its expected expiry.
func (tc *tokenCache) invalidate() {
	tc.mu.Lock()
	tc.current = accessToken{}
	tc.mu.Unlock()
}
