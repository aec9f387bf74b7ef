package github

import (
	"crypto/rsa"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default JWT tuning. GitHub caps App JWT lifetimes at 10 minutes, and
// rejects tokens whose iat is in the future, so iat is backdated to absorb
// clock drift between us and GitHub.
const (
	DefaultClockSkew   = time.Minute
	DefaultJWTLifetime = 10 * time.Minute
)

// signer mints short-lived RS256 JWTs identifying the GitHub App. Each JWT
// is used once, to obtain an installation access token, then discarded.
type signer struct {
	appID    string
	key      *rsa.PrivateKey
	skew     time.Duration
	lifetime time.Duration
	now      func() time.Time
}

func newSigner(appID string, key *rsa.PrivateKey, skew, lifetime time.Duration) *signer {
	if skew <= 0 {
		skew = DefaultClockSkew
	}
	if lifetime <= 0 || lifetime > DefaultJWTLifetime {
		lifetime = DefaultJWTLifetime
	}
	return &signer{
		appID:    appID,
		key:      key,
		skew:     skew,
		lifetime: lifetime,
		now:      time.Now,
	}
}

// sign produces a signed App JWT valid from now−skew to now+lifetime.
func (s *signer) sign() (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.appID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-s.skew)),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.lifetime)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("signing app jwt: %w", err)
	}
	return signed, nil
}

// LoadPrivateKey reads and parses the App's RSA private key from a PEM file.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	pemData, err := os.ReadFile(path)
	if err != nil {
		return nil, &PrivateKeyError{Path: path, Err: err}
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemData)
	if err != nil {
		return nil, &PrivateKeyError{Path: path, Err: err}
	}
	return key, nil
}
