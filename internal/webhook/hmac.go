package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// Verification failures. Both result in the delivery being rejected; the
// distinction only matters for logging. HTTP responses stay generic so no
// signature details leak to the sender.
var (
	// ErrMalformedSignature means the header value is not a well-formed
	// "sha256=<hex>" signature (wrong scheme, wrong length, or not hex).
	ErrMalformedSignature = errors.New("malformed webhook signature")

	// ErrSignatureMismatch means the signature is well-formed but does not
	// match the payload. Expected for forged or corrupted deliveries.
	ErrSignatureMismatch = errors.New("webhook signature mismatch")
)

const signaturePrefix = "sha256="

// Verify checks a GitHub-style HMAC-SHA256 signature against the raw request
// body. The body must be the exact bytes received: re-serialized JSON will
// not match.
//
// An empty secret always rejects. Skipping verification because no secret is
// configured would accept arbitrary payloads, so that is never done here.
//
// Comparison uses crypto/subtle to prevent timing attacks.
func Verify(body []byte, signature, secret string) error {
	if secret == "" {
		return ErrSignatureMismatch
	}

	provided, err := parseSignature(signature)
	if err != nil {
		return err
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	if subtle.ConstantTimeCompare(expected, provided) != 1 {
		return ErrSignatureMismatch
	}
	return nil
}

// parseSignature decodes a "sha256=<hex>" header value into raw MAC bytes.
func parseSignature(signature string) ([]byte, error) {
	hexSig, ok := strings.CutPrefix(signature, signaturePrefix)
	if !ok {
		return nil, ErrMalformedSignature
	}
	if len(hexSig) != sha256.Size*2 {
		return nil, ErrMalformedSignature
	}
	raw, err := hex.DecodeString(hexSig)
	if err != nil {
		return nil, ErrMalformedSignature
	}
	return raw, nil
}

// Sign computes the signature header value for a body, in the same
// "sha256=<hex>" form GitHub sends. Used by tests and by anything that
// needs to produce deliveries of its own.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
