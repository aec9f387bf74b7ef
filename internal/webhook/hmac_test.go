package webhook

import (
	"errors"
	"strings"
	"testing"
)

func TestVerify(t *testing.T) {
	secret := "test-secret-key"
	body := []byte(`{"event":"push","repository":"test"}`)
	validSig := Sign(body, secret)

	tests := []struct {
		name      string
		body      []byte
		signature string
		secret    string
		wantErr   error
	}{
		{
			name:      "valid signature",
			body:      body,
			signature: validSig,
			secret:    secret,
		},
		{
			name:      "wrong signature",
			body:      body,
			signature: "sha256=0000000000000000000000000000000000000000000000000000000000000000",
			secret:    secret,
			wantErr:   ErrSignatureMismatch,
		},
		{
			name:      "tampered body",
			body:      []byte(`{"event":"push","repository":"hacked"}`),
			signature: validSig,
			secret:    secret,
			wantErr:   ErrSignatureMismatch,
		},
		{
			name:      "wrong secret",
			body:      body,
			signature: validSig,
			secret:    "wrong-secret",
			wantErr:   ErrSignatureMismatch,
		},
		{
			name:      "empty secret rejects",
			body:      body,
			signature: validSig,
			secret:    "",
			wantErr:   ErrSignatureMismatch,
		},
		{
			name:      "empty signature",
			body:      body,
			signature: "",
			secret:    secret,
			wantErr:   ErrMalformedSignature,
		},
		{
			name:      "missing sha256 prefix",
			body:      body,
			signature: strings.TrimPrefix(validSig, "sha256="),
			secret:    secret,
			wantErr:   ErrMalformedSignature,
		},
		{
			name:      "signature too short",
			body:      body,
			signature: "sha256=abcdef",
			secret:    secret,
			wantErr:   ErrMalformedSignature,
		},
		{
			name:      "signature too long",
			body:      body,
			signature: validSig + "00",
			secret:    secret,
			wantErr:   ErrMalformedSignature,
		},
		{
			name:      "non-hex characters",
			body:      body,
			signature: "sha256=zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz",
			secret:    secret,
			wantErr:   ErrMalformedSignature,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Verify(tt.body, tt.signature, tt.secret)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Verify() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestVerifyKnownPayload(t *testing.T) {
	secret := "s3cr3t"
	payload := []byte(`{"action":"created"}`)

	sig := Sign(payload, secret)
	if err := Verify(payload, sig, secret); err != nil {
		t.Fatalf("Verify() of untampered payload failed: %v", err)
	}

	mutated := []byte(`{"action":"deleted"}`)
	if err := Verify(mutated, sig, secret); !errors.Is(err, ErrSignatureMismatch) {
		t.Errorf("Verify() of mutated payload = %v, want %v", err, ErrSignatureMismatch)
	}
}

func TestVerifySingleByteFlips(t *testing.T) {
	secret := "another-secret"
	body := []byte(`{"action":"created","number":42}`)
	sig := Sign(body, secret)

	for i := range body {
		flipped := make([]byte, len(body))
		copy(flipped, body)
		flipped[i] ^= 0x01
		if err := Verify(flipped, sig, secret); err == nil {
			t.Errorf("Verify() accepted payload with byte %d flipped", i)
		}
	}

	for i := 0; i < len(secret); i++ {
		flipped := []byte(secret)
		flipped[i] ^= 0x01
		if err := Verify(body, sig, string(flipped)); err == nil {
			t.Errorf("Verify() accepted with byte %d of the secret flipped", i)
		}
	}
}

func TestSign(t *testing.T) {
	body := []byte("test payload")
	secret := "test-secret"

	sig := Sign(body, secret)

	if !strings.HasPrefix(sig, "sha256=") {
		t.Errorf("Sign() = %q, want sha256= prefix", sig)
	}
	// SHA256 = 32 bytes = 64 hex chars
	if len(sig) != len("sha256=")+64 {
		t.Errorf("signature length = %d, want %d", len(sig), len("sha256=")+64)
	}

	// Deterministic
	if sig != Sign(body, secret) {
		t.Error("signature should be deterministic")
	}

	// Different body, different signature
	if sig == Sign([]byte("different"), secret) {
		t.Error("different body should produce different signature")
	}
}
