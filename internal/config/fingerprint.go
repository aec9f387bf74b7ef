package config

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/zeebo/blake3"
)

// KeyFingerprint computes a short BLAKE3 fingerprint of the private key file
// so logs and diagnostics can identify which key a process is running with,
// without ever exposing key material.
func KeyFingerprint(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read key file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:8]), nil
}
