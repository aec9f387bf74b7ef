// Package webhook implements the inbound HTTP endpoint for GitHub webhook
// deliveries, with HMAC-SHA256 signature verification.
//
// # Security Model
//
// - Signatures verified over the exact received bytes, before any parsing
// - crypto/subtle constant-time comparison (no timing side-channel)
// - An unset secret rejects everything; verification is never skipped
// - Body size limits enforced to prevent DoS
// - No signature details leaked in error responses (always generic 403)
// - Request logging excludes payloads and secrets
//
// # Request Flow
//
//  1. HTTP POST arrives at /
//  2. Body size checked (413 if too large)
//  3. X-Hub-Signature-256 verified against the raw body (403 on any failure)
//  4. X-GitHub-Event checked against the configured event list
//  5. Verified delivery dispatched to the EventHandler
//  6. 202 Accepted returned with the delivery id
//
// Deliveries for events outside the configured list are acknowledged with
// 200 so GitHub does not retry them.
package webhook
