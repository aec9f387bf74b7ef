package webhook

import (
	"context"
	"encoding/json"
)

// Delivery is a verified webhook delivery: the event name, GitHub's delivery
// id, and the raw payload bytes. The payload has already passed signature
// verification by the time a handler sees it.
type Delivery struct {
	ID      string
	Event   string
	Payload json.RawMessage
}

// EventHandler receives verified deliveries. Handlers that kick off slow
// work should do so asynchronously and return promptly so the delivery can
// be acknowledged.
type EventHandler interface {
	HandleEvent(ctx context.Context, d Delivery) error
}

// Config holds webhook server configuration.
type Config struct {
	// Listen is the address to bind, e.g. "127.0.0.1:2342".
	Listen string

	// Secret is the shared HMAC secret configured on the GitHub App.
	Secret string

	// Events lists the event names to dispatch. Deliveries for other
	// events are acknowledged but not handled. Empty means dispatch all.
	Events []string

	// MaxBodySize is the maximum allowed payload size in bytes.
	MaxBodySize int64
}

// AcceptedResponse is the JSON response for dispatched deliveries.
type AcceptedResponse struct {
	DeliveryID string `json:"delivery_id"`
}

// InfoResponse is the JSON response for deliveries acknowledged without
// dispatch (events we do not listen to).
type InfoResponse struct {
	Info string `json:"info"`
}

// ErrorResponse is the JSON response for rejected requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Header names GitHub attaches to deliveries.
const (
	HeaderEvent     = "X-GitHub-Event"
	HeaderDelivery  = "X-GitHub-Delivery"
	HeaderSignature = "X-Hub-Signature-256"
)

// DefaultMaxBodySize bounds payloads at 256 kB, plenty for event payloads.
const DefaultMaxBodySize = 256 * 1024
