package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
)

func TestSetup(t *testing.T) {
	// Reset logger for testing
	logger = nil
	once = *new(sync.Once)

	Setup("DEBUG", "json")
	if logger == nil {
		t.Fatal("Logger should not be nil")
	}
}

func TestWithHelpers(t *testing.T) {
	// Verify that the With helpers attach their fields by injecting a
	// buffer-backed logger as the global one.
	var buf bytes.Buffer
	h := slog.NewJSONHandler(&buf, nil)
	logger = slog.New(h)

	WithComponent("webhook").Info("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}
	if entry["component"] != "webhook" {
		t.Errorf("component = %v, want webhook", entry["component"])
	}

	buf.Reset()
	WithDelivery("d-42").Warn("oops")
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}
	if entry["delivery_id"] != "d-42" {
		t.Errorf("delivery_id = %v, want d-42", entry["delivery_id"])
	}
}
