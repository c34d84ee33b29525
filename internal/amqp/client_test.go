package amqp

import (
	"testing"
	"time"
)

func TestNewLedgerEvent(t *testing.T) {
	msg := NewLedgerEvent(EventPaymentApplied, "u1", "debt-1")

	if msg.Kind != EventPaymentApplied || msg.AccountID != "u1" || msg.EntityID != "debt-1" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.Timestamp.IsZero() {
		t.Error("Timestamp should not be zero")
	}
	if time.Since(msg.Timestamp) > time.Second {
		t.Error("Timestamp should be recent")
	}
}

func TestLedgerEventJSONRoundTrip(t *testing.T) {
	msg := &LedgerEventMessage{
		Kind:      EventTransactionCreated,
		AccountID: "u1",
		EntityID:  "tx-42",
		AttemptID: "attempt-9",
		Timestamp: time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC),
	}

	body, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}
	parsed, err := LedgerEventFromJSON(body)
	if err != nil {
		t.Fatalf("LedgerEventFromJSON() error = %v", err)
	}
	if parsed.Kind != msg.Kind || parsed.AccountID != msg.AccountID ||
		parsed.EntityID != msg.EntityID || parsed.AttemptID != msg.AttemptID {
		t.Fatalf("round trip mismatch: %+v", parsed)
	}
	if !parsed.Timestamp.Equal(msg.Timestamp) {
		t.Fatalf("Timestamp = %v, want %v", parsed.Timestamp, msg.Timestamp)
	}
}

func TestLedgerEventInvalidJSON(t *testing.T) {
	if _, err := LedgerEventFromJSON([]byte(`{"kind": 5}`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}
