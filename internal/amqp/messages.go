package amqp

import (
	"encoding/json"
	"time"
)

// Event kinds published on ledger writes. The worker mirrors created
// transactions to the backup spreadsheet; payment events additionally
// nudge the reconciler.
const (
	EventTransactionCreated = "transaction.created"
	EventTransactionUpdated = "transaction.updated"
	EventTransactionDeleted = "transaction.deleted"
	EventDebtCreated        = "debt.created"
	EventDebtUpdated        = "debt.updated"
	EventDebtDeleted        = "debt.deleted"
	EventPaymentApplied     = "payment.applied"
)

// LedgerEventMessage is the lightweight change notification between
// the API server and the worker. It carries identifiers only; the
// worker fetches the current row from the store, so a stale or
// replayed message is harmless.
type LedgerEventMessage struct {
	Kind      string    `json:"kind"`
	AccountID string    `json:"account_id"`
	EntityID  string    `json:"entity_id"`
	AttemptID string    `json:"attempt_id,omitempty"` // payment events only
	Timestamp time.Time `json:"timestamp"`
}

func NewLedgerEvent(kind, accountID, entityID string) *LedgerEventMessage {
	return &LedgerEventMessage{
		Kind:      kind,
		AccountID: accountID,
		EntityID:  entityID,
		Timestamp: time.Now(),
	}
}

func (m *LedgerEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func LedgerEventFromJSON(data []byte) (*LedgerEventMessage, error) {
	var msg LedgerEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
