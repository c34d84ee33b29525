package ledger

import (
	"context"
	"errors"
	"time"

	"artoku/internal/core"
)

// Ports for ledger stores. The accounting layer never touches a
// concrete backend; everything is injected through these interfaces so
// tests run against the in-memory store.

var (
	ErrNotFound = errors.New("not found")

	// ErrDebtPaidOff is returned by ApplyPayment when the debt's
	// counter already reached its tenor, including the race where a
	// concurrent payment took the last installment.
	ErrDebtPaidOff = errors.New("debt already paid off")
)

// TransactionFilter narrows ListTransactions. Zero values mean "no
// constraint"; results are always ordered by date descending.
type TransactionFilter struct {
	Type  core.TransactionType // optional, income or expense
	Day   time.Time            // optional, match this calendar day
	Limit int                  // optional, 0 = unlimited
}

type (
	DebtStore interface {
		ListDebts(ctx context.Context, accountID string) ([]core.Debt, error)
		GetDebt(ctx context.Context, accountID, id string) (core.Debt, error)
		CreateDebt(ctx context.Context, accountID string, d core.Debt) (id string, err error)
		UpdateDebt(ctx context.Context, accountID string, d core.Debt) error
		DeleteDebt(ctx context.Context, accountID, id string) error
	}

	TransactionStore interface {
		ListTransactions(ctx context.Context, accountID string, f TransactionFilter) ([]core.Transaction, error)
		CreateTransaction(ctx context.Context, accountID string, t core.Transaction) (id string, err error)
		UpdateTransaction(ctx context.Context, accountID string, t core.Transaction) error
		DeleteTransaction(ctx context.Context, accountID, id string) error
	}

	// Store is the full contract a ledger backend provides.
	Store interface {
		DebtStore
		TransactionStore
		AttemptLog

		// ListAccounts enumerates account IDs present in the store.
		// The reconciler walks it.
		ListAccounts(ctx context.Context) ([]string, error)
	}
)

// PaymentAttempt records one installment-payment attempt, keyed by a
// client-generated ID so retries stay idempotent. TransactionID and
// DebtUpdated mark which half of the two-write payment landed; a
// half-marked attempt is exactly what the reconciler looks for.
type PaymentAttempt struct {
	ID            string
	DebtID        string
	TransactionID string // empty until the ledger row is written
	DebtUpdated   bool
	CreatedAt     time.Time
}

// Complete reports whether both halves of the payment landed.
func (a PaymentAttempt) Complete() bool {
	return a.TransactionID != "" && a.DebtUpdated
}

// AttemptLog persists payment attempts.
type AttemptLog interface {
	GetPaymentAttempt(ctx context.Context, accountID, attemptID string) (PaymentAttempt, bool, error)
	PutPaymentAttempt(ctx context.Context, accountID string, a PaymentAttempt) error
	ListPaymentAttempts(ctx context.Context, accountID string) ([]PaymentAttempt, error)
}

// PaymentApplier is the optional capability of stores whose backing
// engine has a native multi-document transaction. ApplyPayment must
// write the payment transaction, increment the debt counter, and
// record the attempt as one atomic unit; a concurrent reader never
// observes one half without the other.
type PaymentApplier interface {
	ApplyPayment(ctx context.Context, accountID string, attempt PaymentAttempt, tx core.Transaction) (core.Debt, error)
}
