package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"artoku/internal/amqp"
	"artoku/internal/core"
	"artoku/internal/ledger"
)

var (
	// ErrInsufficientFunds rejects a payment whose installment exceeds
	// the account balance. Nothing is written.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDebtPaidOff rejects a payment on a fully paid debt. Stores
	// return the same sentinel when a racing payment takes the last
	// installment first.
	ErrDebtPaidOff = ledger.ErrDebtPaidOff
)

// PartialPaymentError reports a payment that landed half-way: the
// ledger transaction was written but the debt counter update failed.
// It is distinct from a plain store failure so callers and the
// reconciler can tell "nothing happened" from "the ledger now leads
// the counter".
type PartialPaymentError struct {
	AttemptID     string
	TransactionID string // the ledger row that did land
	Err           error
}

func (e *PartialPaymentError) Error() string {
	return fmt.Sprintf("payment %s half-applied: transaction %s written, debt counter not updated: %v",
		e.AttemptID, e.TransactionID, e.Err)
}

func (e *PartialPaymentError) Unwrap() error { return e.Err }

// EventPublisher pushes ledger change notifications. *amqp.Client
// implements it; a nil publisher disables events.
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, msg *amqp.LedgerEventMessage) error
}

// PaymentResult is the confirmation returned to the view shell.
type PaymentResult struct {
	Debt      core.Debt
	AttemptID string
	Replayed  bool // attempt ID was already applied; no new writes
}

// PaymentService applies installment payments against a ledger store.
// When the store has a native multi-document transaction (the
// ledger.PaymentApplier capability) the payment is atomic; otherwise
// the two writes are issued in a fixed order with the attempt log
// marking how far they got.
type PaymentService struct {
	store  ledger.Store
	events EventPublisher
}

func NewPaymentService(store ledger.Store, events EventPublisher) *PaymentService {
	return &PaymentService{store: store, events: events}
}

// ApplyInstallmentPayment pays one installment of the given debt:
// exactly one new expense transaction (category "Debt Payment") and
// exactly one increment of the debt's paid counter.
//
// attemptID is the client-generated idempotency key; replaying a
// completed attempt returns the recorded outcome without writing.
// Pass "" to have one generated (no replay protection then).
//
// Preconditions checked before any write: the debt exists and is not
// paid off, and the current account balance covers the installment.
func (s *PaymentService) ApplyInstallmentPayment(ctx context.Context, accountID, debtID, attemptID string) (PaymentResult, error) {
	if attemptID == "" {
		attemptID = uuid.NewString()
	}

	if prev, found, err := s.store.GetPaymentAttempt(ctx, accountID, attemptID); err != nil {
		return PaymentResult{}, fmt.Errorf("look up payment attempt: %w", err)
	} else if found {
		switch {
		case prev.Complete():
			debt, err := s.store.GetDebt(ctx, accountID, prev.DebtID)
			if err != nil {
				return PaymentResult{}, fmt.Errorf("reload debt for replayed attempt: %w", err)
			}
			slog.InfoContext(ctx, "Payment attempt replayed, no writes",
				"account", accountID, "attempt", attemptID)
			return PaymentResult{Debt: debt, AttemptID: attemptID, Replayed: true}, nil
		case prev.TransactionID != "":
			// A half-finished attempt must go through reconciliation,
			// not a blind retry that could double-charge.
			return PaymentResult{}, &PartialPaymentError{
				AttemptID:     attemptID,
				TransactionID: prev.TransactionID,
				Err:           errors.New("previous attempt incomplete"),
			}
		default:
			// The attempt was recorded but the transaction write never
			// landed. Nothing to reconcile; retry from scratch under
			// the same ID.
			slog.InfoContext(ctx, "Retrying payment attempt with no writes",
				"account", accountID, "attempt", attemptID)
		}
	}

	debt, err := s.store.GetDebt(ctx, accountID, debtID)
	if err != nil {
		return PaymentResult{}, fmt.Errorf("get debt: %w", err)
	}
	if debt.PaidOff() {
		return PaymentResult{}, ErrDebtPaidOff
	}

	txs, err := s.store.ListTransactions(ctx, accountID, ledger.TransactionFilter{})
	if err != nil {
		return PaymentResult{}, fmt.Errorf("list transactions for balance: %w", err)
	}
	if core.Balance(txs).Units < debt.MonthlyInstallment.Units {
		return PaymentResult{}, ErrInsufficientFunds
	}

	payTx := core.Transaction{
		Type:     core.Expense,
		Name:     "Debt payment: " + debt.Name,
		Category: core.DebtPaymentCategory,
		Notes:    fmt.Sprintf("Installment #%d", debt.PaidInstallments+1),
		Amount:   debt.MonthlyInstallment,
		Date:     time.Now(),
	}
	attempt := ledger.PaymentAttempt{
		ID:        attemptID,
		DebtID:    debtID,
		CreatedAt: time.Now(),
	}

	if applier, ok := s.store.(ledger.PaymentApplier); ok {
		updated, err := applier.ApplyPayment(ctx, accountID, attempt, payTx)
		if err != nil {
			return PaymentResult{}, fmt.Errorf("apply payment: %w", err)
		}
		debt = updated
	} else {
		updated, err := s.applyTwoWrites(ctx, accountID, debt, attempt, payTx)
		if err != nil {
			return PaymentResult{}, err
		}
		debt = updated
	}

	s.publish(ctx, amqp.EventPaymentApplied, accountID, debtID, attemptID)

	return PaymentResult{Debt: debt, AttemptID: attemptID}, nil
}

// applyTwoWrites is the fallback for stores without atomic payments.
// Order matters: the ledger transaction goes first, then the counter.
// An interruption in between leaves the ledger ahead of the counter,
// which the attempt log records and the reconciler repairs; the
// reverse order could silently lose a payment.
func (s *PaymentService) applyTwoWrites(ctx context.Context, accountID string, debt core.Debt, attempt ledger.PaymentAttempt, payTx core.Transaction) (core.Debt, error) {
	if err := s.store.PutPaymentAttempt(ctx, accountID, attempt); err != nil {
		return core.Debt{}, fmt.Errorf("record payment attempt: %w", err)
	}

	txID, err := s.store.CreateTransaction(ctx, accountID, payTx)
	if err != nil {
		// Nothing landed; the pending attempt stays as a trace.
		return core.Debt{}, fmt.Errorf("write payment transaction: %w", err)
	}

	attempt.TransactionID = txID
	if err := s.store.PutPaymentAttempt(ctx, accountID, attempt); err != nil {
		slog.WarnContext(ctx, "Failed to record transaction ID on attempt",
			"attempt", attempt.ID, "transaction", txID, "error", err)
	}

	debt.PaidInstallments++
	if err := s.store.UpdateDebt(ctx, accountID, debt); err != nil {
		return core.Debt{}, &PartialPaymentError{
			AttemptID:     attempt.ID,
			TransactionID: txID,
			Err:           err,
		}
	}

	attempt.DebtUpdated = true
	if err := s.store.PutPaymentAttempt(ctx, accountID, attempt); err != nil {
		slog.WarnContext(ctx, "Failed to mark attempt complete",
			"attempt", attempt.ID, "error", err)
	}

	return debt, nil
}

func (s *PaymentService) publish(ctx context.Context, kind, accountID, entityID, attemptID string) {
	if s.events == nil {
		return
	}
	msg := amqp.NewLedgerEvent(kind, accountID, entityID)
	msg.AttemptID = attemptID
	if err := s.events.PublishLedgerEvent(ctx, msg); err != nil {
		// The write already succeeded; a lost event only delays the
		// mirror, which the worker's catch-up pass covers.
		slog.ErrorContext(ctx, "Failed to publish ledger event",
			"kind", kind, "entity", entityID, "error", err)
	}
}
