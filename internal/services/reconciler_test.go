package services

import (
	"context"
	"testing"
	"time"

	"artoku/internal/core"
	"artoku/internal/ledger"
	"artoku/internal/ledger/memory"
)

// halfApply leaves an account in the state a crash between the two
// payment writes produces: ledger row written, counter untouched,
// attempt recorded with only the transaction half marked.
func halfApply(t *testing.T, store ledger.Store, accountID, debtID string, installment int64) ledger.PaymentAttempt {
	t.Helper()
	ctx := context.Background()
	txID, err := store.CreateTransaction(ctx, accountID, core.Transaction{
		Type:     core.Expense,
		Name:     "Debt payment: Car loan",
		Category: core.DebtPaymentCategory,
		Notes:    "Installment #1",
		Amount:   core.Money{Units: installment},
		Date:     time.Now(),
	})
	if err != nil {
		t.Fatalf("write payment transaction: %v", err)
	}
	attempt := ledger.PaymentAttempt{
		ID:            "attempt-crashed",
		DebtID:        debtID,
		TransactionID: txID,
		CreatedAt:     time.Now(),
	}
	if err := store.PutPaymentAttempt(ctx, accountID, attempt); err != nil {
		t.Fatalf("record attempt: %v", err)
	}
	return attempt
}

func TestReconcileAccountClean(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := NewPaymentService(store, nil)

	debtID := seedAccount(t, store, "acct-1", 5_000_000, carLoan(0))
	if _, err := svc.ApplyInstallmentPayment(ctx, "acct-1", debtID, ""); err != nil {
		t.Fatalf("ApplyInstallmentPayment: %v", err)
	}

	rec := NewReconciler(store, ReconcilerConfig{Repair: true})
	report, err := rec.ReconcileAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("ReconcileAccount: %v", err)
	}
	if len(report.HalfApplied) != 0 {
		t.Errorf("half-applied = %d, want 0", len(report.HalfApplied))
	}
	if !report.Consistent() {
		t.Error("clean account reported inconsistent")
	}
	if report.LedgerPaid.Units != 100_000 {
		t.Errorf("ledger paid = %d, want 100000", report.LedgerPaid.Units)
	}
	if report.CounterPaid.Units != 100_000 {
		t.Errorf("counter paid = %d, want 100000", report.CounterPaid.Units)
	}
}

func TestReconcileAccountRepairsHalfApplied(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	debtID := seedAccount(t, store, "acct-1", 5_000_000, carLoan(0))
	halfApply(t, store, "acct-1", debtID, 100_000)

	rec := NewReconciler(store, ReconcilerConfig{Repair: true})
	report, err := rec.ReconcileAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("ReconcileAccount: %v", err)
	}
	if len(report.HalfApplied) != 1 {
		t.Fatalf("half-applied = %d, want 1", len(report.HalfApplied))
	}
	if report.Repaired != 1 {
		t.Fatalf("repaired = %d, want 1", report.Repaired)
	}
	if !report.Consistent() {
		t.Error("repaired account reported inconsistent")
	}

	debt, err := store.GetDebt(ctx, "acct-1", debtID)
	if err != nil {
		t.Fatalf("GetDebt: %v", err)
	}
	if debt.PaidInstallments != 1 {
		t.Errorf("paid installments after repair = %d, want 1", debt.PaidInstallments)
	}

	attempts, err := store.ListPaymentAttempts(ctx, "acct-1")
	if err != nil {
		t.Fatalf("ListPaymentAttempts: %v", err)
	}
	if len(attempts) != 1 || !attempts[0].Complete() {
		t.Error("attempt not marked complete after repair")
	}

	// A second pass finds nothing left to fix.
	report, err = rec.ReconcileAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("second ReconcileAccount: %v", err)
	}
	if len(report.HalfApplied) != 0 {
		t.Errorf("half-applied after repair = %d, want 0", len(report.HalfApplied))
	}
	debt, _ = store.GetDebt(ctx, "acct-1", debtID)
	if debt.PaidInstallments != 1 {
		t.Errorf("second pass bumped the counter again: %d", debt.PaidInstallments)
	}
}

func TestReconcileAccountReportOnly(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	debtID := seedAccount(t, store, "acct-1", 5_000_000, carLoan(0))
	halfApply(t, store, "acct-1", debtID, 100_000)

	rec := NewReconciler(store, ReconcilerConfig{Repair: false})
	report, err := rec.ReconcileAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("ReconcileAccount: %v", err)
	}
	if len(report.HalfApplied) != 1 {
		t.Fatalf("half-applied = %d, want 1", len(report.HalfApplied))
	}
	if report.Repaired != 0 {
		t.Errorf("repaired = %d, want 0 in report-only mode", report.Repaired)
	}

	debt, err := store.GetDebt(ctx, "acct-1", debtID)
	if err != nil {
		t.Fatalf("GetDebt: %v", err)
	}
	if debt.PaidInstallments != 0 {
		t.Errorf("report-only mode wrote: paid installments = %d", debt.PaidInstallments)
	}
}

func TestReconcileAccountPreSeededCounters(t *testing.T) {
	// Debts created with installments already paid push the counter
	// sum ahead of the ledger; that is expected and not drift.
	ctx := context.Background()
	store := memory.New()

	seedAccount(t, store, "acct-1", 5_000_000, carLoan(3))

	rec := NewReconciler(store, ReconcilerConfig{Repair: true})
	report, err := rec.ReconcileAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("ReconcileAccount: %v", err)
	}
	if !report.Consistent() {
		t.Error("pre-seeded counters reported as drift")
	}
	if report.CounterPaid.Units != 300_000 {
		t.Errorf("counter paid = %d, want 300000", report.CounterPaid.Units)
	}
	if report.LedgerPaid.Units != 0 {
		t.Errorf("ledger paid = %d, want 0", report.LedgerPaid.Units)
	}
}

func TestReconcileAll(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	aID := seedAccount(t, store, "acct-a", 1_000_000, carLoan(0))
	seedAccount(t, store, "acct-b", 1_000_000, carLoan(0))
	halfApply(t, store, "acct-a", aID, 100_000)

	rec := NewReconciler(store, ReconcilerConfig{Repair: true})
	reports, err := rec.ReconcileAll(ctx)
	if err != nil {
		t.Fatalf("ReconcileAll: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("report count = %d, want 2", len(reports))
	}
	repaired := 0
	for _, r := range reports {
		repaired += r.Repaired
	}
	if repaired != 1 {
		t.Errorf("repaired across accounts = %d, want 1", repaired)
	}
}

func TestReconcilerStartStop(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	rec := NewReconciler(store, ReconcilerConfig{Interval: 10 * time.Millisecond, Repair: true})

	if err := rec.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := rec.Start(ctx); err == nil {
		t.Error("second Start should fail while running")
	}

	time.Sleep(30 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := rec.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// Restart after stop is allowed.
	if err := rec.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := rec.Stop(stopCtx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
