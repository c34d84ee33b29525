package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"artoku/internal/core"
	"artoku/internal/ledger"
)

// ReconcilerConfig holds configuration for the reconciliation loop.
type ReconcilerConfig struct {
	// Interval is how often every account is checked (default: 5m).
	Interval time.Duration

	// Repair enables fixing half-applied payments instead of only
	// reporting them.
	Repair bool
}

// DefaultReconcilerConfig returns sensible defaults.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Interval: 5 * time.Minute,
		Repair:   true,
	}
}

// AccountReport is the outcome of reconciling one account.
//
// LedgerPaid and CounterPaid usually differ by the installments a debt
// was created with already marked paid (the original data entry allows
// that), so the totals are reported for inspection rather than
// asserted equal. Consistency is judged on the attempt log: every
// recorded attempt must have both halves applied.
type AccountReport struct {
	AccountID   string
	LedgerPaid  core.Money // Σ "Debt Payment" expense transactions
	CounterPaid core.Money // Σ paid_installments × monthly_installment
	HalfApplied []ledger.PaymentAttempt
	Repaired    int
}

// Consistent reports whether no half-applied payments remain.
func (r AccountReport) Consistent() bool {
	return len(r.HalfApplied) == r.Repaired
}

// Reconciler detects and repairs drift between the transaction ledger
// and the debt payment counters. A half-applied payment (transaction
// written, counter not bumped) is found through the attempt log and,
// in repair mode, finished by re-issuing the counter update.
type Reconciler struct {
	store  ledger.Store
	config ReconcilerConfig

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewReconciler(store ledger.Store, config ReconcilerConfig) *Reconciler {
	if config.Interval <= 0 {
		config.Interval = DefaultReconcilerConfig().Interval
	}
	return &Reconciler{store: store, config: config}
}

// ReconcileAccount checks one account and optionally repairs it.
func (r *Reconciler) ReconcileAccount(ctx context.Context, accountID string) (AccountReport, error) {
	report := AccountReport{AccountID: accountID}

	txs, err := r.store.ListTransactions(ctx, accountID, ledger.TransactionFilter{Type: core.Expense})
	if err != nil {
		return report, fmt.Errorf("list transactions: %w", err)
	}
	for _, tx := range txs {
		if tx.Category == core.DebtPaymentCategory {
			report.LedgerPaid.Units += tx.Amount.Units
		}
	}

	debts, err := r.store.ListDebts(ctx, accountID)
	if err != nil {
		return report, fmt.Errorf("list debts: %w", err)
	}
	for _, d := range debts {
		report.CounterPaid.Units += int64(d.PaidInstallments) * d.MonthlyInstallment.Units
	}

	attempts, err := r.store.ListPaymentAttempts(ctx, accountID)
	if err != nil {
		return report, fmt.Errorf("list payment attempts: %w", err)
	}
	for _, a := range attempts {
		if a.TransactionID == "" || a.DebtUpdated {
			continue
		}
		report.HalfApplied = append(report.HalfApplied, a)
		if !r.config.Repair {
			continue
		}
		if err := r.repair(ctx, accountID, a); err != nil {
			slog.ErrorContext(ctx, "Failed to repair half-applied payment",
				"account", accountID, "attempt", a.ID, "error", err)
			continue
		}
		report.Repaired++
		report.CounterPaid.Units += debtInstallment(debts, a.DebtID)
	}

	if len(report.HalfApplied) > 0 {
		slog.WarnContext(ctx, "Ledger drift detected",
			"account", accountID,
			"half_applied", len(report.HalfApplied),
			"repaired", report.Repaired,
			"ledger_paid", report.LedgerPaid.Units,
			"counter_paid", report.CounterPaid.Units)
	}

	return report, nil
}

// repair finishes a half-applied payment: the ledger row exists, so
// the debt counter gets its missing increment.
func (r *Reconciler) repair(ctx context.Context, accountID string, a ledger.PaymentAttempt) error {
	debt, err := r.store.GetDebt(ctx, accountID, a.DebtID)
	if err != nil {
		return fmt.Errorf("get debt: %w", err)
	}
	if debt.PaidOff() {
		return fmt.Errorf("debt %s already paid off, manual review required", a.DebtID)
	}
	debt.PaidInstallments++
	if err := r.store.UpdateDebt(ctx, accountID, debt); err != nil {
		return fmt.Errorf("update debt: %w", err)
	}
	a.DebtUpdated = true
	if err := r.store.PutPaymentAttempt(ctx, accountID, a); err != nil {
		return fmt.Errorf("mark attempt complete: %w", err)
	}
	slog.InfoContext(ctx, "Repaired half-applied payment",
		"account", accountID, "attempt", a.ID, "debt", a.DebtID)
	return nil
}

// ReconcileAll walks every account in the store.
func (r *Reconciler) ReconcileAll(ctx context.Context) ([]AccountReport, error) {
	accounts, err := r.store.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	reports := make([]AccountReport, 0, len(accounts))
	for _, id := range accounts {
		report, err := r.ReconcileAccount(ctx, id)
		if err != nil {
			slog.ErrorContext(ctx, "Reconciliation failed for account",
				"account", id, "error", err)
			continue
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// Start begins the periodic loop. Returns an error if already running.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("reconciler is already running")
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.mu.Unlock()

	go r.runLoop(ctx)

	slog.InfoContext(ctx, "Reconciler started",
		"interval", r.config.Interval,
		"repair", r.config.Repair)
	return nil
}

// Stop gracefully stops the loop and waits for completion.
func (r *Reconciler) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	close(r.stopCh)

	select {
	case <-r.doneCh:
		slog.InfoContext(ctx, "Reconciler stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Reconciler stop timed out")
		return ctx.Err()
	}

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
	return nil
}

func (r *Reconciler) runLoop(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	// One pass immediately on start; later passes on the ticker.
	if _, err := r.ReconcileAll(ctx); err != nil {
		slog.ErrorContext(ctx, "Startup reconciliation failed", "error", err)
	}

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.ReconcileAll(ctx); err != nil {
				slog.ErrorContext(ctx, "Reconciliation pass failed", "error", err)
			}
		}
	}
}

func debtInstallment(debts []core.Debt, id string) int64 {
	for _, d := range debts {
		if d.ID == id {
			return d.MonthlyInstallment.Units
		}
	}
	return 0
}
