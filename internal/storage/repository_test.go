package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"artoku/internal/core"
	"artoku/internal/ledger"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testDebt() core.Debt {
	return core.Debt{
		Name:               "Motorbike loan",
		TotalAmount:        core.Money{Units: 1_200_000},
		MonthlyInstallment: core.Money{Units: 100_000},
		Tenor:              12,
		StartDate:          time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC),
		DueDay:             15,
	}
}

func TestDebtRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	id, err := repo.CreateDebt(ctx, "acct-1", testDebt())
	if err != nil {
		t.Fatalf("CreateDebt: %v", err)
	}

	got, err := repo.GetDebt(ctx, "acct-1", id)
	if err != nil {
		t.Fatalf("GetDebt: %v", err)
	}
	if got.Name != "Motorbike loan" || got.Tenor != 12 || got.TotalAmount.Units != 1_200_000 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if !got.StartDate.Equal(time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("start date = %v", got.StartDate)
	}

	got.PaidInstallments = 3
	if err := repo.UpdateDebt(ctx, "acct-1", got); err != nil {
		t.Fatalf("UpdateDebt: %v", err)
	}
	got, err = repo.GetDebt(ctx, "acct-1", id)
	if err != nil {
		t.Fatalf("GetDebt after update: %v", err)
	}
	if got.PaidInstallments != 3 {
		t.Errorf("paid installments = %d, want 3", got.PaidInstallments)
	}

	if err := repo.DeleteDebt(ctx, "acct-1", id); err != nil {
		t.Fatalf("DeleteDebt: %v", err)
	}
	if _, err := repo.GetDebt(ctx, "acct-1", id); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("after delete: got %v, want ErrNotFound", err)
	}
}

func TestDebtAccountIsolation(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	id, err := repo.CreateDebt(ctx, "acct-1", testDebt())
	if err != nil {
		t.Fatalf("CreateDebt: %v", err)
	}
	if _, err := repo.GetDebt(ctx, "acct-2", id); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("cross-account read: got %v, want ErrNotFound", err)
	}
	if err := repo.DeleteDebt(ctx, "acct-2", id); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("cross-account delete: got %v, want ErrNotFound", err)
	}
}

func TestListDebtsSortedByName(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	for _, name := range []string{"Zeta loan", "Alpha loan", "Mid loan"} {
		d := testDebt()
		d.Name = name
		if _, err := repo.CreateDebt(ctx, "acct-1", d); err != nil {
			t.Fatalf("CreateDebt %s: %v", name, err)
		}
	}

	debts, err := repo.ListDebts(ctx, "acct-1")
	if err != nil {
		t.Fatalf("ListDebts: %v", err)
	}
	want := []string{"Alpha loan", "Mid loan", "Zeta loan"}
	if len(debts) != len(want) {
		t.Fatalf("debt count = %d, want %d", len(debts), len(want))
	}
	for i, d := range debts {
		if d.Name != want[i] {
			t.Errorf("debts[%d] = %q, want %q", i, d.Name, want[i])
		}
	}
}

func TestTransactionFilters(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	base := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	seed := []core.Transaction{
		{Type: core.Income, Name: "Salary", Amount: core.Money{Units: 8_000_000}, Date: base},
		{Type: core.Expense, Name: "Groceries", Category: "Food", Amount: core.Money{Units: 250_000}, Date: base.AddDate(0, 0, 1)},
		{Type: core.Expense, Name: "Fuel", Category: "Transport", Amount: core.Money{Units: 75_000}, Date: base.AddDate(0, 0, 2)},
	}
	for _, tx := range seed {
		if _, err := repo.CreateTransaction(ctx, "acct-1", tx); err != nil {
			t.Fatalf("CreateTransaction %s: %v", tx.Name, err)
		}
	}

	all, err := repo.ListTransactions(ctx, "acct-1", ledger.TransactionFilter{})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("count = %d, want 3", len(all))
	}
	// Date descending.
	if all[0].Name != "Fuel" || all[2].Name != "Salary" {
		t.Errorf("order = %s..%s, want Fuel..Salary", all[0].Name, all[2].Name)
	}

	expenses, err := repo.ListTransactions(ctx, "acct-1", ledger.TransactionFilter{Type: core.Expense})
	if err != nil {
		t.Fatalf("filter by type: %v", err)
	}
	if len(expenses) != 2 {
		t.Errorf("expense count = %d, want 2", len(expenses))
	}

	day, err := repo.ListTransactions(ctx, "acct-1", ledger.TransactionFilter{Day: base.AddDate(0, 0, 1)})
	if err != nil {
		t.Fatalf("filter by day: %v", err)
	}
	if len(day) != 1 || day[0].Name != "Groceries" {
		t.Errorf("day filter = %v", day)
	}

	limited, err := repo.ListTransactions(ctx, "acct-1", ledger.TransactionFilter{Limit: 2})
	if err != nil {
		t.Fatalf("limit: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limited count = %d, want 2", len(limited))
	}
}

func TestTransactionValidationRejected(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	_, err := repo.CreateTransaction(ctx, "acct-1", core.Transaction{
		Type: core.Income, Name: "", Amount: core.Money{Units: 100}, Date: time.Now(),
	})
	if !errors.Is(err, core.ErrEmptyName) {
		t.Errorf("got %v, want ErrEmptyName", err)
	}
	_, err = repo.CreateTransaction(ctx, "acct-1", core.Transaction{
		Type: "transfer", Name: "X", Amount: core.Money{Units: 100}, Date: time.Now(),
	})
	if !errors.Is(err, core.ErrInvalidType) {
		t.Errorf("got %v, want ErrInvalidType", err)
	}
}

func TestApplyPaymentAtomic(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	debtID, err := repo.CreateDebt(ctx, "acct-1", testDebt())
	if err != nil {
		t.Fatalf("CreateDebt: %v", err)
	}

	attempt := ledger.PaymentAttempt{ID: "attempt-1", DebtID: debtID, CreatedAt: time.Now()}
	payTx := core.Transaction{
		Type:     core.Expense,
		Name:     "Debt payment: Motorbike loan",
		Category: core.DebtPaymentCategory,
		Notes:    "Installment #1",
		Amount:   core.Money{Units: 100_000},
		Date:     time.Now(),
	}

	debt, err := repo.ApplyPayment(ctx, "acct-1", attempt, payTx)
	if err != nil {
		t.Fatalf("ApplyPayment: %v", err)
	}
	if debt.PaidInstallments != 1 {
		t.Errorf("paid installments = %d, want 1", debt.PaidInstallments)
	}

	txs, err := repo.ListTransactions(ctx, "acct-1", ledger.TransactionFilter{Type: core.Expense})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txs) != 1 || txs[0].Category != core.DebtPaymentCategory {
		t.Fatalf("payment transaction missing: %v", txs)
	}

	got, found, err := repo.GetPaymentAttempt(ctx, "acct-1", "attempt-1")
	if err != nil || !found {
		t.Fatalf("GetPaymentAttempt: found=%v err=%v", found, err)
	}
	if !got.Complete() {
		t.Errorf("attempt not complete: %+v", got)
	}
	if got.TransactionID != txs[0].ID {
		t.Errorf("attempt transaction = %q, want %q", got.TransactionID, txs[0].ID)
	}
}

func TestApplyPaymentPaidOffRejected(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	d := testDebt()
	d.PaidInstallments = 12
	debtID, err := repo.CreateDebt(ctx, "acct-1", d)
	if err != nil {
		t.Fatalf("CreateDebt: %v", err)
	}

	_, err = repo.ApplyPayment(ctx, "acct-1",
		ledger.PaymentAttempt{ID: "attempt-1", DebtID: debtID, CreatedAt: time.Now()},
		core.Transaction{
			Type: core.Expense, Name: "Debt payment: Motorbike loan",
			Category: core.DebtPaymentCategory, Amount: core.Money{Units: 100_000}, Date: time.Now(),
		})
	if !errors.Is(err, ledger.ErrDebtPaidOff) {
		t.Fatalf("got %v, want ErrDebtPaidOff", err)
	}

	// An unknown debt is still a not-found, not a paid-off.
	_, err = repo.ApplyPayment(ctx, "acct-1",
		ledger.PaymentAttempt{ID: "attempt-2", DebtID: "missing", CreatedAt: time.Now()},
		core.Transaction{
			Type: core.Expense, Name: "Debt payment: Motorbike loan",
			Category: core.DebtPaymentCategory, Amount: core.Money{Units: 100_000}, Date: time.Now(),
		})
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}

	// Nothing written.
	txs, _ := repo.ListTransactions(ctx, "acct-1", ledger.TransactionFilter{})
	if len(txs) != 0 {
		t.Errorf("transaction count = %d, want 0", len(txs))
	}
	if _, found, _ := repo.GetPaymentAttempt(ctx, "acct-1", "attempt-1"); found {
		t.Error("attempt recorded despite rejection")
	}
}

func TestExportLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	id, err := repo.CreateTransaction(ctx, "acct-1", core.Transaction{
		Type: core.Income, Name: "Salary", Amount: core.Money{Units: 1_000}, Date: time.Now(),
	})
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}

	rows, err := repo.ListUnexportedTransactions(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnexportedTransactions: %v", err)
	}
	if len(rows) != 1 || rows[0].AccountID != "acct-1" || rows[0].Transaction.ID != id {
		t.Fatalf("unexported rows = %+v", rows)
	}

	if err := repo.MarkExported(ctx, "acct-1", id); err != nil {
		t.Fatalf("MarkExported: %v", err)
	}
	rows, err = repo.ListUnexportedTransactions(ctx, 10)
	if err != nil {
		t.Fatalf("second ListUnexportedTransactions: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("unexported after mark = %d, want 0", len(rows))
	}

	// Updating a row queues it for re-export.
	tx, err := repo.GetTransaction(ctx, "acct-1", id)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	tx.Name = "Salary (corrected)"
	if err := repo.UpdateTransaction(ctx, "acct-1", tx); err != nil {
		t.Fatalf("UpdateTransaction: %v", err)
	}
	rows, err = repo.ListUnexportedTransactions(ctx, 10)
	if err != nil {
		t.Fatalf("third ListUnexportedTransactions: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("updated row not re-queued: %d rows", len(rows))
	}
}

func TestListAccounts(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	if _, err := repo.CreateDebt(ctx, "acct-b", testDebt()); err != nil {
		t.Fatalf("CreateDebt: %v", err)
	}
	if _, err := repo.CreateTransaction(ctx, "acct-a", core.Transaction{
		Type: core.Income, Name: "Salary", Amount: core.Money{Units: 1_000}, Date: time.Now(),
	}); err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}

	accounts, err := repo.ListAccounts(ctx)
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if len(accounts) != 2 || accounts[0] != "acct-a" || accounts[1] != "acct-b" {
		t.Errorf("accounts = %v", accounts)
	}
}
