package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"artoku/internal/core"
	"artoku/internal/ledger"
)

func testDebt() core.Debt {
	return core.Debt{
		Name:               "House loan",
		TotalAmount:        core.Money{Units: 1_200_000},
		MonthlyInstallment: core.Money{Units: 100_000},
		Tenor:              12,
		StartDate:          time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		DueDay:             15,
		PaidInstallments:   3,
	}
}

func TestDebtCRUD(t *testing.T) {
	ctx := context.Background()
	s := New()

	id, err := s.CreateDebt(ctx, "u1", testDebt())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := s.GetDebt(ctx, "u1", id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "House loan" {
		t.Fatalf("got %+v", got)
	}

	got.PaidInstallments = 5
	if err := s.UpdateDebt(ctx, "u1", got); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = s.GetDebt(ctx, "u1", id)
	if got.PaidInstallments != 5 {
		t.Fatalf("update not applied: %+v", got)
	}

	// Other accounts never see it.
	if _, err := s.GetDebt(ctx, "u2", id); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("cross-account get: %v", err)
	}

	if err := s.DeleteDebt(ctx, "u1", id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetDebt(ctx, "u1", id); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("get after delete: %v", err)
	}
}

func TestListDebtsSortedByName(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, name := range []string{"Zeta", "Alpha", "Motor"} {
		d := testDebt()
		d.Name = name
		if _, err := s.CreateDebt(ctx, "u1", d); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	debts, err := s.ListDebts(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(debts) != 3 || debts[0].Name != "Alpha" || debts[1].Name != "Motor" || debts[2].Name != "Zeta" {
		t.Fatalf("unexpected order: %+v", debts)
	}
}

func TestListTransactionsFilterAndOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2024, 4, 10, 8, 0, 0, 0, time.UTC)
	for i, typ := range []core.TransactionType{core.Income, core.Expense, core.Expense} {
		tx := core.Transaction{
			Type:   typ,
			Name:   "tx",
			Amount: core.Money{Units: int64(1000 * (i + 1))},
			Date:   base.Add(time.Duration(i) * time.Hour),
		}
		if _, err := s.CreateTransaction(ctx, "u1", tx); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	all, err := s.ListTransactions(ctx, "u1", ledger.TransactionFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || !all[0].Date.After(all[1].Date) || !all[1].Date.After(all[2].Date) {
		t.Fatalf("not date-descending: %+v", all)
	}

	expenses, _ := s.ListTransactions(ctx, "u1", ledger.TransactionFilter{Type: core.Expense})
	if len(expenses) != 2 {
		t.Fatalf("type filter: got %d", len(expenses))
	}

	limited, _ := s.ListTransactions(ctx, "u1", ledger.TransactionFilter{Limit: 1})
	if len(limited) != 1 || limited[0].Amount.Units != 3000 {
		t.Fatalf("limit filter: %+v", limited)
	}

	byDay, _ := s.ListTransactions(ctx, "u1", ledger.TransactionFilter{Day: base})
	if len(byDay) != 3 {
		t.Fatalf("day filter: got %d", len(byDay))
	}
	byOtherDay, _ := s.ListTransactions(ctx, "u1", ledger.TransactionFilter{Day: base.AddDate(0, 0, 1)})
	if len(byOtherDay) != 0 {
		t.Fatalf("other day filter: got %d", len(byOtherDay))
	}
}

func TestCreateValidates(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.CreateTransaction(ctx, "u1", core.Transaction{Type: "bogus"}); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := s.CreateDebt(ctx, "u1", core.Debt{}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestApplyPaymentAtomic(t *testing.T) {
	ctx := context.Background()
	s := New()
	id, err := s.CreateDebt(ctx, "u1", testDebt())
	if err != nil {
		t.Fatalf("create debt: %v", err)
	}

	attempt := ledger.PaymentAttempt{ID: "attempt-1", DebtID: id, CreatedAt: time.Now()}
	payTx := core.Transaction{
		Type:     core.Expense,
		Name:     "Debt payment: House loan",
		Category: core.DebtPaymentCategory,
		Notes:    "Installment #4",
		Amount:   core.Money{Units: 100_000},
		Date:     time.Now(),
	}

	debt, err := s.ApplyPayment(ctx, "u1", attempt, payTx)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if debt.PaidInstallments != 4 {
		t.Fatalf("paid installments = %d, want 4", debt.PaidInstallments)
	}

	txs, _ := s.ListTransactions(ctx, "u1", ledger.TransactionFilter{Type: core.Expense})
	if len(txs) != 1 || txs[0].Category != core.DebtPaymentCategory {
		t.Fatalf("payment transaction missing: %+v", txs)
	}

	got, ok, _ := s.GetPaymentAttempt(ctx, "u1", "attempt-1")
	if !ok || !got.Complete() {
		t.Fatalf("attempt not recorded complete: %+v ok=%v", got, ok)
	}
}

func TestApplyPaymentRejectsPaidOff(t *testing.T) {
	ctx := context.Background()
	s := New()
	d := testDebt()
	d.PaidInstallments = d.Tenor
	id, _ := s.CreateDebt(ctx, "u1", d)

	_, err := s.ApplyPayment(ctx, "u1", ledger.PaymentAttempt{ID: "a", DebtID: id}, core.Transaction{
		Type: core.Expense, Name: "x", Amount: core.Money{Units: 1}, Date: time.Now(),
	})
	if !errors.Is(err, ledger.ErrDebtPaidOff) {
		t.Fatalf("got %v, want ErrDebtPaidOff", err)
	}
}
