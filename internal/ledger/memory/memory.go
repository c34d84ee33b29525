package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"artoku/internal/core"
	"artoku/internal/ledger"
)

// Store is an in-memory ledger backend. It is the default backend for
// local development and the fake the service tests run against. All
// operations take one mutex, so ApplyPayment is trivially atomic.
type Store struct {
	mu       sync.Mutex
	seq      int
	accounts map[string]*account
}

type account struct {
	debts    []core.Debt
	txs      []core.Transaction
	attempts map[string]ledger.PaymentAttempt
}

var (
	_ ledger.Store          = (*Store)(nil)
	_ ledger.PaymentApplier = (*Store)(nil)
)

func New() *Store {
	return &Store{accounts: make(map[string]*account)}
}

func (s *Store) acct(accountID string) *account {
	a, ok := s.accounts[accountID]
	if !ok {
		a = &account{attempts: make(map[string]ledger.PaymentAttempt)}
		s.accounts[accountID] = a
	}
	return a
}

func (s *Store) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("mem:%s:%d", prefix, s.seq)
}

func (s *Store) ListAccounts(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.accounts))
	for id := range s.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) ListDebts(_ context.Context, accountID string) ([]core.Debt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.acct(accountID)
	out := append([]core.Debt(nil), a.debts...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetDebt(_ context.Context, accountID, id string) (core.Debt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.acct(accountID)
	for _, d := range a.debts {
		if d.ID == id {
			return d, nil
		}
	}
	return core.Debt{}, ledger.ErrNotFound
}

func (s *Store) CreateDebt(_ context.Context, accountID string, d core.Debt) (string, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID = s.nextID("debt")
	a := s.acct(accountID)
	a.debts = append(a.debts, d)
	return d.ID, nil
}

func (s *Store) UpdateDebt(_ context.Context, accountID string, d core.Debt) error {
	if err := d.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.acct(accountID)
	for i := range a.debts {
		if a.debts[i].ID == d.ID {
			a.debts[i] = d
			return nil
		}
	}
	return ledger.ErrNotFound
}

func (s *Store) DeleteDebt(_ context.Context, accountID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.acct(accountID)
	for i := range a.debts {
		if a.debts[i].ID == id {
			a.debts = append(a.debts[:i], a.debts[i+1:]...)
			return nil
		}
	}
	return ledger.ErrNotFound
}

func (s *Store) ListTransactions(_ context.Context, accountID string, f ledger.TransactionFilter) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.acct(accountID)
	out := make([]core.Transaction, 0, len(a.txs))
	for _, tx := range a.txs {
		if f.Type != "" && tx.Type != f.Type {
			continue
		}
		if !f.Day.IsZero() && !sameDay(tx.Date, f.Day) {
			continue
		}
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) CreateTransaction(_ context.Context, accountID string, t core.Transaction) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.nextID("tx")
	a := s.acct(accountID)
	a.txs = append(a.txs, t)
	return t.ID, nil
}

func (s *Store) UpdateTransaction(_ context.Context, accountID string, t core.Transaction) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.acct(accountID)
	for i := range a.txs {
		if a.txs[i].ID == t.ID {
			a.txs[i] = t
			return nil
		}
	}
	return ledger.ErrNotFound
}

func (s *Store) DeleteTransaction(_ context.Context, accountID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.acct(accountID)
	for i := range a.txs {
		if a.txs[i].ID == id {
			a.txs = append(a.txs[:i], a.txs[i+1:]...)
			return nil
		}
	}
	return ledger.ErrNotFound
}

func (s *Store) GetPaymentAttempt(_ context.Context, accountID, attemptID string) (ledger.PaymentAttempt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.acct(accountID).attempts[attemptID]
	return a, ok, nil
}

func (s *Store) PutPaymentAttempt(_ context.Context, accountID string, a ledger.PaymentAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acct(accountID).attempts[a.ID] = a
	return nil
}

func (s *Store) ListPaymentAttempts(_ context.Context, accountID string) ([]ledger.PaymentAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.acct(accountID)
	out := make([]ledger.PaymentAttempt, 0, len(acct.attempts))
	for _, a := range acct.attempts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ApplyPayment appends the payment transaction, increments the debt's
// paid counter, and records the attempt under one lock. Against this
// store a payment can never be half-applied.
func (s *Store) ApplyPayment(_ context.Context, accountID string, attempt ledger.PaymentAttempt, tx core.Transaction) (core.Debt, error) {
	if err := tx.Validate(); err != nil {
		return core.Debt{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.acct(accountID)

	var debt *core.Debt
	for i := range a.debts {
		if a.debts[i].ID == attempt.DebtID {
			debt = &a.debts[i]
			break
		}
	}
	if debt == nil {
		return core.Debt{}, ledger.ErrNotFound
	}
	if debt.PaidOff() {
		return core.Debt{}, ledger.ErrDebtPaidOff
	}

	tx.ID = s.nextID("tx")
	a.txs = append(a.txs, tx)
	debt.PaidInstallments++

	attempt.TransactionID = tx.ID
	attempt.DebtUpdated = true
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now()
	}
	a.attempts[attempt.ID] = attempt

	return *debt, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
