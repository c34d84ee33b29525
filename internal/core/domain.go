package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Income  TransactionType = "income"
	Expense TransactionType = "expense"

	// DebtPaymentCategory marks transactions generated by an
	// installment payment. The reconciler matches on it.
	DebtPaymentCategory = "Debt Payment"
)

type (
	TransactionType string

	Money struct {
		Units int64 // smallest currency unit (whole rupiah)
	}

	Transaction struct {
		ID       string
		Type     TransactionType
		Name     string
		Category string
		Notes    string
		Amount   Money
		Date     time.Time
	}

	Debt struct {
		ID                 string
		Name               string
		TotalAmount        Money
		MonthlyInstallment Money
		Tenor              int // total number of installments
		StartDate          time.Time
		DueDay             int // day of month, 1-31
		PaidInstallments   int
	}
)

var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidType   = errors.New("invalid transaction type")
	ErrEmptyName     = errors.New("empty name")
	ErrInvalidTenor  = errors.New("invalid tenor")
	ErrInvalidDueDay = errors.New("invalid due day")
	ErrZeroDate      = errors.New("date cannot be zero")
	ErrPaidOverTenor = errors.New("paid installments exceed tenor")
)

func (t TransactionType) Valid() bool {
	return t == Income || t == Expense
}

func (m Money) Validate() error {
	if m.Units <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (t Transaction) Validate() error {
	if !t.Type.Valid() {
		return ErrInvalidType
	}
	if len(strings.TrimSpace(t.Name)) == 0 {
		return ErrEmptyName
	}
	if len(t.Name) > 200 {
		return errors.New("name too long (max 200 characters)")
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if t.Date.IsZero() {
		return ErrZeroDate
	}
	return nil
}

func (d Debt) Validate() error {
	if len(strings.TrimSpace(d.Name)) == 0 {
		return ErrEmptyName
	}
	if len(d.Name) > 200 {
		return errors.New("name too long (max 200 characters)")
	}
	if d.TotalAmount.Units < 0 {
		return ErrInvalidAmount
	}
	if err := d.MonthlyInstallment.Validate(); err != nil {
		return err
	}
	if d.Tenor <= 0 {
		return ErrInvalidTenor
	}
	if d.StartDate.IsZero() {
		return ErrZeroDate
	}
	if d.DueDay < 1 || d.DueDay > 31 {
		return ErrInvalidDueDay
	}
	if d.PaidInstallments < 0 {
		return errors.New("negative paid installments")
	}
	if d.PaidInstallments > d.Tenor {
		return ErrPaidOverTenor
	}
	return nil
}

// PaidOff reports whether every installment has been paid.
func (d Debt) PaidOff() bool {
	return d.PaidInstallments >= d.Tenor
}

// Remaining returns the outstanding balance as the original ledger
// defines it: total minus paid installments times the monthly amount.
// When TotalAmount differs from Tenor*MonthlyInstallment (interest-
// bearing loans) this diverges from a true amortization schedule; the
// formula is kept intact for compatibility with existing ledgers.
func (d Debt) Remaining() Money {
	return Money{Units: d.TotalAmount.Units - int64(d.PaidInstallments)*d.MonthlyInstallment.Units}
}
