package core

import "time"

// MonthlyDue summarizes the installments that fall due in one
// reference month across a set of debts.
type MonthlyDue struct {
	TotalDue  Money // scheduled this month across all active debts
	TotalPaid Money // portion of TotalDue already covered
}

// Remaining returns the unpaid part of the month, clamped at zero.
// A negative raw value means the debtor is ahead of the simplistic
// schedule; that is reported as nothing due, never as negative due.
func (m MonthlyDue) Remaining() Money {
	r := m.TotalDue.Units - m.TotalPaid.Units
	if r < 0 {
		r = 0
	}
	return Money{Units: r}
}

// ProgressPct returns how much of the month's due amount is paid,
// in percent. Zero when nothing is due.
func (m MonthlyDue) ProgressPct() float64 {
	if m.TotalDue.Units == 0 {
		return 0
	}
	return float64(m.TotalPaid.Units) / float64(m.TotalDue.Units) * 100
}

// AggregateTotals summarizes a set of debts independent of any month.
type AggregateTotals struct {
	TotalDebt      Money
	TotalPaid      Money
	TotalRemaining Money
	ProgressPct    float64
}

// ScheduleEntry is one row of a debt's installment schedule.
type ScheduleEntry struct {
	Number        int // 1-based installment number
	ScheduledDate time.Time
	Paid          bool
}

// ComputeMonthlyDue walks every active debt's installment schedule and
// totals the installments scheduled in the reference month. For each
// debt at most one installment can match (the schedule is monthly), so
// the walk stops at the first hit. Paid-off debts contribute nothing.
//
// Pure function of its inputs; identical inputs yield identical output.
func ComputeMonthlyDue(debts []Debt, ref time.Time) MonthlyDue {
	var due MonthlyDue
	refYear, refMonth, _ := ref.Date()

	for _, d := range debts {
		if d.PaidOff() {
			continue
		}
		for i := 0; i < d.Tenor; i++ {
			scheduled := AddMonthsClamped(d.StartDate, i)
			y, m, _ := scheduled.Date()
			if y != refYear || m != refMonth {
				continue
			}
			due.TotalDue.Units += d.MonthlyInstallment.Units
			if d.PaidInstallments >= i+1 {
				due.TotalPaid.Units += d.MonthlyInstallment.Units
			}
			break
		}
	}
	return due
}

// ComputeAggregateTotals sums totals and progress across all debts.
// An empty ledger yields all zeros; the percentage never divides by
// zero.
func ComputeAggregateTotals(debts []Debt) AggregateTotals {
	var t AggregateTotals
	for _, d := range debts {
		t.TotalDebt.Units += d.TotalAmount.Units
		t.TotalPaid.Units += int64(d.PaidInstallments) * d.MonthlyInstallment.Units
	}
	t.TotalRemaining.Units = t.TotalDebt.Units - t.TotalPaid.Units
	if t.TotalDebt.Units > 0 {
		t.ProgressPct = float64(t.TotalPaid.Units) / float64(t.TotalDebt.Units) * 100
	}
	return t
}

// InstallmentSchedule expands a debt into its full ordered schedule:
// Tenor entries, the first PaidInstallments of them marked paid.
func InstallmentSchedule(d Debt) []ScheduleEntry {
	entries := make([]ScheduleEntry, 0, d.Tenor)
	for i := 0; i < d.Tenor; i++ {
		n := i + 1
		entries = append(entries, ScheduleEntry{
			Number:        n,
			ScheduledDate: AddMonthsClamped(d.StartDate, i),
			Paid:          n <= d.PaidInstallments,
		})
	}
	return entries
}

// AddMonthsClamped adds whole calendar months keeping the day of
// month, clamping to the last day when the target month is shorter
// (Jan 31 + 1 month = Feb 28, or Feb 29 in leap years). time.AddDate
// would roll over into March instead, which makes schedule dates
// depend on the start day in a surprising way.
func AddMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	total := y*12 + int(m) - 1 + months
	ny, nm := total/12, time.Month(total%12+1)
	if last := daysIn(ny, nm); d > last {
		d = last
	}
	h, min, sec := t.Clock()
	return time.Date(ny, nm, d, h, min, sec, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Balance is the derived account balance: total income minus total
// expense. Never persisted, always recomputed from the snapshot.
func Balance(txs []Transaction) Money {
	var units int64
	for _, tx := range txs {
		switch tx.Type {
		case Income:
			units += tx.Amount.Units
		case Expense:
			units -= tx.Amount.Units
		}
	}
	return Money{Units: units}
}

// MonthSummary aggregates one calendar month of transactions.
type MonthSummary struct {
	Year    int
	Month   int // 1-12
	Income  Money
	Expense Money
}

// SummarizeMonth totals income and expense for the given year+month.
func SummarizeMonth(txs []Transaction, year, month int) MonthSummary {
	s := MonthSummary{Year: year, Month: month}
	for _, tx := range txs {
		y, m, _ := tx.Date.Date()
		if y != year || int(m) != month {
			continue
		}
		switch tx.Type {
		case Income:
			s.Income.Units += tx.Amount.Units
		case Expense:
			s.Expense.Units += tx.Amount.Units
		}
	}
	return s
}
