package http

import (
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"artoku/internal/amqp"
	"artoku/internal/core"
	"artoku/internal/ledger"
)

// Wire shapes. Amounts travel as whole units plus a display string so
// clients do not need their own id-ID formatter.

type moneyDTO struct {
	Units   int64  `json:"units"`
	Display string `json:"display"`
}

func toMoneyDTO(m core.Money) moneyDTO {
	return moneyDTO{Units: m.Units, Display: m.FormatIDR()}
}

type transactionDTO struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Name     string    `json:"name"`
	Category string    `json:"category,omitempty"`
	Notes    string    `json:"notes,omitempty"`
	Amount   moneyDTO  `json:"amount"`
	Date     time.Time `json:"date"`
}

func toTransactionDTO(t core.Transaction) transactionDTO {
	return transactionDTO{
		ID:       t.ID,
		Type:     string(t.Type),
		Name:     t.Name,
		Category: t.Category,
		Notes:    t.Notes,
		Amount:   toMoneyDTO(t.Amount),
		Date:     t.Date,
	}
}

type debtDTO struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	TotalAmount        moneyDTO  `json:"total_amount"`
	MonthlyInstallment moneyDTO  `json:"monthly_installment"`
	Tenor              int       `json:"tenor"`
	StartDate          time.Time `json:"start_date"`
	DueDay             int       `json:"due_day"`
	PaidInstallments   int       `json:"paid_installments"`
	Remaining          moneyDTO  `json:"remaining"`
	PaidOff            bool      `json:"paid_off"`
}

func toDebtDTO(d core.Debt) debtDTO {
	remaining := d.Remaining()
	if remaining.Units < 0 {
		remaining.Units = 0
	}
	return debtDTO{
		ID:                 d.ID,
		Name:               d.Name,
		TotalAmount:        toMoneyDTO(d.TotalAmount),
		MonthlyInstallment: toMoneyDTO(d.MonthlyInstallment),
		Tenor:              d.Tenor,
		StartDate:          d.StartDate,
		DueDay:             d.DueDay,
		PaidInstallments:   d.PaidInstallments,
		Remaining:          toMoneyDTO(remaining),
		PaidOff:            d.PaidOff(),
	}
}

// transactionRequest is the write shape; the amount arrives as a
// string so clients can pass id-ID grouped input ("1.200.000") as-is.
type transactionRequest struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Notes    string `json:"notes"`
	Amount   string `json:"amount"`
	Date     string `json:"date"`
}

func (req transactionRequest) toCore() (core.Transaction, error) {
	amount, err := core.ParseAmount(req.Amount)
	if err != nil {
		return core.Transaction{}, err
	}
	date := time.Now()
	if strings.TrimSpace(req.Date) != "" {
		date, err = time.Parse(time.RFC3339, req.Date)
		if err != nil {
			// Date-only input is the common case from forms.
			date, err = time.Parse("2006-01-02", req.Date)
			if err != nil {
				return core.Transaction{}, core.ErrZeroDate
			}
		}
	}
	t := core.Transaction{
		Type:     core.TransactionType(strings.ToLower(strings.TrimSpace(req.Type))),
		Name:     strings.TrimSpace(req.Name),
		Category: strings.TrimSpace(req.Category),
		Notes:    strings.TrimSpace(req.Notes),
		Amount:   amount,
		Date:     date,
	}
	return t, t.Validate()
}

type debtRequest struct {
	Name               string `json:"name"`
	TotalAmount        string `json:"total_amount"`
	MonthlyInstallment string `json:"monthly_installment"`
	Tenor              int    `json:"tenor"`
	StartDate          string `json:"start_date"`
	DueDay             int    `json:"due_day"`
	PaidInstallments   int    `json:"paid_installments"`
}

func (req debtRequest) toCore() (core.Debt, error) {
	total, err := core.ParseAmount(req.TotalAmount)
	if err != nil {
		return core.Debt{}, err
	}
	installment, err := core.ParseAmount(req.MonthlyInstallment)
	if err != nil {
		return core.Debt{}, err
	}
	start, err := time.Parse("2006-01-02", strings.TrimSpace(req.StartDate))
	if err != nil {
		start, err = time.Parse(time.RFC3339, strings.TrimSpace(req.StartDate))
		if err != nil {
			return core.Debt{}, core.ErrZeroDate
		}
	}
	d := core.Debt{
		Name:               strings.TrimSpace(req.Name),
		TotalAmount:        total,
		MonthlyInstallment: installment,
		Tenor:              req.Tenor,
		StartDate:          start,
		DueDay:             req.DueDay,
		PaidInstallments:   req.PaidInstallments,
	}
	return d, d.Validate()
}

// --- summary ---

type summaryResponse struct {
	Balance     moneyDTO         `json:"balance"`
	MonthlyDue  monthlyDueDTO    `json:"monthly_due"`
	DebtTotals  debtTotalsDTO    `json:"debt_totals"`
	ThisMonth   monthSummaryDTO  `json:"this_month"`
	Recent      []transactionDTO `json:"recent_transactions"`
	Debts       []debtDTO        `json:"debts"`
	GeneratedAt time.Time        `json:"generated_at"`
}

type monthlyDueDTO struct {
	TotalDue    moneyDTO `json:"total_due"`
	TotalPaid   moneyDTO `json:"total_paid"`
	Remaining   moneyDTO `json:"remaining"`
	ProgressPct float64  `json:"progress_pct"`
}

type debtTotalsDTO struct {
	TotalDebt      moneyDTO `json:"total_debt"`
	TotalPaid      moneyDTO `json:"total_paid"`
	TotalRemaining moneyDTO `json:"total_remaining"`
	ProgressPct    float64  `json:"progress_pct"`
}

type monthSummaryDTO struct {
	Year    int      `json:"year"`
	Month   int      `json:"month"`
	Income  moneyDTO `json:"income"`
	Expense moneyDTO `json:"expense"`
}

const recentTransactionLimit = 4

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("account")

	if cached, ok := s.summaryCache.Get(accountID); ok {
		atomic.AddInt64(&s.appMetrics.cacheHits, 1)
		respondJSON(w, http.StatusOK, cached)
		return
	}
	atomic.AddInt64(&s.appMetrics.cacheMisses, 1)

	ctx := r.Context()
	txs, err := s.store.ListTransactions(ctx, accountID, ledger.TransactionFilter{})
	if err != nil {
		respondError(w, r, err)
		return
	}
	debts, err := s.store.ListDebts(ctx, accountID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	now := time.Now()
	due := core.ComputeMonthlyDue(debts, now)
	totals := core.ComputeAggregateTotals(debts)
	month := core.SummarizeMonth(txs, now.Year(), int(now.Month()))

	resp := summaryResponse{
		Balance: toMoneyDTO(core.Balance(txs)),
		MonthlyDue: monthlyDueDTO{
			TotalDue:    toMoneyDTO(due.TotalDue),
			TotalPaid:   toMoneyDTO(due.TotalPaid),
			Remaining:   toMoneyDTO(due.Remaining()),
			ProgressPct: due.ProgressPct(),
		},
		DebtTotals: debtTotalsDTO{
			TotalDebt:      toMoneyDTO(totals.TotalDebt),
			TotalPaid:      toMoneyDTO(totals.TotalPaid),
			TotalRemaining: toMoneyDTO(totals.TotalRemaining),
			ProgressPct:    totals.ProgressPct,
		},
		ThisMonth: monthSummaryDTO{
			Year:    month.Year,
			Month:   month.Month,
			Income:  toMoneyDTO(month.Income),
			Expense: toMoneyDTO(month.Expense),
		},
		Recent:      make([]transactionDTO, 0, recentTransactionLimit),
		Debts:       make([]debtDTO, 0, len(debts)),
		GeneratedAt: now,
	}
	for i, tx := range txs {
		if i >= recentTransactionLimit {
			break
		}
		resp.Recent = append(resp.Recent, toTransactionDTO(tx))
	}
	for _, d := range debts {
		resp.Debts = append(resp.Debts, toDebtDTO(d))
	}

	s.summaryCache.Set(accountID, resp)
	respondJSON(w, http.StatusOK, resp)
}

// --- transactions ---

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("account")
	q := r.URL.Query()

	filter := ledger.TransactionFilter{}
	if v := strings.TrimSpace(q.Get("type")); v != "" {
		filter.Type = core.TransactionType(strings.ToLower(v))
		if !filter.Type.Valid() {
			respondError(w, r, core.ErrInvalidType)
			return
		}
	}
	if v := strings.TrimSpace(q.Get("date")); v != "" {
		day, err := time.Parse("2006-01-02", v)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid date, want YYYY-MM-DD", Code: "invalid_input"})
			return
		}
		filter.Day = day
	}
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit", Code: "invalid_input"})
			return
		}
		filter.Limit = n
	}

	txs, err := s.store.ListTransactions(r.Context(), accountID, filter)
	if err != nil {
		respondError(w, r, err)
		return
	}
	out := make([]transactionDTO, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toTransactionDTO(tx))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("account")

	var req transactionRequest
	if err := decodeBody(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed body: " + err.Error(), Code: "invalid_input"})
		return
	}
	tx, err := req.toCore()
	if err != nil {
		respondError(w, r, err)
		return
	}

	id, err := s.store.CreateTransaction(r.Context(), accountID, tx)
	if err != nil {
		respondError(w, r, err)
		return
	}
	tx.ID = id
	s.invalidateSummary(accountID)
	s.publishEvent(r.Context(), amqp.EventTransactionCreated, accountID, id)
	respondJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("account")

	var req transactionRequest
	if err := decodeBody(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed body: " + err.Error(), Code: "invalid_input"})
		return
	}
	tx, err := req.toCore()
	if err != nil {
		respondError(w, r, err)
		return
	}
	tx.ID = r.PathValue("id")

	if err := s.store.UpdateTransaction(r.Context(), accountID, tx); err != nil {
		respondError(w, r, err)
		return
	}
	s.invalidateSummary(accountID)
	s.publishEvent(r.Context(), amqp.EventTransactionUpdated, accountID, tx.ID)
	respondJSON(w, http.StatusOK, toTransactionDTO(tx))
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("account")
	id := r.PathValue("id")
	if err := s.store.DeleteTransaction(r.Context(), accountID, id); err != nil {
		respondError(w, r, err)
		return
	}
	s.invalidateSummary(accountID)
	s.publishEvent(r.Context(), amqp.EventTransactionDeleted, accountID, id)
	w.WriteHeader(http.StatusNoContent)
}

// --- debts ---

func (s *Server) handleListDebts(w http.ResponseWriter, r *http.Request) {
	debts, err := s.store.ListDebts(r.Context(), r.PathValue("account"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	out := make([]debtDTO, 0, len(debts))
	for _, d := range debts {
		out = append(out, toDebtDTO(d))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateDebt(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("account")

	var req debtRequest
	if err := decodeBody(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed body: " + err.Error(), Code: "invalid_input"})
		return
	}
	d, err := req.toCore()
	if err != nil {
		respondError(w, r, err)
		return
	}

	id, err := s.store.CreateDebt(r.Context(), accountID, d)
	if err != nil {
		respondError(w, r, err)
		return
	}
	d.ID = id
	s.invalidateSummary(accountID)
	s.publishEvent(r.Context(), amqp.EventDebtCreated, accountID, id)
	respondJSON(w, http.StatusCreated, toDebtDTO(d))
}

func (s *Server) handleGetDebt(w http.ResponseWriter, r *http.Request) {
	d, err := s.store.GetDebt(r.Context(), r.PathValue("account"), r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toDebtDTO(d))
}

func (s *Server) handleUpdateDebt(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("account")

	var req debtRequest
	if err := decodeBody(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed body: " + err.Error(), Code: "invalid_input"})
		return
	}
	d, err := req.toCore()
	if err != nil {
		respondError(w, r, err)
		return
	}
	d.ID = r.PathValue("id")

	if err := s.store.UpdateDebt(r.Context(), accountID, d); err != nil {
		respondError(w, r, err)
		return
	}
	s.invalidateSummary(accountID)
	s.publishEvent(r.Context(), amqp.EventDebtUpdated, accountID, d.ID)
	respondJSON(w, http.StatusOK, toDebtDTO(d))
}

func (s *Server) handleDeleteDebt(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("account")
	id := r.PathValue("id")
	if err := s.store.DeleteDebt(r.Context(), accountID, id); err != nil {
		respondError(w, r, err)
		return
	}
	s.invalidateSummary(accountID)
	s.publishEvent(r.Context(), amqp.EventDebtDeleted, accountID, id)
	w.WriteHeader(http.StatusNoContent)
}

// --- schedule and payments ---

type scheduleEntryDTO struct {
	Number        int       `json:"number"`
	ScheduledDate time.Time `json:"scheduled_date"`
	Paid          bool      `json:"paid"`
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	d, err := s.store.GetDebt(r.Context(), r.PathValue("account"), r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	entries := core.InstallmentSchedule(d)
	out := make([]scheduleEntryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, scheduleEntryDTO{Number: e.Number, ScheduledDate: e.ScheduledDate, Paid: e.Paid})
	}
	respondJSON(w, http.StatusOK, out)
}

type paymentRequest struct {
	AttemptID string `json:"attempt_id"`
}

type paymentResponse struct {
	Debt      debtDTO `json:"debt"`
	AttemptID string  `json:"attempt_id"`
	Replayed  bool    `json:"replayed"`
}

func (s *Server) handlePayInstallment(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("account")
	debtID := r.PathValue("id")

	// Body is optional; an empty one means no idempotency key.
	var req paymentRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			respondJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed body: " + err.Error(), Code: "invalid_input"})
			return
		}
	}

	res, err := s.payments.ApplyInstallmentPayment(r.Context(), accountID, debtID, strings.TrimSpace(req.AttemptID))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if !res.Replayed {
		atomic.AddInt64(&s.appMetrics.totalPayments, 1)
	}
	s.invalidateSummary(accountID)
	respondJSON(w, http.StatusOK, paymentResponse{
		Debt:      toDebtDTO(res.Debt),
		AttemptID: res.AttemptID,
		Replayed:  res.Replayed,
	})
}
