package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"artoku/internal/core"
	"artoku/internal/ledger"

	_ "modernc.org/sqlite"
)

// SQLiteRepository is the persistent ledger backend. It implements
// ledger.Store plus the PaymentApplier capability: SQLite gives us a
// real multi-statement transaction, so an installment payment is
// applied atomically instead of as two dependent writes.
type SQLiteRepository struct {
	db *sql.DB
}

var (
	_ ledger.Store          = (*SQLiteRepository)(nil)
	_ ledger.PaymentApplier = (*SQLiteRepository)(nil)
)

// Dates are persisted as UTC RFC 3339 text so that string ordering in
// SQL matches chronological ordering.
const dateFormat = time.RFC3339Nano

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) ListAccounts(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT account_id FROM transactions
		UNION SELECT account_id FROM debts
		ORDER BY account_id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- debts ---

const debtColumns = `id, name, total_amount, monthly_installment, tenor, start_date, due_day, paid_installments`

func scanDebt(row interface{ Scan(...any) error }) (core.Debt, error) {
	var d core.Debt
	var start string
	err := row.Scan(&d.ID, &d.Name, &d.TotalAmount.Units, &d.MonthlyInstallment.Units,
		&d.Tenor, &start, &d.DueDay, &d.PaidInstallments)
	if err != nil {
		return core.Debt{}, err
	}
	d.StartDate, err = time.Parse(dateFormat, start)
	if err != nil {
		return core.Debt{}, fmt.Errorf("parse start date: %w", err)
	}
	return d, nil
}

func (r *SQLiteRepository) ListDebts(ctx context.Context, accountID string) ([]core.Debt, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+debtColumns+` FROM debts WHERE account_id = ? ORDER BY name`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list debts: %w", err)
	}
	defer rows.Close()

	var debts []core.Debt
	for rows.Next() {
		d, err := scanDebt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan debt: %w", err)
		}
		debts = append(debts, d)
	}
	return debts, rows.Err()
}

func (r *SQLiteRepository) GetDebt(ctx context.Context, accountID, id string) (core.Debt, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+debtColumns+` FROM debts WHERE account_id = ? AND id = ?`, accountID, id)
	d, err := scanDebt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Debt{}, ledger.ErrNotFound
	}
	if err != nil {
		return core.Debt{}, fmt.Errorf("get debt: %w", err)
	}
	return d, nil
}

func (r *SQLiteRepository) CreateDebt(ctx context.Context, accountID string, d core.Debt) (string, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}
	d.ID = uuid.NewString()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO debts (id, account_id, name, total_amount, monthly_installment, tenor, start_date, due_day, paid_installments)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, accountID, d.Name, d.TotalAmount.Units, d.MonthlyInstallment.Units,
		d.Tenor, d.StartDate.UTC().Format(dateFormat), d.DueDay, d.PaidInstallments)
	if err != nil {
		return "", fmt.Errorf("create debt: %w", err)
	}

	slog.InfoContext(ctx, "Debt saved",
		"id", d.ID,
		"account", accountID,
		"name", d.Name,
		"tenor", d.Tenor)
	return d.ID, nil
}

func (r *SQLiteRepository) UpdateDebt(ctx context.Context, accountID string, d core.Debt) error {
	if err := d.Validate(); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE debts
		SET name = ?, total_amount = ?, monthly_installment = ?, tenor = ?,
		    start_date = ?, due_day = ?, paid_installments = ?,
		    updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE account_id = ? AND id = ?`,
		d.Name, d.TotalAmount.Units, d.MonthlyInstallment.Units, d.Tenor,
		d.StartDate.UTC().Format(dateFormat), d.DueDay, d.PaidInstallments,
		accountID, d.ID)
	if err != nil {
		return fmt.Errorf("update debt: %w", err)
	}
	return requireOneRow(res)
}

func (r *SQLiteRepository) DeleteDebt(ctx context.Context, accountID, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM debts WHERE account_id = ? AND id = ?`, accountID, id)
	if err != nil {
		return fmt.Errorf("delete debt: %w", err)
	}
	return requireOneRow(res)
}

// --- transactions ---

const txColumns = `id, type, name, category, notes, amount, date`

func scanTransaction(row interface{ Scan(...any) error }) (core.Transaction, error) {
	var t core.Transaction
	var date string
	err := row.Scan(&t.ID, &t.Type, &t.Name, &t.Category, &t.Notes, &t.Amount.Units, &date)
	if err != nil {
		return core.Transaction{}, err
	}
	t.Date, err = time.Parse(dateFormat, date)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("parse date: %w", err)
	}
	return t, nil
}

func (r *SQLiteRepository) ListTransactions(ctx context.Context, accountID string, f ledger.TransactionFilter) ([]core.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE account_id = ?`
	args := []any{accountID}

	if f.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(f.Type))
	}
	if !f.Day.IsZero() {
		dayStart := time.Date(f.Day.Year(), f.Day.Month(), f.Day.Day(), 0, 0, 0, 0, time.UTC)
		query += ` AND date >= ? AND date < ?`
		args = append(args, dayStart.Format(dateFormat), dayStart.AddDate(0, 0, 1).Format(dateFormat))
	}
	query += ` ORDER BY date DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txs []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (r *SQLiteRepository) GetTransaction(ctx context.Context, accountID, id string) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE account_id = ? AND id = ?`, accountID, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, ledger.ErrNotFound
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

func (r *SQLiteRepository) CreateTransaction(ctx context.Context, accountID string, t core.Transaction) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	t.ID = uuid.NewString()
	_, err := r.db.ExecContext(ctx, insertTransactionSQL,
		t.ID, accountID, string(t.Type), t.Name, t.Category, t.Notes,
		t.Amount.Units, t.Date.UTC().Format(dateFormat))
	if err != nil {
		return "", fmt.Errorf("create transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction saved",
		"id", t.ID,
		"account", accountID,
		"type", t.Type,
		"amount", t.Amount.Units)
	return t.ID, nil
}

const insertTransactionSQL = `
	INSERT INTO transactions (id, account_id, type, name, category, notes, amount, date)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func (r *SQLiteRepository) UpdateTransaction(ctx context.Context, accountID string, t core.Transaction) error {
	if err := t.Validate(); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE transactions
		SET type = ?, name = ?, category = ?, notes = ?, amount = ?, date = ?,
		    exported_at = NULL,
		    updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE account_id = ? AND id = ?`,
		string(t.Type), t.Name, t.Category, t.Notes, t.Amount.Units,
		t.Date.UTC().Format(dateFormat), accountID, t.ID)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	return requireOneRow(res)
}

func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, accountID, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM transactions WHERE account_id = ? AND id = ?`, accountID, id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	return requireOneRow(res)
}

// --- payment attempts ---

func (r *SQLiteRepository) GetPaymentAttempt(ctx context.Context, accountID, attemptID string) (ledger.PaymentAttempt, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, debt_id, COALESCE(transaction_id, ''), debt_updated, created_at
		FROM payment_attempts WHERE account_id = ? AND id = ?`, accountID, attemptID)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.PaymentAttempt{}, false, nil
	}
	if err != nil {
		return ledger.PaymentAttempt{}, false, fmt.Errorf("get payment attempt: %w", err)
	}
	return a, true, nil
}

func (r *SQLiteRepository) PutPaymentAttempt(ctx context.Context, accountID string, a ledger.PaymentAttempt) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, upsertAttemptSQL,
		a.ID, accountID, a.DebtID, nullable(a.TransactionID), boolInt(a.DebtUpdated),
		a.CreatedAt.UTC().Format(dateFormat))
	if err != nil {
		return fmt.Errorf("put payment attempt: %w", err)
	}
	return nil
}

const upsertAttemptSQL = `
	INSERT INTO payment_attempts (id, account_id, debt_id, transaction_id, debt_updated, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT (account_id, id) DO UPDATE
	SET transaction_id = excluded.transaction_id, debt_updated = excluded.debt_updated`

func (r *SQLiteRepository) ListPaymentAttempts(ctx context.Context, accountID string) ([]ledger.PaymentAttempt, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, debt_id, COALESCE(transaction_id, ''), debt_updated, created_at
		FROM payment_attempts WHERE account_id = ? ORDER BY created_at`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list payment attempts: %w", err)
	}
	defer rows.Close()

	var attempts []ledger.PaymentAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func scanAttempt(row interface{ Scan(...any) error }) (ledger.PaymentAttempt, error) {
	var a ledger.PaymentAttempt
	var updated int
	var created string
	err := row.Scan(&a.ID, &a.DebtID, &a.TransactionID, &updated, &created)
	if err != nil {
		return ledger.PaymentAttempt{}, err
	}
	a.DebtUpdated = updated != 0
	a.CreatedAt, err = time.Parse(dateFormat, created)
	if err != nil {
		return ledger.PaymentAttempt{}, fmt.Errorf("parse created_at: %w", err)
	}
	return a, nil
}

// ApplyPayment performs the installment payment in a single SQL
// transaction: the expense row, the counter increment, and the attempt
// record commit together or not at all. The counter update re-checks
// paid_installments < tenor inside the transaction, so two racing
// payments on the last installment cannot both succeed.
func (r *SQLiteRepository) ApplyPayment(ctx context.Context, accountID string, attempt ledger.PaymentAttempt, t core.Transaction) (core.Debt, error) {
	if err := t.Validate(); err != nil {
		return core.Debt{}, err
	}

	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Debt{}, fmt.Errorf("begin payment tx: %w", err)
	}
	defer sqlTx.Rollback()

	t.ID = uuid.NewString()
	if _, err := sqlTx.ExecContext(ctx, insertTransactionSQL,
		t.ID, accountID, string(t.Type), t.Name, t.Category, t.Notes,
		t.Amount.Units, t.Date.UTC().Format(dateFormat)); err != nil {
		return core.Debt{}, fmt.Errorf("payment: insert transaction: %w", err)
	}

	res, err := sqlTx.ExecContext(ctx, `
		UPDATE debts
		SET paid_installments = paid_installments + 1,
		    updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE account_id = ? AND id = ? AND paid_installments < tenor`,
		accountID, attempt.DebtID)
	if err != nil {
		return core.Debt{}, fmt.Errorf("payment: update debt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.Debt{}, fmt.Errorf("payment: rows affected: %w", err)
	}
	if n == 0 {
		// The guard did not match: the debt is missing or already
		// paid off. Re-read inside the transaction to tell which.
		row := sqlTx.QueryRowContext(ctx,
			`SELECT `+debtColumns+` FROM debts WHERE account_id = ? AND id = ?`, accountID, attempt.DebtID)
		if _, err := scanDebt(row); err != nil {
			return core.Debt{}, ledger.ErrNotFound
		}
		return core.Debt{}, ledger.ErrDebtPaidOff
	}

	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now()
	}
	if _, err := sqlTx.ExecContext(ctx, upsertAttemptSQL,
		attempt.ID, accountID, attempt.DebtID, t.ID, 1,
		attempt.CreatedAt.UTC().Format(dateFormat)); err != nil {
		return core.Debt{}, fmt.Errorf("payment: record attempt: %w", err)
	}

	row := sqlTx.QueryRowContext(ctx,
		`SELECT `+debtColumns+` FROM debts WHERE account_id = ? AND id = ?`, accountID, attempt.DebtID)
	debt, err := scanDebt(row)
	if err != nil {
		return core.Debt{}, fmt.Errorf("payment: reload debt: %w", err)
	}

	if err := sqlTx.Commit(); err != nil {
		return core.Debt{}, fmt.Errorf("commit payment tx: %w", err)
	}

	slog.InfoContext(ctx, "Installment payment applied",
		"account", accountID,
		"debt", attempt.DebtID,
		"transaction", t.ID,
		"paid_installments", debt.PaidInstallments)
	return debt, nil
}

// --- export tracking for the sync worker ---

// ExportRow pairs a transaction with its owning account for the
// Sheets mirror.
type ExportRow struct {
	AccountID   string
	Transaction core.Transaction
}

// ListUnexportedTransactions returns transactions not yet mirrored to
// the backup spreadsheet, oldest first. Backup path for when AMQP
// messages are lost.
func (r *SQLiteRepository) ListUnexportedTransactions(ctx context.Context, limit int) ([]ExportRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT account_id, `+txColumns+`
		FROM transactions WHERE exported_at IS NULL
		ORDER BY date ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unexported: %w", err)
	}
	defer rows.Close()

	var out []ExportRow
	for rows.Next() {
		var row ExportRow
		var date string
		err := rows.Scan(&row.AccountID, &row.Transaction.ID, &row.Transaction.Type,
			&row.Transaction.Name, &row.Transaction.Category, &row.Transaction.Notes,
			&row.Transaction.Amount.Units, &date)
		if err != nil {
			return nil, fmt.Errorf("scan unexported: %w", err)
		}
		row.Transaction.Date, err = time.Parse(dateFormat, date)
		if err != nil {
			return nil, fmt.Errorf("parse date: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// MarkExported stamps a transaction as mirrored.
func (r *SQLiteRepository) MarkExported(ctx context.Context, accountID, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE transactions
		SET exported_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE account_id = ? AND id = ?`, accountID, id)
	if err != nil {
		return fmt.Errorf("mark exported: %w", err)
	}
	return requireOneRow(res)
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
