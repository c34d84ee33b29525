// Package worker mirrors ledger transactions to the spreadsheet
// backup. The fast path is event-driven over AMQP; a periodic
// catch-up pass sweeps rows whose events were lost.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"artoku/internal/amqp"
	"artoku/internal/export"
	"artoku/internal/ledger"
	"artoku/internal/storage"
)

// SyncWorkerConfig holds configuration for the mirror worker.
type SyncWorkerConfig struct {
	// CatchUpInterval is how often unexported rows are swept (default: 1m).
	CatchUpInterval time.Duration

	// BatchSize is the max rows per catch-up pass (default: 50).
	BatchSize int
}

// DefaultSyncWorkerConfig returns sensible defaults.
func DefaultSyncWorkerConfig() SyncWorkerConfig {
	return SyncWorkerConfig{
		CatchUpInterval: time.Minute,
		BatchSize:       50,
	}
}

// SyncWorker consumes ledger events and appends the affected
// transactions to the export mirror, stamping each row exported only
// after the append succeeds.
type SyncWorker struct {
	storage  *storage.SQLiteRepository
	exporter export.TransactionExporter
	config   SyncWorkerConfig
}

func NewSyncWorker(st *storage.SQLiteRepository, exporter export.TransactionExporter, config SyncWorkerConfig) *SyncWorker {
	if config.CatchUpInterval <= 0 {
		config.CatchUpInterval = DefaultSyncWorkerConfig().CatchUpInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultSyncWorkerConfig().BatchSize
	}
	return &SyncWorker{storage: st, exporter: exporter, config: config}
}

// HandleEvent processes one ledger event. Returning an error makes the
// consumer requeue the delivery, so transient exporter failures retry;
// events for rows that no longer exist are dropped.
func (w *SyncWorker) HandleEvent(ctx context.Context, msg *amqp.LedgerEventMessage) error {
	switch msg.Kind {
	case amqp.EventTransactionCreated, amqp.EventTransactionUpdated:
		return w.exportTransaction(ctx, msg.AccountID, msg.EntityID)
	case amqp.EventPaymentApplied:
		// The payment's ledger row rides the catch-up sweep; the event
		// carries the debt ID, not the transaction ID.
		return w.catchUp(ctx)
	case amqp.EventTransactionDeleted, amqp.EventDebtCreated, amqp.EventDebtUpdated, amqp.EventDebtDeleted:
		// Nothing to mirror.
		return nil
	default:
		slog.WarnContext(ctx, "Unknown ledger event kind, dropping", "kind", msg.Kind)
		return nil
	}
}

func (w *SyncWorker) exportTransaction(ctx context.Context, accountID, txID string) error {
	tx, err := w.storage.GetTransaction(ctx, accountID, txID)
	if errors.Is(err, ledger.ErrNotFound) {
		// Deleted before we got to it.
		slog.InfoContext(ctx, "Transaction gone before export, dropping event",
			"account", accountID, "transaction", txID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get transaction %s: %w", txID, err)
	}

	ref, err := w.exporter.Append(ctx, accountID, tx)
	if err != nil {
		return fmt.Errorf("append to mirror: %w", err)
	}

	if err := w.storage.MarkExported(ctx, accountID, txID); err != nil {
		// The row landed in the mirror; the catch-up sweep will retry
		// the stamp via a duplicate append, which is tolerable.
		slog.WarnContext(ctx, "Failed to mark transaction exported",
			"account", accountID, "transaction", txID, "error", err)
	}

	slog.InfoContext(ctx, "Mirrored transaction",
		"account", accountID, "transaction", txID, "ref", ref)
	return nil
}

// catchUp exports rows whose events never arrived, oldest first.
func (w *SyncWorker) catchUp(ctx context.Context) error {
	rows, err := w.storage.ListUnexportedTransactions(ctx, w.config.BatchSize)
	if err != nil {
		return fmt.Errorf("list unexported: %w", err)
	}
	for _, row := range rows {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := w.exportTransaction(ctx, row.AccountID, row.Transaction.ID); err != nil {
			slog.ErrorContext(ctx, "Catch-up export failed",
				"account", row.AccountID, "transaction", row.Transaction.ID, "error", err)
			// Keep going; the next sweep retries.
		}
	}
	return nil
}

// Run drives the catch-up loop until the context is cancelled. The
// event consumer runs separately (see cmd/artoku-worker).
func (w *SyncWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.config.CatchUpInterval)
	defer ticker.Stop()

	// Sweep immediately on startup to drain anything missed while down.
	if err := w.catchUp(ctx); err != nil {
		slog.ErrorContext(ctx, "Startup catch-up failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.catchUp(ctx); err != nil {
				slog.ErrorContext(ctx, "Catch-up pass failed", "error", err)
			}
		}
	}
}
