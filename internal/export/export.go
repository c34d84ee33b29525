// Package export defines the port for mirroring ledger transactions to
// an external spreadsheet backup.
package export

import (
	"context"

	"artoku/internal/core"
)

// TransactionExporter appends one transaction row to the mirror and
// returns a backend reference for the written row (a sheet range for
// Google Sheets). Exports must be safe to retry: the worker marks a
// transaction exported only after Append succeeds, so a crash in
// between replays the row.
type TransactionExporter interface {
	Append(ctx context.Context, accountID string, tx core.Transaction) (ref string, err error)
}
