package port

import (
	"context"
	"time"

	"github.com/rl1809/fulfillment-sync/internal/core/domain"
)

// LedgerStore is row-addressed access to the order ledger sheet. Rows are 1-based.
type LedgerStore interface {
	// RowCount returns the number of rows in the sheet, blank rows included
	RowCount(ctx context.Context) (int, error)

	// ReadRows returns count rows starting at start; missing cells read as ""
	ReadRows(ctx context.Context, start, count int) ([][]string, error)

	// WriteRows overwrites the rows starting at start
	WriteRows(ctx context.Context, start int, rows [][]string) error

	// InsertRowsBefore shifts row and everything below it down and writes rows in the gap
	InsertRowsBefore(ctx context.Context, row int, rows [][]string) error

	// AppendBlankRows adds n empty rows at the end of the sheet
	AppendBlankRows(ctx context.Context, n int) error

	// DeleteRows removes count rows starting at start, shifting the rest up
	DeleteRows(ctx context.Context, start, count int) error

	// CopyFormat clones the formatting of templateRow onto count rows starting at start
	CopyFormat(ctx context.Context, templateRow, start, count int) error
}

// SheetReader reads a whole reference table, header row first.
type SheetReader interface {
	ReadAll(ctx context.Context) ([][]string, error)
}

type BindingRepository interface {
	// Create stores a new binding; older bindings for the same order are kept
	Create(ctx context.Context, binding domain.MessageBinding) error

	// Latest returns the most recently created binding, or nil if none exists
	Latest(ctx context.Context, orderID string) (*domain.MessageBinding, error)

	// DeleteOlderThan removes bindings created before cutoff
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
