package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/rl1809/fulfillment-sync/internal/adapter/storage"
	"github.com/rl1809/fulfillment-sync/internal/core/domain"
	"github.com/rl1809/fulfillment-sync/internal/port"
)

var ledgerHeader = []string{"SKU", "QTY", "LOC", "ORDER ID", "NOTE", "STATUS", "HAND"}

// ledgerSheet lays out two segments with three blank rows after each. Marketplace data starts
// at row 4; the boundary sits at 4+len(seg1)+3.
func ledgerSheet(seg1, seg2 [][]string) *storage.MemorySheet {
	rows := [][]string{{"All orders"}, {}, ledgerHeader}
	rows = append(rows, seg1...)
	rows = append(rows, []string{}, []string{}, []string{})
	rows = append(rows, []string{"DIRECT"}, ledgerHeader)
	rows = append(rows, seg2...)
	rows = append(rows, []string{}, []string{}, []string{})
	return storage.NewMemorySheet(rows)
}

func orderRow(sku, qty, loc, orderID, status string) []string {
	return []string{sku, qty, loc, orderID, "", status, "0"}
}

func inventoryTable(records ...[]string) *storage.MemorySheet {
	rows := [][]string{{"sku", "C:Model Year", "Quantity", "Quantity Sold"}}
	return storage.NewMemorySheet(append(rows, records...))
}

func newTestLedger(store port.LedgerStore, table port.SheetReader) *Ledger {
	inv := NewInventoryResolver(table, DefaultInventoryHeaders(), 5, zap.NewNop())
	return NewLedger(store, inv, domain.DefaultLayout(), zap.NewNop())
}

func readAll(store *storage.MemorySheet) [][]string {
	rows, _ := store.ReadAll(context.Background())
	return rows
}

// countingReader counts how often the reference table is read.
type countingReader struct {
	mu    sync.Mutex
	rows  [][]string
	reads int
}

func (c *countingReader) ReadAll(ctx context.Context) ([][]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	return c.rows, nil
}

func (c *countingReader) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

type answered struct {
	id    string
	text  string
	alert bool
}

type mockChat struct {
	mu      sync.Mutex
	edits   []port.EditMessageRequest
	answers []answered
	editErr error
}

func (m *mockChat) EditMessage(ctx context.Context, req port.EditMessageRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.editErr != nil {
		return m.editErr
	}
	m.edits = append(m.edits, req)
	return nil
}

func (m *mockChat) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers = append(m.answers, answered{id: callbackID, text: text, alert: alert})
	return nil
}

func (m *mockChat) editCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.edits)
}

func (m *mockChat) lastEdit() port.EditMessageRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.edits) == 0 {
		return port.EditMessageRequest{}
	}
	return m.edits[len(m.edits)-1]
}

type mockWorkflow struct {
	result port.SyncResult
	err    error
	calls  int
}

func (m *mockWorkflow) Trigger(ctx context.Context) (port.SyncResult, error) {
	m.calls++
	return m.result, m.err
}
