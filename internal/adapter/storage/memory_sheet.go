package storage

import (
	"context"
	"fmt"
	"sync"
)

type memRow struct {
	cells  []string
	format string
}

// MemorySheet is a row-addressed sheet kept in process memory. It serves both as a ledger
// store and as a read-only reference table.
type MemorySheet struct {
	mu   sync.RWMutex
	rows []memRow
}

func NewMemorySheet(rows [][]string) *MemorySheet {
	m := &MemorySheet{rows: make([]memRow, len(rows))}
	for i, r := range rows {
		m.rows[i] = memRow{cells: cloneCells(r)}
	}
	return m
}

func cloneCells(cells []string) []string {
	out := make([]string, len(cells))
	copy(out, cells)
	return out
}

func (m *MemorySheet) RowCount(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows), nil
}

func (m *MemorySheet) ReadRows(ctx context.Context, start, count int) ([][]string, error) {
	if start < 1 || count < 0 {
		return nil, fmt.Errorf("read rows %d+%d: invalid range", start, count)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([][]string, count)
	for i := range out {
		idx := start - 1 + i
		if idx < len(m.rows) {
			out[i] = cloneCells(m.rows[idx].cells)
		} else {
			out[i] = []string{}
		}
	}
	return out, nil
}

func (m *MemorySheet) ReadAll(ctx context.Context) ([][]string, error) {
	m.mu.RLock()
	n := len(m.rows)
	m.mu.RUnlock()
	return m.ReadRows(ctx, 1, n)
}

func (m *MemorySheet) WriteRows(ctx context.Context, start int, rows [][]string) error {
	if start < 1 {
		return fmt.Errorf("write rows at %d: invalid row", start)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.grow(start - 1 + len(rows))
	for i, r := range rows {
		m.rows[start-1+i].cells = cloneCells(r)
	}
	return nil
}

func (m *MemorySheet) InsertRowsBefore(ctx context.Context, row int, rows [][]string) error {
	if row < 1 {
		return fmt.Errorf("insert before %d: invalid row", row)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.grow(row - 1)
	inserted := make([]memRow, len(rows))
	for i, r := range rows {
		inserted[i] = memRow{cells: cloneCells(r)}
	}
	tail := append(inserted, m.rows[row-1:]...)
	m.rows = append(m.rows[:row-1], tail...)
	return nil
}

func (m *MemorySheet) AppendBlankRows(ctx context.Context, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grow(len(m.rows) + n)
	return nil
}

func (m *MemorySheet) DeleteRows(ctx context.Context, start, count int) error {
	if start < 1 || count < 0 {
		return fmt.Errorf("delete rows %d+%d: invalid range", start, count)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if start > len(m.rows) {
		return nil
	}
	end := min(start-1+count, len(m.rows))
	m.rows = append(m.rows[:start-1], m.rows[end:]...)
	return nil
}

func (m *MemorySheet) CopyFormat(ctx context.Context, templateRow, start, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if templateRow < 1 || templateRow > len(m.rows) {
		return fmt.Errorf("copy format: template row %d out of range", templateRow)
	}
	format := m.rows[templateRow-1].format
	for i := 0; i < count; i++ {
		idx := start - 1 + i
		if idx >= 0 && idx < len(m.rows) {
			m.rows[idx].format = format
		}
	}
	return nil
}

// SetFormat tags a row with an opaque format descriptor.
func (m *MemorySheet) SetFormat(row int, format string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grow(row)
	m.rows[row-1].format = format
}

func (m *MemorySheet) Format(row int) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if row < 1 || row > len(m.rows) {
		return ""
	}
	return m.rows[row-1].format
}

// grow pads the sheet with blank rows up to n rows. Caller holds the write lock.
func (m *MemorySheet) grow(n int) {
	for len(m.rows) < n {
		m.rows = append(m.rows, memRow{cells: []string{}})
	}
}
