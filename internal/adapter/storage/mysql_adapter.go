package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rl1809/fulfillment-sync/internal/core/domain"
)

// MySQLSheetStore keeps one named sheet in the sheet_rows table:
//
//	sheet_rows(sheet VARCHAR, row_num INT, cells JSON, format VARCHAR, PRIMARY KEY(sheet, row_num))
//
// Row numbers are dense and 1-based; structural edits renumber inside a transaction.
type MySQLSheetStore struct {
	db    *sql.DB
	sheet string
}

func NewMySQLSheetStore(db *sql.DB, sheet string) *MySQLSheetStore {
	return &MySQLSheetStore{db: db, sheet: sheet}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (m *MySQLSheetStore) RowCount(ctx context.Context) (int, error) {
	var n int
	err := m.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(row_num), 0) FROM sheet_rows WHERE sheet = ?`, m.sheet,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return n, nil
}

func (m *MySQLSheetStore) ReadRows(ctx context.Context, start, count int) ([][]string, error) {
	if start < 1 || count < 0 {
		return nil, fmt.Errorf("read rows %d+%d: invalid range", start, count)
	}
	out := make([][]string, count)
	for i := range out {
		out[i] = []string{}
	}
	if count == 0 {
		return out, nil
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT row_num, cells FROM sheet_rows
		WHERE sheet = ? AND row_num BETWEEN ? AND ?
		ORDER BY row_num`, m.sheet, start, start+count-1,
	)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rowNum int
			raw    []byte
		)
		if err := rows.Scan(&rowNum, &raw); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		cells, err := decodeCells(raw)
		if err != nil {
			return nil, fmt.Errorf("decode row %d: %w", rowNum, err)
		}
		out[rowNum-start] = cells
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

func (m *MySQLSheetStore) ReadAll(ctx context.Context) ([][]string, error) {
	n, err := m.RowCount(ctx)
	if err != nil {
		return nil, err
	}
	return m.ReadRows(ctx, 1, n)
}

func (m *MySQLSheetStore) WriteRows(ctx context.Context, start int, rows [][]string) error {
	if start < 1 {
		return fmt.Errorf("write rows at %d: invalid row", start)
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for i, r := range rows {
		if err := m.upsert(ctx, tx, start+i, r); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (m *MySQLSheetStore) InsertRowsBefore(ctx context.Context, row int, rows [][]string) error {
	if row < 1 {
		return fmt.Errorf("insert before %d: invalid row", row)
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE sheet_rows SET row_num = row_num + ?
		WHERE sheet = ? AND row_num >= ?
		ORDER BY row_num DESC`, len(rows), m.sheet, row,
	)
	if err != nil {
		return fmt.Errorf("shift rows down: %w", err)
	}
	for i, r := range rows {
		if err := m.upsert(ctx, tx, row+i, r); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (m *MySQLSheetStore) AppendBlankRows(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var last int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(row_num), 0) FROM sheet_rows WHERE sheet = ? FOR UPDATE`, m.sheet,
	).Scan(&last)
	if err != nil {
		return fmt.Errorf("count rows: %w", err)
	}
	for i := 1; i <= n; i++ {
		if err := m.upsert(ctx, tx, last+i, nil); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (m *MySQLSheetStore) DeleteRows(ctx context.Context, start, count int) error {
	if start < 1 || count < 0 {
		return fmt.Errorf("delete rows %d+%d: invalid range", start, count)
	}
	if count == 0 {
		return nil
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM sheet_rows WHERE sheet = ? AND row_num BETWEEN ? AND ?`,
		m.sheet, start, start+count-1,
	)
	if err != nil {
		return fmt.Errorf("delete rows: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE sheet_rows SET row_num = row_num - ?
		WHERE sheet = ? AND row_num > ?
		ORDER BY row_num ASC`, count, m.sheet, start+count-1,
	)
	if err != nil {
		return fmt.Errorf("shift rows up: %w", err)
	}
	return tx.Commit()
}

func (m *MySQLSheetStore) CopyFormat(ctx context.Context, templateRow, start, count int) error {
	var format string
	err := m.db.QueryRowContext(ctx, `
		SELECT format FROM sheet_rows WHERE sheet = ? AND row_num = ?`, m.sheet, templateRow,
	).Scan(&format)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("copy format: template row %d not found", templateRow)
	}
	if err != nil {
		return fmt.Errorf("query format: %w", err)
	}

	_, err = m.db.ExecContext(ctx, `
		UPDATE sheet_rows SET format = ?
		WHERE sheet = ? AND row_num BETWEEN ? AND ?`,
		format, m.sheet, start, start+count-1,
	)
	if err != nil {
		return fmt.Errorf("update format: %w", err)
	}
	return nil
}

func (m *MySQLSheetStore) upsert(ctx context.Context, db execer, rowNum int, cells []string) error {
	raw, err := encodeCells(cells)
	if err != nil {
		return fmt.Errorf("encode row %d: %w", rowNum, err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO sheet_rows (sheet, row_num, cells, format) VALUES (?, ?, ?, '')
		ON DUPLICATE KEY UPDATE cells = VALUES(cells)`,
		m.sheet, rowNum, raw,
	)
	if err != nil {
		return fmt.Errorf("upsert row %d: %w", rowNum, err)
	}
	return nil
}

func encodeCells(cells []string) ([]byte, error) {
	if cells == nil {
		cells = []string{}
	}
	return json.Marshal(cells)
}

func decodeCells(raw []byte) ([]string, error) {
	cells := []string{}
	if len(raw) == 0 {
		return cells, nil
	}
	if err := json.Unmarshal(raw, &cells); err != nil {
		return nil, err
	}
	return cells, nil
}

// MySQLBindingRepository stores message bindings in message_bindings.
type MySQLBindingRepository struct {
	db *sql.DB
}

func NewMySQLBindingRepository(db *sql.DB) *MySQLBindingRepository {
	return &MySQLBindingRepository{db: db}
}

func (m *MySQLBindingRepository) Create(ctx context.Context, b domain.MessageBinding) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO message_bindings (order_id, chat_id, message_id, created_at)
		VALUES (?, ?, ?, ?)`,
		b.OrderID, b.ChatID, b.MessageID, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert binding: %w", err)
	}
	return nil
}

func (m *MySQLBindingRepository) Latest(ctx context.Context, orderID string) (*domain.MessageBinding, error) {
	var b domain.MessageBinding
	err := m.db.QueryRowContext(ctx, `
		SELECT order_id, chat_id, message_id, created_at
		FROM message_bindings WHERE order_id = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, orderID,
	).Scan(&b.OrderID, &b.ChatID, &b.MessageID, &b.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query binding: %w", err)
	}
	return &b, nil
}

func (m *MySQLBindingRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := m.db.ExecContext(ctx, `
		DELETE FROM message_bindings WHERE created_at < ?`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("delete bindings: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sheet_rows (
		sheet   VARCHAR(128) NOT NULL,
		row_num INT NOT NULL,
		cells   JSON NOT NULL,
		format  VARCHAR(255) NOT NULL DEFAULT '',
		PRIMARY KEY (sheet, row_num)
	)`,
	`CREATE TABLE IF NOT EXISTS message_bindings (
		id         BIGINT AUTO_INCREMENT PRIMARY KEY,
		order_id   VARCHAR(128) NOT NULL,
		chat_id    VARCHAR(64) NOT NULL,
		message_id BIGINT NOT NULL,
		created_at DATETIME(3) NOT NULL,
		INDEX idx_bindings_order (order_id, created_at),
		INDEX idx_bindings_created (created_at)
	)`,
}

// Migrate creates the tables used by the MySQL adapters.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
