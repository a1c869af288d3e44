package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/rl1809/fulfillment-sync/internal/core/domain"
)

// TransitionResult reports a guarded status change. Found with Count 0 and a terminal
// CurrentStatus means the order was locked and nothing was written.
type TransitionResult struct {
	Found         bool               `json:"found"`
	Count         int                `json:"count"`
	CurrentStatus domain.OrderStatus `json:"currentStatus"`
	OrderID       string             `json:"-"`
	// Lines is the order's state right after the update, taken while the caller still held the lock.
	Lines []domain.OrderLine `json:"-"`
	// Committed is the open quantity per SKU key across the whole ledger at the same moment.
	Committed map[string]int `json:"-"`
}

// Snapshot is the view handed to the synchronizer once the lock is released.
func (r TransitionResult) Snapshot() OrderSnapshot {
	return OrderSnapshot{Lines: r.Lines, Committed: r.Committed}
}

// Locked reports whether the order sits in a terminal state and refused the change.
func (r TransitionResult) Locked() bool {
	return r.Found && r.Count == 0 && r.CurrentStatus.IsTerminal()
}

func validTarget(raw domain.OrderStatus) (domain.OrderStatus, error) {
	status, ok := domain.ParseStatus(string(raw))
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return status, nil
}

// checkMove decides whether a line may move to target. Lines with a blank or unknown status are
// outside the lifecycle and may be set to anything.
func checkMove(from, to domain.OrderStatus) error {
	if from == to {
		return nil
	}
	if _, known := domain.ParseStatus(string(from)); !known {
		return nil
	}
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// TransitionOrder moves every line of orderID to target. All lines are collected first; if any
// is terminal the whole order is left untouched.
func (l *Ledger) TransitionOrder(ctx context.Context, orderID string, target domain.OrderStatus) (TransitionResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return TransitionResult{}, ErrInvalidOrderID
	}
	to, err := validTarget(target)
	if err != nil {
		return TransitionResult{}, err
	}

	s, err := l.read(ctx)
	if err != nil {
		return TransitionResult{}, err
	}
	matches := s.orderLines(orderID)
	if len(matches) == 0 {
		return TransitionResult{OrderID: orderID}, nil
	}

	result := TransitionResult{Found: true, OrderID: orderID, CurrentStatus: matches[0].Status}
	for _, line := range matches {
		if line.Status.IsTerminal() {
			result.CurrentStatus = line.Status
			result.Lines = matches
			result.Committed = CommittedQuantities(s.lines())
			l.logger.Info("order is terminal, transition refused",
				zap.String("order_id", orderID),
				zap.String("current", string(line.Status)),
				zap.String("target", string(to)))
			return result, nil
		}
	}
	for _, line := range matches {
		if err := checkMove(line.Status, to); err != nil {
			return result, err
		}
	}

	return l.applyStatus(ctx, s, matches, to, result)
}

// TransitionRow changes the status of a single row. The terminal guard applies to that row.
func (l *Ledger) TransitionRow(ctx context.Context, row int, target domain.OrderStatus) (TransitionResult, error) {
	to, err := validTarget(target)
	if err != nil {
		return TransitionResult{}, err
	}
	s, err := l.read(ctx)
	if err != nil {
		return TransitionResult{}, err
	}
	if row < l.layout.DataStartRow || row > s.rowCount() {
		return TransitionResult{}, fmt.Errorf("%w: %d", ErrRowOutOfRange, row)
	}
	if !s.isDataRow(row) {
		return TransitionResult{}, fmt.Errorf("%w: row %d is not an order line", ErrRowOutOfRange, row)
	}

	line := s.line(row)
	result := TransitionResult{Found: true, OrderID: line.OrderID, CurrentStatus: line.Status}
	if line.Status.IsTerminal() {
		result.Lines = s.orderLines(line.OrderID)
		result.Committed = CommittedQuantities(s.lines())
		return result, nil
	}
	if err := checkMove(line.Status, to); err != nil {
		return result, err
	}
	return l.applyStatus(ctx, s, []domain.OrderLine{line}, to, result)
}

func (l *Ledger) applyStatus(ctx context.Context, s *sheet, lines []domain.OrderLine, to domain.OrderStatus, result TransitionResult) (TransitionResult, error) {
	touched := make(map[domain.Segment]bool)
	for _, line := range lines {
		if line.Status == to {
			continue
		}
		row := padRow(s.row(line.Row))
		row[domain.ColStatus-1] = string(to)
		if err := l.store.WriteRows(ctx, line.Row, [][]string{row}); err != nil {
			return result, fmt.Errorf("write status row %d: %w", line.Row, err)
		}
		s.rows[line.Row-1] = row
		touched[s.segmentOf(line.Row)] = true
		result.Count++
	}
	if result.Count > 0 {
		result.CurrentStatus = to
	}

	if result.OrderID != "" {
		result.Lines = s.orderLines(result.OrderID)
	} else {
		result.Lines = make([]domain.OrderLine, 0, len(lines))
		for _, line := range lines {
			result.Lines = append(result.Lines, s.line(line.Row))
		}
	}
	result.Committed = CommittedQuantities(s.lines())

	for seg := range touched {
		if _, err := l.sortSegment(ctx, s, seg); err != nil {
			l.logger.Warn("resort after status change failed", zap.Stringer("segment", seg), zap.Error(err))
		}
	}

	l.logger.Info("order status updated",
		zap.String("order_id", result.OrderID),
		zap.String("status", string(to)),
		zap.Int("rows", result.Count))
	return result, nil
}
