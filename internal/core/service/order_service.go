package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/fulfillment-sync/internal/core/domain"
	"github.com/rl1809/fulfillment-sync/internal/port"
)

var ErrDuplicateRequest = errors.New("duplicate request")

// Callback toast texts.
const (
	ToastPreparing      = "✅ Preparing"
	ToastPending        = "🔄 Pending"
	ToastShipped        = "✅ Order already shipped!"
	ToastCanceled       = "❌ Order already canceled!"
	ToastNotFound       = "⚠️ Order not found"
	ToastUnknownAction  = "❓ Unknown action"
	ToastBusy           = "⏳ Server busy, try again"
	ToastIllegalRequest = "⚠️ Action not allowed for this order"
)

type Dependencies struct {
	Ledger       *Ledger
	Gate         *Gate
	Synchronizer *Synchronizer
	Bindings     port.BindingRepository
	Chat         port.ChatClient
	Workflow     port.WorkflowTrigger
	// Idempotency dedupes redelivered chat callbacks; optional.
	Idempotency port.IdempotencyStore
	Timeouts    Timeouts
	Logger      *zap.Logger
}

// OrderService holds the use cases behind every inbound action. Ledger mutations run inside
// the gate; chat sync always runs after the gate is released.
type OrderService struct {
	ledger      *Ledger
	gate        *Gate
	sync        *Synchronizer
	bindings    port.BindingRepository
	chat        port.ChatClient
	workflow    port.WorkflowTrigger
	idempotency port.IdempotencyStore
	timeouts    Timeouts
	now         func() time.Time
	logger      *zap.Logger
}

func NewOrderService(deps Dependencies) *OrderService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderService{
		ledger:      deps.Ledger,
		gate:        deps.Gate,
		sync:        deps.Synchronizer,
		bindings:    deps.Bindings,
		chat:        deps.Chat,
		workflow:    deps.Workflow,
		idempotency: deps.Idempotency,
		timeouts:    deps.Timeouts,
		now:         time.Now,
		logger:      logger,
	}
}

// InsertOrders appends an inbound batch to seg.
func (s *OrderService) InsertOrders(ctx context.Context, seg domain.Segment, items []IncomingItem) (InsertResult, error) {
	var result InsertResult
	err := s.gate.Do(ctx, "insertOrders", s.timeouts.Batch, func(ctx context.Context) error {
		var err error
		result, err = s.ledger.Insert(ctx, seg, items)
		return err
	})
	return result, err
}

// UpdateOrderStatus moves every line of orderID to status through the guarded routine.
// An unknown order is reported through result.Found, not as an error.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) (TransitionResult, error) {
	var result TransitionResult
	err := s.gate.Do(ctx, "updateOrderStatus", s.timeouts.Batch, func(ctx context.Context) error {
		var err error
		result, err = s.ledger.TransitionOrder(ctx, orderID, status)
		return err
	})
	if err != nil {
		return result, err
	}
	if !result.Found {
		s.logger.Info("status update for unknown order", zap.String("order_id", result.OrderID))
		return result, nil
	}
	if result.Count > 0 {
		s.sync.Sync(ctx, result.OrderID, result.CurrentStatus, result.Snapshot())
	}
	return result, nil
}

// UpdateRowStatus writes status to a single data row.
func (s *OrderService) UpdateRowStatus(ctx context.Context, row int, status domain.OrderStatus) (TransitionResult, error) {
	var result TransitionResult
	err := s.gate.Do(ctx, "updateStatus", s.timeouts.Batch, func(ctx context.Context) error {
		var err error
		result, err = s.ledger.TransitionRow(ctx, row, status)
		return err
	})
	if err != nil {
		return result, err
	}
	if result.Count > 0 && result.OrderID != "" {
		s.sync.Sync(ctx, result.OrderID, result.CurrentStatus, result.Snapshot())
	}
	return result, nil
}

type BulkResult struct {
	Orders  int               `json:"orders"`
	Updated int               `json:"updated"`
	Locked  []string          `json:"locked"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// MarkPreparing moves every distinct order found in the selected rows to PREPARING.
func (s *OrderService) MarkPreparing(ctx context.Context, startRow, numRows int) (BulkResult, error) {
	result := BulkResult{Locked: []string{}, Failed: map[string]string{}}
	var changed []TransitionResult

	err := s.gate.Do(ctx, "markPreparing", s.timeouts.Bulk, func(ctx context.Context) error {
		lines, err := s.ledger.Lines(ctx)
		if err != nil {
			return err
		}
		end := startRow + numRows - 1
		if startRow < s.ledger.layout.DataStartRow {
			startRow = s.ledger.layout.DataStartRow
		}
		var orderIDs []string
		seen := make(map[string]struct{})
		for _, line := range lines {
			if line.Row < startRow || line.Row > end || line.OrderID == "" {
				continue
			}
			key := strings.ToLower(line.OrderID)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			orderIDs = append(orderIDs, line.OrderID)
		}

		result.Orders = len(orderIDs)
		for _, id := range orderIDs {
			res, err := s.ledger.TransitionOrder(ctx, id, domain.OrderStatusPreparing)
			switch {
			case err != nil:
				result.Failed[id] = err.Error()
			case res.Locked():
				result.Locked = append(result.Locked, id)
			case res.Count > 0:
				result.Updated += res.Count
				changed = append(changed, res)
			}
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	for _, res := range changed {
		s.sync.Sync(ctx, res.OrderID, res.CurrentStatus, res.Snapshot())
	}
	return result, nil
}

// ManualEdit is a cell edit made directly on the ledger.
type ManualEdit struct {
	Row    int
	Column int
	Values []string
}

type ManualEditResult struct {
	Rows    int      `json:"rows"`
	Details []string `json:"details"`
}

// ApplyManualEdit reacts to an edit of the SKU or status column.
func (s *OrderService) ApplyManualEdit(ctx context.Context, edit ManualEdit) (ManualEditResult, error) {
	switch edit.Column {
	case domain.ColSKU:
		var result ManualEditResult
		err := s.gate.Do(ctx, "manualEdit", s.timeouts.ManualEdit, func(ctx context.Context) error {
			n, err := s.ledger.ApplySKUEdit(ctx, edit.Row, edit.Values)
			result.Rows = n
			return err
		})
		return result, err
	case domain.ColStatus:
		return s.applyStatusEdit(ctx, edit)
	}
	return ManualEditResult{}, fmt.Errorf("%w: %d", ErrInvalidColumn, edit.Column)
}

func (s *OrderService) applyStatusEdit(ctx context.Context, edit ManualEdit) (ManualEditResult, error) {
	result := ManualEditResult{Details: []string{}}
	var changed []TransitionResult

	err := s.gate.Do(ctx, "manualEdit", s.timeouts.ManualEdit, func(ctx context.Context) error {
		lines, err := s.ledger.Lines(ctx)
		if err != nil {
			return err
		}
		byRow := make(map[int]domain.OrderLine, len(lines))
		for _, line := range lines {
			byRow[line.Row] = line
		}

		done := make(map[string]struct{})
		for i, raw := range edit.Values {
			row := edit.Row + i
			status, ok := domain.ParseStatus(raw)
			if !ok {
				result.Details = append(result.Details, fmt.Sprintf("row %d: %v", row, ErrInvalidStatus))
				continue
			}
			line, ok := byRow[row]
			if !ok {
				result.Details = append(result.Details, fmt.Sprintf("row %d: not an order line", row))
				continue
			}

			var res TransitionResult
			if line.OrderID == "" {
				res, err = s.ledger.TransitionRow(ctx, row, status)
			} else {
				key := strings.ToLower(line.OrderID)
				if _, ok := done[key]; ok {
					continue
				}
				done[key] = struct{}{}
				res, err = s.ledger.TransitionOrder(ctx, line.OrderID, status)
			}
			switch {
			case err != nil:
				result.Details = append(result.Details, fmt.Sprintf("row %d: %v", row, err))
			case res.Locked():
				result.Details = append(result.Details, fmt.Sprintf("row %d: order is %s", row, res.CurrentStatus))
			case res.Count > 0:
				result.Rows += res.Count
				changed = append(changed, res)
			}
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	for _, res := range changed {
		if res.OrderID != "" {
			s.sync.Sync(ctx, res.OrderID, res.CurrentStatus, res.Snapshot())
		}
	}
	return result, nil
}

// Callback is a pressed chat button together with the message it belongs to.
type Callback struct {
	ID        string
	Data      string
	ChatID    string
	MessageID int64
}

type CallbackResult struct {
	Toast     string             `json:"toast"`
	Alert     bool               `json:"alert"`
	Status    domain.OrderStatus `json:"status,omitempty"`
	Duplicate bool               `json:"duplicate,omitempty"`
}

// HandleCallback applies a button press. The edit targets the message the button was pressed
// on, not the latest binding.
func (s *OrderService) HandleCallback(ctx context.Context, cb Callback) (CallbackResult, error) {
	if s.idempotency != nil && cb.ID != "" {
		first, err := s.idempotency.SetIdempotency(ctx, "callback:"+cb.ID)
		if err != nil {
			s.logger.Warn("callback idempotency check failed", zap.String("callback_id", cb.ID), zap.Error(err))
		} else if !first {
			s.answer(ctx, cb.ID, "", false)
			return CallbackResult{Duplicate: true}, nil
		}
	}

	cmd, err := domain.ParseCallbackData(cb.Data)
	if err != nil {
		return s.reply(ctx, cb.ID, CallbackResult{Toast: ToastUnknownAction, Alert: true}), nil
	}

	var result TransitionResult
	err = s.gate.Do(ctx, "callback", s.timeouts.Batch, func(ctx context.Context) error {
		var err error
		result, err = s.ledger.TransitionOrder(ctx, cmd.OrderID, cmd.TargetStatus())
		return err
	})
	switch {
	case errors.Is(err, ErrBusy):
		s.reply(ctx, cb.ID, CallbackResult{Toast: ToastBusy, Alert: true})
		return CallbackResult{Toast: ToastBusy, Alert: true}, err
	case errors.Is(err, ErrIllegalTransition):
		return s.reply(ctx, cb.ID, CallbackResult{Toast: ToastIllegalRequest, Alert: true, Status: result.CurrentStatus}), nil
	case err != nil:
		return CallbackResult{}, err
	}

	if !result.Found {
		return s.reply(ctx, cb.ID, CallbackResult{Toast: ToastNotFound, Alert: true}), nil
	}

	out := CallbackResult{Toast: ToastPreparing, Status: result.CurrentStatus}
	switch {
	case result.Locked() && result.CurrentStatus == domain.OrderStatusShipped:
		out = CallbackResult{Toast: ToastShipped, Alert: true, Status: result.CurrentStatus}
	case result.Locked():
		out = CallbackResult{Toast: ToastCanceled, Alert: true, Status: result.CurrentStatus}
	case cmd.Action == domain.CallbackMarkPending:
		out.Toast = ToastPending
	}
	s.reply(ctx, cb.ID, out)

	handle := MessageHandle{ChatID: cb.ChatID, MessageID: cb.MessageID}
	if handle.MessageID == 0 {
		s.sync.Sync(ctx, result.OrderID, result.CurrentStatus, result.Snapshot())
		return out, nil
	}
	if err := s.sync.Edit(ctx, handle, result.OrderID, result.CurrentStatus, result.Snapshot()); err != nil {
		s.logger.Warn("callback message edit failed", zap.String("order_id", result.OrderID), zap.Error(err))
	}
	return out, nil
}

func (s *OrderService) reply(ctx context.Context, callbackID string, r CallbackResult) CallbackResult {
	s.answer(ctx, callbackID, r.Toast, r.Alert)
	return r
}

func (s *OrderService) answer(ctx context.Context, callbackID, text string, alert bool) {
	if callbackID == "" {
		return
	}
	if err := s.chat.AnswerCallback(ctx, callbackID, text, alert); err != nil {
		s.logger.Warn("answer callback failed", zap.String("callback_id", callbackID), zap.Error(err))
	}
}

// StoreMessageID records which chat message announced orderID.
func (s *OrderService) StoreMessageID(ctx context.Context, orderID, chatID string, messageID int64) error {
	orderID = strings.TrimSpace(orderID)
	chatID = strings.TrimSpace(chatID)
	if orderID == "" {
		return ErrInvalidOrderID
	}
	if chatID == "" || messageID <= 0 {
		return fmt.Errorf("%w: chat %q message %d", ErrInvalidBinding, chatID, messageID)
	}
	binding := domain.MessageBinding{
		OrderID:   orderID,
		ChatID:    chatID,
		MessageID: messageID,
		CreatedAt: s.now(),
	}
	if err := s.bindings.Create(ctx, binding); err != nil {
		return fmt.Errorf("store binding: %w", err)
	}
	s.logger.Info("message binding stored", zap.String("order_id", orderID), zap.Int64("message_id", messageID))
	return nil
}

type NotifyResult struct {
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason,omitempty"`
}

// NotifyShipped force-edits the bound message to the shipped template. The ledger is not changed.
func (s *OrderService) NotifyShipped(ctx context.Context, orderID string) (NotifyResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return NotifyResult{}, ErrInvalidOrderID
	}
	handle, ok := s.sync.Handle(ctx, orderID)
	if !ok {
		return NotifyResult{Skipped: true, Reason: "message id not found for order " + orderID}, nil
	}

	var snap OrderSnapshot
	err := s.gate.Do(ctx, "notifyShipped", s.timeouts.Batch, func(ctx context.Context) error {
		var err error
		snap, err = s.ledger.OrderSnapshot(ctx, orderID)
		return err
	})
	if err != nil {
		return NotifyResult{}, err
	}
	if err := s.sync.Edit(ctx, handle, orderID, domain.OrderStatusShipped, snap); err != nil {
		return NotifyResult{}, err
	}
	return NotifyResult{}, nil
}

func (s *OrderService) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := s.gate.Do(ctx, "stats", s.timeouts.Bulk, func(ctx context.Context) error {
		var err error
		stats, err = s.ledger.Stats(ctx)
		return err
	})
	return stats, err
}

// SortSegment runs an explicit sort of one segment.
func (s *OrderService) SortSegment(ctx context.Context, seg domain.Segment) (int, error) {
	return s.bulk(ctx, "sortTable", func(ctx context.Context) (int, error) {
		return s.ledger.Sort(ctx, seg)
	})
}

func (s *OrderService) DeleteEmptyRows(ctx context.Context, seg domain.Segment) (int, error) {
	return s.bulk(ctx, "deleteEmptyRows", func(ctx context.Context) (int, error) {
		return s.ledger.DeleteEmptyRows(ctx, seg)
	})
}

func (s *OrderService) RefreshLocations(ctx context.Context, seg domain.Segment) (int, error) {
	return s.bulk(ctx, "refreshLocations", func(ctx context.Context) (int, error) {
		return s.ledger.RefreshLocations(ctx, seg)
	})
}

// Consolidate merges same-SKU rows of seg and returns the row counts before and after.
func (s *OrderService) Consolidate(ctx context.Context, seg domain.Segment) (before, after int, err error) {
	err = s.gate.Do(ctx, "consolidate", s.timeouts.Bulk, func(ctx context.Context) error {
		var err error
		before, after, err = s.ledger.Consolidate(ctx, seg)
		return err
	})
	return before, after, err
}

func (s *OrderService) bulk(ctx context.Context, op string, fn func(ctx context.Context) (int, error)) (int, error) {
	var n int
	err := s.gate.Do(ctx, op, s.timeouts.Bulk, func(ctx context.Context) error {
		var err error
		n, err = fn(ctx)
		return err
	})
	return n, err
}

// CleanupBindings deletes bindings older than retention.
func (s *OrderService) CleanupBindings(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention)
	n, err := s.bindings.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup bindings: %w", err)
	}
	s.logger.Info("old message bindings removed", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
	return n, nil
}

// TriggerSync asks the external workflow to pull new orders. No ledger lock is held.
func (s *OrderService) TriggerSync(ctx context.Context) (port.SyncResult, error) {
	result, err := s.workflow.Trigger(ctx)
	if err != nil {
		s.logger.Warn("workflow trigger failed", zap.Error(err))
		return result, err
	}
	return result, nil
}
