package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/fulfillment-sync/internal/core/domain"
	"github.com/rl1809/fulfillment-sync/internal/port"
)

const (
	rule      = "══════════════════════"
	boxTop    = "┌─────────────────────"
	boxMiddle = "├─────────────────────"
	boxBottom = "└─────────────────────"
)

// StatusIcon is the marker shown next to a status in chat messages.
func StatusIcon(status domain.OrderStatus) string {
	switch status {
	case domain.OrderStatusPreparing:
		return "🟡"
	case domain.OrderStatusShipped:
		return "✅"
	case domain.OrderStatusCanceled:
		return "❌"
	}
	return "🔴"
}

// Buttons derives the action keyboard purely from status.
func Buttons(orderID string, status domain.OrderStatus) []port.InlineButton {
	switch status {
	case domain.OrderStatusPending:
		cmd := domain.CallbackCommand{Action: domain.CallbackMarkPreparing, OrderID: orderID}
		return []port.InlineButton{{Text: "🚀 Mark as Preparing", CallbackData: cmd.Data()}}
	case domain.OrderStatusPreparing:
		cmd := domain.CallbackCommand{Action: domain.CallbackMarkPending, OrderID: orderID}
		return []port.InlineButton{{Text: "🔄 Revert to Pending", CallbackData: cmd.Data()}}
	}
	return nil
}

// OrderSnapshot is an order's lines plus the ledger-wide committed quantities, read under the lock.
type OrderSnapshot struct {
	Lines     []domain.OrderLine
	Committed map[string]int
}

// MessageView is everything the order template needs.
type MessageView struct {
	OrderID string
	Status  domain.OrderStatus
	Lines   []domain.OrderLine
	Stock   map[string]domain.Stock
	// Committed is subtracted from Stock before display.
	Committed map[string]int
	At        time.Time
	// LowStock marks lines whose available stock is at or below it.
	LowStock int
}

// RenderMessage produces the plain-text order message.
func RenderMessage(v MessageView) string {
	total := 0
	for _, line := range v.Lines {
		total += line.Quantity
	}

	var b strings.Builder
	b.WriteString(rule + "\n")
	b.WriteString("       📦  ORDER\n")
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "🕐  %s\n\n", v.At.Format("Mon, Jan 2, 3:04 PM MST"))
	fmt.Fprintf(&b, "🔖  %s\n", v.OrderID)
	fmt.Fprintf(&b, "📦  %d total units\n\n", total)

	b.WriteString(boxTop + "\n")
	b.WriteString("│ PICK LIST\n")
	b.WriteString(boxMiddle + "\n")
	for i, line := range v.Lines {
		branch, rail := "├", "│"
		if i == len(v.Lines)-1 {
			branch, rail = "└", " "
		}
		key := domain.SKUKey(line.SKU)
		available := v.Stock[key].Available - v.Committed[key]
		indicator := "✅"
		if available <= v.LowStock {
			indicator = "⚠️"
		}
		b.WriteString("│\n")
		fmt.Fprintf(&b, "%s─ %d. SKU: %s\n", branch, i+1, line.SKU)
		fmt.Fprintf(&b, "%s      ├─ 📍 Loc: %s\n", rail, line.Location)
		fmt.Fprintf(&b, "%s      ├─ 🔢 Qty: %d\n", rail, line.Quantity)
		fmt.Fprintf(&b, "%s      └─ 📊 Stock: %s %d units\n", rail, indicator, available)
	}
	b.WriteString("\n")

	for _, line := range v.Lines {
		if line.Note == "" {
			continue
		}
		b.WriteString(boxTop + "\n")
		b.WriteString("│ 💬 BUYER NOTE\n")
		b.WriteString(boxMiddle + "\n")
		fmt.Fprintf(&b, "│ %s\n", line.Note)
		b.WriteString(boxBottom + "\n\n")
		break
	}

	fmt.Fprintf(&b, "📋 Status: %s %s", StatusIcon(v.Status), v.Status)
	return b.String()
}

// Synchronizer mirrors ledger status into the chat message an order was announced in.
// It never creates messages and never fails the caller: every problem is logged.
type Synchronizer struct {
	bindings  port.BindingRepository
	chat      port.ChatClient
	inventory *InventoryResolver
	lowStock  int
	location  *time.Location
	now       func() time.Time
	logger    *zap.Logger
}

func NewSynchronizer(bindings port.BindingRepository, chat port.ChatClient, inventory *InventoryResolver, lowStock int, location *time.Location, logger *zap.Logger) *Synchronizer {
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{
		bindings:  bindings,
		chat:      chat,
		inventory: inventory,
		lowStock:  lowStock,
		location:  location,
		now:       time.Now,
		logger:    logger,
	}
}

// MessageHandle addresses an existing chat message.
type MessageHandle struct {
	ChatID    string
	MessageID int64
}

// Sync edits the latest bound message of orderID. snap must be taken under the ledger lock.
func (s *Synchronizer) Sync(ctx context.Context, orderID string, status domain.OrderStatus, snap OrderSnapshot) {
	handle, ok := s.lookup(ctx, orderID)
	if !ok {
		return
	}
	if err := s.Edit(ctx, handle, orderID, status, snap); err != nil {
		s.logger.Warn("chat sync failed", zap.String("order_id", orderID), zap.Error(err))
	}
}

// Handle returns the latest message bound to orderID.
func (s *Synchronizer) Handle(ctx context.Context, orderID string) (MessageHandle, bool) {
	return s.lookup(ctx, orderID)
}

func (s *Synchronizer) lookup(ctx context.Context, orderID string) (MessageHandle, bool) {
	binding, err := s.bindings.Latest(ctx, orderID)
	if err != nil {
		s.logger.Warn("binding lookup failed", zap.String("order_id", orderID), zap.Error(err))
		return MessageHandle{}, false
	}
	if binding == nil {
		s.logger.Warn("no chat message bound to order, skipping sync", zap.String("order_id", orderID))
		return MessageHandle{}, false
	}
	return MessageHandle{ChatID: binding.ChatID, MessageID: binding.MessageID}, true
}

// Edit renders the template for status and replaces the text and keyboard of handle.
func (s *Synchronizer) Edit(ctx context.Context, handle MessageHandle, orderID string, status domain.OrderStatus, snap OrderSnapshot) error {
	skus := make([]string, 0, len(snap.Lines))
	for _, line := range snap.Lines {
		skus = append(skus, line.SKU)
	}
	text := RenderMessage(MessageView{
		OrderID:   orderID,
		Status:    status,
		Lines:     snap.Lines,
		Stock:     s.inventory.ResolveMany(ctx, skus),
		Committed: snap.Committed,
		At:        s.now().In(s.location),
		LowStock:  s.lowStock,
	})

	err := s.chat.EditMessage(ctx, port.EditMessageRequest{
		ChatID:    handle.ChatID,
		MessageID: handle.MessageID,
		Text:      text,
		Buttons:   Buttons(orderID, status),
	})
	if err != nil {
		return fmt.Errorf("edit message %d: %w", handle.MessageID, err)
	}
	s.logger.Info("chat message synced",
		zap.String("order_id", orderID),
		zap.String("status", string(status)),
		zap.Int64("message_id", handle.MessageID))
	return nil
}
