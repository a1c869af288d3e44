package domain

import "time"

// MessageBinding links an order to the chat message it was announced in.
// Several bindings may exist for one order; the newest one wins.
type MessageBinding struct {
	OrderID   string
	ChatID    string
	MessageID int64
	CreatedAt time.Time
}
