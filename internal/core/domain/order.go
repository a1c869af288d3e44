package domain

import "strings"

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPreparing OrderStatus = "PREPARING"
	OrderStatusShipped   OrderStatus = "SHIPPED"
	OrderStatusCanceled  OrderStatus = "CANCELED"
)

// LocationNotFound is written to the location column when a SKU cannot be resolved.
const LocationNotFound = "NOT FOUND"

// ParseStatus normalizes a raw cell value. ok is false for anything outside the four states.
func ParseStatus(raw string) (OrderStatus, bool) {
	s := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case OrderStatusPending, OrderStatusPreparing, OrderStatusShipped, OrderStatusCanceled:
		return s, true
	}
	return s, false
}

// Rank is the sort key of a status; unknown values sort last.
func (s OrderStatus) Rank() int {
	switch s {
	case OrderStatusPending:
		return 1
	case OrderStatusPreparing:
		return 2
	case OrderStatusShipped:
		return 3
	case OrderStatusCanceled:
		return 4
	}
	return 5
}

// IsTerminal reports whether s is absorbing.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusShipped || s == OrderStatusCanceled
}

// IsOpen reports whether stock is still committed to a line in status s.
func (s OrderStatus) IsOpen() bool {
	return s == OrderStatusPending || s == OrderStatusPreparing
}

var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusPreparing, OrderStatusCanceled},
	OrderStatusPreparing: {OrderStatusPending, OrderStatusShipped, OrderStatusCanceled},
}

// CanTransition reports whether from -> to is a legal edge of the order lifecycle.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// OrderLine is one data row of the ledger.
type OrderLine struct {
	Row      int
	SKU      string
	Quantity int
	Location string
	OrderID  string
	Note     string
	Status   OrderStatus
	OnHand   int
}

// Signature identifies a line for duplicate detection.
func (l OrderLine) Signature() string {
	return Signature(l.OrderID, l.SKU)
}

func Signature(orderID, sku string) string {
	return strings.TrimSpace(orderID) + "|" + strings.ToUpper(strings.TrimSpace(sku))
}

// SKUKey is the case-insensitive map key for a SKU.
func SKUKey(sku string) string {
	return strings.ToLower(strings.TrimSpace(sku))
}
