package domain

import (
	"errors"
	"strings"
)

var ErrUnknownCallback = errors.New("unknown callback action")

const (
	callbackPreparePrefix = "PREP_"
	callbackPendingPrefix = "PEND_"
)

type CallbackAction int

const (
	CallbackMarkPreparing CallbackAction = iota + 1
	CallbackMarkPending
)

// CallbackCommand is the parsed form of a chat button payload.
type CallbackCommand struct {
	Action  CallbackAction
	OrderID string
}

func ParseCallbackData(data string) (CallbackCommand, error) {
	switch {
	case strings.HasPrefix(data, callbackPreparePrefix):
		return newCallbackCommand(CallbackMarkPreparing, strings.TrimPrefix(data, callbackPreparePrefix))
	case strings.HasPrefix(data, callbackPendingPrefix):
		return newCallbackCommand(CallbackMarkPending, strings.TrimPrefix(data, callbackPendingPrefix))
	}
	return CallbackCommand{}, ErrUnknownCallback
}

func newCallbackCommand(action CallbackAction, orderID string) (CallbackCommand, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return CallbackCommand{}, ErrUnknownCallback
	}
	return CallbackCommand{Action: action, OrderID: orderID}, nil
}

// TargetStatus is the status the button asks for.
func (c CallbackCommand) TargetStatus() OrderStatus {
	if c.Action == CallbackMarkPending {
		return OrderStatusPending
	}
	return OrderStatusPreparing
}

// Data encodes the command back into button payload form.
func (c CallbackCommand) Data() string {
	if c.Action == CallbackMarkPending {
		return callbackPendingPrefix + c.OrderID
	}
	return callbackPreparePrefix + c.OrderID
}
