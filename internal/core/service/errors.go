package service

import "errors"

var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrBusy              = errors.New("server busy")
	ErrInvalidOrderID    = errors.New("invalid order id")
	ErrMissingSKU        = errors.New("missing sku")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrRowOutOfRange     = errors.New("row number out of range")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrBoundaryNotFound  = errors.New("segment boundary not found")
	ErrHeaderNotFound    = errors.New("required header not found")
	ErrInvalidSegment    = errors.New("invalid segment")
	ErrInvalidBinding    = errors.New("invalid message binding")
	ErrInvalidColumn     = errors.New("column is not editable")
)
