package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrHalted            = errors.New("trading halted")
	ErrUnknownRequest    = errors.New("unknown trade request")
	ErrInvalidPayload    = errors.New("invalid payload")
	ErrBusClosed         = errors.New("bus closed")
	ErrInsufficientDepth = errors.New("insufficient book depth")
	ErrNoOrderPlacer     = errors.New("no live order placer configured")
	ErrLockHeld          = errors.New("lock held by another instance")
)
