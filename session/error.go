package session

import "errors"

var (
	ErrSessionNotFound = errors.New("session: no session registered for order")
	ErrWrongOrderID    = errors.New("session: unknown order id")
	ErrDuplicateOrder  = errors.New("session: order id already in use")
	ErrInvalidAction   = errors.New("session: invalid request action")
	ErrSessionDisposed = errors.New("session: disposed")
)
