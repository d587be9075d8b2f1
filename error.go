package match

import "errors"

var (
	ErrInvalidParam    = errors.New("the param is invalid")
	ErrTimeout         = errors.New("timeout")
	ErrShutdown        = errors.New("order book is shutting down")
	ErrSequenceGap     = errors.New("book log sequence gap")
	ErrOrderBookClosed = errors.New("order book is closed")
)
