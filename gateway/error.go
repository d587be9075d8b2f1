package gateway

import "errors"

var (
	ErrInstrumentNotFound = errors.New("instrument not found")
	ErrNotStarted         = errors.New("gateway not started")
	ErrStopped            = errors.New("gateway stopped")
	ErrUnknownSession     = errors.New("unknown session")
)
