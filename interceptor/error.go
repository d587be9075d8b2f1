package interceptor

import "errors"

var (
	ErrTimeout         = errors.New("interceptor: pass timeout")
	ErrStagePanic      = errors.New("interceptor: stage panic")
	ErrShutdown        = errors.New("interceptor: pipeline is shutting down")
	ErrShutdownTimeout = errors.New("interceptor: shutdown timeout")
)
