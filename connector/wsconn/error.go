package wsconn

import "errors"

var (
	ErrUnexpectedFrame = errors.New("unexpected frame type")
	ErrBadFrame        = errors.New("malformed frame")
	ErrUnsupported     = errors.New("unsupported frame version")
)
