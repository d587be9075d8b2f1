package eventbus

import "errors"

var (
	ErrDuplicateSubscription = errors.New("eventbus: topic already has a subscriber")
	ErrNoSubscriber          = errors.New("eventbus: topic has no subscriber")
	ErrTopicType             = errors.New("eventbus: topic registered with a different message type")
	ErrClosed                = errors.New("eventbus: bus is closed")
	ErrCloseTimeout          = errors.New("eventbus: close timeout")
	ErrFull                  = errors.New("eventbus: topic buffer is full")
)
