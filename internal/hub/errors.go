package hub

import "errors"

var (
	ErrHubAlreadyRunning   = errors.New("hub is already running")
	ErrHubNotRunning       = errors.New("hub is not running")
	ErrEventChannelFull    = errors.New("event channel is full")
	ErrRegisterChannelFull = errors.New("register channel is full")
	ErrUnknownEvent        = errors.New("unknown event")
	ErrMissingPayload      = errors.New("event requires a book request payload")
	ErrInvalidPayload      = errors.New("book request payload is not valid JSON")
	ErrEmptyResult         = errors.New("job finished without a book")
)
