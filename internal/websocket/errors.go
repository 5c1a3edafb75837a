package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Registry-related errors
var (
	ErrNilConnection = errors.New("connection cannot be nil")
	ErrEmptyUserID   = errors.New("user ID cannot be empty")
)

// Handler-related errors
var (
	ErrMissingAuthorization = errors.New("missing authorization header")
	ErrMissingUserID        = errors.New("missing userId")
	ErrInvalidEnvelope      = errors.New("frame must be a JSON object with an event name")
)
