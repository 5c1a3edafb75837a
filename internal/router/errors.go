package router

import "errors"

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrUserNotConnected  = errors.New("user has no open connections")
)
