package auth

import "errors"

var (
	ErrMissingAuthorization = errors.New("missing authorization")
	ErrMissingUserID        = errors.New("missing user id")
	ErrMissingToken         = errors.New("authorization must be a bearer token")
	ErrInvalidToken         = errors.New("invalid token")
	ErrUserMismatch         = errors.New("token does not belong to user")
	ErrMissingSecret        = errors.New("access secret cannot be empty")
)
