package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrUnauthorized      = errors.New("unauthorized access")
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrInsufficientFunds = errors.New("insufficient credits")
)
