package database

import "errors"

var (
	ErrManagerClosed = errors.New("database manager is closed")
	ErrShuttingDown  = errors.New("database manager is shutting down")
	ErrWriteTimeout  = errors.New("write operation timeout")
	ErrInvalidCost   = errors.New("cost must not be negative")
	ErrNilBook       = errors.New("book cannot be nil")
	ErrNilWallet     = errors.New("wallet cannot be nil")
	ErrWalletExists  = errors.New("wallet already exists")
)
