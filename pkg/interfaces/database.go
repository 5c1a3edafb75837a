package interfaces

import (
	"context"

	"aiscript/pkg/types"
)

// DatabaseManager handles the billing and book persistence the dispatcher relies on.
// Queue and registry state is never persisted.
type DatabaseManager interface {
	// CreateWallet stores a new wallet for a user
	CreateWallet(ctx context.Context, wallet *types.Wallet) error

	// GetWallet returns the wallet owned by userID, or ErrWalletNotFound
	GetWallet(ctx context.Context, userID string) (*types.Wallet, error)

	// ChargeAndStoreBook deducts cost credits from the user's wallet and stores the
	// book in one transaction. Nothing is deducted when the book cannot be stored.
	ChargeAndStoreBook(ctx context.Context, userID string, cost int, book *types.Book) error

	// ListBooksByOwner returns a user's books, newest first
	ListBooksByOwner(ctx context.Context, userID string) ([]*types.Book, error)

	// HealthCheck verifies database connectivity
	HealthCheck(ctx context.Context) error

	// Close closes the database connection and waits for pending writes
	Close() error
}
