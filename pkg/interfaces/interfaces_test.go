package interfaces_test

import (
	"context"
	"errors"
	"testing"

	"aiscript/pkg/interfaces"
	"aiscript/pkg/types"
)

// Mock implementations for testing
type mockConnection struct{}

func (m *mockConnection) ID() string                         { return "" }
func (m *mockConnection) WriteJSON(v interface{}) error      { return nil }
func (m *mockConnection) Close() error                       { return nil }
func (m *mockConnection) GetUserID() string                  { return "" }
func (m *mockConnection) IsAuthenticated() bool              { return false }
func (m *mockConnection) SetCredentials(userID string) error { return nil }

type mockAuthenticator struct{}

func (m *mockAuthenticator) Authenticate(authorization, userID string) error { return nil }

type mockRouter struct{}

func (m *mockRouter) Broadcast(event string, data interface{})              {}
func (m *mockRouter) SendToUser(userID, event string, data interface{}) int { return 0 }
func (m *mockRouter) SendToConnection(conn interfaces.Connection, event string, data interface{}) bool {
	return false
}
func (m *mockRouter) BroadcastUsers() {}

type mockDB struct{}

func (m *mockDB) CreateWallet(ctx context.Context, wallet *types.Wallet) error { return nil }
func (m *mockDB) GetWallet(ctx context.Context, userID string) (*types.Wallet, error) {
	return nil, interfaces.ErrWalletNotFound
}
func (m *mockDB) ChargeAndStoreBook(ctx context.Context, userID string, cost int, book *types.Book) error {
	return nil
}
func (m *mockDB) ListBooksByOwner(ctx context.Context, userID string) ([]*types.Book, error) {
	return nil, nil
}
func (m *mockDB) HealthCheck(ctx context.Context) error { return nil }
func (m *mockDB) Close() error                          { return nil }

func TestInterfaces_ArchitecturalCompliance(t *testing.T) {
	var _ interfaces.Connection = &mockConnection{}
	var _ interfaces.Authenticator = &mockAuthenticator{}
	var _ interfaces.EventRouter = &mockRouter{}
	var _ interfaces.DatabaseManager = &mockDB{}
}

func TestInterfaces_WalletErrorsAreDistinct(t *testing.T) {
	db := &mockDB{}
	_, err := db.GetWallet(context.Background(), "user1")
	if !errors.Is(err, interfaces.ErrWalletNotFound) {
		t.Errorf("Expected ErrWalletNotFound, got %v", err)
	}
	if errors.Is(interfaces.ErrWalletNotFound, interfaces.ErrInsufficientFunds) {
		t.Error("wallet errors must not match each other")
	}
}
