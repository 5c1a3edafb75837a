package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	dbconfig "aiscript/pkg/database"
	"aiscript/pkg/interfaces"
	"aiscript/pkg/types"
)

const (
	defaultRetryDelay   = 5 * time.Second
	defaultWriteTimeout = 30 * time.Second
)

// Manager implements the DatabaseManager interface on SQLite.
// All writes go through a single writer goroutine; reads use the pool directly.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	stopped      chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // Protect closed status
	retryDelay   time.Duration
	writeTimeout time.Duration
	logger       zerolog.Logger
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database and starts the writer.
func NewManager(config *dbconfig.Config, logger zerolog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := dbconfig.Open(config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		stopped:      make(chan struct{}),
		retryDelay:   defaultRetryDelay,
		writeTimeout: defaultWriteTimeout,
		logger:       logger.With().Str("component", "database").Logger(),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()
	defer close(m.stopped)

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil && isTransient(err) {
				m.logger.Warn().Err(err).Dur("retry_in", m.retryDelay).Msg("database busy, retrying write")
				time.Sleep(m.retryDelay)
				err = op.operation(m.db)
				if err != nil {
					m.logger.Error().Err(err).Msg("database write failed after retry")
				}
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Debug().Msg("database write loop shutting down")
			for {
				select {
				case op := <-m.writeChannel:
					op.result <- ErrShuttingDown
				default:
					return
				}
			}
		}
	}
}

// isTransient reports lock contention, the only failure worth retrying.
// Constraint violations and business errors fail immediately.
func isTransient(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	timer := time.NewTimer(m.writeTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-timer.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrShuttingDown
	}

	select {
	case err := <-result:
		return err
	case <-m.stopped:
		select {
		case err := <-result:
			return err
		default:
			return ErrShuttingDown
		}
	}
}

// CreateWallet stores a new wallet.
func (m *Manager) CreateWallet(ctx context.Context, wallet *types.Wallet) error {
	if wallet == nil {
		return ErrNilWallet
	}
	if wallet.UserID == "" {
		return types.ErrInvalidUserID
	}
	if wallet.ID == "" {
		wallet.ID = uuid.New().String()
	}
	wallet.UpdatedAt = time.Now().UTC()

	return m.executeWrite(ctx, func(db *sql.DB) error {
		query := `
			INSERT INTO wallets (id, user_id, free_credits, subscription_credits, top_up_credits, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query,
			wallet.ID,
			wallet.UserID,
			wallet.FreeCredits,
			wallet.SubscriptionCredits,
			wallet.TopUpCredits,
			wallet.UpdatedAt,
		)
		if err != nil {
			var sqliteErr sqlite3.Error
			if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
				return ErrWalletExists
			}
			return fmt.Errorf("failed to insert wallet: %w", err)
		}
		return nil
	})
}

// GetWallet returns the wallet owned by userID.
func (m *Manager) GetWallet(ctx context.Context, userID string) (*types.Wallet, error) {
	return scanWallet(m.db.QueryRowContext(ctx, walletQuery, userID))
}

const walletQuery = `
	SELECT id, user_id, free_credits, subscription_credits, top_up_credits, updated_at
	FROM wallets
	WHERE user_id = ?
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWallet(row rowScanner) (*types.Wallet, error) {
	var wallet types.Wallet
	err := row.Scan(
		&wallet.ID,
		&wallet.UserID,
		&wallet.FreeCredits,
		&wallet.SubscriptionCredits,
		&wallet.TopUpCredits,
		&wallet.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to query wallet: %w", err)
	}
	return &wallet, nil
}

// ChargeAndStoreBook deducts cost from the wallet and inserts the book in one
// transaction, recording the deduction in the ledger.
func (m *Manager) ChargeAndStoreBook(ctx context.Context, userID string, cost int, book *types.Book) error {
	if book == nil {
		return ErrNilBook
	}
	if cost < 0 {
		return ErrInvalidCost
	}
	if book.ID == "" {
		book.ID = uuid.New().String()
	}
	book.OwnerID = userID
	book.CreditsCharged = cost
	if book.CreatedAt.IsZero() {
		book.CreatedAt = time.Now().UTC()
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		wallet, err := scanWallet(tx.QueryRowContext(ctx, walletQuery, userID))
		if err != nil {
			return err
		}

		deduction, err := PlanDeduction(wallet, cost)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE wallets
			SET free_credits = free_credits - ?,
			    subscription_credits = subscription_credits - ?,
			    top_up_credits = top_up_credits - ?,
			    updated_at = ?
			WHERE user_id = ?
		`, deduction.Free, deduction.Subscription, deduction.TopUp, time.Now().UTC(), userID)
		if err != nil {
			return fmt.Errorf("failed to update wallet: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO books (id, owner_id, author, title, topic, target_audience,
				num_chapters, num_subsections, cover, document, pdf, credits_charged, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			book.ID,
			book.OwnerID,
			book.Author,
			book.Title,
			book.Topic,
			book.TargetAudience,
			book.NumChapters,
			book.NumSubsections,
			book.Cover,
			book.Document,
			book.PDF,
			book.CreditsCharged,
			book.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert book: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO wallet_transactions (user_id, book_id, free_delta, subscription_delta, top_up_delta)
			VALUES (?, ?, ?, ?, ?)
		`, userID, book.ID, -deduction.Free, -deduction.Subscription, -deduction.TopUp)
		if err != nil {
			return fmt.Errorf("failed to record wallet transaction: %w", err)
		}

		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit charge: %w", err)
		}

		m.logger.Debug().
			Str("user_id", userID).
			Str("book_id", book.ID).
			Int("free", deduction.Free).
			Int("subscription", deduction.Subscription).
			Int("top_up", deduction.TopUp).
			Msg("book stored and wallet charged")
		return nil
	})
}

// ListBooksByOwner returns a user's books, newest first.
func (m *Manager) ListBooksByOwner(ctx context.Context, userID string) ([]*types.Book, error) {
	query := `
		SELECT id, owner_id, author, title, topic, target_audience, num_chapters, num_subsections,
			COALESCE(cover, ''), COALESCE(document, ''), COALESCE(pdf, ''), credits_charged, created_at
		FROM books
		WHERE owner_id = ?
		ORDER BY created_at DESC, id
	`

	rows, err := m.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query books: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var books []*types.Book
	for rows.Next() {
		var book types.Book
		err := rows.Scan(
			&book.ID,
			&book.OwnerID,
			&book.Author,
			&book.Title,
			&book.Topic,
			&book.TargetAudience,
			&book.NumChapters,
			&book.NumSubsections,
			&book.Cover,
			&book.Document,
			&book.PDF,
			&book.CreditsCharged,
			&book.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan book row: %w", err)
		}
		books = append(books, &book)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating book rows: %w", err)
	}

	return books, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM wallets").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}

	return nil
}

// GetDB returns the underlying database connection for migrations
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close stops the writer and closes the pool. Safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}
