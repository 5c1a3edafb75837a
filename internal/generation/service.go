package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"aiscript/pkg/interfaces"
	"aiscript/pkg/types"
)

// Result is the generator's output for one request.
type Result struct {
	Document string `json:"document"`
	PDF      string `json:"pdf,omitempty"`
}

// Generator produces a book for a request. The algorithm behind it is opaque.
type Generator interface {
	Generate(ctx context.Context, request types.BookRequest) (*Result, error)
}

// Service runs billing around the generator: the wallet is checked before
// generating and charged only after the book is stored.
type Service struct {
	db        interfaces.DatabaseManager
	generator Generator
	cost      int
	logger    zerolog.Logger
}

// NewService creates a job executor charging cost credits per book.
func NewService(db interfaces.DatabaseManager, generator Generator, cost int, logger zerolog.Logger) *Service {
	return &Service{
		db:        db,
		generator: generator,
		cost:      cost,
		logger:    logger.With().Str("component", "generation").Logger(),
	}
}

// Execute generates and stores the member's book. Wallet failures match
// interfaces.ErrWalletNotFound or interfaces.ErrInsufficientFunds; nothing is
// charged on any error.
func (s *Service) Execute(ctx context.Context, member *types.QueueMember) (*types.Book, error) {
	if member == nil {
		return nil, ErrNilMember
	}

	wallet, err := s.db.GetWallet(ctx, member.UserID)
	if err != nil {
		return nil, err
	}
	if !wallet.CanCover(s.cost) {
		return nil, fmt.Errorf("%w: no credit bucket holds %d", interfaces.ErrInsufficientFunds, s.cost)
	}

	result, err := s.generator.Generate(ctx, member.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	if result == nil || result.Document == "" {
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, ErrEmptyDocument)
	}

	request := member.Payload
	book := &types.Book{
		Author:         request.Author,
		Title:          request.Title,
		Topic:          request.Topic,
		TargetAudience: request.TargetAudience,
		NumChapters:    request.NumChapters,
		NumSubsections: request.NumSubsections,
		Cover:          request.Cover,
		Document:       result.Document,
		PDF:            result.PDF,
	}

	if err := s.db.ChargeAndStoreBook(ctx, member.UserID, s.cost, book); err != nil {
		// The balance can drop between the pre-check and the charge.
		if errors.Is(err, interfaces.ErrInsufficientFunds) || errors.Is(err, interfaces.ErrWalletNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrStoreFailed, err)
	}

	s.logger.Info().
		Str("user_id", member.UserID).
		Str("book_id", book.ID).
		Int("cost", s.cost).
		Msg("book generated")

	return book, nil
}
