package generation

import "errors"

var (
	ErrNilMember        = errors.New("queue member cannot be nil")
	ErrGenerationFailed = errors.New("book generation failed")
	ErrStoreFailed      = errors.New("failed to store generated book")
	ErrGeneratorStatus  = errors.New("generator returned non-2xx status")
	ErrEmptyDocument    = errors.New("generator returned an empty document")
	ErrMissingGenerator = errors.New("generator URL cannot be empty")
)
