package types

import "errors"

// Validation errors for inbound payloads
var (
	ErrInvalidUserID         = errors.New("user ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrMissingTitle          = errors.New("book title must be 1-200 characters")
	ErrMissingAuthor         = errors.New("book author must be 1-100 characters")
	ErrMissingTopic          = errors.New("book topic must be 1-1000 characters")
	ErrMissingTargetAudience = errors.New("book target audience must be 1-200 characters")
	ErrInvalidChapterCount   = errors.New("number of chapters must be between 1 and 50")
	ErrInvalidSubsections    = errors.New("number of subsections must be between 1 and 50")
	ErrInvalidQueueClass     = errors.New("queue class must be 'shared' or 'priority'")
)
