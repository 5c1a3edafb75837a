package types

import (
	"regexp"
	"strings"
)

var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

const (
	maxChapters    = 50
	maxSubsections = 50
)

// Validate checks the fields a generation job cannot run without.
// Strings are trimmed in place so the stored book carries clean values.
func (b *BookRequest) Validate() error {
	b.Title = strings.TrimSpace(b.Title)
	b.Author = strings.TrimSpace(b.Author)
	b.Topic = strings.TrimSpace(b.Topic)
	b.TargetAudience = strings.TrimSpace(b.TargetAudience)

	if len(b.Title) < 1 || len(b.Title) > 200 {
		return ErrMissingTitle
	}
	if len(b.Author) < 1 || len(b.Author) > 100 {
		return ErrMissingAuthor
	}
	if len(b.Topic) < 1 || len(b.Topic) > 1000 {
		return ErrMissingTopic
	}
	if len(b.TargetAudience) < 1 || len(b.TargetAudience) > 200 {
		return ErrMissingTargetAudience
	}
	if b.NumChapters < 1 || b.NumChapters > maxChapters {
		return ErrInvalidChapterCount
	}
	if b.NumSubsections < 1 || b.NumSubsections > maxSubsections {
		return ErrInvalidSubsections
	}
	return nil
}

// Valid reports whether c is one of the two admission classes.
func (c QueueClass) Valid() bool {
	return c == QueueShared || c == QueuePriority
}

// IsValidUserID checks if a user ID meets format requirements
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 64 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// ParseInboundEvent maps an inbound event name to its queue class and action.
// ok is false for unknown events.
func ParseInboundEvent(event string) (class QueueClass, action string, ok bool) {
	switch event {
	case EventJoinSharedQueue:
		return QueueShared, ActionJoin, true
	case EventJoinPriorityQueue:
		return QueuePriority, ActionJoin, true
	case EventCheckSharedQueue:
		return QueueShared, ActionCheck, true
	case EventCheckPriorityQueue:
		return QueuePriority, ActionCheck, true
	case EventLeaveSharedQueue:
		return QueueShared, ActionLeave, true
	case EventLeavePriorityQueue:
		return QueuePriority, ActionLeave, true
	default:
		return "", "", false
	}
}
