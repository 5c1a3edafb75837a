package publisher

import (
	"context"
	"time"
)

// Lifecycle event types published for downstream consumers.
const (
	EventQueued    = "queued"
	EventLeft      = "left"
	EventProcessed = "processed"
	EventFailed    = "failed"
)

// LifecycleEvent is one job lifecycle transition.
type LifecycleEvent struct {
	Type       string    `json:"type"`
	Queue      string    `json:"queue"`
	UserID     string    `json:"user_id"`
	InstanceID string    `json:"instance_id,omitempty"`
	Position   int       `json:"position,omitempty"`
	Size       int       `json:"size"`
	BookID     string    `json:"book_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher forwards lifecycle events. Publish must not block the caller.
type Publisher interface {
	Publish(event LifecycleEvent)
	Close(ctx context.Context) error
}

// Nop discards every event. It is used when publishing is disabled.
type Nop struct{}

func (Nop) Publish(LifecycleEvent)      {}
func (Nop) Close(context.Context) error { return nil }
