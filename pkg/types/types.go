package types

import (
	"encoding/json"
	"time"
)

// Inbound event names sent by clients over the socket.
const (
	EventJoinSharedQueue    = "joinSharedQueue"
	EventJoinPriorityQueue  = "joinPriorityQueue"
	EventCheckSharedQueue   = "checkSharedQueue"
	EventCheckPriorityQueue = "checkPriorityQueue"
	EventLeaveSharedQueue   = "leaveSharedQueue"
	EventLeavePriorityQueue = "leavePriorityQueue"
)

// Queue actions an inbound event maps to.
const (
	ActionJoin  = "join"
	ActionCheck = "check"
	ActionLeave = "leave"
)

// Outbound event names emitted by the server.
const (
	EventUsers               = "users"
	EventSharedQueue         = "sharedQueue"
	EventPriorityQueue       = "priorityQueue"
	EventSharedQueueStatus   = "sharedQueueStatus"
	EventPriorityQueueStatus = "priorityQueueStatus"
	EventBookCreated         = "bookCreated"
	EventBookError           = "bookError"
	EventWalletError         = "walletError"
	EventError               = "error"
)

// QueueClass names one of the two admission classes.
type QueueClass string

const (
	QueueShared   QueueClass = "shared"
	QueuePriority QueueClass = "priority"
)

// SizeEvent is the broadcast event carrying this queue's size.
func (c QueueClass) SizeEvent() string {
	if c == QueuePriority {
		return EventPriorityQueue
	}
	return EventSharedQueue
}

// StatusEvent is the targeted event carrying a user's status in this queue.
func (c QueueClass) StatusEvent() string {
	if c == QueuePriority {
		return EventPriorityQueueStatus
	}
	return EventSharedQueueStatus
}

// QueueStatus values reported in sharedQueueStatus / priorityQueueStatus.
type QueueStatus string

const (
	StatusQueued         QueueStatus = "queued"
	StatusAlreadyInQueue QueueStatus = "alreadyInQueue"
	StatusProcessed      QueueStatus = "processed"
	StatusChecked        QueueStatus = "checked"
	StatusLeft           QueueStatus = "left"
)

// PositionNotQueued is reported by a check when the user has no member in the queue.
// Both queues use the same sentinel.
const PositionNotQueued = -1

// Wallet error statuses carried by walletError.
const (
	WalletStatusNotFound          = "notFound"
	WalletStatusInsufficientFunds = "insufficientFunds"
)

// BookRequest is the job payload a client submits when joining a queue
type BookRequest struct {
	Name           string `json:"name"`
	Author         string `json:"author"`
	Title          string `json:"title"`
	Topic          string `json:"topic"`
	TargetAudience string `json:"target_audience"`
	NumChapters    int    `json:"num_chapters"`
	NumSubsections int    `json:"num_subsections"`
	Cover          string `json:"cover,omitempty"`
}

// Book is the record produced by a successful generation job.
type Book struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	Author         string    `json:"author"`
	Title          string    `json:"title"`
	Topic          string    `json:"topic"`
	TargetAudience string    `json:"target_audience"`
	NumChapters    int       `json:"num_chapters"`
	NumSubsections int       `json:"num_subsections"`
	Cover          string    `json:"cover"`
	Document       string    `json:"document"`
	PDF            string    `json:"pdf"`
	CreditsCharged int       `json:"credits_charged"`
	CreatedAt      time.Time `json:"created_at"`
}

// QueueMember is one queued job request. It is immutable once enqueued.
// ConnectionID is a weak reference: lookups go through the registry by UserID.
type QueueMember struct {
	InstanceID   string      `json:"instance_id"`
	ConnectionID string      `json:"connection_id"`
	UserID       string      `json:"user_id"`
	Payload      BookRequest `json:"payload"`
	EnqueuedAt   time.Time   `json:"enqueued_at"`
}

// Wallet holds a user's credit buckets.
type Wallet struct {
	ID                  string    `json:"id"`
	UserID              string    `json:"user_id"`
	FreeCredits         int       `json:"free_credits"`
	SubscriptionCredits int       `json:"subscription_credits"`
	TopUpCredits        int       `json:"top_up_credits"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Balance is the sum of all credit buckets.
func (w *Wallet) Balance() int {
	return w.FreeCredits + w.SubscriptionCredits + w.TopUpCredits
}

// CanCover reports whether one bucket alone holds at least cost credits.
// A charge is never split across buckets.
func (w *Wallet) CanCover(cost int) bool {
	return w.FreeCredits >= cost || w.SubscriptionCredits >= cost || w.TopUpCredits >= cost
}

// Envelope is the JSON frame exchanged over the socket in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OutboundMessage is an event ready to be encoded by a connection writer.
type OutboundMessage struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// QueueSizeEvent is the payload of sharedQueue / priorityQueue.
type QueueSizeEvent struct {
	Size int `json:"size"`
}

// QueueStatusEvent is the payload of sharedQueueStatus / priorityQueueStatus.
type QueueStatusEvent struct {
	Status   QueueStatus `json:"status"`
	UserID   string      `json:"userId"`
	Position *int        `json:"position,omitempty"`
}

// BookCreatedEvent is the payload of bookCreated.
type BookCreatedEvent struct {
	BookID  string `json:"bookId"`
	Title   string `json:"title"`
	Author  string `json:"author"`
	Charged int    `json:"charged"`
}

// BookErrorEvent is the payload of bookError. Charged is always false:
// a failed job never deducts credits.
type BookErrorEvent struct {
	Title   string `json:"title"`
	Reason  string `json:"reason"`
	Charged bool   `json:"charged"`
}

// WalletErrorEvent is the payload of walletError.
type WalletErrorEvent struct {
	Status string `json:"status"`
	UserID string `json:"userId"`
	Reason string `json:"reason"`
}

// ErrorEvent reports a rejected inbound event back to its sender.
type ErrorEvent struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

// IntPtr returns a pointer to v, for optional JSON fields.
func IntPtr(v int) *int {
	return &v
}
