package types

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequest() BookRequest {
	return BookRequest{
		Name:           "draft",
		Author:         "Ada",
		Title:          "Queues in Practice",
		Topic:          "FIFO scheduling",
		TargetAudience: "Engineers",
		NumChapters:    5,
		NumSubsections: 3,
	}
}

func TestBookRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*BookRequest)
		wantErr error
	}{
		{name: "valid request", mutate: func(*BookRequest) {}},
		{name: "blank title", mutate: func(b *BookRequest) { b.Title = "   " }, wantErr: ErrMissingTitle},
		{name: "title too long", mutate: func(b *BookRequest) { b.Title = strings.Repeat("t", 201) }, wantErr: ErrMissingTitle},
		{name: "missing author", mutate: func(b *BookRequest) { b.Author = "" }, wantErr: ErrMissingAuthor},
		{name: "missing topic", mutate: func(b *BookRequest) { b.Topic = "" }, wantErr: ErrMissingTopic},
		{name: "missing audience", mutate: func(b *BookRequest) { b.TargetAudience = "" }, wantErr: ErrMissingTargetAudience},
		{name: "zero chapters", mutate: func(b *BookRequest) { b.NumChapters = 0 }, wantErr: ErrInvalidChapterCount},
		{name: "too many chapters", mutate: func(b *BookRequest) { b.NumChapters = 51 }, wantErr: ErrInvalidChapterCount},
		{name: "negative subsections", mutate: func(b *BookRequest) { b.NumSubsections = -1 }, wantErr: ErrInvalidSubsections},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			assert.ErrorIs(t, req.Validate(), tt.wantErr)
		})
	}
}

func TestBookRequest_ValidateTrimsFields(t *testing.T) {
	req := validRequest()
	req.Title = "  Padded  "

	require.NoError(t, req.Validate())
	assert.Equal(t, "Padded", req.Title)
}

func TestIsValidUserID(t *testing.T) {
	assert.True(t, IsValidUserID("user_1"))
	assert.True(t, IsValidUserID("4f9a2c1e-7b3d-4e8a-9c0f-1a2b3c4d5e6f"))
	assert.False(t, IsValidUserID(""))
	assert.False(t, IsValidUserID("bad user"))
	assert.False(t, IsValidUserID(strings.Repeat("a", 65)))
}

func TestQueueClass_Events(t *testing.T) {
	assert.Equal(t, EventSharedQueue, QueueShared.SizeEvent())
	assert.Equal(t, EventPriorityQueue, QueuePriority.SizeEvent())
	assert.Equal(t, EventSharedQueueStatus, QueueShared.StatusEvent())
	assert.Equal(t, EventPriorityQueueStatus, QueuePriority.StatusEvent())
	assert.True(t, QueueShared.Valid())
	assert.False(t, QueueClass("vip").Valid())
}

func TestParseInboundEvent(t *testing.T) {
	tests := []struct {
		event      string
		wantClass  QueueClass
		wantAction string
		wantOK     bool
	}{
		{EventJoinSharedQueue, QueueShared, ActionJoin, true},
		{EventJoinPriorityQueue, QueuePriority, ActionJoin, true},
		{EventCheckSharedQueue, QueueShared, ActionCheck, true},
		{EventCheckPriorityQueue, QueuePriority, ActionCheck, true},
		{EventLeaveSharedQueue, QueueShared, ActionLeave, true},
		{EventLeavePriorityQueue, QueuePriority, ActionLeave, true},
		{"ping", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			class, action, ok := ParseInboundEvent(tt.event)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantClass, class)
			assert.Equal(t, tt.wantAction, action)
		})
	}
}

func TestQueueStatusEvent_PositionOmittedWhenNil(t *testing.T) {
	data, err := json.Marshal(QueueStatusEvent{Status: StatusLeft, UserID: "u1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"left","userId":"u1"}`, string(data))

	data, err = json.Marshal(QueueStatusEvent{Status: StatusChecked, UserID: "u1", Position: IntPtr(PositionNotQueued)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"checked","userId":"u1","position":-1}`, string(data))
}

func TestWallet_Balance(t *testing.T) {
	w := &Wallet{FreeCredits: 10, SubscriptionCredits: 500, TopUpCredits: 25}
	assert.Equal(t, 535, w.Balance())
}

func TestWallet_CanCover(t *testing.T) {
	w := &Wallet{FreeCredits: 1, SubscriptionCredits: 2, TopUpCredits: 3}

	assert.True(t, w.CanCover(0))
	assert.True(t, w.CanCover(3))
	assert.False(t, w.CanCover(4), "6 credits in total, but no bucket holds 4")
}
