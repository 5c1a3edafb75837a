package websocket

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubConnection is an in-memory interfaces.Connection.
type stubConnection struct {
	id     string
	userID string
	mu     sync.Mutex
	sent   []interface{}
	closed bool
}

func newStubConnection(id string) *stubConnection {
	return &stubConnection{id: id}
}

func (s *stubConnection) ID() string { return s.id }

func (s *stubConnection) WriteJSON(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrConnectionClosed
	}
	s.sent = append(s.sent, v)
	return nil
}

func (s *stubConnection) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubConnection) GetUserID() string     { return s.userID }
func (s *stubConnection) IsAuthenticated() bool { return s.userID != "" }

func (s *stubConnection) SetCredentials(userID string) error {
	s.userID = userID
	return nil
}

func TestRegistry_AddAndLookup(t *testing.T) {
	r := NewRegistry()
	a := newStubConnection("a")

	userID, err := r.AddConnection(a, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)

	owner, ok := r.LookupUserID(a)
	assert.True(t, ok)
	assert.Equal(t, "u1", owner)

	handles := r.LookupHandles("u1")
	require.Len(t, handles, 1)
	assert.Equal(t, "a", handles[0].ID())
	assert.Equal(t, []string{"u1"}, r.ListUserIDs())
}

func TestRegistry_AddValidation(t *testing.T) {
	r := NewRegistry()

	_, err := r.AddConnection(nil, "u1")
	assert.ErrorIs(t, err, ErrNilConnection)

	_, err = r.AddConnection(newStubConnection("a"), "")
	assert.ErrorIs(t, err, ErrEmptyUserID)
}

func TestRegistry_MultiDevice(t *testing.T) {
	r := NewRegistry()
	_, _ = r.AddConnection(newStubConnection("b"), "u1")
	_, _ = r.AddConnection(newStubConnection("a"), "u1")
	_, _ = r.AddConnection(newStubConnection("c"), "u2")

	handles := r.LookupHandles("u1")
	require.Len(t, handles, 2)
	assert.Equal(t, "a", handles[0].ID())
	assert.Equal(t, "b", handles[1].ID())

	assert.Equal(t, []string{"u1", "u2"}, r.ListUserIDs())
	assert.Equal(t, map[string]int{"total_connections": 3, "online_users": 2}, r.GetStats())
}

func TestRegistry_AddIsIdempotent(t *testing.T) {
	r := NewRegistry()
	a := newStubConnection("a")

	_, _ = r.AddConnection(a, "u1")
	_, _ = r.AddConnection(a, "u1")

	assert.Len(t, r.LookupHandles("u1"), 1)
	assert.Len(t, r.AllConnections(), 1)
}

func TestRegistry_HandleMovesBetweenUsers(t *testing.T) {
	r := NewRegistry()
	a := newStubConnection("a")

	_, _ = r.AddConnection(a, "u1")
	_, _ = r.AddConnection(a, "u2")

	assert.Empty(t, r.LookupHandles("u1"))
	assert.Len(t, r.LookupHandles("u2"), 1)
	assert.Equal(t, []string{"u2"}, r.ListUserIDs())
}

func TestRegistry_RemoveConnection(t *testing.T) {
	r := NewRegistry()
	a := newStubConnection("a")
	b := newStubConnection("b")
	_, _ = r.AddConnection(a, "u1")
	_, _ = r.AddConnection(b, "u1")

	userID, ok := r.RemoveConnection(a)
	assert.True(t, ok)
	assert.Equal(t, "u1", userID)
	assert.Equal(t, []string{"u1"}, r.ListUserIDs(), "user stays online while a device remains")

	_, ok = r.RemoveConnection(b)
	assert.True(t, ok)
	assert.Empty(t, r.ListUserIDs())

	_, ok = r.RemoveConnection(b)
	assert.False(t, ok, "unknown handle")
	_, ok = r.RemoveConnection(nil)
	assert.False(t, ok)
}

func TestRegistry_LookupUnknown(t *testing.T) {
	r := NewRegistry()

	_, ok := r.LookupUserID(newStubConnection("x"))
	assert.False(t, ok)
	_, ok = r.LookupUserID(nil)
	assert.False(t, ok)
	assert.Empty(t, r.LookupHandles("nobody"))
	assert.NotNil(t, r.LookupHandles("nobody"))
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			conn := newStubConnection(fmt.Sprintf("conn-%d", n))
			userID := fmt.Sprintf("user-%d", n%5)
			_, _ = r.AddConnection(conn, userID)
			_ = r.LookupHandles(userID)
			_ = r.ListUserIDs()
			if n%2 == 0 {
				r.RemoveConnection(conn)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 25, r.GetStats()["total_connections"])
	assert.Len(t, r.ListUserIDs(), 5)
}
