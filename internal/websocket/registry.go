package websocket

import (
	"sort"
	"sync"

	"aiscript/pkg/interfaces"
)

// Registry maps users to the set of connections they hold open.
// A user may be connected from several devices at once. The registry is
// pure bookkeeping: it never writes to a connection.
type Registry struct {
	mu     sync.RWMutex
	users  map[string]map[string]interfaces.Connection // userID -> handleID -> Connection
	owners map[string]string                           // handleID -> userID
}

// NewRegistry creates an empty connection registry
func NewRegistry() *Registry {
	return &Registry{
		users:  make(map[string]map[string]interfaces.Connection),
		owners: make(map[string]string),
	}
}

// AddConnection registers conn under userID, creating the user's record on first use.
// Registering the same handle twice does not duplicate it. A handle previously owned by
// another user is moved.
func (r *Registry) AddConnection(conn interfaces.Connection, userID string) (string, error) {
	if conn == nil {
		return "", ErrNilConnection
	}
	if userID == "" {
		return "", ErrEmptyUserID
	}

	handleID := conn.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if previous, exists := r.owners[handleID]; exists && previous != userID {
		r.detach(handleID, previous)
	}

	handles, exists := r.users[userID]
	if !exists {
		handles = make(map[string]interfaces.Connection)
		r.users[userID] = handles
	}
	handles[handleID] = conn
	r.owners[handleID] = userID

	return userID, nil
}

// RemoveConnection unregisters conn and deletes its user's record once empty.
// ok is false when the handle was not registered.
func (r *Registry) RemoveConnection(conn interfaces.Connection) (userID string, ok bool) {
	if conn == nil {
		return "", false
	}

	handleID := conn.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok = r.owners[handleID]
	if !ok {
		return "", false
	}
	r.detach(handleID, userID)
	return userID, true
}

// detach removes one handle; the caller holds the write lock.
func (r *Registry) detach(handleID, userID string) {
	delete(r.owners, handleID)
	if handles, exists := r.users[userID]; exists {
		delete(handles, handleID)
		if len(handles) == 0 {
			delete(r.users, userID)
		}
	}
}

// LookupUserID returns the user owning conn.
func (r *Registry) LookupUserID(conn interfaces.Connection) (string, bool) {
	if conn == nil {
		return "", false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	userID, ok := r.owners[conn.ID()]
	return userID, ok
}

// LookupHandles returns every connection of userID, ordered by handle ID.
func (r *Registry) LookupHandles(userID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handles := r.users[userID]
	connections := make([]interfaces.Connection, 0, len(handles))
	for _, conn := range handles {
		connections = append(connections, conn)
	}
	sortByID(connections)
	return connections
}

// ListUserIDs returns the online users, sorted.
func (r *Registry) ListUserIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userIDs := make([]string, 0, len(r.users))
	for userID := range r.users {
		userIDs = append(userIDs, userID)
	}
	sort.Strings(userIDs)
	return userIDs
}

// AllConnections returns every registered connection for broadcasting.
func (r *Registry) AllConnections() []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connections := make([]interfaces.Connection, 0, len(r.owners))
	for _, handles := range r.users {
		for _, conn := range handles {
			connections = append(connections, conn)
		}
	}
	sortByID(connections)
	return connections
}

// GetStats returns registry statistics for monitoring and debugging
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections": len(r.owners),
		"online_users":      len(r.users),
	}
}

func sortByID(connections []interfaces.Connection) {
	sort.Slice(connections, func(i, j int) bool {
		return connections[i].ID() < connections[j].ID()
	})
}
