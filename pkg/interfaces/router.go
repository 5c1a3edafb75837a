package interfaces

// EventRouter delivers outbound events to connected clients.
type EventRouter interface {
	// Broadcast sends an event to every registered connection
	Broadcast(event string, data interface{})

	// SendToUser sends an event to every connection of one user and
	// returns the number of connections it was delivered to
	SendToUser(userID, event string, data interface{}) int

	// SendToConnection sends an event to a single connection
	SendToConnection(conn Connection, event string, data interface{}) bool

	// BroadcastUsers sends the online user list to every connection
	BroadcastUsers()
}
