package interfaces

// Connection represents one live client transport session (one device or tab).
// It is the opaque handle the registry stores under a user ID.
type Connection interface {
	// ID returns the server-assigned handle identifier, unique per connection
	ID() string

	// WriteJSON sends a JSON message to the client (thread-safe).
	// Implementations must serialize writes through a single writer.
	WriteJSON(v interface{}) error

	// Close closes the connection and cleans up resources
	Close() error

	// GetUserID returns the authenticated user's ID
	GetUserID() string

	// IsAuthenticated returns true once the handshake has been accepted
	IsAuthenticated() bool

	// SetCredentials binds the connection to a user after authentication
	SetCredentials(userID string) error
}
