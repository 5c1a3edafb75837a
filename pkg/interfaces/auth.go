package interfaces

// Authenticator validates handshake credentials before a connection is registered.
// Authentication itself is delegated; the dispatcher only needs both values to exist
// and to be accepted.
type Authenticator interface {
	// Authenticate checks the bearer authorization value for userID.
	// It returns a non-nil error when the connection must be refused.
	Authenticate(authorization, userID string) error
}
