package auth

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"

	"aiscript/pkg/interfaces"
)

const bearerPrefix = "Bearer "

// Claims is the access token payload issued by the account service.
type Claims struct {
	ID string `json:"id,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthenticator verifies HS256 access tokens presented at the handshake.
type JWTAuthenticator struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTAuthenticator creates an authenticator for tokens signed with secret.
func NewJWTAuthenticator(secret string) (*JWTAuthenticator, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &JWTAuthenticator{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}, nil
}

// Authenticate implements interfaces.Authenticator. Every failure also matches
// interfaces.ErrUnauthorized.
func (a *JWTAuthenticator) Authenticate(authorization, userID string) error {
	if _, err := a.Verify(authorization, userID); err != nil {
		return fmt.Errorf("%w: %w", interfaces.ErrUnauthorized, err)
	}
	return nil
}

// Verify parses the bearer token and returns its claims. When the token carries
// an id claim it must equal userID.
func (a *JWTAuthenticator) Verify(authorization, userID string) (*Claims, error) {
	if authorization == "" {
		return nil, ErrMissingAuthorization
	}
	if userID == "" {
		return nil, ErrMissingUserID
	}
	if !strings.HasPrefix(authorization, bearerPrefix) {
		return nil, ErrMissingToken
	}

	raw := strings.TrimSpace(strings.TrimPrefix(authorization, bearerPrefix))
	if raw == "" {
		return nil, ErrMissingToken
	}

	claims := &Claims{}
	token, err := a.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.ID != "" && claims.ID != userID {
		return nil, ErrUserMismatch
	}

	return claims, nil
}
