package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/quasarchat/quasar-server/internal/store"
)

var (
	// ErrInvalidCredentials is returned when username/password don't match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken is returned when a connection token fails validation.
	ErrInvalidToken = errors.New("invalid token")
)

// Service validates gateway connection tokens and issues them on login.
type Service struct {
	store     store.Directory
	jwtConfig *JWTConfig
}

// NewService creates a new authentication service.
func NewService(directory store.Directory, jwtConfig *JWTConfig) *Service {
	return &Service{
		store:     directory,
		jwtConfig: jwtConfig,
	}
}

// Login validates credentials and returns a JWT token for WebSocket access.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.store.UserByUsername(ctx, username)
	if err != nil {
		return "", ErrInvalidCredentials
	}

	if errPwd := ComparePassword(user.PasswordHash, password); errPwd != nil {
		return "", ErrInvalidCredentials
	}

	token, err := GenerateToken(s.jwtConfig, user.ID, user.Username)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	return token, nil
}

// Authenticate resolves a connection token to a user ID. WebSocket clients
// pass the token as a query parameter since the transport cannot carry
// custom headers.
func (s *Service) Authenticate(token string) (uuid.UUID, error) {
	claims, err := ValidateToken(s.jwtConfig, token)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return claims.UserID, nil
}
