package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/quasarchat/quasar-server/internal/store"
)

type fakeDirectory struct {
	user *store.User
}

func (d *fakeDirectory) UserByUsername(_ context.Context, username string) (*store.User, error) {
	if d.user != nil && d.user.Username == username {
		return d.user, nil
	}
	return nil, store.ErrNotFound
}

func (d *fakeDirectory) Channel(context.Context, uuid.UUID) (*store.Channel, error) {
	return nil, store.ErrNotFound
}

func (d *fakeDirectory) IsServerMember(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return false, nil
}

func (d *fakeDirectory) VoiceChannelIDs(context.Context, uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

func (d *fakeDirectory) Close() error { return nil }

func testJWTConfig() *JWTConfig {
	return &JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "quasar-test",
		Audience: "quasar-clients",
		TTL:      time.Hour,
	}
}

func TestLoginAndAuthenticate(t *testing.T) {
	hash, err := HashPassword("hunter22")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	userID := uuid.New()
	svc := NewService(&fakeDirectory{user: &store.User{
		ID:           userID,
		Username:     "alice",
		PasswordHash: hash,
	}}, testJWTConfig())

	token, err := svc.Login(context.Background(), "alice", "hunter22")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	got, err := svc.Authenticate(token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got != userID {
		t.Fatalf("authenticated as %s, want %s", got, userID)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	hash, _ := HashPassword("hunter22")
	svc := NewService(&fakeDirectory{user: &store.User{
		ID:           uuid.New(),
		Username:     "alice",
		PasswordHash: hash,
	}}, testJWTConfig())

	if _, err := svc.Login(context.Background(), "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(context.Background(), "nobody", "hunter22"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	svc := NewService(&fakeDirectory{}, testJWTConfig())

	if _, err := svc.Authenticate("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	// Token signed with a different secret.
	otherCfg := testJWTConfig()
	otherCfg.Secret = []byte("other-secret")
	token, err := GenerateToken(otherCfg, uuid.New(), "mallory")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	if _, err := svc.Authenticate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	// Expired token.
	expiredCfg := testJWTConfig()
	expiredCfg.TTL = -time.Minute
	token, err = GenerateToken(expiredCfg, uuid.New(), "alice")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	if _, err := svc.Authenticate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
