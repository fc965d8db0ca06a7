package auth

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/opsdeck/opsdeck/internal/identity"
	"github.com/opsdeck/opsdeck/internal/shared"
)

// Service wraps authentication business rules.
type Service struct {
	repo     Repository
	sessions *SessionStore
}

// NewService constructs a new Service.
func NewService(repo Repository, sessions *SessionStore) *Service {
	return &Service{repo: repo, sessions: sessions}
}

// Authenticate validates username/password credentials and issues a
// bearer token. Lookup failures and bad passwords are indistinguishable
// to the caller.
func (s *Service) Authenticate(ctx context.Context, username, password string) (identity.Actor, string, error) {
	cred, err := s.repo.FindByUsername(ctx, username)
	if err != nil {
		return identity.Actor{}, "", shared.ErrInvalidCredentials
	}
	if !cred.IsActive {
		return identity.Actor{}, "", shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return identity.Actor{}, "", shared.ErrInvalidCredentials
	}
	actor := cred.Actor()
	token := uuid.NewString()
	if err := s.sessions.Put(ctx, token, actor); err != nil {
		return identity.Actor{}, "", err
	}
	return actor, token, nil
}

// Resolve maps a bearer token back to its actor.
func (s *Service) Resolve(ctx context.Context, token string) (identity.Actor, error) {
	return s.sessions.Get(ctx, token)
}

// Logout revokes a bearer token.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.sessions.Delete(ctx, token)
}
