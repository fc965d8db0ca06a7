package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/opsdeck/opsdeck/internal/roles"
	"github.com/opsdeck/opsdeck/internal/shared"
)

type stubRepo struct {
	cred *Credential
}

func (s *stubRepo) FindByUsername(_ context.Context, username string) (Credential, error) {
	if s.cred == nil || s.cred.Username != username {
		return Credential{}, shared.ErrNotFound
	}
	return *s.cred, nil
}

func testService(t *testing.T, repo Repository) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewService(repo, NewSessionStore(client, time.Hour))
}

func hashedCredential(t *testing.T, password string) *Credential {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return &Credential{
		ID:           4,
		Username:     "lenny",
		PasswordHash: string(hash),
		Role:         roles.Technician,
		IsActive:     true,
	}
}

func TestAuthenticateRoundTrip(t *testing.T) {
	svc := testService(t, &stubRepo{cred: hashedCredential(t, "correct horse")})

	actor, token, err := svc.Authenticate(context.Background(), "lenny", "correct horse")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.Equal(t, "lenny", actor.Username)
	require.Equal(t, roles.Technician, actor.Role)

	resolved, err := svc.Resolve(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, actor, resolved)

	require.NoError(t, svc.Logout(context.Background(), token))
	_, err = svc.Resolve(context.Background(), token)
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestAuthenticateFailuresLookAlike(t *testing.T) {
	svc := testService(t, &stubRepo{cred: hashedCredential(t, "correct horse")})

	_, _, err := svc.Authenticate(context.Background(), "lenny", "wrong")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	_, _, err = svc.Authenticate(context.Background(), "nobody", "correct horse")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestAuthenticateRejectsInactive(t *testing.T) {
	cred := hashedCredential(t, "correct horse")
	cred.IsActive = false
	svc := testService(t, &stubRepo{cred: cred})

	_, _, err := svc.Authenticate(context.Background(), "lenny", "correct horse")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}
