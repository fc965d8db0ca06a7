package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opsdeck/opsdeck/internal/identity"
	"github.com/opsdeck/opsdeck/internal/shared"
)

// SessionStore keeps bearer tokens in Redis, mapping each to the
// identity snapshot captured at login.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionStore wraps a Redis client.
func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

func sessionKey(token string) string {
	return "auth:session:" + token
}

// Put stores the actor under token.
func (s *SessionStore) Put(ctx context.Context, token string, actor identity.Actor) error {
	raw, err := json.Marshal(actor)
	if err != nil {
		return fmt.Errorf("auth: marshal session: %w", err)
	}
	return s.client.Set(ctx, sessionKey(token), raw, s.ttl).Err()
}

// Get resolves token to its actor.
func (s *SessionStore) Get(ctx context.Context, token string) (identity.Actor, error) {
	raw, err := s.client.Get(ctx, sessionKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return identity.Actor{}, shared.ErrInvalidCredentials
	}
	if err != nil {
		return identity.Actor{}, err
	}
	var actor identity.Actor
	if err := json.Unmarshal(raw, &actor); err != nil {
		return identity.Actor{}, fmt.Errorf("auth: unmarshal session: %w", err)
	}
	return actor, nil
}

// Delete revokes token.
func (s *SessionStore) Delete(ctx context.Context, token string) error {
	return s.client.Del(ctx, sessionKey(token)).Err()
}
