package session

import (
	"context"
	"encoding/json"
)

const (
	keyAccessToken    = "access_token"
	keyRefreshToken   = "refresh_token"
	keyUser           = "user"
	keyTimerStartedAt = "token_start_timestamp"
)

// TokenStore persists the token pair and user snapshot.
type TokenStore struct {
	kv KeyValueStore
}

// NewTokenStore wraps kv.
func NewTokenStore(kv KeyValueStore) *TokenStore {
	return &TokenStore{kv: kv}
}

// Store writes the tokens and the user.
func (s *TokenStore) Store(ctx context.Context, tokens TokenPair, user *User) error {
	if err := s.kv.Set(ctx, keyAccessToken, tokens.Access); err != nil {
		return err
	}
	if err := s.kv.Set(ctx, keyRefreshToken, tokens.Refresh); err != nil {
		return err
	}
	payload, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, keyUser, string(payload))
}

// Clear removes tokens and user. Clearing an empty store is not an error.
func (s *TokenStore) Clear(ctx context.Context) error {
	return s.kv.Delete(ctx, keyAccessToken, keyRefreshToken, keyUser)
}

// AccessToken returns the stored access token or "".
func (s *TokenStore) AccessToken(ctx context.Context) (string, error) {
	return s.get(ctx, keyAccessToken)
}

// RefreshToken returns the stored refresh token or "".
func (s *TokenStore) RefreshToken(ctx context.Context) (string, error) {
	return s.get(ctx, keyRefreshToken)
}

// User returns the stored user, or nil when absent or unreadable.
func (s *TokenStore) User(ctx context.Context) (*User, error) {
	raw, err := s.get(ctx, keyUser)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	var user *User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, nil
	}
	return user, nil
}

// UserRole returns the stored user's role or "".
func (s *TokenStore) UserRole(ctx context.Context) (Role, error) {
	user, err := s.User(ctx)
	if err != nil || user == nil {
		return "", err
	}
	return user.Role, nil
}

func (s *TokenStore) get(ctx context.Context, key string) (string, error) {
	value, ok, err := s.kv.Get(ctx, key)
	if err != nil || !ok {
		return "", err
	}
	return value, nil
}
