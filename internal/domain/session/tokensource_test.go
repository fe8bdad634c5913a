package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenSourceWithoutSession(t *testing.T) {
	f := newFixture(t, testConfig())
	_, err := f.manager.TokenSource(context.Background()).Token()
	require.ErrorIs(t, err, ErrNoSession)
}

func TestTokenSourceRefreshesNearExpiry(t *testing.T) {
	f := newFixture(t, testConfig())
	f.login(t)
	src := f.manager.TokenSource(context.Background())

	tok, err := src.Token()
	require.NoError(t, err)
	require.Equal(t, "A1", tok.AccessToken)
	require.Equal(t, "Bearer", tok.TokenType)
	require.Equal(t, testStart.Add(300*time.Second), tok.Expiry)

	f.api.refreshFn = func(context.Context, string) (TokenPair, error) {
		return TokenPair{Access: "A2", Refresh: "R2"}, nil
	}
	f.clock.Advance(250 * time.Second)
	tok, err = src.Token()
	require.NoError(t, err)
	require.Equal(t, "A2", tok.AccessToken)
	require.Equal(t, f.clock.Now().Add(300*time.Second), tok.Expiry)
	require.Equal(t, 1, f.api.count("refresh"))
}

func TestTokenSourceFailedRefreshReturnsError(t *testing.T) {
	f := newFixture(t, testConfig())
	f.login(t)
	f.api.forceLogoutFn = func(context.Context, string) error { return nil }
	f.api.refreshFn = func(context.Context, string) (TokenPair, error) {
		return TokenPair{}, errBackend
	}
	f.clock.Advance(250 * time.Second)

	tok, err := f.manager.TokenSource(context.Background()).Token()
	require.ErrorIs(t, err, errBackend)
	require.Nil(t, tok)
	require.Equal(t, 1, f.api.count("refresh"))
}

func TestTokenSourceSkipsRefreshWhenContextMarked(t *testing.T) {
	f := newFixture(t, testConfig())
	f.login(t)
	f.clock.Advance(250 * time.Second)

	tok, err := f.manager.TokenSource(WithoutProactiveRefresh(context.Background())).Token()
	require.NoError(t, err)
	require.Equal(t, "A1", tok.AccessToken)
	require.Zero(t, f.api.count("refresh"))
}
