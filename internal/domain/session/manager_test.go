package session

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	apperrors "github.com/yanqian/clinic-console/pkg/errors"
)

func TestLoginStoresSessionAndStartsTimer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	f.login(t)

	access, err := f.manager.AccessToken(ctx)
	require.NoError(t, err)
	require.Equal(t, "A1", access)
	refresh, err := f.manager.RefreshToken(ctx)
	require.NoError(t, err)
	require.Equal(t, "R1", refresh)

	user := f.manager.CurrentUser()
	require.NotNil(t, user)
	require.Equal(t, "a@b.com", user.Email)
	role, err := f.manager.UserRole(ctx)
	require.NoError(t, err)
	require.Equal(t, RolePatient, role)

	seconds, ok, err := f.manager.SecondsRemaining(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 300, seconds)
	require.True(t, f.timer.SessionActive())
	require.True(t, f.timer.Running())
	require.Equal(t, HomeRoute, f.nav.last())
	require.Equal(t, 1, f.notes.countKind(NotificationLoggedIn))
}

func TestLoginRejectsInvalidCredentials(t *testing.T) {
	f := newFixture(t, testConfig())
	_, err := f.manager.Login(context.Background(), Credentials{Email: "not-an-email", Password: ""})
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, apperrors.CodeInvalidInput))
	require.Zero(t, f.api.count("login"))
}

func TestLoginFailureLeavesNoPartialSession(t *testing.T) {
	f := newFixture(t, testConfig())
	f.api.loginFn = patientLogin("A1", "R1")
	f.api.lifetimeFn = func(context.Context) (TokenLifetime, error) {
		return TokenLifetime{}, errBackend
	}

	_, err := f.manager.Login(context.Background(), Credentials{Email: "a@b.com", Password: "x"})
	require.ErrorIs(t, err, errBackend)
	require.Zero(t, f.kv.len())
	require.Nil(t, f.manager.CurrentUser())
	require.False(t, f.timer.Running())
}

func TestLoginBackendErrorClearsStaleSession(t *testing.T) {
	ctx := context.Background()
	kv := newMemoryKV()
	require.NoError(t, kv.Set(ctx, keyAccessToken, "stale"))
	require.NoError(t, kv.Set(ctx, keyRefreshToken, "stale"))
	f := newFixtureWithKV(t, testConfig(), kv)

	_, err := f.manager.Login(ctx, Credentials{Email: "a@b.com", Password: "x"})
	require.ErrorIs(t, err, errBackend)
	require.Zero(t, kv.len())
}

func TestConcurrentRefreshSharesOneCall(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	f.login(t)

	started := make(chan struct{})
	release := make(chan struct{})
	var sent string
	f.api.refreshFn = func(_ context.Context, refresh string) (TokenPair, error) {
		sent = refresh
		close(started)
		<-release
		return TokenPair{Access: "A2", Refresh: "R2"}, nil
	}

	const callers = 5
	results := make([]*TokenPair, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = f.manager.RefreshTokens(ctx)
	}()
	<-started
	require.True(t, f.manager.Refreshing())

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.manager.RefreshTokens(ctx)
		}(i)
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, 1, f.api.count("refresh"))
	require.Equal(t, "R1", sent)
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, &TokenPair{Access: "A2", Refresh: "R2"}, results[i])
	}
	require.False(t, f.manager.Refreshing())
	access, _ := f.manager.AccessToken(ctx)
	require.Equal(t, "A2", access)
	require.Equal(t, 1, f.notes.countKind(NotificationRefreshed))
}

func TestRefreshFailureRejectsWaitersAndForcesLogout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	f.login(t)

	started := make(chan struct{})
	release := make(chan struct{})
	f.api.refreshFn = func(context.Context, string) (TokenPair, error) {
		close(started)
		<-release
		return TokenPair{}, errBackend
	}

	const callers = 4
	errs := make([]error, callers)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[0] = f.manager.RefreshTokens(ctx)
	}()
	<-started
	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.manager.RefreshTokens(ctx)
		}(i)
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	require.ErrorIs(t, errs[0], errBackend)
	for i := 1; i < callers; i++ {
		require.ErrorIs(t, errs[i], ErrRefreshFailed)
		require.True(t, apperrors.IsCode(errs[i], apperrors.CodeRefreshFailed))
	}
	require.Equal(t, 1, f.api.count("refresh"))
	require.Equal(t, 1, f.api.count("forceLogout"))
	require.Equal(t, []string{"a@b.com"}, f.api.forcedEmails)
	require.False(t, f.manager.Refreshing())
	require.Nil(t, f.manager.CurrentUser())
	require.Zero(t, f.kv.len())
}

func TestRefreshFlagResetsAfterEachOutcome(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	f.login(t)

	f.api.refreshFn = func(context.Context, string) (TokenPair, error) {
		return TokenPair{Access: "A2", Refresh: "R2"}, nil
	}
	_, err := f.manager.RefreshTokens(ctx)
	require.NoError(t, err)
	require.False(t, f.manager.Refreshing())

	f.api.refreshFn = func(context.Context, string) (TokenPair, error) {
		return TokenPair{}, errBackend
	}
	_, err = f.manager.RefreshTokens(ctx)
	require.ErrorIs(t, err, errBackend)
	require.False(t, f.manager.Refreshing())
}

func TestRefreshWithoutTokenIsNoop(t *testing.T) {
	f := newFixture(t, testConfig())
	pair, err := f.manager.RefreshTokens(context.Background())
	require.NoError(t, err)
	require.Nil(t, pair)
	require.Zero(t, f.api.count("refresh"))
	require.Zero(t, f.api.count("forceLogout"))
}

func TestRefreshCompletingAfterLogoutIsDiscarded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	f.login(t)

	started := make(chan struct{})
	release := make(chan struct{})
	f.api.refreshFn = func(context.Context, string) (TokenPair, error) {
		close(started)
		<-release
		return TokenPair{Access: "A2", Refresh: "R2"}, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.manager.RefreshTokens(ctx)
		done <- err
	}()
	<-started
	require.NoError(t, f.manager.ForceLogout(ctx))
	close(release)

	err := <-done
	require.ErrorIs(t, err, ErrSessionEnded)
	require.Zero(t, f.kv.len())
	require.Nil(t, f.manager.CurrentUser())
	require.Equal(t, 1, f.api.count("forceLogout"))
	require.False(t, f.manager.Refreshing())
}

func TestRefreshSurvivesInitiatorCancellation(t *testing.T) {
	f := newFixture(t, testConfig())
	f.login(t)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	backendCtxErr := make(chan error, 2)
	f.api.refreshFn = func(ctx context.Context, _ string) (TokenPair, error) {
		once.Do(func() { close(started) })
		<-release
		backendCtxErr <- ctx.Err()
		return TokenPair{Access: "A2", Refresh: "R2"}, nil
	}

	initiatorCtx, cancel := context.WithCancel(context.Background())
	initiatorDone := make(chan error, 1)
	go func() {
		_, err := f.manager.RefreshTokens(initiatorCtx)
		initiatorDone <- err
	}()
	<-started

	type result struct {
		pair *TokenPair
		err  error
	}
	joinerDone := make(chan result, 1)
	go func() {
		pair, err := f.manager.RefreshTokens(context.Background())
		joinerDone <- result{pair, err}
	}()

	cancel()
	require.ErrorIs(t, <-initiatorDone, context.Canceled)
	close(release)

	joined := <-joinerDone
	require.NoError(t, joined.err)
	require.Equal(t, &TokenPair{Access: "A2", Refresh: "R2"}, joined.pair)
	require.NoError(t, <-backendCtxErr)
	require.Zero(t, f.api.count("forceLogout"))

	access, err := f.manager.AccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "A2", access)
	require.NotNil(t, f.manager.CurrentUser())
	require.True(t, f.timer.Running())
}

func TestLoginCompletingAfterLogoutIsDiscarded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	started := make(chan struct{})
	release := make(chan struct{})
	respond := patientLogin("A9", "R9")
	f.api.loginFn = func(ctx context.Context, creds Credentials) (LoginResponse, error) {
		close(started)
		<-release
		return respond(ctx, creds)
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.manager.Login(ctx, Credentials{Email: "a@b.com", Password: "x"})
		done <- err
	}()
	<-started
	require.NoError(t, f.manager.ForceLogout(ctx))
	close(release)

	err := <-done
	require.ErrorIs(t, err, ErrSessionEnded)
	require.True(t, apperrors.IsCode(err, apperrors.CodeSessionEnded))
	require.Zero(t, f.kv.len())
	require.Nil(t, f.manager.CurrentUser())
	require.False(t, f.timer.Running())
}

func TestClearWaitsForInFlightTokenWrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	f.login(t)
	f.api.forceLogoutFn = func(context.Context, string) error { return nil }
	f.api.refreshFn = func(context.Context, string) (TokenPair, error) {
		return TokenPair{Access: "A2", Refresh: "R2"}, nil
	}

	writing := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.kv.mu.Lock()
	f.kv.setHook = func(string) {
		once.Do(func() {
			close(writing)
			<-release
		})
	}
	f.kv.mu.Unlock()

	refreshDone := make(chan error, 1)
	go func() {
		_, err := f.manager.RefreshTokens(ctx)
		refreshDone <- err
	}()
	<-writing

	logoutDone := make(chan error, 1)
	go func() {
		logoutDone <- f.manager.ForceLogout(ctx)
	}()
	select {
	case <-logoutDone:
		t.Fatal("session cleared while refreshed tokens were being written")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	require.NoError(t, <-logoutDone)
	if err := <-refreshDone; err != nil {
		require.ErrorIs(t, err, ErrSessionEnded)
	}
	require.Zero(t, f.kv.len())
	require.Nil(t, f.manager.CurrentUser())
	require.False(t, f.timer.Running())
	require.Equal(t, 1, f.api.count("forceLogout"))
}

func TestForceLogoutWithoutUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.manager.ForceLogout(ctx)
		}(i)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Zero(t, f.api.count("forceLogout"))
	require.Zero(t, f.kv.len())
}

func TestForceLogoutClearsEvenWhenCallFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	f.login(t)
	f.api.forceLogoutFn = func(context.Context, string) error { return errBackend }

	err := f.manager.ForceLogout(ctx)
	require.ErrorIs(t, err, errBackend)
	require.Zero(t, f.kv.len())
	require.Nil(t, f.manager.CurrentUser())
	require.False(t, f.timer.SessionActive())
	require.False(t, f.timer.Running())
	require.Equal(t, HomeRoute, f.nav.last())
}

func TestLogoutClearsSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	f.login(t)

	var revoked string
	f.api.logoutFn = func(_ context.Context, refresh string) error {
		revoked = refresh
		return nil
	}
	require.NoError(t, f.manager.Logout(ctx))
	require.Equal(t, "R1", revoked)
	require.Zero(t, f.kv.len())
	require.Nil(t, f.manager.CurrentUser())
	require.False(t, f.timer.SessionActive())
	require.Equal(t, 1, f.notes.countKind(NotificationLoggedOut))
}

func TestLogoutFailureKeepsSessionByDefault(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	f.login(t)
	f.api.logoutFn = func(context.Context, string) error { return errBackend }

	require.ErrorIs(t, f.manager.Logout(ctx), errBackend)
	access, _ := f.manager.AccessToken(ctx)
	require.Equal(t, "A1", access)
	require.NotNil(t, f.manager.CurrentUser())
}

func TestLogoutFailureClearsWhenConfigured(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.ClearOnLogoutFailure = true
	f := newFixture(t, cfg)
	f.login(t)
	f.api.logoutFn = func(context.Context, string) error { return errBackend }

	require.ErrorIs(t, f.manager.Logout(ctx), errBackend)
	require.Zero(t, f.kv.len())
	require.Nil(t, f.manager.CurrentUser())
}

func TestSessionExpiryForcesLogout(t *testing.T) {
	f := newFixture(t, testConfig())
	f.login(t)

	f.clock.Advance(299 * time.Second)
	require.Zero(t, f.api.count("forceLogout"))

	f.clock.Advance(time.Second)
	require.Equal(t, 1, f.api.count("forceLogout"))
	require.Equal(t, []string{"a@b.com"}, f.api.forcedEmails)
	require.Nil(t, f.manager.CurrentUser())
	require.Zero(t, f.kv.len())
	require.Equal(t, 1, f.notes.countKind(NotificationExpired))
}

func TestInitializeWithoutStoredSession(t *testing.T) {
	f := newFixture(t, testConfig())
	require.NoError(t, f.manager.InitializeAuthState(context.Background()))
	require.True(t, f.manager.Initialized())
	require.False(t, f.manager.ErrorOccurred())
	require.Nil(t, f.manager.CurrentUser())
	require.Zero(t, f.api.count("userInfo"))
}

func storedSession(t *testing.T, access string) *memoryKV {
	t.Helper()
	ctx := context.Background()
	kv := newMemoryKV()
	require.NoError(t, kv.Set(ctx, keyAccessToken, access))
	require.NoError(t, kv.Set(ctx, keyRefreshToken, "R1"))
	payload, err := json.Marshal(User{Email: "a@b.com", Role: RolePatient})
	require.NoError(t, err)
	require.NoError(t, kv.Set(ctx, keyUser, string(payload)))
	return kv
}

func returnUser(context.Context) (User, error) {
	return User{Email: "a@b.com", FirstName: "Ada", Role: RolePatient}, nil
}

func TestInitializeRestoresFromIssuedAt(t *testing.T) {
	ctx := context.Background()
	access := signedToken(t, jwt.MapClaims{"iat": testStart.Add(-100 * time.Second).Unix()})
	f := newFixtureWithKV(t, testConfig(), storedSession(t, access))
	f.api.userInfoFn = returnUser

	require.NoError(t, f.manager.InitializeAuthState(ctx))
	require.True(t, f.manager.Initialized())
	require.Equal(t, "Ada", f.manager.CurrentUser().FirstName)

	seconds, ok, err := f.manager.SecondsRemaining(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 200, seconds)
	require.True(t, f.timer.Running())
}

func TestInitializePrefersPersistedTimestamp(t *testing.T) {
	ctx := context.Background()
	access := signedToken(t, jwt.MapClaims{"iat": testStart.Add(-100 * time.Second).Unix()})
	kv := storedSession(t, access)
	require.NoError(t, kv.Set(ctx, keyTimerStartedAt, strconv.FormatInt(testStart.Add(-250*time.Second).UnixMilli(), 10)))
	f := newFixtureWithKV(t, testConfig(), kv)
	f.api.userInfoFn = returnUser

	require.NoError(t, f.manager.InitializeAuthState(ctx))
	seconds, _, err := f.manager.SecondsRemaining(ctx)
	require.NoError(t, err)
	require.Equal(t, 50, seconds)
}

func TestInitializeOpaqueTokenStartsNow(t *testing.T) {
	ctx := context.Background()
	f := newFixtureWithKV(t, testConfig(), storedSession(t, "opaque-token"))
	f.api.userInfoFn = returnUser

	require.NoError(t, f.manager.InitializeAuthState(ctx))
	seconds, _, err := f.manager.SecondsRemaining(ctx)
	require.NoError(t, err)
	require.Equal(t, 300, seconds)
}

func TestInitializeFailureForcesLogout(t *testing.T) {
	ctx := context.Background()
	f := newFixtureWithKV(t, testConfig(), storedSession(t, "A1"))
	f.api.userInfoFn = func(context.Context) (User, error) { return User{}, errBackend }

	err := f.manager.InitializeAuthState(ctx)
	require.ErrorIs(t, err, errBackend)
	require.True(t, f.manager.ErrorOccurred())
	require.False(t, f.manager.Initialized())
	require.Equal(t, []string{"a@b.com"}, f.api.forcedEmails)
	require.Zero(t, f.kv.len())
}

func TestNewManagerSeedsUserFromStorage(t *testing.T) {
	f := newFixtureWithKV(t, testConfig(), storedSession(t, "A1"))
	user := f.manager.CurrentUser()
	require.NotNil(t, user)
	require.Equal(t, "a@b.com", user.Email)

	user.Email = "mutated@b.com"
	require.Equal(t, "a@b.com", f.manager.CurrentUser().Email)
}

func TestSubscribeUserSeesLoginAndLogout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	ch, cancel := f.manager.SubscribeUser()
	defer cancel()
	require.Nil(t, <-ch)

	f.login(t)
	require.Equal(t, "a@b.com", (<-ch).Email)

	require.NoError(t, f.manager.ForceLogout(ctx))
	require.Nil(t, <-ch)
}

func TestTokenLifetimeIsFetchedOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())
	for i := 0; i < 3; i++ {
		lifetime, err := f.manager.TokenLifetime(ctx)
		require.NoError(t, err)
		require.Equal(t, 300, lifetime.AccessTokenLifetimeSeconds)
	}
	require.Equal(t, 1, f.api.count("lifetime"))
}

func TestSnapshotReflectsSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	snap, err := f.manager.Snapshot(ctx)
	require.NoError(t, err)
	require.Nil(t, snap.User)
	require.Nil(t, snap.SecondsRemaining)

	f.login(t)
	f.clock.Advance(30 * time.Second)
	snap, err = f.manager.Snapshot(ctx)
	require.NoError(t, err)
	require.True(t, snap.Active)
	require.NotNil(t, snap.SecondsRemaining)
	require.Equal(t, 270, *snap.SecondsRemaining)
}

func TestPassThroughValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig())

	err := f.manager.Register(ctx, RegisterRequest{Email: "bad"})
	require.True(t, apperrors.IsCode(err, apperrors.CodeInvalidInput))
	require.Zero(t, f.api.count("register"))

	err = f.manager.ChangePassword(ctx, ChangePasswordRequest{
		OldPassword:     "old-secret",
		Password:        "new-secret",
		PasswordConfirm: "different",
	})
	require.True(t, apperrors.IsCode(err, apperrors.CodeInvalidInput))
	require.Zero(t, f.api.count("changePassword"))

	err = f.manager.ConfirmResetPassword(ctx,
		VerificationParams{UID: "MQ", Token: "abc-123"},
		ResetPasswordConfirmRequest{Password: "new-secret", PasswordConfirm: "new-secret"},
	)
	require.NoError(t, err)
	require.Equal(t, 1, f.api.count("confirmResetPassword"))
	require.Equal(t, HomeRoute, f.nav.last())
}
