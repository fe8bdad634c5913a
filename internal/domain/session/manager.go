package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/yanqian/clinic-console/pkg/errors"
	"github.com/yanqian/clinic-console/pkg/metrics"
	"github.com/yanqian/clinic-console/pkg/observable"
	"github.com/yanqian/clinic-console/pkg/validator"
)

const defaultCallTimeout = 15 * time.Second

// Manager owns the authenticated session: it logs in and out, keeps the
// token pair fresh and publishes the current user. One Manager is built per
// process and shared by everything that needs the session.
type Manager struct {
	cfg       Config
	api       API
	tokens    *TokenStore
	timer     *Timer
	nav       Navigator
	notifier  Notifier
	validator *validator.Validator
	metrics   *metrics.Session
	logger    *slog.Logger

	user          *observable.Value[*User]
	initialized   *observable.Value[bool]
	errorOccurred *observable.Value[bool]

	flight     singleflight.Group
	refreshing atomic.Bool
	// epoch changes every time the session is cleared; in-flight results
	// captured under an older epoch are discarded. Bumped under stateMu.
	epoch   atomic.Uint64
	stateMu sync.Mutex

	mu       sync.Mutex
	lifetime *TokenLifetime
}

// NewManager builds a Manager, seeding the current user from storage.
func NewManager(
	cfg Config,
	api API,
	tokens *TokenStore,
	timer *Timer,
	nav Navigator,
	notifier Notifier,
	v *validator.Validator,
	m *metrics.Session,
	logger *slog.Logger,
) (*Manager, error) {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if nav == nil {
		nav = nopNavigator{}
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if v == nil {
		v = validator.New()
	}
	stored, err := tokens.User(context.Background())
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorage, "failed to read stored user", err)
	}
	return &Manager{
		cfg:           cfg,
		api:           api,
		tokens:        tokens,
		timer:         timer,
		nav:           nav,
		notifier:      notifier,
		validator:     v,
		metrics:       m,
		logger:        logger.With("component", "session.manager"),
		user:          observable.New(stored),
		initialized:   observable.New(false),
		errorOccurred: observable.New(false),
	}, nil
}

// Login authenticates, persists the session and starts the timer. Any
// failure clears whatever was stored so no partial session survives.
func (m *Manager) Login(ctx context.Context, creds Credentials) (LoginResponse, error) {
	if err := m.validator.Validate(creds); err != nil {
		return LoginResponse{}, apperrors.Wrap(apperrors.CodeInvalidInput, err.Error(), nil)
	}
	epoch := m.epoch.Load()
	resp, err := m.api.Login(ctx, creds)
	if err != nil {
		return LoginResponse{}, m.failLogin(ctx, err)
	}
	user := resp.User
	if err := m.storeAuthState(ctx, epoch, resp.Tokens, &user); err != nil {
		return LoginResponse{}, m.failLogin(ctx, err)
	}
	lifetime, err := m.TokenLifetime(ctx)
	if err != nil {
		return LoginResponse{}, m.failLogin(ctx, err)
	}
	m.timer.SetLifetime(lifetime)
	if err := m.armSessionTimer(ctx, epoch, time.Time{}, false); err != nil {
		return LoginResponse{}, m.failLogin(ctx, err)
	}
	m.nav.Navigate(HomeRoute)
	m.metrics.Login(metrics.OutcomeSuccess)
	m.notify(NotificationLoggedIn, "info", "Signed in as "+user.Email+".")
	m.logger.Info("user logged in", "role", user.Role.String())
	return resp, nil
}

func (m *Manager) failLogin(ctx context.Context, cause error) error {
	m.metrics.Login(metrics.OutcomeFailure)
	if errors.Is(cause, ErrSessionEnded) {
		m.logger.Info("discarding login result, session was cleared meanwhile")
		return cause
	}
	if err := m.clearAuthState(ctx); err != nil {
		m.logger.Error("failed to clear session after login failure", "error", err)
	}
	m.logger.Warn("login failed", "error", cause)
	return cause
}

// Logout revokes the refresh token and clears the local session. When the
// backend call fails the local session is kept unless ClearOnLogoutFailure
// is set.
func (m *Manager) Logout(ctx context.Context) error {
	refresh, err := m.tokens.RefreshToken(ctx)
	if err != nil {
		return err
	}
	if err := m.api.Logout(ctx, refresh); err != nil {
		m.logger.Warn("logout call failed", "error", err, "clear_anyway", m.cfg.ClearOnLogoutFailure)
		if m.cfg.ClearOnLogoutFailure {
			if clearErr := m.endSession(ctx); clearErr != nil {
				return errors.Join(err, clearErr)
			}
		}
		return err
	}
	if err := m.endSession(ctx); err != nil {
		return err
	}
	m.notify(NotificationLoggedOut, "info", "Signed out.")
	m.logger.Info("user logged out")
	return nil
}

func (m *Manager) endSession(ctx context.Context) error {
	m.timer.SetSessionActive(false)
	m.nav.Navigate(HomeRoute)
	return m.clearAuthState(ctx)
}

// ForceLogout ends the session server side by email and always clears the
// local session, even without a current user or when the call fails.
func (m *Manager) ForceLogout(ctx context.Context) error {
	var apiErr error
	if user := m.user.Get(); user != nil && user.Email != "" {
		apiErr = m.api.ForceLogout(ctx, user.Email)
		if apiErr != nil {
			m.logger.Warn("force logout call failed", "error", apiErr)
		}
	} else {
		m.logger.Debug("force logout without a current user")
	}
	m.metrics.ForcedLogout()
	clearErr := m.endSession(ctx)
	if clearErr != nil {
		m.logger.Error("failed to clear session on force logout", "error", clearErr)
	}
	return errors.Join(apiErr, clearErr)
}

// RefreshTokens exchanges the refresh token for a new pair. Concurrent calls
// share one backend request: the caller that started it gets the backend
// error on failure, callers that joined get ErrRefreshFailed. The shared
// request is bounded by CallTimeout rather than by any caller's context, so
// a caller giving up only abandons its own wait. Without a stored refresh
// token it returns nil, nil.
func (m *Manager) RefreshTokens(ctx context.Context) (*TokenPair, error) {
	refresh, err := m.tokens.RefreshToken(ctx)
	if err != nil {
		return nil, err
	}
	if refresh == "" {
		m.metrics.Refresh(metrics.OutcomeSkipped)
		return nil, nil
	}

	initiated := false
	ch := m.flight.DoChan("refresh", func() (any, error) {
		initiated = true
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.CallTimeout)
		defer cancel()
		pair, err := m.doRefresh(flightCtx, refresh)
		if err != nil && !errors.Is(err, ErrSessionEnded) {
			m.forceLogoutDetached(flightCtx, "refresh failed")
		}
		return pair, err
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}

	if initiated {
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*TokenPair), nil
	}

	m.metrics.Refresh(metrics.OutcomeJoined)
	if res.Err != nil {
		return nil, apperrors.Wrap(apperrors.CodeRefreshFailed, "shared token refresh failed", ErrRefreshFailed)
	}
	access, err := m.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	latest, err := m.tokens.RefreshToken(ctx)
	if err != nil {
		return nil, err
	}
	return &TokenPair{Access: access, Refresh: latest}, nil
}

func (m *Manager) doRefresh(ctx context.Context, refresh string) (*TokenPair, error) {
	m.refreshing.Store(true)
	defer m.refreshing.Store(false)

	epoch := m.epoch.Load()
	pair, err := m.api.RefreshTokens(WithoutProactiveRefresh(ctx), refresh)
	if err != nil {
		m.metrics.Refresh(metrics.OutcomeFailure)
		m.logger.Warn("token refresh failed", "error", err)
		return nil, err
	}
	if err := m.storeAuthState(ctx, epoch, pair, m.user.Get()); err != nil {
		return nil, m.refreshStoreError(err, "failed to persist refreshed tokens")
	}
	if err := m.armSessionTimer(ctx, epoch, time.Time{}, false); err != nil {
		return nil, m.refreshStoreError(err, "failed to restart session timer")
	}
	m.metrics.Refresh(metrics.OutcomeSuccess)
	m.notify(NotificationRefreshed, "success", "Session extended.")
	return &pair, nil
}

func (m *Manager) refreshStoreError(err error, message string) error {
	if errors.Is(err, ErrSessionEnded) {
		m.logger.Info("discarding refreshed tokens, session was cleared meanwhile")
		return err
	}
	return apperrors.Wrap(apperrors.CodeStorage, message, err)
}

// InitializeAuthState restores a session persisted by an earlier process.
// It is called once at startup.
func (m *Manager) InitializeAuthState(ctx context.Context) error {
	access, err := m.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}
	if access == "" {
		m.initialized.Set(true)
		m.errorOccurred.Set(false)
		m.user.Set(nil)
		return nil
	}

	epoch := m.epoch.Load()
	user, err := m.api.UserInfo(ctx)
	if err != nil {
		return m.failInitialize(ctx, err)
	}
	refresh, err := m.tokens.RefreshToken(ctx)
	if err != nil {
		return m.failInitialize(ctx, err)
	}
	if err := m.storeAuthState(ctx, epoch, TokenPair{Access: access, Refresh: refresh}, &user); err != nil {
		return m.failInitialize(ctx, err)
	}
	lifetime, err := m.TokenLifetime(ctx)
	if err != nil {
		return m.failInitialize(ctx, err)
	}
	m.initialized.Set(true)
	m.timer.SetLifetime(lifetime)

	start, ok, err := m.timer.StartTimestamp(ctx)
	if err != nil {
		return m.failInitialize(ctx, err)
	}
	if !ok {
		if iat, decoded := issuedAt(access); decoded {
			start = iat
		}
	}
	if err := m.armSessionTimer(ctx, epoch, start, true); err != nil {
		return m.failInitialize(ctx, err)
	}
	m.logger.Info("session restored", "role", user.Role.String())
	return nil
}

func (m *Manager) failInitialize(ctx context.Context, cause error) error {
	if errors.Is(cause, ErrSessionEnded) {
		return cause
	}
	m.errorOccurred.Set(true)
	m.logger.Warn("session restore failed", "error", cause)
	m.forceLogoutDetached(ctx, "restore failed")
	return cause
}

// TokenLifetime returns the backend token lifetime, fetching it once.
func (m *Manager) TokenLifetime(ctx context.Context) (TokenLifetime, error) {
	m.mu.Lock()
	if m.lifetime != nil {
		cached := *m.lifetime
		m.mu.Unlock()
		return cached, nil
	}
	m.mu.Unlock()

	lifetime, err := m.api.TokenLifetime(ctx)
	if err != nil {
		return TokenLifetime{}, err
	}
	m.mu.Lock()
	m.lifetime = &lifetime
	m.mu.Unlock()
	return lifetime, nil
}

// Register creates an account.
func (m *Manager) Register(ctx context.Context, req RegisterRequest) error {
	if err := m.validate(req); err != nil {
		return err
	}
	return m.api.Register(ctx, req)
}

// VerifyEmail confirms an emailed activation link.
func (m *Manager) VerifyEmail(ctx context.Context, params VerificationParams) error {
	if err := m.validate(params); err != nil {
		return err
	}
	return m.api.VerifyEmail(ctx, params)
}

// ResetPassword starts the password reset flow.
func (m *Manager) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	if err := m.validate(req); err != nil {
		return err
	}
	return m.api.ResetPassword(ctx, req)
}

// ConfirmResetPassword sets the new password and navigates home.
func (m *Manager) ConfirmResetPassword(ctx context.Context, params VerificationParams, req ResetPasswordConfirmRequest) error {
	if err := m.validate(params); err != nil {
		return err
	}
	if err := m.validate(req); err != nil {
		return err
	}
	if err := m.api.ConfirmResetPassword(ctx, params, req); err != nil {
		return err
	}
	m.nav.Navigate(HomeRoute)
	return nil
}

// ChangePassword changes the logged in user's password.
func (m *Manager) ChangePassword(ctx context.Context, req ChangePasswordRequest) error {
	if err := m.validate(req); err != nil {
		return err
	}
	return m.api.ChangePassword(ctx, req)
}

// UserInfo fetches the profile of the token holder from the backend.
func (m *Manager) UserInfo(ctx context.Context) (User, error) {
	return m.api.UserInfo(ctx)
}

// AccessToken returns the stored access token or "".
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	return m.tokens.AccessToken(ctx)
}

// RefreshToken returns the stored refresh token or "".
func (m *Manager) RefreshToken(ctx context.Context) (string, error) {
	return m.tokens.RefreshToken(ctx)
}

// CurrentUser returns a copy of the current user, or nil.
func (m *Manager) CurrentUser() *User {
	return m.user.Get().Clone()
}

// UserRole returns the role of the stored user.
func (m *Manager) UserRole(ctx context.Context) (Role, error) {
	return m.tokens.UserRole(ctx)
}

// SubscribeUser streams user changes; values must be treated as read-only.
func (m *Manager) SubscribeUser() (<-chan *User, func()) {
	return m.user.Subscribe()
}

// Initialized reports whether InitializeAuthState has completed.
func (m *Manager) Initialized() bool {
	return m.initialized.Get()
}

// SubscribeInitialized streams the initialized flag.
func (m *Manager) SubscribeInitialized() (<-chan bool, func()) {
	return m.initialized.Subscribe()
}

// ErrorOccurred reports whether restoring the session failed.
func (m *Manager) ErrorOccurred() bool {
	return m.errorOccurred.Get()
}

// Refreshing reports whether a refresh call is in flight.
func (m *Manager) Refreshing() bool {
	return m.refreshing.Load()
}

// SecondsRemaining proxies the session timer.
func (m *Manager) SecondsRemaining(ctx context.Context) (int, bool, error) {
	return m.timer.SecondsRemaining(ctx)
}

// Snapshot is a point in time view of the session.
type Snapshot struct {
	User             *User `json:"user"`
	Initialized      bool  `json:"initialized"`
	ErrorOccurred    bool  `json:"errorOccurred"`
	Active           bool  `json:"active"`
	Refreshing       bool  `json:"refreshing"`
	SecondsRemaining *int  `json:"secondsRemaining"`
}

// Snapshot collects the session state.
func (m *Manager) Snapshot(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{
		User:          m.CurrentUser(),
		Initialized:   m.Initialized(),
		ErrorOccurred: m.ErrorOccurred(),
		Active:        m.timer.SessionActive(),
		Refreshing:    m.Refreshing(),
	}
	seconds, ok, err := m.timer.SecondsRemaining(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if ok {
		snap.SecondsRemaining = &seconds
	}
	return snap, nil
}

// storeAuthState persists tokens and user unless the session was cleared
// since epoch was read.
func (m *Manager) storeAuthState(ctx context.Context, epoch uint64, tokens TokenPair, user *User) error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if err := m.checkEpochLocked(epoch); err != nil {
		return err
	}
	if err := m.tokens.Store(ctx, tokens, user); err != nil {
		return err
	}
	m.user.Set(user.Clone())
	return nil
}

// armSessionTimer is setupSessionTimer guarded by the same epoch check.
func (m *Manager) armSessionTimer(ctx context.Context, epoch uint64, start time.Time, restore bool) error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if err := m.checkEpochLocked(epoch); err != nil {
		return err
	}
	return m.setupSessionTimer(ctx, start, restore)
}

func (m *Manager) checkEpochLocked(epoch uint64) error {
	if m.epoch.Load() != epoch {
		return apperrors.Wrap(apperrors.CodeSessionEnded, "session ended while the request was in flight", ErrSessionEnded)
	}
	return nil
}

func (m *Manager) clearAuthState(ctx context.Context) error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.epoch.Add(1)
	tokenErr := m.tokens.Clear(ctx)
	timerErr := m.timer.ClearAll(ctx)
	m.user.Set(nil)
	return errors.Join(tokenErr, timerErr)
}

// setupSessionTimer persists start (now when zero) and starts or restores
// the countdown; expiry forces a logout.
func (m *Manager) setupSessionTimer(ctx context.Context, start time.Time, restore bool) error {
	if start.IsZero() {
		start = m.timer.clock.Now()
	}
	if err := m.timer.SetStartTimestamp(ctx, start); err != nil {
		return err
	}
	if restore {
		return m.timer.Restore(ctx, m.onExpired)
	}
	return m.timer.Start(ctx, m.onExpired)
}

func (m *Manager) onExpired() {
	m.logger.Info("session expired")
	m.forceLogoutDetached(context.Background(), "session expired")
}

// forceLogoutDetached runs ForceLogout on a context that survives the
// cancellation of the triggering call.
func (m *Manager) forceLogoutDetached(parent context.Context, reason string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), m.cfg.CallTimeout)
	defer cancel()
	if err := m.ForceLogout(ctx); err != nil {
		m.logger.Warn("forced logout finished with error", "reason", reason, "error", err)
		return
	}
	m.logger.Info("forced logout", "reason", reason)
}

func (m *Manager) validate(v any) error {
	if err := m.validator.Validate(v); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidInput, err.Error(), nil)
	}
	return nil
}

func (m *Manager) notify(kind NotificationKind, level, message string) {
	m.notifier.Notify(Notification{Kind: kind, Level: level, Message: message, At: m.timer.clock.Now()})
}
