package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/yanqian/clinic-console/pkg/clock"
)

var errBackend = errors.New("backend unavailable")

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memoryKV struct {
	mu     sync.Mutex
	values map[string]string
	setErr error
	// setHook runs before every Set, outside the lock.
	setHook func(key string)
}

func newMemoryKV() *memoryKV {
	return &memoryKV{values: make(map[string]string)}
}

func (m *memoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memoryKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	hook := m.setHook
	m.mu.Unlock()
	if hook != nil {
		hook(key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.values[key] = value
	return nil
}

func (m *memoryKV) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

func (m *memoryKV) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}

type stubAPI struct {
	mu                sync.Mutex
	calls             map[string]int
	forcedEmails      []string
	loginFn           func(ctx context.Context, creds Credentials) (LoginResponse, error)
	logoutFn          func(ctx context.Context, refresh string) error
	forceLogoutFn     func(ctx context.Context, email string) error
	refreshFn         func(ctx context.Context, refresh string) (TokenPair, error)
	userInfoFn        func(ctx context.Context) (User, error)
	lifetimeFn        func(ctx context.Context) (TokenLifetime, error)
	confirmResetFn    func(ctx context.Context, params VerificationParams, req ResetPasswordConfirmRequest) error
	changePasswordErr error
}

func newStubAPI() *stubAPI {
	return &stubAPI{calls: make(map[string]int)}
}

func (s *stubAPI) record(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[name]++
}

func (s *stubAPI) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func (s *stubAPI) Login(ctx context.Context, creds Credentials) (LoginResponse, error) {
	s.record("login")
	if s.loginFn == nil {
		return LoginResponse{}, errBackend
	}
	return s.loginFn(ctx, creds)
}

func (s *stubAPI) Logout(ctx context.Context, refresh string) error {
	s.record("logout")
	if s.logoutFn == nil {
		return nil
	}
	return s.logoutFn(ctx, refresh)
}

func (s *stubAPI) ForceLogout(ctx context.Context, email string) error {
	s.record("forceLogout")
	s.mu.Lock()
	s.forcedEmails = append(s.forcedEmails, email)
	s.mu.Unlock()
	if s.forceLogoutFn == nil {
		return nil
	}
	return s.forceLogoutFn(ctx, email)
}

func (s *stubAPI) Register(context.Context, RegisterRequest) error {
	s.record("register")
	return nil
}

func (s *stubAPI) VerifyEmail(context.Context, VerificationParams) error {
	s.record("verifyEmail")
	return nil
}

func (s *stubAPI) ResetPassword(context.Context, ResetPasswordRequest) error {
	s.record("resetPassword")
	return nil
}

func (s *stubAPI) ConfirmResetPassword(ctx context.Context, params VerificationParams, req ResetPasswordConfirmRequest) error {
	s.record("confirmResetPassword")
	if s.confirmResetFn == nil {
		return nil
	}
	return s.confirmResetFn(ctx, params, req)
}

func (s *stubAPI) ChangePassword(context.Context, ChangePasswordRequest) error {
	s.record("changePassword")
	return s.changePasswordErr
}

func (s *stubAPI) RefreshTokens(ctx context.Context, refresh string) (TokenPair, error) {
	s.record("refresh")
	if s.refreshFn == nil {
		return TokenPair{}, errBackend
	}
	return s.refreshFn(ctx, refresh)
}

func (s *stubAPI) UserInfo(ctx context.Context) (User, error) {
	s.record("userInfo")
	if s.userInfoFn == nil {
		return User{}, errBackend
	}
	return s.userInfoFn(ctx)
}

func (s *stubAPI) TokenLifetime(ctx context.Context) (TokenLifetime, error) {
	s.record("lifetime")
	if s.lifetimeFn == nil {
		return TokenLifetime{AccessTokenLifetimeSeconds: 300}, nil
	}
	return s.lifetimeFn(ctx)
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []Notification
}

func (r *recordingNotifier) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recordingNotifier) kinds() []NotificationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]NotificationKind, 0, len(r.notes))
	for _, n := range r.notes {
		out = append(out, n.Kind)
	}
	return out
}

func (r *recordingNotifier) countKind(kind NotificationKind) int {
	n := 0
	for _, k := range r.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

type recordingNavigator struct {
	mu     sync.Mutex
	routes []string
}

func (r *recordingNavigator) Navigate(route string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route)
}

func (r *recordingNavigator) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.routes) == 0 {
		return ""
	}
	return r.routes[len(r.routes)-1]
}

type fixture struct {
	manager *Manager
	timer   *Timer
	api     *stubAPI
	kv      *memoryKV
	clock   *clock.Fake
	nav     *recordingNavigator
	notes   *recordingNotifier
}

var testStart = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		ExpiryBuffer:     60 * time.Second,
		ExpiredFireDelay: 300 * time.Millisecond,
		CallTimeout:      time.Second,
	}
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	return newFixtureWithKV(t, cfg, newMemoryKV())
}

func newFixtureWithKV(t *testing.T, cfg Config, kv *memoryKV) *fixture {
	t.Helper()
	clk := clock.NewFake(testStart)
	notes := &recordingNotifier{}
	nav := &recordingNavigator{}
	api := newStubAPI()
	timer := NewTimer(cfg, kv, clk, notes, nil, newTestLogger())
	m, err := NewManager(cfg, api, NewTokenStore(kv), timer, nav, notes, nil, nil, newTestLogger())
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}
	return &fixture{manager: m, timer: timer, api: api, kv: kv, clock: clk, nav: nav, notes: notes}
}

func patientLogin(access, refresh string) func(context.Context, Credentials) (LoginResponse, error) {
	return func(_ context.Context, creds Credentials) (LoginResponse, error) {
		return LoginResponse{
			Tokens: TokenPair{Access: access, Refresh: refresh},
			User: User{
				ID:        "1",
				Email:     creds.Email,
				FirstName: "Ada",
				LastName:  "Nowak",
				ProfileID: "p-1",
				Role:      RolePatient,
			},
		}, nil
	}
}

func (f *fixture) login(t *testing.T) {
	t.Helper()
	f.api.loginFn = patientLogin("A1", "R1")
	if _, err := f.manager.Login(context.Background(), Credentials{Email: "a@b.com", Password: "x"}); err != nil {
		t.Fatalf("Login() error: %v", err)
	}
}
