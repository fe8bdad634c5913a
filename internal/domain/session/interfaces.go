package session

import (
	"context"
	"time"
)

// KeyValueStore is the durable storage the session persists into.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// API is the backend authentication surface.
type API interface {
	Login(ctx context.Context, creds Credentials) (LoginResponse, error)
	Logout(ctx context.Context, refresh string) error
	ForceLogout(ctx context.Context, email string) error
	Register(ctx context.Context, req RegisterRequest) error
	VerifyEmail(ctx context.Context, params VerificationParams) error
	ResetPassword(ctx context.Context, req ResetPasswordRequest) error
	ConfirmResetPassword(ctx context.Context, params VerificationParams, req ResetPasswordConfirmRequest) error
	ChangePassword(ctx context.Context, req ChangePasswordRequest) error
	RefreshTokens(ctx context.Context, refresh string) (TokenPair, error)
	UserInfo(ctx context.Context) (User, error)
	TokenLifetime(ctx context.Context) (TokenLifetime, error)
}

// Navigator receives route changes requested by the session.
type Navigator interface {
	Navigate(route string)
}

// NotificationKind classifies user facing session messages.
type NotificationKind string

const (
	NotificationExpiring  NotificationKind = "session_expiring"
	NotificationExpired   NotificationKind = "session_expired"
	NotificationRefreshed NotificationKind = "tokens_refreshed"
	NotificationLoggedIn  NotificationKind = "logged_in"
	NotificationLoggedOut NotificationKind = "logged_out"
)

// Notification is a message meant for whoever is watching the session.
type Notification struct {
	Kind    NotificationKind `json:"kind"`
	Level   string           `json:"level"`
	Message string           `json:"message"`
	At      time.Time        `json:"at"`
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(n Notification)
}

type nopNavigator struct{}

func (nopNavigator) Navigate(string) {}

type nopNotifier struct{}

func (nopNotifier) Notify(Notification) {}
