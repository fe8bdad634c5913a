package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/oauth2"

	"github.com/yanqian/clinic-console/internal/domain/session"
)

// Session is what the Transport needs from the session manager.
type Session interface {
	TokenSource(ctx context.Context) oauth2.TokenSource
}

// Transport attaches the bearer token to outgoing requests. The token comes
// from the session's oauth2.TokenSource, which refreshes first when the
// token is about to expire. The session is bound after construction because
// the session itself talks to the backend through this Transport.
type Transport struct {
	base   http.RoundTripper
	logger *slog.Logger

	mu      sync.RWMutex
	session Session
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(base http.RoundTripper, logger *slog.Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{base: base, logger: logger.With("component", "authapi.transport")}
}

// Bind sets the session used for tokens and refreshes.
func (t *Transport) Bind(s Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.session = s
}

// RoundTrip sends req unchanged when there is no usable token, so a failed
// proactive refresh never fails the request itself.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.mu.RLock()
	sess := t.session
	t.mu.RUnlock()

	if sess == nil || isForceLogout(req) {
		return t.base.RoundTrip(req)
	}
	ctx := req.Context()
	token, err := sess.TokenSource(ctx).Token()
	if err != nil {
		if !errors.Is(err, session.ErrNoSession) {
			t.logger.Warn("no usable access token, sending request unchanged", "path", req.URL.Path, "error", err)
		}
		return t.base.RoundTrip(req)
	}

	clone := req.Clone(ctx)
	token.SetAuthHeader(clone)
	return t.base.RoundTrip(clone)
}

func isForceLogout(req *http.Request) bool {
	return strings.Contains(req.URL.Path, pathForceLogout)
}
