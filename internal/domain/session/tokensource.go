package session

import (
	"context"
	"time"

	"golang.org/x/oauth2"

	"github.com/yanqian/clinic-console/pkg/metrics"
)

// TokenSource exposes the session as an oauth2.TokenSource bound to ctx.
// Tokens within the expiry buffer are refreshed first unless ctx was marked
// with WithoutProactiveRefresh. A failed refresh is returned as an error so
// callers send the request without credentials.
func (m *Manager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &sessionTokenSource{ctx: ctx, m: m}
}

type sessionTokenSource struct {
	ctx context.Context
	m   *Manager
}

func (s *sessionTokenSource) Token() (*oauth2.Token, error) {
	access, err := s.m.AccessToken(s.ctx)
	if err != nil {
		return nil, err
	}
	if access == "" {
		return nil, ErrNoSession
	}
	seconds, known, err := s.m.SecondsRemaining(s.ctx)
	if err != nil {
		return nil, err
	}

	if known && !ProactiveRefreshDisabled(s.ctx) && time.Duration(seconds)*time.Second <= s.m.cfg.ExpiryBuffer {
		pair, err := s.m.RefreshTokens(s.ctx)
		if err != nil {
			s.m.metrics.ProactiveRefresh(metrics.OutcomeFailure)
			s.m.logger.WarnContext(s.ctx, "proactive refresh failed", "error", err)
			return nil, err
		}
		if pair != nil {
			s.m.metrics.ProactiveRefresh(metrics.OutcomeSuccess)
			access = pair.Access
			seconds, known, _ = s.m.SecondsRemaining(s.ctx)
		}
	}

	token := &oauth2.Token{AccessToken: access, TokenType: "Bearer"}
	if known {
		token.Expiry = s.m.timer.clock.Now().Add(time.Duration(seconds) * time.Second)
	}
	return token, nil
}
