package session

import "context"

type proactiveRefreshKey struct{}

// WithoutProactiveRefresh marks ctx so the session TokenSource hands out the
// current token without refreshing first. The manager's own refresh
// call uses it, otherwise a near-expiry token would make the refresh wait on
// itself.
func WithoutProactiveRefresh(ctx context.Context) context.Context {
	return context.WithValue(ctx, proactiveRefreshKey{}, true)
}

// ProactiveRefreshDisabled reports whether ctx was marked by WithoutProactiveRefresh.
func ProactiveRefreshDisabled(ctx context.Context) bool {
	disabled, _ := ctx.Value(proactiveRefreshKey{}).(bool)
	return disabled
}
