package notify

import (
	"log/slog"

	"github.com/yanqian/clinic-console/internal/domain/session"
	"github.com/yanqian/clinic-console/pkg/observable"
)

// RouteTracker records where the session last sent the user. The console
// reports it to clients, which perform the actual navigation.
type RouteTracker struct {
	route  *observable.Value[string]
	logger *slog.Logger
}

// NewRouteTracker starts at the home route.
func NewRouteTracker(logger *slog.Logger) *RouteTracker {
	return &RouteTracker{
		route:  observable.New(session.HomeRoute),
		logger: logger.With("component", "notify.route"),
	}
}

// Navigate implements session.Navigator.
func (r *RouteTracker) Navigate(route string) {
	r.logger.Debug("navigate", "route", route)
	r.route.Set(route)
}

// Current returns the last route.
func (r *RouteTracker) Current() string {
	return r.route.Get()
}

// Subscribe streams route changes.
func (r *RouteTracker) Subscribe() (<-chan string, func()) {
	return r.route.Subscribe()
}

var _ session.Navigator = (*RouteTracker)(nil)
