//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"github.com/yanqian/clinic-console/internal/bootstrap"
	"github.com/yanqian/clinic-console/internal/domain/session"
	"github.com/yanqian/clinic-console/internal/infra/config"
	"github.com/yanqian/clinic-console/internal/infra/notify"
	httpiface "github.com/yanqian/clinic-console/internal/interface/http"
	"github.com/yanqian/clinic-console/pkg/clock"
	"github.com/yanqian/clinic-console/pkg/validator"
)

var sessionSet = wire.NewSet(
	provideSessionConfig,
	provideRegistry,
	provideSessionMetrics,
	provideKVStore,
	provideKeyValueStore,
	clock.Real,
	validator.New,
	notify.NewHub,
	notify.NewRouteTracker,
	session.NewTokenStore,
	session.NewTimer,
	session.NewCountdown,
	provideTransport,
	provideAuthClient,
	provideManager,
	wire.Bind(new(session.Notifier), new(*notify.Hub)),
	wire.Bind(new(session.Navigator), new(*notify.RouteTracker)),
)

func initializeApp() (*bootstrap.App, func(), error) {
	wire.Build(
		config.Load,
		provideLogger,
		sessionSet,
		provideBackendProxy,
		httpiface.NewHandler,
		httpiface.NewRouter,
		bootstrap.NewApp,
		wire.Bind(new(httpiface.SessionService), new(*session.Manager)),
		wire.Bind(new(httpiface.NotificationSource), new(*notify.Hub)),
		wire.Bind(new(httpiface.CountdownSource), new(*session.Countdown)),
		wire.Bind(new(httpiface.RouteSource), new(*notify.RouteTracker)),
		wire.Bind(new(bootstrap.SessionRestorer), new(*session.Manager)),
		wire.Bind(new(bootstrap.Ticker), new(*session.Countdown)),
	)
	return nil, nil, nil
}

func initializeConsole() (*console, func(), error) {
	wire.Build(
		config.Load,
		provideCLILogger,
		sessionSet,
		wire.Struct(new(console), "*"),
	)
	return nil, nil, nil
}
