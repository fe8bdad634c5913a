package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/valkey-io/valkey-go"

	"github.com/yanqian/clinic-console/internal/domain/session"
	"github.com/yanqian/clinic-console/internal/infra/authapi"
	"github.com/yanqian/clinic-console/internal/infra/config"
	"github.com/yanqian/clinic-console/internal/infra/kvstore"
	httpiface "github.com/yanqian/clinic-console/internal/interface/http"
	"github.com/yanqian/clinic-console/pkg/logger"
	"github.com/yanqian/clinic-console/pkg/metrics"
	"github.com/yanqian/clinic-console/pkg/validator"
)

func provideLogger(cfg *config.Config) *slog.Logger {
	return logger.New(cfg.Log.Level)
}

func provideCLILogger(cfg *config.Config) *slog.Logger {
	return logger.NewWithWriter(os.Stderr, cfg.Log.Level)
}

func provideSessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		ExpiryBuffer:         cfg.Session.ExpiryBuffer,
		ExpiredFireDelay:     cfg.Session.ExpiredFireDelay,
		ClearOnLogoutFailure: cfg.Session.ClearOnLogoutFailure,
		CallTimeout:          cfg.Session.CallTimeout,
	}
}

func provideRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

func provideSessionMetrics(registry *prometheus.Registry) *metrics.Session {
	return metrics.NewSession(registry)
}

func provideKVStore(cfg *config.Config, logger *slog.Logger) (kvstore.Store, func(), error) {
	store, cleanup := openStore(cfg, logger)
	if strings.TrimSpace(cfg.Storage.EncryptionKey) == "" {
		return store, cleanup, nil
	}
	sealed, err := kvstore.NewSealedStore(store, cfg.Storage.EncryptionKey, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	logger.Info("session store encryption enabled")
	return sealed, cleanup, nil
}

func openStore(cfg *config.Config, logger *slog.Logger) (kvstore.Store, func()) {
	noop := func() {}
	switch cfg.Storage.Driver {
	case config.StorageValkey:
		store, cleanup, err := openValkeyStore(cfg)
		if err != nil {
			logger.Error("valkey session store unavailable, falling back to memory store", "error", err)
			return kvstore.NewMemoryStore(), noop
		}
		logger.Info("valkey session store enabled", "addr", cfg.Storage.Valkey.Addr)
		return store, cleanup
	case config.StoragePostgres:
		store, cleanup, err := openPostgresStore(cfg)
		if err != nil {
			logger.Error("postgres session store unavailable, falling back to memory store", "error", err)
			return kvstore.NewMemoryStore(), noop
		}
		logger.Info("postgres session store enabled", "namespace", cfg.Storage.Postgres.Namespace)
		return store, cleanup
	case config.StorageFile:
		store, err := kvstore.NewFileStore(cfg.Storage.File.Path)
		if err != nil {
			logger.Error("file session store unavailable, falling back to memory store", "path", cfg.Storage.File.Path, "error", err)
			return kvstore.NewMemoryStore(), noop
		}
		logger.Info("file session store enabled", "path", cfg.Storage.File.Path)
		return store, noop
	default:
		logger.Info("memory session store enabled, sessions end with the process")
		return kvstore.NewMemoryStore(), noop
	}
}

func openValkeyStore(cfg *config.Config) (kvstore.Store, func(), error) {
	opt, err := buildValkeyOptions(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid valkey configuration: %w", err)
	}
	client, err := valkey.NewClient(opt)
	if err != nil {
		return nil, nil, fmt.Errorf("create valkey client: %w", err)
	}
	store := kvstore.NewValkeyStore(client, cfg.Storage.Valkey.Prefix)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("valkey ping: %w", err)
	}
	return store, client.Close, nil
}

func buildValkeyOptions(cfg *config.Config) (valkey.ClientOption, error) {
	var (
		opt valkey.ClientOption
		err error
	)
	if strings.Contains(cfg.Storage.Valkey.Addr, "://") {
		opt, err = valkey.ParseURL(cfg.Storage.Valkey.Addr)
	} else {
		opt = valkey.ClientOption{InitAddress: []string{cfg.Storage.Valkey.Addr}}
	}
	if err != nil {
		return valkey.ClientOption{}, err
	}
	return opt, nil
}

func openPostgresStore(cfg *config.Config) (kvstore.Store, func(), error) {
	poolConfig, err := pgxpool.ParseConfig(strings.TrimSpace(cfg.Storage.Postgres.DSN))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid postgres dsn: %w", err)
	}
	if cfg.Storage.Postgres.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.Storage.Postgres.MaxConns)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres ping: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	store, err := kvstore.NewPostgresStore(ctx, db, cfg.Storage.Postgres.Namespace)
	if err != nil {
		_ = db.Close()
		pool.Close()
		return nil, nil, err
	}
	return store, func() {
		_ = db.Close()
		pool.Close()
	}, nil
}

func provideKeyValueStore(store kvstore.Store) session.KeyValueStore {
	return store
}

func provideTransport(logger *slog.Logger) *authapi.Transport {
	return authapi.NewTransport(http.DefaultTransport, logger)
}

func provideAuthClient(cfg *config.Config, transport *authapi.Transport) *authapi.Client {
	return authapi.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout, transport)
}

// provideManager builds the session manager and hands it to the transport,
// which needs the manager for tokens while the manager reaches the backend
// through the transport.
func provideManager(
	cfg session.Config,
	client *authapi.Client,
	tokens *session.TokenStore,
	timer *session.Timer,
	nav session.Navigator,
	notifier session.Notifier,
	v *validator.Validator,
	m *metrics.Session,
	logger *slog.Logger,
	transport *authapi.Transport,
) (*session.Manager, error) {
	manager, err := session.NewManager(cfg, client, tokens, timer, nav, notifier, v, m, logger)
	if err != nil {
		return nil, err
	}
	transport.Bind(manager)
	return manager, nil
}

func provideBackendProxy(cfg *config.Config, transport *authapi.Transport, logger *slog.Logger) (*httpiface.BackendProxy, error) {
	return httpiface.NewBackendProxy(cfg, transport, logger)
}
