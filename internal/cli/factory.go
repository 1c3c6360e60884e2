// Package cli wires configuration into a running engine for the parley command.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/aretw0/parley"
	"github.com/aretw0/parley/internal/config"
	"github.com/aretw0/parley/pkg/adapters/file"
	loamAdapter "github.com/aretw0/parley/pkg/adapters/loam"
	"github.com/aretw0/parley/pkg/adapters/memory"
	"github.com/aretw0/parley/pkg/adapters/redis"
	"github.com/aretw0/parley/pkg/adapters/sqldb"
	yamlAdapter "github.com/aretw0/parley/pkg/adapters/yaml"
	"github.com/aretw0/parley/pkg/observability"
	"github.com/aretw0/parley/pkg/persistence/middleware"
	"github.com/aretw0/parley/pkg/ports"
)

// Stack is an engine together with the resources it owns.
type Stack struct {
	Engine   *parley.Engine
	Flows    ports.FlowRepository
	Store    ports.SessionStore
	Registry *prometheus.Registry

	closers []func() error
}

// StackOptions are the per-command choices that are not part of the config file.
type StackOptions struct {
	// Sender delivers action messages and timeout fallbacks.
	Sender ports.MessageSender
	// Watch reloads flows on change when the source supports it.
	Watch bool
}

// Close stops the engine and releases storage connections.
func (s *Stack) Close() error {
	if s.Engine != nil {
		s.Engine.Close()
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewStack opens the configured flow source and session store and builds the engine.
// The context bounds flow watching.
func NewStack(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts StackOptions) (*Stack, error) {
	st := &Stack{}

	flows, closeFlows, err := OpenFlows(ctx, cfg.Flows, logger)
	if err != nil {
		return nil, err
	}
	st.Flows = flows
	st.closers = append(st.closers, closeFlows)

	store, locker, closeStore, err := OpenStore(cfg.Store)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	st.Store = store
	st.closers = append(st.closers, closeStore)

	st.Registry = prometheus.NewRegistry()
	st.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engineOpts := []parley.Option{
		parley.WithConfig(cfg.Engine.Runtime()),
		parley.WithLogger(logger),
		parley.WithLifecycleHooks(observability.LogHooks(logger)),
		parley.WithMetrics(st.Registry),
		parley.WithCacheTTL(cfg.Cache.TTL),
	}
	if opts.Sender != nil {
		engineOpts = append(engineOpts, parley.WithMessageSender(opts.Sender))
	}
	if locker != nil {
		engineOpts = append(engineOpts, parley.WithLocker(locker))
	}

	st.Engine, err = parley.New(flows, store, engineOpts...)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("error initializing engine: %w", err)
	}

	if opts.Watch {
		if _, ok := flows.(ports.Watchable); ok {
			if err := st.Engine.Watch(ctx); err != nil {
				logger.Warn("Flow watching disabled", "source", cfg.Flows.Source, "err", err)
			} else {
				logger.Info("Watching flows", "source", cfg.Flows.Source, "path", cfg.Flows.Path)
			}
		}
	}
	return st, nil
}

func nopClose() error { return nil }

// OpenFlows returns the flow repository of the configured source and its closer.
func OpenFlows(ctx context.Context, cfg config.FlowsConfig, logger *slog.Logger) (ports.FlowRepository, func() error, error) {
	switch cfg.Source {
	case config.SourceMemory:
		return memory.NewRepository(), nopClose, nil
	case config.SourceYAML:
		return yamlAdapter.New(cfg.Path), nopClose, nil
	case config.SourceLoam:
		repo, err := loamAdapter.Open(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return repo, nopClose, nil
	case config.SourceSQLite, config.SourcePostgres:
		dialect := sqldb.SQLite
		dsn := cfg.DSN
		if cfg.Source == config.SourcePostgres {
			dialect = sqldb.Postgres
		} else if dsn == "" {
			dsn = cfg.Path
		}
		repo, err := sqldb.Open(ctx, dialect, dsn, sqldb.WithLogger(logger))
		if err != nil {
			return nil, nil, fmt.Errorf("open %s flows: %w", cfg.Source, err)
		}
		return repo, repo.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown flows source %q", cfg.Source)
}

// OpenStore returns the configured session store, wrapped with the PII and
// encryption middlewares when enabled. The locker is nil unless sessions live
// in a store shared between replicas.
func OpenStore(cfg config.StoreConfig) (ports.SessionStore, ports.DistributedLocker, func() error, error) {
	var (
		store  ports.SessionStore
		locker ports.DistributedLocker
		closer = nopClose
	)
	switch cfg.Driver {
	case config.StoreMemory:
		store = memory.NewStore()
	case config.StoreFile:
		store = file.New(cfg.Path)
	case config.StoreRedis:
		opts := []redis.Option{redis.WithPrefix(cfg.RedisPrefix)}
		if cfg.TTL > 0 {
			opts = append(opts, redis.WithTTL(cfg.TTL))
		}
		rs := redis.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, opts...)
		store = rs
		locker = redis.NewLocker(rs.Client(), cfg.RedisPrefix)
		closer = rs.Close
	default:
		return nil, nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}

	var mws []middleware.Middleware
	if len(cfg.PIIFields) > 0 {
		pii, err := middleware.NewPIIMiddleware(cfg.PIIFields)
		if err != nil {
			_ = closer()
			return nil, nil, nil, err
		}
		mws = append(mws, pii)
	}
	if cfg.EncryptionKey != "" {
		enc, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: []byte(cfg.EncryptionKey)})
		if err != nil {
			_ = closer()
			return nil, nil, nil, err
		}
		mws = append(mws, enc)
	}
	return middleware.Chain(store, mws...), locker, closer, nil
}
