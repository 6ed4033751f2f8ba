package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"persistenceai/internal/app/bootstrap"
	"persistenceai/internal/cfg"
	"persistenceai/internal/service/session"
	"persistenceai/pkg/events"
	"persistenceai/pkg/lock"
	"persistenceai/pkg/logger"
	"persistenceai/pkg/pathkey"
	"persistenceai/pkg/registry"

	"github.com/redis/go-redis/v9"
)

// Infrastructure holds the stateful resources: the durable registry, the lock
// table backend and the event publisher.
// They are closed in reverse order of initialization.
type Infrastructure struct {
	Registry       *registry.Registry
	Locks          lock.Manager
	Redis          *redis.Client
	Events         events.Publisher
	Logger         logger.Logger
	MetricsHandler http.Handler
	shutdownOTel   func(context.Context) error
}

// Close gracefully shuts down all infrastructure resources.
func (i *Infrastructure) Close(ctx context.Context) error {
	var errs []error

	if i.Events != nil {
		i.Logger.Info(ctx, "Flushing event publisher")
		if err := i.Events.Close(); err != nil {
			errs = append(errs, fmt.Errorf("events shutdown: %w", err))
		}
	}

	if i.Registry != nil {
		i.Logger.Info(ctx, "Closing session registry")
		if err := i.Registry.Close(); err != nil {
			errs = append(errs, fmt.Errorf("registry shutdown: %w", err))
		}
	}

	if i.Redis != nil {
		i.Logger.Info(ctx, "Closing redis connections")
		if err := i.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis shutdown: %w", err))
		}
	}

	if i.shutdownOTel != nil {
		i.Logger.Info(ctx, "Shutting down observability")
		if err := i.shutdownOTel(ctx); err != nil {
			errs = append(errs, fmt.Errorf("observability shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("infrastructure shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// Services holds the domain components built on top of Infrastructure.
type Services struct {
	Sessions *session.Controller
	Reaper   *session.Reaper
}

// Provider is the composition root that wires Infrastructure and Services together.
type Provider struct {
	Infra    *Infrastructure
	Services *Services
	Config   *cfg.Config
}

// NewProvider creates and initializes all application dependencies.
// This is the single place where the dependency graph is constructed.
func NewProvider(ctx context.Context, config *cfg.Config) (*Provider, error) {
	appLogger := logger.NewZeroLog(config.AppEnv)
	appLogger.Info(ctx, "Initializing application provider...")

	shutdownOTel, metricsHandler, err := bootstrap.InitOtel(ctx, &config.Observability)
	if err != nil {
		return nil, fmt.Errorf("observability setup: %w", err)
	}

	infra, err := initInfrastructure(ctx, config, appLogger, shutdownOTel, metricsHandler)
	if err != nil {
		if shutdownErr := shutdownOTel(ctx); shutdownErr != nil {
			log.Printf("Warning: failed to shutdown OTel during init failure: %v", shutdownErr)
		}
		return nil, fmt.Errorf("infrastructure initialization: %w", err)
	}

	services, err := initServices(config, infra)
	if err != nil {
		_ = infra.Close(ctx)
		return nil, fmt.Errorf("services initialization: %w", err)
	}

	appLogger.Info(ctx, "Application provider initialized successfully",
		logger.Field{Key: "lock_backend", Value: config.Lock.Backend},
		logger.Field{Key: "registry_path", Value: config.Registry.Path},
		logger.Field{Key: "events", Value: config.Kafka.Enabled()},
	)

	return &Provider{
		Infra:    infra,
		Services: services,
		Config:   config,
	}, nil
}

// Close stops the reaper before the resources it uses go away.
func (p *Provider) Close(ctx context.Context) error {
	if p.Services != nil && p.Services.Reaper != nil {
		p.Services.Reaper.Stop()
	}
	return p.Infra.Close(ctx)
}

// initInfrastructure initializes resources bottom up. On failure everything
// created so far is closed, except OTel which the caller owns.
func initInfrastructure(
	ctx context.Context,
	config *cfg.Config,
	appLogger logger.Logger,
	shutdownOTel func(context.Context) error,
	metricsHandler http.Handler,
) (infra *Infrastructure, err error) {
	infra = &Infrastructure{
		Logger:         appLogger,
		MetricsHandler: metricsHandler,
	}
	defer func() {
		if err != nil {
			_ = infra.Close(ctx)
			infra = nil
		}
	}()

	if config.Lock.Backend == cfg.LockBackendRedis {
		client, err := bootstrap.InitRedis(ctx, &config.Redis)
		if err != nil {
			return infra, fmt.Errorf("redis initialization: %w", err)
		}
		infra.Redis = client
	}

	var client redis.UniversalClient
	if infra.Redis != nil {
		client = infra.Redis
	}
	infra.Locks, err = bootstrap.InitLockManager(config, client)
	if err != nil {
		return infra, fmt.Errorf("lock manager initialization: %w", err)
	}

	infra.Registry, err = bootstrap.InitRegistry(&config.Registry, appLogger.With(logger.Field{Key: "component", Value: "registry"}))
	if err != nil {
		return infra, fmt.Errorf("registry initialization: %w", err)
	}

	infra.Events, err = bootstrap.InitEvents(&config.Kafka, appLogger.With(logger.Field{Key: "component", Value: "events"}))
	if err != nil {
		return infra, fmt.Errorf("events initialization: %w", err)
	}

	infra.shutdownOTel = shutdownOTel
	return infra, nil
}

func initServices(config *cfg.Config, infra *Infrastructure) (*Services, error) {
	controller, err := session.NewController(
		pathkey.NewNormalizer(config.Session.CaseInsensitivePaths),
		infra.Registry,
		infra.Locks,
		session.Config{
			LockTTL:        config.Lock.TTL,
			LockWait:       config.Lock.Wait,
			ConflictPolicy: session.ConflictPolicy(config.Session.ConflictPolicy),
			IDPolicy:       session.IDPolicy(config.Session.IDPolicy),
		},
		session.WithPublisher(infra.Events),
		session.WithLogger(infra.Logger.With(logger.Field{Key: "component", Value: "session"})),
	)
	if err != nil {
		return nil, err
	}

	reaper := session.NewReaper(
		controller,
		config.Session.ReaperInterval,
		config.Session.IdleTimeout,
		infra.Logger.With(logger.Field{Key: "component", Value: "reaper"}),
	)

	return &Services{
		Sessions: controller,
		Reaper:   reaper,
	}, nil
}
