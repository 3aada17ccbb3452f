// Package app assembles the shared infrastructure of the API and worker
// binaries from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-billing/internal/config"
	"github.com/noah-isme/backend-billing/internal/events"
	"github.com/noah-isme/backend-billing/internal/health"
	"github.com/noah-isme/backend-billing/internal/invoice"
	"github.com/noah-isme/backend-billing/internal/ledger"
	"github.com/noah-isme/backend-billing/internal/lock"
	"github.com/noah-isme/backend-billing/internal/obs"
	"github.com/noah-isme/backend-billing/internal/ratelimit"
	"github.com/noah-isme/backend-billing/internal/resilience"
)

// Options tune how dependencies are built.
type Options struct {
	// ServiceName is reported to Postgres as application_name.
	ServiceName      string
	MetricsNamespace string
	Registerer       prometheus.Registerer
	RedisMetrics     bool
}

// Dependencies enumerates the infrastructure shared by the HTTP handlers.
// Optional parts are nil when their configuration is absent.
type Dependencies struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Redis   *redis.Client
	DB      *pgxpool.Pool
	Tasks   *asynq.Client
	Metrics *obs.BillingMetrics
	Bus     *events.Bus
	Desk    *ledger.Desk
	Limiter ratelimit.Allower
	Invoice *invoice.Service

	closers []func() error
}

// New connects to the configured backends. On error everything opened so
// far is closed.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (_ *Dependencies, err error) {
	d := &Dependencies{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = d.Close()
		}
	}()

	d.Metrics = obs.NewBillingMetrics(opts.MetricsNamespace, opts.Registerer)

	if cfg.RedisURL != "" {
		if d.Redis, err = NewRedis(ctx, cfg.RedisURL, opts.RedisMetrics); err != nil {
			return nil, err
		}
		d.closers = append(d.closers, d.Redis.Close)
	}

	if cfg.LedgerBackend == config.LedgerPostgres {
		if err = ledger.Migrate(cfg.DatabaseURL); err != nil {
			return nil, err
		}
		if d.DB, err = NewPool(ctx, cfg.DatabaseURL, opts.ServiceName); err != nil {
			return nil, err
		}
		d.closers = append(d.closers, func() error { d.DB.Close(); return nil })
	}

	if cfg.SettlementEventsEnabled {
		redisOpt, perr := asynq.ParseRedisURI(cfg.RedisURL)
		if perr != nil {
			return nil, fmt.Errorf("parse redis url for tasks: %w", perr)
		}
		d.Tasks = asynq.NewClient(redisOpt)
		d.closers = append(d.closers, d.Tasks.Close)
		breaker := resilience.NewBreaker(5, 0.5, cfg.EventsBreakerOpenFor,
			resilience.WithTarget("settlement-events"),
			resilience.WithLogger(logger),
			resilience.WithMetrics(resilience.NewMetrics(opts.MetricsNamespace, opts.Registerer)))
		d.Bus = &events.Bus{
			Publisher: events.GuardedPublisher{
				Next:    events.AsynqPublisher{Client: d.Tasks, Queue: events.DefaultQueue},
				Breaker: breaker,
			},
			Notifiers: []events.Notifier{events.LogNotifier{Logger: logger}},
			Metrics:   d.Metrics,
		}
	}

	if d.Desk, err = d.newDesk(); err != nil {
		return nil, err
	}
	if d.Limiter, err = d.newLimiter(); err != nil {
		return nil, err
	}
	d.Invoice = invoice.NewService(cfg.DefaultDiscountMode, d.Desk, d.Metrics, logger)
	return d, nil
}

func (d *Dependencies) newDesk() (*ledger.Desk, error) {
	var store ledger.Store
	switch d.Config.LedgerBackend {
	case config.LedgerMemory:
		store = ledger.NewMemoryStore()
	case config.LedgerRedis:
		store = ledger.RedisStore{
			Client:  d.Redis,
			Locker:  lock.Locker{R: d.Redis, RetryBackoff: d.Config.LockRetryBackoff},
			LockTTL: d.Config.LockTTL,
		}
	case config.LedgerPostgres:
		store = ledger.PostgresStore{Pool: d.DB}
	default:
		return nil, nil
	}
	desk := &ledger.Desk{Store: store, Logger: d.Logger}
	if d.Bus != nil {
		desk.Events = d.Bus
	}
	return desk, nil
}

func (d *Dependencies) newLimiter() (ratelimit.Allower, error) {
	const prefix = "billing:rl:"
	switch {
	case d.Redis == nil:
		return ratelimit.NewMemoryLimiter(prefix), nil
	case d.Config.RateLimitStrategy == config.RateLimitFixed:
		return ratelimit.NewRedisStoreLimiter(d.Redis, prefix)
	default:
		return ratelimit.Limiter{Client: d.Redis, Prefix: prefix}, nil
	}
}

// HealthChecks returns readiness checks for the configured backends.
func (d *Dependencies) HealthChecks(timeout time.Duration) []health.Dependency {
	var checks []health.Dependency
	if d.Redis != nil {
		checks = append(checks, health.Dependency{Name: "redis", Timeout: timeout, Check: func(ctx context.Context) error {
			return d.Redis.Ping(ctx).Err()
		}})
	}
	if d.DB != nil {
		checks = append(checks, health.Dependency{Name: "postgres", Timeout: timeout, Check: d.DB.Ping})
	}
	return checks
}

// Close releases connections in reverse order of creation.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// NewRedis parses url, instruments the client with OpenTelemetry and checks
// connectivity.
func NewRedis(ctx context.Context, url string, withMetrics bool) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("instrument redis tracing: %w", err)
	}
	if withMetrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("instrument redis metrics: %w", err)
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewPool opens a traced pgx pool and checks connectivity.
func NewPool(ctx context.Context, url, appName string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	if appName != "" {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = appName
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}
