// Package app wires storage and billing services from config. Both the API
// server and the invoicer job start from Open.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"telecom-billing/internal/assignments"
	"telecom-billing/internal/audit"
	"telecom-billing/internal/calls"
	"telecom-billing/internal/config"
	"telecom-billing/internal/invoicing"
	"telecom-billing/internal/period"
	"telecom-billing/internal/reporting"
	"telecom-billing/internal/resources"
	"telecom-billing/internal/store/postgres"
	"telecom-billing/internal/usage"
	"telecom-billing/pkg/utils"
)

const lockPrefix = "billing:lock:"

type App struct {
	DB    *sql.DB
	Redis *redis.Client // nil when REDIS_HOST is unset
	Store *postgres.Store

	Periods     period.Resolver
	Audit       *audit.Service
	Resources   *resources.Manager
	Assignments *assignments.Registry
	Generator   *invoicing.Generator
	Workflow    *invoicing.Workflow
	Usage       *usage.Aggregator
	Calls       *calls.Service
	Reports     *reporting.Service
}

// Open connects to Postgres (and Redis when configured), applies the schema
// and builds the services. Callers must Close the result.
func Open(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return nil, fmt.Errorf("postgres init: %w", err)
	}
	a := &App{DB: db}

	a.Store = postgres.New(db, postgres.Options{
		QueryTimeout: cfg.DB.QueryTimeout,
		Retry:        utils.RetryPolicy{MaxAttempts: cfg.DB.RetryAttempts},
	})
	if err := a.Store.Migrate(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	// An untyped nil keeps the generator's lock check meaningful.
	var locker invoicing.Locker
	if cfg.Redis.Enabled() {
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("redis init: %w", err)
		}
		a.Redis = rdb
		locker = utils.NewRedisLocker(rdb, lockPrefix)
	} else {
		log.Warn("redis disabled; invoice generation runs without a cross-instance lock")
	}

	a.Periods = period.NewResolver(cfg.Billing.Location)
	a.Audit = audit.NewService(a.Store)
	a.Resources = resources.NewManager(a.Store, a.Audit)
	a.Assignments = assignments.NewRegistry(a.Store, a.Store, a.Resources, a.Audit)
	a.Generator = invoicing.NewGenerator(a.Store, a.Assignments, a.Periods, locker, a.Audit, invoicing.GeneratorConfig{
		Concurrency: cfg.Billing.GeneratorConcurrency,
		LockTTL:     cfg.Billing.LockTTL,
	})
	a.Workflow = invoicing.NewWorkflow(a.Store, a.Audit)
	a.Usage = usage.NewAggregator(a.Store)
	a.Calls = calls.NewService(a.Store, a.Usage, a.Assignments, a.Generator)
	a.Reports = reporting.NewService(a.Store)
	return a, nil
}

func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
