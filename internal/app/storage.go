package app

import (
	"context"
	"fmt"

	"github.com/bissquit/outreach-queue/internal/audit"
	auditpostgres "github.com/bissquit/outreach-queue/internal/audit/postgres"
	"github.com/bissquit/outreach-queue/internal/config"
	"github.com/bissquit/outreach-queue/internal/crm"
	crmpostgres "github.com/bissquit/outreach-queue/internal/crm/postgres"
	"github.com/bissquit/outreach-queue/internal/pkg/metrics"
	"github.com/bissquit/outreach-queue/internal/pkg/postgres"
	"github.com/bissquit/outreach-queue/internal/queue"
	queuepostgres "github.com/bissquit/outreach-queue/internal/queue/postgres"
	"github.com/bissquit/outreach-queue/internal/quota"
	quotapostgres "github.com/bissquit/outreach-queue/internal/quota/postgres"
	"github.com/bissquit/outreach-queue/internal/storage/sqlite"
)

// storage groups the repositories backed by the configured database driver.
type storage struct {
	quota     quota.Store
	queueRepo queue.Repository
	crm       crm.Repository
	audit     audit.Sink

	ping          func(ctx context.Context) error
	recordMetrics func()
	close         func()
}

func openStorage(ctx context.Context, cfg config.DatabaseConfig) (*storage, error) {
	switch cfg.Driver {
	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return &storage{
			quota:         db.Quota(),
			queueRepo:     db.Queue(),
			crm:           db.CRM(),
			audit:         db.Audit(),
			ping:          db.Ping,
			recordMetrics: func() { metrics.RecordSQLDBMetrics(db.SQL()) },
			close:         func() { _ = db.Close() },
		}, nil
	default:
		connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()

		pool, err := postgres.Connect(connectCtx, postgres.Config{
			URL:             cfg.URL,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			ConnectAttempts: cfg.ConnectAttempts,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		return &storage{
			quota:         quotapostgres.NewStore(pool),
			queueRepo:     queuepostgres.NewRepository(pool),
			crm:           crmpostgres.NewRepository(pool),
			audit:         auditpostgres.NewSink(pool),
			ping:          pool.Ping,
			recordMetrics: func() { metrics.RecordDBPoolMetrics(pool) },
			close:         pool.Close,
		}, nil
	}
}
