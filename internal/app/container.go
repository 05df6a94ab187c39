package app

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/odyssey-pos/internal/auth"
	"github.com/odyssey-erp/odyssey-pos/internal/catalog"
	jobmetrics "github.com/odyssey-erp/odyssey-pos/internal/jobs"
	"github.com/odyssey-erp/odyssey-pos/internal/masterdata"
	"github.com/odyssey-erp/odyssey-pos/internal/observability"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/remote"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/retry"
	"github.com/odyssey-erp/odyssey-pos/internal/sales"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
	"github.com/odyssey-erp/odyssey-pos/jobs"
)

// Container holds the wired services of one process.
type Container struct {
	Config      *Config
	Logger      *slog.Logger
	DB          *sql.DB
	Metrics     *observability.Metrics
	SyncMetrics *jobmetrics.Metrics

	Remote    *remote.Client
	Auth      *auth.Service
	Catalog   *catalog.Service
	Syncer    *catalog.Syncer
	Reference *masterdata.Service
	Sales     *sales.Service
	Keys      *shared.IdempotencyStore
}

// NewContainer wires every service over the shared handle. The remote client
// may be nil, in which case one is built from the configuration.
func NewContainer(cfg *Config, sqlDB *sql.DB, logger *slog.Logger, client *remote.Client) *Container {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = remote.NewClient(cfg.APIBaseURL, cfg.APITimeout)
	}
	metrics := observability.NewMetrics()
	syncMetrics := jobmetrics.NewMetrics(metrics.Registerer())
	policy := retry.Options{
		MaxRetries:  cfg.SyncRetryAttempts,
		Delay:       cfg.SyncRetryDelay,
		Exponential: true,
	}

	authSvc := auth.NewService(auth.NewRepository(sqlDB), client, logger, auth.ServiceConfig{
		LoginPath: cfg.APILoginPath,
		Retry:     policy,
	})
	catalogRepo := catalog.NewRepository(sqlDB)
	keys := shared.NewIdempotencyStore(sqlDB)

	return &Container{
		Config:      cfg,
		Logger:      logger,
		DB:          sqlDB,
		Metrics:     metrics,
		SyncMetrics: syncMetrics,
		Remote:      client,
		Auth:        authSvc,
		Catalog:     catalog.NewService(catalogRepo),
		Syncer: catalog.NewSyncer(catalogRepo, client, authSvc, syncMetrics, logger, catalog.SyncerConfig{
			PageDelay: cfg.CatalogPageDelay,
			Retry:     policy,
		}),
		Reference: masterdata.NewService(masterdata.NewRepository(sqlDB), client, authSvc, syncMetrics, logger, masterdata.ServiceConfig{
			Retry: policy,
		}),
		Sales: sales.NewService(sales.NewRepository(sqlDB), client, authSvc, keys, syncMetrics, logger, sales.ServiceConfig{
			Retry: policy,
		}),
		Keys: keys,
	}
}

// RegisterHooks starts an unfinished catalog import and a reference refresh
// after every online login when SYNC_ON_LOGIN is set.
func (c *Container) RegisterHooks() {
	c.Auth.OnForceLogout(func(evt auth.LogoutEvent) {
		c.Logger.Warn("remote session ended", slog.String("user_id", evt.UserID), slog.String("reason", evt.Reason))
	})
	if !c.Config.SyncOnLogin {
		return
	}
	c.Auth.OnLogin(func(ctx context.Context, sess auth.Session) {
		if !sess.CanCallRemote() {
			return
		}
		bg := context.WithoutCancel(ctx)
		if done, err := c.Syncer.IsCompleted(bg); err != nil {
			c.Logger.Warn("read catalog progress", slog.Any("error", err))
		} else if !done {
			c.Syncer.Start(bg)
		}
		go func() {
			if _, err := c.Reference.FetchAll(bg); err != nil {
				c.Logger.Warn("reference refresh after login failed", slog.Any("error", err))
			}
		}()
	})
}

// CronRegistrations returns the periodic tasks scheduled by the worker.
func (c *Container) CronRegistrations() []jobs.CronRegistration {
	return []jobs.CronRegistration{
		{Spec: c.Config.SalesSyncSchedule, Name: jobs.TaskSalesSync, Run: jobs.NewSalesSyncTask(c.Sales, c.Logger)},
		{Spec: c.Config.ReferenceSyncSchedule, Name: jobs.TaskReferenceRefresh, Run: jobs.NewReferenceRefreshTask(c.Reference, c.Logger)},
		{Spec: c.Config.IdempotencyCleanupSchedule, Name: jobs.TaskIdempotencyCleanup, Run: jobs.NewIdempotencyCleanupTask(c.Keys, c.Config.IdempotencyRetention, c.Logger)},
	}
}

// NewWorker builds the cron worker for this container.
func (c *Container) NewWorker() (*jobs.Worker, error) {
	return jobs.NewWorker(jobs.WorkerConfig{
		Logger:  c.Logger,
		Metrics: c.SyncMetrics,
		Cron:    c.CronRegistrations(),
	})
}

// Router builds the local command API. worker may be nil.
func (c *Container) Router(worker *jobs.Worker) http.Handler {
	return NewRouter(RouterParams{
		Logger:            c.Logger,
		Config:            c.Config,
		Metrics:           c.Metrics,
		Ping:              c.DB.PingContext,
		AuthHandler:       auth.NewHandler(c.Logger, c.Auth),
		SalesHandler:      sales.NewHandler(c.Logger, c.Sales),
		CatalogHandler:    catalog.NewHandler(c.Logger, c.Catalog, c.Syncer),
		MasterDataHandler: masterdata.NewHandler(c.Logger, c.Reference),
		JobHandler:        jobs.NewHandler(worker, c.Logger),
	})
}
