package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-pos/internal/masterdata"
	"github.com/odyssey-erp/odyssey-pos/internal/sales"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

const (
	// TaskSalesSync uploads the sale outbox.
	TaskSalesSync = "sales:sync"
	// TaskReferenceRefresh refetches every reference dataset.
	TaskReferenceRefresh = "reference:refresh"
	// TaskIdempotencyCleanup prunes old accepted-sale keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// SalesSyncer uploads pending sales.
type SalesSyncer interface {
	SyncPending(ctx context.Context) (sales.SyncResult, error)
}

// ReferenceFetcher refreshes reference datasets.
type ReferenceFetcher interface {
	FetchAll(ctx context.Context) ([]masterdata.FetchResult, error)
}

// KeyCleaner prunes idempotency keys.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// NewSalesSyncTask returns a task that uploads the outbox. Without a session
// the run is skipped.
func NewSalesSyncTask(svc SalesSyncer, logger *slog.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		res, err := svc.SyncPending(ctx)
		if errors.Is(err, shared.ErrNotAuthenticated) {
			logger.Debug("sales sync skipped, no remote session")
			return nil
		}
		if err != nil {
			return err
		}
		if res.Skipped {
			return nil
		}
		if res.Attempted > 0 || res.Recovered > 0 {
			logger.Info("sales sync finished",
				slog.String("job", TaskSalesSync),
				slog.Int("synced", res.Synced+res.AlreadyAccepted),
				slog.Int("failed", res.Failed))
		}
		return nil
	}
}

// NewReferenceRefreshTask returns a task that refetches reference data.
func NewReferenceRefreshTask(svc ReferenceFetcher, logger *slog.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		results, err := svc.FetchAll(ctx)
		if errors.Is(err, shared.ErrNotAuthenticated) {
			logger.Debug("reference refresh skipped, no remote session")
			return nil
		}
		if err != nil {
			return err
		}
		failed := 0
		for _, r := range results {
			if r.Error != "" {
				failed++
			}
		}
		logger.Info("reference refresh finished",
			slog.String("job", TaskReferenceRefresh),
			slog.Int("datasets", len(results)),
			slog.Int("failed", failed))
		return nil
	}
}

// NewIdempotencyCleanupTask returns a task that drops keys older than retention.
func NewIdempotencyCleanupTask(store KeyCleaner, retention time.Duration, logger *slog.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		if retention <= 0 {
			return nil
		}
		if err := store.Cleanup(ctx, retention); err != nil {
			return err
		}
		logger.Debug("idempotency keys pruned", slog.Duration("retention", retention))
		return nil
	}
}
