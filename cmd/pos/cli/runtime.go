package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/odyssey-pos/internal/app"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/db"
)

// runtime is an opened, migrated store with its wired services.
type runtime struct {
	logger    *slog.Logger
	store     *db.Store
	container *app.Container
	applied   []string
}

func (o *Options) open(ctx context.Context) (*runtime, error) {
	cfg, err := o.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := o.Logger
	if logger == nil {
		logger = app.NewLogger(cfg)
	}

	store, err := db.Open(ctx, db.Options{Path: cfg.DatabasePath(), BusyTimeout: cfg.DBBusyTimeout})
	if err != nil {
		return nil, err
	}
	applied, err := db.NewMigrator(store.DB(), logger, db.MigratorOptions{}).Apply(ctx)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	c := app.NewContainer(cfg, store.DB(), logger, o.Client)
	if err := c.Reference.EnsureDefaults(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return &runtime{logger: logger, store: store, container: c, applied: applied}, nil
}

func (r *runtime) Close() {
	if err := r.store.Close(); err != nil {
		r.logger.Warn("close store", slog.Any("error", err))
	}
}

// withRuntime opens the store for the duration of fn.
func (o *Options) withRuntime(ctx context.Context, fn func(*runtime) error) error {
	rt, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}
