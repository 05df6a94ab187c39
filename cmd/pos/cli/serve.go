package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local command API and the sync scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.serve(cmd.Context())
		},
	}
}

func (o *Options) serve(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	c := rt.container
	logger := rt.logger

	c.RegisterHooks()
	worker, err := c.NewWorker()
	if err != nil {
		return err
	}
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("worker stopped", slog.Any("error", err))
		}
	}()

	// An interrupted catalog import resumes where it stopped.
	if c.Config.SyncOnLogin {
		sess, ok, err := c.Auth.Current(ctx)
		if err == nil && ok && sess.CanCallRemote() {
			if done, err := c.Syncer.IsCompleted(ctx); err == nil && !done {
				c.Syncer.Start(ctx)
			}
		}
	}

	srv := &http.Server{
		Addr:         c.Config.AppAddr,
		Handler:      c.Router(worker),
		ReadTimeout:  c.Config.AppReadTimeout,
		WriteTimeout: c.Config.AppWriteTimeout,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", slog.Any("error", err))
	}
	<-workerDone
	logger.Info("server stopped")

	select {
	case err := <-serveErr:
		return err
	default:
		return nil
	}
}
