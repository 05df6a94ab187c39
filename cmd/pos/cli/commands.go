package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-pos/internal/auth"
)

func newMigrateCommand(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the local store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withRuntime(cmd.Context(), func(rt *runtime) error {
				if rt.applied == nil {
					rt.applied = []string{}
				}
				return writeJSON(o.Stdout, map[string]any{
					"path":    rt.store.Path(),
					"applied": rt.applied,
				})
			})
		},
	}
}

func newLoginCommand(o *Options) *cobra.Command {
	var creds auth.Credentials
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in, falling back to the cached account when offline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if creds.Password == "" {
				creds.Password = os.Getenv("POS_PASSWORD")
			}
			if creds.Email == "" || creds.Password == "" {
				return errors.New("email and password are required")
			}
			return o.withRuntime(cmd.Context(), func(rt *runtime) error {
				sess, err := rt.container.Auth.Login(cmd.Context(), creds)
				if err != nil {
					return err
				}
				return writeJSON(o.Stdout, sess)
			})
		},
	}
	cmd.Flags().StringVar(&creds.Email, "email", "", "account email")
	cmd.Flags().StringVar(&creds.Password, "password", "", "account password (or POS_PASSWORD)")
	return cmd
}

func newLogoutCommand(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the local session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withRuntime(cmd.Context(), func(rt *runtime) error {
				return rt.container.Auth.Logout(cmd.Context())
			})
		},
	}
}

// ============================================================================
// Sync
// ============================================================================

func newSyncCommand(o *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one synchronisation pass against the remote API",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "catalog",
			Short: "Import the product catalog, resuming from the last committed page",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return o.withRuntime(cmd.Context(), func(rt *runtime) error {
					res, err := rt.container.Syncer.Run(cmd.Context())
					if err != nil {
						return err
					}
					return writeJSON(o.Stdout, res)
				})
			},
		},
		&cobra.Command{
			Use:   "sales",
			Short: "Upload pending sales",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return o.withRuntime(cmd.Context(), func(rt *runtime) error {
					res, err := rt.container.Sales.SyncPending(cmd.Context())
					if err != nil {
						return err
					}
					return writeJSON(o.Stdout, res)
				})
			},
		},
		&cobra.Command{
			Use:   "reference [dataset]",
			Short: "Refresh every reference dataset, or a single one",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return o.withRuntime(cmd.Context(), func(rt *runtime) error {
					if len(args) == 1 {
						res, err := rt.container.Reference.Fetch(cmd.Context(), args[0])
						if err != nil {
							return err
						}
						return writeJSON(o.Stdout, res)
					}
					results, err := rt.container.Reference.FetchAll(cmd.Context())
					if err != nil {
						return err
					}
					return writeJSON(o.Stdout, results)
				})
			},
		},
	)
	return cmd
}

func newCatalogCommand(o *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect or reset the catalog import",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:     "progress",
			Aliases: []string{"status"},
			Short:   "Show import progress",
			Args:    cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return o.withRuntime(cmd.Context(), func(rt *runtime) error {
					status, err := rt.container.Syncer.Status(cmd.Context())
					if err != nil {
						return err
					}
					return writeJSON(o.Stdout, status)
				})
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Restart the next import from page 1",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return o.withRuntime(cmd.Context(), func(rt *runtime) error {
					if err := rt.container.Syncer.Reset(cmd.Context()); err != nil {
						return err
					}
					fmt.Fprintln(o.Stdout, "catalog progress reset")
					return nil
				})
			},
		},
	)
	return cmd
}

func newJobsCommand(o *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List or run scheduled jobs",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List scheduled jobs",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return o.withRuntime(cmd.Context(), func(rt *runtime) error {
					for _, reg := range rt.container.CronRegistrations() {
						spec := reg.Spec
						if spec == "" {
							spec = "manual"
						}
						fmt.Fprintf(o.Stdout, "%-22s %s\n", reg.Name, spec)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "run <name>",
			Short: "Run one job now",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return o.withRuntime(cmd.Context(), func(rt *runtime) error {
					worker, err := rt.container.NewWorker()
					if err != nil {
						return err
					}
					if err := worker.Trigger(cmd.Context(), args[0]); err != nil {
						return err
					}
					fmt.Fprintf(o.Stdout, "%s done\n", args[0])
					return nil
				})
			},
		},
	)
	return cmd
}
