package cli

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-pos/internal/app"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/remote"
)

// Options carries the process dependencies shared by every command.
type Options struct {
	Stdout io.Writer
	Stderr io.Writer
	// LoadConfig defaults to app.LoadConfig.
	LoadConfig func() (*app.Config, error)
	// Logger defaults to app.NewLogger for the loaded configuration.
	Logger *slog.Logger
	// Client overrides the remote client built from configuration.
	Client *remote.Client
}

func (o *Options) defaults() {
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	if o.LoadConfig == nil {
		o.LoadConfig = app.LoadConfig
	}
}

// NewRootCommand assembles the pos command tree.
func NewRootCommand(opts Options) *cobra.Command {
	opts.defaults()
	root := &cobra.Command{
		Use:   "pos",
		Short: "Offline-first point of sale sync engine",
		Long: `pos keeps a local store of the product catalog, reference data and
sales, and synchronises them with the remote commerce API when online.

Configuration is read from the environment (API_BASE_URL, POS_DATA_DIR, ...).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(opts.Stdout)
	root.SetErr(opts.Stderr)

	root.AddCommand(
		newServeCommand(&opts),
		newMigrateCommand(&opts),
		newLoginCommand(&opts),
		newLogoutCommand(&opts),
		newSyncCommand(&opts),
		newCatalogCommand(&opts),
		newJobsCommand(&opts),
	)
	return root
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
