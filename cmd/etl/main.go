// Command etl keeps the search index in sync with the relational catalog.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/filmindex/catalog-etl/internal/config"
	"github.com/filmindex/catalog-etl/internal/ui"
)

// app carries state shared by every subcommand of one invocation.
type app struct {
	v          *viper.Viper
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:   "etl",
		Short: "Incremental catalog sync from Postgres to Elasticsearch",
		Long: `etl copies works, genres and persons from the catalog database into
the works, genres and persons search collections.

Configuration comes from defaults, an optional --config file and the
environment (SQL_HOST, SQL_PORT, SQL_USER, SQL_PASSWORD, SQL_DATABASE,
ELASTIC_HOST, ELASTIC_PORT or ELASTIC_URL, ETL_STATE_PATH,
ETL_STATE_BACKEND, ETL_POLL_INTERVAL, ETL_BATCH_SIZE, ETL_LOG_FILE,
ETL_DASHBOARD_PORT).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.v, a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (yaml, toml or json)")
	root.PersistentFlags().String("state-path", "", "watermark state path (overrides ETL_STATE_PATH)")
	root.PersistentFlags().String("state-backend", "", "watermark backend: file or sqlite")
	_ = a.v.BindPFlag("state.path", root.PersistentFlags().Lookup("state-path"))
	_ = a.v.BindPFlag("state.backend", root.PersistentFlags().Lookup("state-backend"))

	root.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "state", Title: "State Commands:"},
	)
	root.AddCommand(
		a.runCmd(),
		a.rebuildCmd(),
		a.pollCmd(),
		a.statusCmd(),
		a.resetWatermarkCmd(),
		a.configCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
		os.Exit(1)
	}
}
