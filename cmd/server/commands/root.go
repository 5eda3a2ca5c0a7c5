package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/warp/prescribing-engine/config"
	"github.com/warp/prescribing-engine/logging"
	"github.com/warp/prescribing-engine/store/sqlite"
)

var (
	// Version and Commit are set at build time via ldflags.
	Version = "dev"
	Commit  = "none"

	verbose bool
	dbPath  string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "prescribing-engine",
	Short: "Prescribing spending and price concession engine",
	Long: `Serves prescribing spending aggregated by organisation and BNF code,
and reconciles Drug Tariff price concessions against prescribed quantities.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(); err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		if dbPath != "" {
			cfg.DBPath = dbPath
		}
		if err := logging.Init(verbose, cfg.LogsFolder); err != nil {
			return err
		}

		log.Debug().
			Str("version", Version).
			Str("commit", Commit).
			Str("command", cmd.Name()).
			Msg("prescribing engine starting")
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides DB_PATH)")
	rootCmd.AddCommand(serveCmd, buildExtractCmd, matchConcessionsCmd)
}

func openStore() (*sqlite.Store, error) {
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.DBPath, err)
	}
	return store, nil
}
