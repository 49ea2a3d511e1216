package cli

import (
	"os"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"stencil/internal/pkg/logger"
	"stencil/internal/platform/config"
	"stencil/internal/platform/database"
)

var configPath string

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "stencil",
		Short:         "API backend with API key authentication",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "Path to config file")

	root.AddCommand(newKeysCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newServeCmd())

	return root
}

// loadConfig reads and validates configuration and initializes logging.
// Every subcommand goes through here so a bad config fails before any
// database work.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.Logging)
	return cfg, nil
}

func openDB(cfg *config.Config) (*gorm.DB, error) {
	return database.Connect(cfg.Database)
}
