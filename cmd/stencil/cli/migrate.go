package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"stencil/internal/platform/database"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			if err := database.Migrate(db); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
			fmt.Println("Migrations applied successfully.")
			return nil
		},
	}
}
