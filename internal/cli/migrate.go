package cli

import (
	"fmt"

	"portal-backend/internal/database"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the chat schema",
	Long:  `Applies the idempotent schema migrations, including the change feed triggers.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.Connect(cmd.Context(), cfg.GetDatabaseURL())
		if err != nil {
			return err
		}
		defer db.Close()

		if err := database.RunMigrations(db); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied.")
		return nil
	},
}
