package cli

import (
	"errors"
	"fmt"

	"portal-backend/internal/database"
	"portal-backend/internal/models"
	"portal-backend/internal/supabase"

	"github.com/spf13/cobra"
)

var (
	userEmail    string
	userPassword string
	userName     string
	userRole     string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage portal accounts",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a confirmed Supabase user and its profile row",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if userEmail == "" || userPassword == "" {
			return errors.New("--email and --password are required")
		}
		if userRole != models.RoleAdmin && userRole != models.RoleClient {
			return fmt.Errorf("--role must be %q or %q", models.RoleAdmin, models.RoleClient)
		}

		sb := supabase.NewClient(cfg)
		if !sb.Configured() || cfg.Supabase.ServiceRoleKey == "" {
			return errors.New("SUPABASE_URL, SUPABASE_ANON_KEY and SUPABASE_SERVICE_ROLE_KEY are required")
		}

		ctx := cmd.Context()
		user, err := sb.AdminCreateUser(ctx, userEmail, userPassword, userName, userRole)
		if err != nil {
			return fmt.Errorf("create auth user: %w", err)
		}

		db, err := database.Connect(ctx, cfg.GetDatabaseURL())
		if err != nil {
			return err
		}
		defer db.Close()

		err = database.NewStore(db).UpsertProfile(ctx, models.Profile{
			ID:       user.ID,
			Email:    user.Email,
			FullName: userName,
			Role:     userRole,
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Created %s %s (%s)\n", userRole, user.Email, user.ID)
		return nil
	},
}

func init() {
	userCreateCmd.Flags().StringVar(&userEmail, "email", "", "login email")
	userCreateCmd.Flags().StringVar(&userPassword, "password", "", "initial password")
	userCreateCmd.Flags().StringVar(&userName, "name", "", "display name shown to staff")
	userCreateCmd.Flags().StringVar(&userRole, "role", models.RoleClient, "admin or client")
	userCmd.AddCommand(userCreateCmd)
}
