package cli

import (
	"errors"
	"fmt"
	"time"

	"portal-backend/internal/app"
	"portal-backend/internal/auth"
	"portal-backend/internal/models"

	"github.com/spf13/cobra"
)

var (
	tokenUser  string
	tokenEmail string
	tokenRole  string
	tokenTTL   time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an access token signed with the project JWT secret",
	Long: `Mints a Supabase-shaped HS256 access token for local testing. Without
SUPABASE_JWT_SECRET the demo secret is used, which only a DEMO_MODE server
accepts.`,
	Example: `  portalctl token --user 6f1c... --role admin
  portalctl token --user $(uuidgen) --email maria@example.com --ttl 24h`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenUser == "" {
			return errors.New("--user is required")
		}
		if tokenRole != models.RoleAdmin && tokenRole != models.RoleClient {
			return fmt.Errorf("--role must be %q or %q", models.RoleAdmin, models.RoleClient)
		}

		secret := cfg.Supabase.JWTSecret
		if secret == "" {
			secret = app.DemoJWTSecret
		}
		token, err := auth.NewJWTManagerWithSecret(secret).Generate(tokenUser, tokenEmail, tokenRole, tokenTTL)
		if err != nil {
			return fmt.Errorf("sign token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id (token subject)")
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "email claim")
	tokenCmd.Flags().StringVar(&tokenRole, "role", models.RoleClient, "admin or client")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
}
