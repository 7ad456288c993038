// Package cli provides the portalctl command-line interface.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"portal-backend/internal/config"
	"portal-backend/internal/logging"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool
	logFile string

	// Loaded in PersistentPreRunE
	cfg      *config.Config
	logger   *slog.Logger
	closeLog func() error
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "portalctl",
	Short: "Operate the portal chat backend",
	Long: `portalctl manages the client portal chat backend: database migrations,
the unread reminder worker, account setup, and a terminal chat client for
trying conversations end to end.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		cfg = config.New()

		level := logging.ParseLevel(cfg.Log.Level)
		if verbose {
			level = slog.LevelDebug
		}
		file := cfg.Log.File
		if logFile != "" {
			file = logFile
		}
		logger, closeLog = logging.SetupLogger(file, level)
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if closeLog != nil {
			if err := closeLog(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write JSON logs to this file")

	// Add subcommands
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(chatCmd)
}
