package cli

import (
	"errors"
	"os/signal"
	"syscall"

	"portal-backend/internal/database"
	"portal-backend/internal/email"
	"portal-backend/internal/queue"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the unread reminder worker",
	Long: `Processes chat:unread_reminder tasks from Redis. Each task re-reads the
conversation and emails the client only if staff replies are still unread.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Redis.URL == "" {
			return errors.New("REDIS_URL is required for the worker")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		db, err := database.Connect(ctx, cfg.GetDatabaseURL())
		if err != nil {
			return err
		}
		defer db.Close()
		store := database.NewStore(db)

		srv, err := queue.NewAsynqServer(cfg.Redis.URL, cfg.Worker.Concurrency, cfg.Worker.Queues, logger)
		if err != nil {
			return err
		}
		handler := queue.NewReminderHandler(store, store, email.NewEmailSender(cfg, logger), logger)
		srv.Register(queue.TypeUnreadReminder, handler.Handle)

		logger.Info("reminder worker started", "concurrency", cfg.Worker.Concurrency, "queues", cfg.Worker.Queues)
		return srv.Run(ctx)
	},
}
