// Package app assembles the chat backend from configuration. The HTTP
// server and the portalctl commands share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"portal-backend/internal/auth"
	"portal-backend/internal/cache"
	"portal-backend/internal/chat"
	"portal-backend/internal/config"
	"portal-backend/internal/database"
	"portal-backend/internal/feed"
	"portal-backend/internal/memstore"
	"portal-backend/internal/models"
	"portal-backend/internal/queue"
	"portal-backend/internal/supabase"
)

// DemoJWTSecret signs tokens in demo mode when no secret is configured.
const DemoJWTSecret = "demo-secret"

// conversationCacheTTL bounds the client to conversation cache.
const conversationCacheTTL = 24 * time.Hour

type Store interface {
	chat.Store
	chat.Directory
	UpsertProfile(ctx context.Context, p models.Profile) error
}

// App holds every long-lived dependency.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    Store
	Hub      *feed.Hub
	Chat     *chat.Service
	Verifier auth.Verifier
	Supabase *supabase.Client

	db       *database.Database
	listener *database.Listener
	closers  []func() error
}

// New connects to the configured backends. In demo mode the store lives in
// memory and Postgres is never touched.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Hub:      feed.NewHub(logger),
		Supabase: supabase.NewClient(cfg),
	}

	if cfg.DemoMode {
		logger.Warn("running in demo mode, messages are kept in memory only")
		a.Store = memstore.New(a.Hub)
		if cfg.Supabase.JWTSecret == "" {
			cfg.Supabase.JWTSecret = DemoJWTSecret
			logger.Warn("no JWT secret configured, using the demo secret")
		}
	} else {
		db, err := database.Connect(ctx, cfg.GetDatabaseURL())
		if err != nil {
			return nil, err
		}
		a.db = db
		a.closers = append(a.closers, func() error { db.Close(); return nil })
		if err := database.RunMigrations(db); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		a.Store = database.NewStore(db)
		a.listener = database.NewListener(db.URL(), a.Hub, logger)
	}

	verifier, err := auth.NewVerifier(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Verifier = verifier

	opts := []chat.Option{
		chat.WithLogger(logger),
		chat.WithHistoryLimit(cfg.Chat.HistoryLimit),
	}

	if cfg.Redis.URL != "" {
		rc, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, rc.Close)
		if err := rc.Ping(ctx); err != nil {
			logger.Warn("redis unreachable, conversation cache will miss", "error", err)
		}
		opts = append(opts, chat.WithCache(cache.NewConversationIndex(rc, conversationCacheTTL, logger)))
	}

	if cfg.RemindersEnabled() {
		qc, err := queue.NewAsynqClient(cfg.Redis.URL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, qc.Close)
		opts = append(opts, chat.WithReminders(queue.NewReminderScheduler(qc, cfg.Chat.ReminderDelay)))
		logger.Info("unread reminders enabled", "delay", cfg.Chat.ReminderDelay)
	}

	a.Chat = chat.NewService(a.Store, opts...)
	return a, nil
}

// Run feeds database changes into the hub until ctx is done. It returns
// at once in demo mode, where the store publishes directly.
func (a *App) Run(ctx context.Context) error {
	if a.listener == nil {
		return nil
	}
	return a.listener.Run(ctx)
}

// Ready is closed once the change feed is live.
func (a *App) Ready() <-chan struct{} {
	if a.listener == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.listener.Ready()
}

// Close ends every subscription and releases connections in reverse order.
func (a *App) Close() error {
	a.Hub.Close()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
