package api

import (
	"log/slog"

	"portal-backend/internal/auth"
	"portal-backend/internal/chat"
	"portal-backend/internal/config"
	"portal-backend/internal/feed"
	"portal-backend/internal/middleware"
	"portal-backend/internal/supabase"

	"github.com/gin-gonic/gin"
)

// Dependencies are the services the routes are wired to.
type Dependencies struct {
	Config    *config.Config
	Chat      *chat.Service
	Feed      feed.Subscriber
	Verifier  auth.Verifier
	Directory chat.Directory
	Supabase  *supabase.Client
	Logger    *slog.Logger
}

func SetupRoutes(router *gin.Engine, deps Dependencies) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	server := NewServer(deps.Supabase, deps.Directory)
	chatHandler := NewChatHandler(deps.Chat, deps.Feed, deps.Config.Chat.AllowedOrigins, logger)

	// CORS middleware
	router.Use(middleware.CORSSpecific(deps.Config.GetCORSOrigins()))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "portal-backend",
		})
	})

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Auth routes (no authentication required)
		authRoutes := v1.Group("/auth")
		{
			authRoutes.POST("/login", server.Login)
		}

		// Protected routes (authentication required)
		protected := v1.Group("/")
		protected.Use(middleware.AuthMiddleware(deps.Verifier))
		{
			protected.GET("/profile", server.GetProfile)

			// Client chat routes
			clientChat := protected.Group("/chat")
			clientChat.Use(middleware.ClientOnly())
			{
				clientChat.GET("/me", chatHandler.GetMyConversation)
				clientChat.POST("/messages", chatHandler.SendMessage)
				clientChat.POST("/read", chatHandler.MarkAsRead)
				clientChat.GET("/feed", chatHandler.ClientFeed)
			}

			// Admin only routes
			admin := protected.Group("/admin")
			admin.Use(middleware.AdminOnly())
			{
				conversations := admin.Group("/chat/conversations")
				{
					conversations.GET("", chatHandler.GetAdminConversations)
					conversations.GET("/:id", chatHandler.GetAdminConversationDetails)
					conversations.POST("/:id/messages", chatHandler.SendAdminMessage)
					conversations.POST("/:id/read", chatHandler.MarkAdminMessagesAsRead)
					conversations.POST("/:id/archive", chatHandler.ArchiveConversation)
					conversations.POST("/:id/reopen", chatHandler.ReopenConversation)
				}
				admin.GET("/chat/feed", chatHandler.AdminFeed)
			}
		}
	}
}
