package api

import (
	"errors"
	"log/slog"
	"net/http"

	"portal-backend/internal/chat"
	"portal-backend/internal/feed"
	"portal-backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type ChatHandler struct {
	service  *chat.Service
	feed     feed.Subscriber
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewChatHandler(service *chat.Service, sub feed.Subscriber, allowedOrigins []string, logger *slog.Logger) *ChatHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHandler{
		service: service,
		feed:    sub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
		logger: logger,
	}
}

// checkOrigin allows requests without an Origin header (non-browser
// clients) and browser requests from the configured origins.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set["*"]; ok {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// respondError maps chat errors to status codes. Persistence details stay
// in the logs.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, chat.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
	case errors.Is(err, chat.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "Conversation does not belong to you"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// GetMyConversation returns the caller's conversation with recent messages.
// conversation is null until the client writes for the first time.
func (h *ChatHandler) GetMyConversation(c *gin.Context) {
	conv, err := h.service.GetMyConversation(c.Request.Context(), c.GetString("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req models.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conversationID, err := h.service.SendMessage(c.Request.Context(), c.GetString("user_id"), req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, models.SendMessageResponse{ConversationID: conversationID})
}

func (h *ChatHandler) MarkAsRead(c *gin.Context) {
	var req models.MarkAsReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.service.MarkAsRead(c.Request.Context(), c.GetString("user_id"), req.ConversationID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Conversation marked as read"})
}

func (h *ChatHandler) GetAdminConversations(c *gin.Context) {
	convs, err := h.service.GetAdminConversations(c.Request.Context(), c.Query("search"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, convs)
}

func (h *ChatHandler) GetAdminConversationDetails(c *gin.Context) {
	details, err := h.service.GetAdminConversationDetails(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

func (h *ChatHandler) SendAdminMessage(c *gin.Context) {
	var req models.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conversationID := c.Param("id")
	if err := h.service.SendAdminMessage(c.Request.Context(), c.GetString("user_id"), conversationID, req.Content); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, models.SendMessageResponse{ConversationID: conversationID})
}

func (h *ChatHandler) MarkAdminMessagesAsRead(c *gin.Context) {
	if err := h.service.MarkAdminMessagesAsRead(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Conversation marked as read"})
}

func (h *ChatHandler) ArchiveConversation(c *gin.Context) {
	conv, err := h.service.ArchiveConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *ChatHandler) ReopenConversation(c *gin.Context) {
	conv, err := h.service.ReopenConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// ClientFeed streams changes of the caller's own conversation.
func (h *ChatHandler) ClientFeed(c *gin.Context) {
	conversationID := c.Query("conversation_id")
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation_id is required"})
		return
	}

	if err := h.service.AuthorizeClientConversation(c.Request.Context(), c.GetString("user_id"), conversationID); err != nil {
		respondError(c, err)
		return
	}
	h.serveFeed(c, feed.Filter{ConversationID: conversationID})
}

// AdminFeed streams one conversation or a whole table.
func (h *ChatHandler) AdminFeed(c *gin.Context) {
	filter := feed.Filter{
		ConversationID: c.Query("conversation_id"),
		Table:          feed.Table(c.Query("table")),
	}
	if err := filter.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.serveFeed(c, filter)
}

// serveFeed subscribes before upgrading so subscribe failures are still
// plain HTTP errors.
func (h *ChatHandler) serveFeed(c *gin.Context, filter feed.Filter) {
	if !c.IsWebsocket() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Websocket upgrade required"})
		return
	}

	ctx := c.Request.Context()
	stream, err := h.feed.Subscribe(ctx, filter)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Change feed unavailable"})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader already wrote the HTTP error.
		stream.Close()
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	h.logger.Debug("feed subscriber attached", "user_id", c.GetString("user_id"), "conversation_id", filter.ConversationID, "table", filter.Table)
	feed.Serve(ctx, ws, stream, h.logger)
}
