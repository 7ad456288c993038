package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"portal-backend/internal/feed"
	"portal-backend/internal/models"
)

// ClientWidget is the floating chat bubble. It stays subscribed while
// collapsed and counts staff replies on its badge until opened.
type ClientWidget struct {
	*Controller
	open atomic.Bool
}

// NewClientWidget loads the caller's conversation and starts collapsed.
func NewClientWidget(ctx context.Context, backend ClientBackend, sub feed.Subscriber, clientID string, badge BadgeSink, logger *slog.Logger) (*ClientWidget, error) {
	conv, err := backend.Mine(ctx)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	w := &ClientWidget{}
	cfg := Config{
		Role:    models.RoleClient,
		SelfID:  clientID,
		Backend: backend,
		Feed:    sub,
		Active:  w.open.Load,
		Badge:   badge,
		Logger:  logger,
	}
	if conv != nil {
		cfg.ConversationID = conv.ID
		cfg.InitialUnread = conv.UnreadClientCount
	}
	if badge != nil {
		badge.SetUnread(cfg.ConversationID, cfg.InitialUnread)
	}
	w.Controller = NewController(cfg)
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// Open expands the widget and acknowledges anything pending.
func (w *ClientWidget) Open() {
	w.open.Store(true)
	w.Activate()
}

func (w *ClientWidget) Collapse() {
	w.open.Store(false)
}

func (w *ClientWidget) IsOpen() bool {
	return w.open.Load()
}

// NewClientPage starts the full page chat. The page is always the active
// surface while it exists. onChange may be nil.
func NewClientPage(ctx context.Context, backend ClientBackend, sub feed.Subscriber, clientID string, onChange func(Snapshot), logger *slog.Logger) (*Controller, error) {
	conv, err := backend.Mine(ctx)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	cfg := Config{
		Role:     models.RoleClient,
		SelfID:   clientID,
		Backend:  backend,
		Feed:     sub,
		OnChange: onChange,
		Logger:   logger,
	}
	if conv != nil {
		cfg.ConversationID = conv.ID
		cfg.InitialUnread = conv.UnreadClientCount
	}
	c := NewController(cfg)
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// AdminInbox pairs the live worklist with the open conversation thread.
// The two run independently; they only meet through the store and feed.
type AdminInbox struct {
	ctx     context.Context
	backend AdminBackend
	sub     feed.Subscriber
	adminID string
	logger  *slog.Logger

	List *AdminList

	mu     sync.Mutex
	thread *Controller
}

func NewAdminInbox(ctx context.Context, backend AdminBackend, sub feed.Subscriber, adminID, search string, onList func([]models.AdminConversation), logger *slog.Logger) (*AdminInbox, error) {
	if logger == nil {
		logger = slog.Default()
	}
	in := &AdminInbox{ctx: ctx, backend: backend, sub: sub, adminID: adminID, logger: logger}
	in.List = NewAdminList(ListConfig{
		Backend:  backend,
		Feed:     sub,
		Search:   search,
		OnChange: onList,
		Logger:   logger,
	})
	if err := in.List.Start(ctx); err != nil {
		return nil, err
	}
	return in, nil
}

// Open closes the current thread, if any, and opens conversationID as the
// active thread.
func (in *AdminInbox) Open(conversationID string, onChange func(Snapshot)) (*Controller, error) {
	details, err := in.backend.Details(in.ctx, conversationID)
	if err != nil {
		return nil, err
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if in.thread != nil {
		in.thread.Close()
		in.thread = nil
	}
	c := NewController(Config{
		Role:           models.RoleAdmin,
		SelfID:         in.adminID,
		ConversationID: details.Conversation.ID,
		InitialUnread:  details.UnreadAdminCount,
		Backend:        in.backend.Thread(),
		Feed:           in.sub,
		OnChange:       onChange,
		Logger:         in.logger,
	})
	if err := c.Start(in.ctx); err != nil {
		return nil, err
	}
	in.thread = c
	in.List.Select(conversationID)
	return c, nil
}

// Thread returns the open thread, or nil.
func (in *AdminInbox) Thread() *Controller {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.thread
}

func (in *AdminInbox) Close() {
	in.mu.Lock()
	if in.thread != nil {
		in.thread.Close()
		in.thread = nil
	}
	in.mu.Unlock()
	in.List.Close()
}
