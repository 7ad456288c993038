package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"portal-backend/internal/chat"
	"portal-backend/internal/feed"
	"portal-backend/internal/models"

	"github.com/cenkalti/backoff/v4"
)

// ErrClosed is returned by calls on a closed controller.
var ErrClosed = errors.New("session: controller closed")

// Backend is the server side of one chat surface.
type Backend interface {
	// Send appends content and returns the conversation id, which is new
	// when a client writes for the first time.
	Send(ctx context.Context, conversationID, content string) (string, error)
	Acknowledge(ctx context.Context, conversationID string) error
	History(ctx context.Context, conversationID string) ([]models.Message, error)
}

// BadgeSink receives the locally tracked unread count of a conversation.
type BadgeSink interface {
	SetUnread(conversationID string, n int)
}

type BadgeFunc func(conversationID string, n int)

func (f BadgeFunc) SetUnread(conversationID string, n int) { f(conversationID, n) }

type Config struct {
	Role   string
	SelfID string
	// ConversationID may be empty for a client that has not written yet.
	ConversationID string
	InitialUnread  int

	Backend Backend
	Feed    feed.Subscriber

	// Active reports whether the surface is open and visible. Nil means
	// always active.
	Active func() bool
	Badge  BadgeSink

	// OnChange is called on the controller goroutine after every state
	// change. It must not call back into the controller synchronously.
	OnChange func(Snapshot)

	SendTimeout time.Duration
	NewBackOff  func() backoff.BackOff
	Logger      *slog.Logger
}

// Snapshot is a consistent copy of the controller state.
type Snapshot struct {
	ConversationID string
	Messages       []Entry
	Draft          string
	Unread         int
	Connected      bool
	// LastError is the most recent send failure, wrapping chat.ErrSendFailure.
	LastError error
}

// Controller drives one Thread from a single goroutine.
type Controller struct {
	cfg     Config
	asAdmin bool
	p       *pump
	logger  *slog.Logger

	// Loop-owned.
	thread         *Thread
	conversationID string
	unread         int
	lastErr        error
}

func NewController(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	asAdmin := cfg.Role == models.RoleAdmin
	c := &Controller{
		cfg:            cfg,
		asAdmin:        asAdmin,
		logger:         cfg.Logger.With("surface_role", cfg.Role),
		thread:         NewThread(asAdmin, cfg.SelfID),
		conversationID: cfg.ConversationID,
		unread:         cfg.InitialUnread,
	}
	return c
}

// Start subscribes to the conversation, loads recent history and starts
// the event loop. Subscribing first means nothing committed during the
// fetch is missed. A failed subscribe is retried in the background; a
// failed history fetch fails Start.
func (c *Controller) Start(ctx context.Context) error {
	c.p = newPump(ctx, c.cfg.Feed, c.cfg.NewBackOff, c.logger)
	c.p.filter = c.filter
	c.p.onEvent = c.handleEvent
	c.p.onAttach = c.backfill
	c.p.onDetach = func(error) { c.changed() }

	if err := c.p.attach(); err != nil {
		c.logger.Warn("chat feed subscribe failed, will retry", "conversation_id", c.conversationID, "error", err)
	}

	if c.conversationID != "" {
		msgs, err := c.cfg.Backend.History(c.p.ctx, c.conversationID)
		if err != nil {
			c.p.close()
			return fmt.Errorf("load history: %w", err)
		}
		c.thread.Load(msgs)
		if c.active() {
			c.acknowledge()
		}
	}

	c.p.start()
	c.p.post(c.changed)
	return nil
}

// Close releases the subscription. In-flight sends complete on the server
// but their results are discarded.
func (c *Controller) Close() {
	if c.p != nil {
		c.p.close()
	}
}

// Submit appends an optimistic entry and sends it. It returns
// chat.ErrValidation for empty content without touching state.
func (c *Controller) Submit(content string) (Entry, error) {
	var entry Entry
	var err error
	if !c.run(func() {
		entry, err = c.thread.Submit(content)
		if err != nil {
			return
		}
		c.lastErr = nil
		c.send(entry)
		c.changed()
	}) {
		return Entry{}, ErrClosed
	}
	return entry, err
}

// SetDraft stores compose box content.
func (c *Controller) SetDraft(s string) {
	c.run(func() { c.thread.SetDraft(s) })
}

// Activate acknowledges pending messages once the surface becomes active.
func (c *Controller) Activate() {
	c.run(func() {
		if c.active() && c.unread > 0 {
			c.acknowledge()
			c.changed()
		}
	})
}

func (c *Controller) Snapshot() Snapshot {
	var s Snapshot
	c.run(func() { s = c.snapshot() })
	return s
}

func (c *Controller) run(fn func()) bool {
	if c.p == nil {
		return false
	}
	return c.p.do(fn)
}

func (c *Controller) filter() (feed.Filter, bool) {
	if c.conversationID == "" {
		return feed.Filter{}, false
	}
	return feed.Filter{ConversationID: c.conversationID}, true
}

func (c *Controller) active() bool {
	return c.cfg.Active == nil || c.cfg.Active()
}

func (c *Controller) send(e Entry) {
	conversationID := c.conversationID
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.p.ctx), c.cfg.SendTimeout)
	go func() {
		defer cancel()
		id, err := c.cfg.Backend.Send(ctx, conversationID, e.Content)
		c.p.post(func() { c.sendDone(e, id, err) })
	}()
}

// sendDone never inserts the row itself: the confirmation arrives through
// the feed or the backfill that follows the first subscribe.
func (c *Controller) sendDone(e Entry, conversationID string, err error) {
	if err != nil {
		if _, ok := c.thread.SendFailed(e.ID); !ok {
			// Already confirmed through the feed.
			return
		}
		if errors.Is(err, chat.ErrValidation) {
			c.lastErr = err
		} else {
			c.lastErr = fmt.Errorf("%w: %v", chat.ErrSendFailure, err)
		}
		c.logger.Warn("chat send failed, draft restored", "conversation_id", c.conversationID, "error", err)
		c.changed()
		return
	}
	if c.conversationID == "" && conversationID != "" {
		c.conversationID = conversationID
		c.logger.Debug("conversation created, subscribing", "conversation_id", conversationID)
		c.p.resubscribe()
	}
}

func (c *Controller) handleEvent(ev feed.Event) {
	if c.conversationID == "" {
		return
	}
	if ev.ConversationID() != c.conversationID {
		return
	}
	switch {
	case ev.Table == feed.TableMessages && ev.Type == feed.Insert && ev.Message != nil:
		changed, incoming := c.applyMessage(*ev.Message)
		if incoming {
			c.noteIncoming(1)
		}
		if changed {
			c.changed()
		}
	case ev.Table == feed.TableConversations && ev.Conversation != nil:
		// While inactive the row counter is the source of truth, which also
		// picks up reads done from another surface.
		if !c.active() {
			if n := ev.Conversation.UnreadFor(c.asAdmin); n != c.unread {
				c.setUnread(n)
				c.changed()
			}
		}
	}
}

// applyMessage merges one row. It reports whether the timeline changed and
// whether the row is a new message from the other party.
func (c *Controller) applyMessage(m models.Message) (bool, bool) {
	if c.thread.Apply(m) == Duplicate {
		return false, false
	}
	return true, c.thread.IsOtherParty(m)
}

// noteIncoming accounts for n new messages from the other party: an active
// surface acknowledges them, an inactive one counts them.
func (c *Controller) noteIncoming(n int) {
	if n == 0 {
		return
	}
	if c.active() {
		c.acknowledge()
		return
	}
	c.setUnread(c.unread + n)
}

// backfill refetches recent history after a resubscribe so messages
// committed while detached are not lost. Rows already present are dropped
// by the de-duplication in Thread.Apply.
func (c *Controller) backfill() {
	c.changed()
	conversationID := c.conversationID
	go func() {
		msgs, err := c.cfg.Backend.History(c.p.ctx, conversationID)
		if err != nil {
			c.logger.Warn("chat backfill failed", "conversation_id", conversationID, "error", err)
			return
		}
		c.p.post(func() {
			if conversationID != c.conversationID {
				return
			}
			changed, incoming := false, 0
			for _, m := range msgs {
				ch, in := c.applyMessage(m)
				changed = changed || ch
				if in {
					incoming++
				}
			}
			c.noteIncoming(incoming)
			if changed {
				c.changed()
			}
		})
	}()
}

func (c *Controller) acknowledge() {
	conversationID := c.conversationID
	c.setUnread(0)
	go func() {
		if err := c.cfg.Backend.Acknowledge(c.p.ctx, conversationID); err != nil && c.p.ctx.Err() == nil {
			c.logger.Warn("failed to acknowledge read", "conversation_id", conversationID, "error", err)
		}
	}()
}

func (c *Controller) setUnread(n int) {
	c.unread = n
	if c.cfg.Badge != nil {
		c.cfg.Badge.SetUnread(c.conversationID, n)
	}
}

func (c *Controller) snapshot() Snapshot {
	return Snapshot{
		ConversationID: c.conversationID,
		Messages:       c.thread.Messages(),
		Draft:          c.thread.Draft(),
		Unread:         c.unread,
		Connected:      c.p.connected(),
		LastError:      c.lastErr,
	}
}

func (c *Controller) changed() {
	if c.cfg.OnChange != nil {
		c.cfg.OnChange(c.snapshot())
	}
}
