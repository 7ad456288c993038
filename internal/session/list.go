package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"portal-backend/internal/feed"
	"portal-backend/internal/models"

	"github.com/cenkalti/backoff/v4"
)

// ListBackend loads the admin worklist.
type ListBackend interface {
	Conversations(ctx context.Context, search string) ([]models.AdminConversation, error)
}

type ListConfig struct {
	Backend ListBackend
	Feed    feed.Subscriber
	Search  string
	// OnChange is called on the list goroutine after every change.
	OnChange   func([]models.AdminConversation)
	NewBackOff func() backoff.BackOff
	Logger     *slog.Logger
}

// AdminList keeps the admin worklist live from the conversations table
// feed. Rows are ordered by last message, most recent first. Archived rows
// leave the list at once; rows it does not know yet trigger a reload so the
// profile fields get filled.
type AdminList struct {
	cfg    ListConfig
	p      *pump
	logger *slog.Logger

	// Loop-owned.
	rows     []models.AdminConversation
	selected string
}

func NewAdminList(cfg ListConfig) *AdminList {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &AdminList{cfg: cfg, logger: cfg.Logger}
}

func (l *AdminList) Start(ctx context.Context) error {
	l.p = newPump(ctx, l.cfg.Feed, l.cfg.NewBackOff, l.logger)
	l.p.filter = func() (feed.Filter, bool) {
		return feed.Filter{Table: feed.TableConversations}, true
	}
	l.p.onEvent = l.handleEvent
	l.p.onAttach = l.reload

	if err := l.p.attach(); err != nil {
		l.logger.Warn("worklist feed subscribe failed, will retry", "error", err)
	}
	rows, err := l.cfg.Backend.Conversations(l.p.ctx, l.cfg.Search)
	if err != nil {
		l.p.close()
		return fmt.Errorf("load conversations: %w", err)
	}
	l.rows = rows
	l.sort()
	l.p.start()
	l.p.post(l.changed)
	return nil
}

func (l *AdminList) Close() {
	if l.p != nil {
		l.p.close()
	}
}

// Rows returns a copy of the worklist.
func (l *AdminList) Rows() []models.AdminConversation {
	var out []models.AdminConversation
	l.run(func() { out = l.copyRows() })
	return out
}

// Select marks the conversation open in the admin UI. Its local unread
// count stays at zero while it is selected, since the thread acknowledges
// as messages arrive.
func (l *AdminList) Select(conversationID string) {
	l.run(func() {
		l.selected = conversationID
		if i := l.index(conversationID); i >= 0 && l.rows[i].UnreadAdminCount != 0 {
			l.rows[i].UnreadAdminCount = 0
			l.changed()
		}
	})
}

// SetSearch replaces the filter and reloads.
func (l *AdminList) SetSearch(search string) {
	l.run(func() {
		l.cfg.Search = search
		l.reload()
	})
}

func (l *AdminList) run(fn func()) bool {
	if l.p == nil {
		return false
	}
	return l.p.do(fn)
}

func (l *AdminList) handleEvent(ev feed.Event) {
	if ev.Table != feed.TableConversations || ev.Conversation == nil {
		return
	}
	conv := *ev.Conversation
	i := l.index(conv.ID)
	switch {
	case conv.IsArchived():
		if i < 0 {
			return
		}
		l.rows = append(l.rows[:i], l.rows[i+1:]...)
	case i < 0:
		// New or reopened row: reload to pick up the client's profile and
		// to apply the search filter server-side.
		l.reload()
		return
	default:
		l.rows[i].Conversation = conv
		if conv.ID == l.selected {
			l.rows[i].UnreadAdminCount = 0
		}
		l.sort()
	}
	l.changed()
}

func (l *AdminList) reload() {
	search := l.cfg.Search
	go func() {
		rows, err := l.cfg.Backend.Conversations(l.p.ctx, search)
		if err != nil {
			l.logger.Warn("worklist reload failed", "error", err)
			return
		}
		l.p.post(func() {
			if search != l.cfg.Search {
				return
			}
			l.rows = rows
			if i := l.index(l.selected); i >= 0 {
				l.rows[i].UnreadAdminCount = 0
			}
			l.sort()
			l.changed()
		})
	}()
}

func (l *AdminList) index(id string) int {
	for i := range l.rows {
		if l.rows[i].ID == id {
			return i
		}
	}
	return -1
}

func (l *AdminList) sort() {
	sort.SliceStable(l.rows, func(i, j int) bool {
		a, b := l.rows[i], l.rows[j]
		if !a.LastMessageAt.Equal(b.LastMessageAt) {
			return a.LastMessageAt.After(b.LastMessageAt)
		}
		return strings.Compare(a.ID, b.ID) < 0
	})
}

func (l *AdminList) copyRows() []models.AdminConversation {
	out := make([]models.AdminConversation, len(l.rows))
	copy(out, l.rows)
	return out
}

func (l *AdminList) changed() {
	if l.cfg.OnChange != nil {
		l.cfg.OnChange(l.copyRows())
	}
}
