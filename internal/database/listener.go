package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"portal-backend/internal/feed"
	"portal-backend/internal/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
)

// FeedSink receives decoded change events. Interrupt is called after a
// reconnect because notifications sent while disconnected are lost.
type FeedSink interface {
	feed.Publisher
	Interrupt(reason string)
}

// Listener turns chat_changes notifications into feed events.
type Listener struct {
	url        string
	sink       FeedSink
	logger     *slog.Logger
	newBackOff func() backoff.BackOff

	readyOnce sync.Once
	ready     chan struct{}
}

func NewListener(url string, sink FeedSink, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		url:    url,
		sink:   sink,
		logger: logger,
		ready:  make(chan struct{}),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// Ready is closed once the first LISTEN succeeded.
func (l *Listener) Ready() <-chan struct{} {
	return l.ready
}

// Run listens until ctx is done, reconnecting with exponential backoff.
func (l *Listener) Run(ctx context.Context) error {
	b := backoff.WithContext(l.newBackOff(), ctx)
	connected := false

	for {
		err := l.listen(ctx, func() {
			if connected {
				l.sink.Interrupt("feed listener reconnected")
			}
			connected = true
			b.Reset()
			l.readyOnce.Do(func() { close(l.ready) })
		})
		if ctx.Err() != nil {
			return nil
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return err
		}
		l.logger.Warn("feed listener disconnected", "error", err, "retry_in", wait)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (l *Listener) listen(ctx context.Context, onListening func()) error {
	conn, err := pgx.Connect(ctx, l.url)
	if err != nil {
		return fmt.Errorf("connect listener: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}
	l.logger.Info("feed listener started", "channel", NotifyChannel)
	onListening()

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		ev, err := decodeNotification(n.Payload)
		if err != nil {
			l.logger.Error("failed to decode change notification", "error", err)
			continue
		}
		l.sink.Publish(ev)
	}
}

type notification struct {
	Table  feed.Table      `json:"table"`
	Type   feed.EventType  `json:"type"`
	Record json.RawMessage `json:"record"`
}

func decodeNotification(payload string) (feed.Event, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return feed.Event{}, fmt.Errorf("decode notification: %w", err)
	}
	if n.Type != feed.Insert && n.Type != feed.Update {
		return feed.Event{}, fmt.Errorf("unexpected operation %q", n.Type)
	}

	switch n.Table {
	case feed.TableMessages:
		var m models.Message
		if err := json.Unmarshal(n.Record, &m); err != nil {
			return feed.Event{}, fmt.Errorf("decode message record: %w", err)
		}
		return feed.Event{Table: n.Table, Type: n.Type, Message: &m}, nil
	case feed.TableConversations:
		var c models.Conversation
		if err := json.Unmarshal(n.Record, &c); err != nil {
			return feed.Event{}, fmt.Errorf("decode conversation record: %w", err)
		}
		return feed.ConversationChanged(n.Type, c), nil
	default:
		return feed.Event{}, fmt.Errorf("unexpected table %q", n.Table)
	}
}
