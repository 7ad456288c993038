package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"portal-backend/internal/chat"
	"portal-backend/internal/feed"

	"github.com/gorilla/websocket"
)

// Feed returns a change feed subscriber over websocket. Admin feeds accept
// table filters; client feeds only the caller's conversation. Reconnecting
// is left to the caller, which resubscribes when a stream ends.
func (c *Client) Feed(admin bool) feed.Subscriber {
	path := "/api/v1/chat/feed"
	if admin {
		path = "/api/v1/admin/chat/feed"
	}
	return &wsSubscriber{c: c, path: path}
}

type wsSubscriber struct {
	c    *Client
	path string
}

func (s *wsSubscriber) endpoint(f feed.Filter) (string, error) {
	wsEndpoint := s.c.baseURL
	wsEndpoint = strings.Replace(wsEndpoint, "http://", "ws://", 1)
	wsEndpoint = strings.Replace(wsEndpoint, "https://", "wss://", 1)

	u, err := url.Parse(wsEndpoint + s.path)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	if f.ConversationID != "" {
		q.Set("conversation_id", f.ConversationID)
	}
	if f.Table != "" {
		q.Set("table", string(f.Table))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *wsSubscriber) Subscribe(ctx context.Context, f feed.Filter) (feed.Stream, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	endpoint, err := s.endpoint(f)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := http.Header{}
	if s.c.token != "" {
		header.Set("Authorization", "Bearer "+s.c.token)
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			apiErr := &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
			if apiErr.Unwrap() != nil {
				return nil, apiErr
			}
		}
		return nil, fmt.Errorf("%w: websocket connect: %v", chat.ErrTransientDelivery, err)
	}

	st := &wsStream{
		conn:   conn,
		events: make(chan feed.Event, feed.DefaultBuffer),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go st.readLoop()
	go func() {
		select {
		case <-ctx.Done():
			st.Close()
		case <-st.done:
		}
	}()
	return st, nil
}

type wsStream struct {
	conn   *websocket.Conn
	events chan feed.Event
	quit   chan struct{}
	done   chan struct{}

	mu     sync.Mutex
	err    error
	closed bool
}

func (s *wsStream) Events() <-chan feed.Event { return s.events }

func (s *wsStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the stream without an error.
func (s *wsStream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.quit)
	s.mu.Unlock()

	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = s.conn.Close()
}

func (s *wsStream) readLoop() {
	defer close(s.done)
	defer close(s.events)

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(err)
			return
		}
		var ev feed.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			s.fail(fmt.Errorf("decode event: %w", err))
			_ = s.conn.Close()
			return
		}
		select {
		case s.events <- ev:
		case <-s.quit:
			return
		}
	}
}

func (s *wsStream) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code == feed.CloseResubscribe {
		s.err = fmt.Errorf("%w: server asked to resubscribe", chat.ErrTransientDelivery)
		return
	}
	s.err = fmt.Errorf("%w: %v", chat.ErrTransientDelivery, err)
}
