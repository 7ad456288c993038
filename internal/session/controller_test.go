package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"portal-backend/internal/chat"
	"portal-backend/internal/feed"
	"portal-backend/internal/memstore"
	"portal-backend/internal/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

type env struct {
	hub   *feed.Hub
	store *memstore.Store
	svc   *chat.Service
	sub   *gatedSubscriber
}

func newEnv(t *testing.T) *env {
	t.Helper()
	hub := feed.NewHub(nil)
	t.Cleanup(hub.Close)
	store := memstore.New(hub)
	return &env{
		hub:   hub,
		store: store,
		svc:   chat.NewService(store),
		sub:   &gatedSubscriber{hub: hub},
	}
}

func (e *env) unread(t *testing.T, conversationID string) (client, admin int) {
	t.Helper()
	conv, err := e.store.GetByID(context.Background(), conversationID)
	require.NoError(t, err)
	return conv.UnreadClientCount, conv.UnreadAdminCount
}

// gatedSubscriber fails subscribes while closed, to simulate an outage.
type gatedSubscriber struct {
	hub *feed.Hub

	mu     sync.Mutex
	closed bool
}

func (g *gatedSubscriber) Subscribe(ctx context.Context, f feed.Filter) (feed.Stream, error) {
	g.mu.Lock()
	closed := g.closed
	g.mu.Unlock()
	if closed {
		return nil, chat.ErrTransientDelivery
	}
	return g.hub.Subscribe(ctx, f)
}

func (g *gatedSubscriber) setClosed(v bool) {
	g.mu.Lock()
	g.closed = v
	g.mu.Unlock()
}

type failingSend struct {
	ClientService
	err error
}

func (f failingSend) Send(context.Context, string, string) (string, error) {
	return "", f.err
}

type badgeRecorder struct {
	mu   sync.Mutex
	last map[string]int
}

func (b *badgeRecorder) SetUnread(conversationID string, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == nil {
		b.last = make(map[string]int)
	}
	b.last[conversationID] = n
}

func (b *badgeRecorder) get(conversationID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last[conversationID]
}

func fastBackOff() backoff.BackOff {
	return backoff.NewConstantBackOff(20 * time.Millisecond)
}

func confirmed(s Snapshot) []string {
	var out []string
	for _, e := range s.Messages {
		if !e.Optimistic {
			out = append(out, e.Content)
		}
	}
	return out
}

func TestClientPageFirstContact(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	clientID := uuid.NewString()

	page, err := NewClientPage(ctx, ClientService{Service: e.svc, ClientID: clientID}, e.sub, clientID, nil, nil)
	require.NoError(t, err)
	defer page.Close()
	assert.Empty(t, page.Snapshot().ConversationID)

	entry, err := page.Submit("Hola, quiero enviar un giro")
	require.NoError(t, err)
	assert.True(t, entry.Optimistic)

	require.Eventually(t, func() bool {
		s := page.Snapshot()
		return s.ConversationID != "" && s.Connected && len(s.Messages) == 1 && !s.Messages[0].Optimistic
	}, waitFor, tick)

	s := page.Snapshot()
	assert.Equal(t, "Hola, quiero enviar un giro", s.Messages[0].Content)
	assert.Equal(t, clientID, s.Messages[0].SenderID)
	assert.Empty(t, s.Draft)

	_, admin := e.unread(t, s.ConversationID)
	assert.Equal(t, 1, admin)
}

func TestActiveSurfaceAcknowledgesIncoming(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	clientID := uuid.NewString()
	convID, err := e.svc.SendMessage(ctx, clientID, "hola")
	require.NoError(t, err)

	page, err := NewClientPage(ctx, ClientService{Service: e.svc, ClientID: clientID}, e.sub, clientID, nil, nil)
	require.NoError(t, err)
	defer page.Close()

	require.NoError(t, e.svc.SendAdminMessage(ctx, uuid.NewString(), convID, "buenas tardes"))

	require.Eventually(t, func() bool {
		return len(confirmed(page.Snapshot())) == 2
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		client, _ := e.unread(t, convID)
		return client == 0
	}, waitFor, tick)
	assert.Zero(t, page.Snapshot().Unread)
}

func TestCollapsedWidgetCountsBadge(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	clientID := uuid.NewString()
	adminID := uuid.NewString()
	convID, err := e.svc.SendMessage(ctx, clientID, "hola")
	require.NoError(t, err)
	require.NoError(t, e.svc.SendAdminMessage(ctx, adminID, convID, "uno"))

	badge := &badgeRecorder{}
	w, err := NewClientWidget(ctx, ClientService{Service: e.svc, ClientID: clientID}, e.sub, clientID, badge, nil)
	require.NoError(t, err)
	defer w.Close()
	assert.False(t, w.IsOpen())
	assert.Equal(t, 1, badge.get(convID))

	require.NoError(t, e.svc.SendAdminMessage(ctx, adminID, convID, "dos"))
	require.Eventually(t, func() bool { return badge.get(convID) == 2 }, waitFor, tick)

	client, _ := e.unread(t, convID)
	assert.Equal(t, 2, client, "collapsed widget must not acknowledge")

	w.Open()
	require.Eventually(t, func() bool {
		client, _ := e.unread(t, convID)
		return client == 0
	}, waitFor, tick)
	assert.Zero(t, badge.get(convID))
	assert.Zero(t, w.Snapshot().Unread)

	w.Collapse()
	require.NoError(t, e.svc.SendAdminMessage(ctx, adminID, convID, "tres"))
	require.Eventually(t, func() bool { return badge.get(convID) == 1 }, waitFor, tick)
}

func TestSendFailureRestoresDraft(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	clientID := uuid.NewString()
	backend := failingSend{ClientService: ClientService{Service: e.svc, ClientID: clientID}, err: errors.New("connection reset")}

	page, err := NewClientPage(ctx, backend, e.sub, clientID, nil, nil)
	require.NoError(t, err)
	defer page.Close()

	page.SetDraft("")
	_, err = page.Submit("no se pierde")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return page.Snapshot().LastError != nil
	}, waitFor, tick)

	s := page.Snapshot()
	assert.ErrorIs(t, s.LastError, chat.ErrSendFailure)
	assert.Empty(t, s.Messages)
	assert.Equal(t, "no se pierde", s.Draft)
}

func TestSubmitValidationLeavesState(t *testing.T) {
	e := newEnv(t)
	clientID := uuid.NewString()
	page, err := NewClientPage(context.Background(), ClientService{Service: e.svc, ClientID: clientID}, e.sub, clientID, nil, nil)
	require.NoError(t, err)
	defer page.Close()

	_, err = page.Submit("   ")
	assert.ErrorIs(t, err, chat.ErrValidation)
	assert.Empty(t, page.Snapshot().Messages)
}

func TestResubscribeBackfillsMissedMessages(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	clientID := uuid.NewString()
	convID, err := e.svc.SendMessage(ctx, clientID, "hola")
	require.NoError(t, err)

	page := NewController(Config{
		Role:           models.RoleClient,
		SelfID:         clientID,
		ConversationID: convID,
		Backend:        ClientService{Service: e.svc, ClientID: clientID},
		Feed:           e.sub,
		NewBackOff:     fastBackOff,
	})
	require.NoError(t, page.Start(ctx))
	defer page.Close()
	require.Eventually(t, func() bool { return page.Snapshot().Connected }, waitFor, tick)

	e.sub.setClosed(true)
	e.hub.Interrupt("test outage")
	require.Eventually(t, func() bool { return !page.Snapshot().Connected }, waitFor, tick)

	// Published while nobody is subscribed.
	require.NoError(t, e.svc.SendAdminMessage(ctx, uuid.NewString(), convID, "perdido"))
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, confirmed(page.Snapshot()), 1)

	e.sub.setClosed(false)
	require.Eventually(t, func() bool {
		s := page.Snapshot()
		return s.Connected && len(confirmed(s)) == 2
	}, waitFor, tick)
	assert.Equal(t, []string{"hola", "perdido"}, confirmed(page.Snapshot()))

	// A second outage with nothing missed must not duplicate rows.
	e.hub.Interrupt("again")
	require.NoError(t, e.svc.SendAdminMessage(ctx, uuid.NewString(), convID, "nuevo"))
	require.Eventually(t, func() bool {
		s := page.Snapshot()
		return s.Connected && len(confirmed(s)) == 3
	}, waitFor, tick)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"hola", "perdido", "nuevo"}, confirmed(page.Snapshot()))
}

func TestInterleavedSendersConverge(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	clientID := uuid.NewString()
	adminID := uuid.NewString()
	convID, err := e.svc.SendMessage(ctx, clientID, "inicio")
	require.NoError(t, err)

	page, err := NewClientPage(ctx, ClientService{Service: e.svc, ClientID: clientID}, e.sub, clientID, nil, nil)
	require.NoError(t, err)
	defer page.Close()

	inbox, err := NewAdminInbox(ctx, AdminService{Service: e.svc, AdminID: adminID}, e.sub, adminID, "", nil, nil)
	require.NoError(t, err)
	defer inbox.Close()
	thread, err := inbox.Open(convID, nil)
	require.NoError(t, err)

	const n = 10
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			_, err := page.Submit("c")
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			_, err := thread.Submit("a")
			assert.NoError(t, err)
		}
	}()
	wg.Wait()

	want := 2*n + 1
	settled := func(s Snapshot) bool {
		return len(s.Messages) == want && len(confirmed(s)) == want
	}
	require.Eventually(t, func() bool {
		return settled(page.Snapshot()) && settled(thread.Snapshot())
	}, waitFor, tick)

	stored, err := e.store.ListByConversation(ctx, convID, 0, chat.Ascending)
	require.NoError(t, err)
	require.Len(t, stored, want)
	storedIDs := make([]string, len(stored))
	for i, m := range stored {
		storedIDs[i] = m.ID
	}
	assert.Equal(t, storedIDs, ids(page.Snapshot().Messages))
	assert.Equal(t, storedIDs, ids(thread.Snapshot().Messages))
}

func TestCloseReleasesSubscription(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	clientID := uuid.NewString()
	_, err := e.svc.SendMessage(ctx, clientID, "hola")
	require.NoError(t, err)

	page, err := NewClientPage(ctx, ClientService{Service: e.svc, ClientID: clientID}, e.sub, clientID, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, e.hub.Len())

	page.Close()
	page.Close()
	assert.Zero(t, e.hub.Len())

	_, err = page.Submit("tarde")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStartFailsOnHistoryError(t *testing.T) {
	e := newEnv(t)
	c := NewController(Config{
		Role:           models.RoleClient,
		SelfID:         "client-1",
		ConversationID: uuid.NewString(),
		Backend:        ClientService{Service: e.svc, ClientID: "client-1"},
		Feed:           e.sub,
	})
	err := c.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, chat.ErrForbidden)
	assert.Zero(t, e.hub.Len())
}
