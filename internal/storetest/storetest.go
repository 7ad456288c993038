// Package storetest holds the behavioral contract every chat.Store
// implementation must satisfy.
package storetest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"portal-backend/internal/chat"
	"portal-backend/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Harness gives the contract access to a fresh store and a way to seed
// client profiles.
type Harness struct {
	Store      chat.Store
	AddProfile func(t *testing.T, p models.Profile)
}

// Run executes the contract. newHarness is called once per subtest.
func Run(t *testing.T, newHarness func(t *testing.T) Harness) {
	t.Run("UnreadCounters", func(t *testing.T) { testUnreadCounters(t, newHarness(t)) })
	t.Run("ConcurrentGetOrCreate", func(t *testing.T) { testConcurrentGetOrCreate(t, newHarness(t)) })
	t.Run("ConcurrentAppendsNoLostUpdates", func(t *testing.T) { testConcurrentAppends(t, newHarness(t)) })
	t.Run("AppendValidation", func(t *testing.T) { testAppendValidation(t, newHarness(t)) })
	t.Run("EscapedContentLimit", func(t *testing.T) { testEscapedContentLimit(t, newHarness(t)) })
	t.Run("ListOrdering", func(t *testing.T) { testListOrdering(t, newHarness(t)) })
	t.Run("AdminWorklist", func(t *testing.T) { testAdminWorklist(t, newHarness(t)) })
	t.Run("AcknowledgeUnknown", func(t *testing.T) { testAcknowledgeUnknown(t, newHarness(t)) })
}

func newClient(t *testing.T, h Harness, name string) string {
	id := uuid.NewString()
	h.AddProfile(t, models.Profile{
		ID:       id,
		Email:    fmt.Sprintf("%s@example.com", name),
		FullName: name,
		Role:     models.RoleClient,
	})
	return id
}

func appendMsg(t *testing.T, s chat.Store, convID string, admin bool, sender, content string) *models.Message {
	t.Helper()
	m, err := s.Append(context.Background(), chat.AppendInput{
		ConversationID: convID,
		AuthorIsAdmin:  admin,
		SenderID:       sender,
		Content:        content,
	})
	require.NoError(t, err)
	return m
}

func testUnreadCounters(t *testing.T, h Harness) {
	ctx := context.Background()
	clientID := newClient(t, h, "Lucia Perez")
	adminID := uuid.NewString()

	conv, err := h.Store.GetOrCreateForClient(ctx, clientID)
	require.NoError(t, err)
	assert.Equal(t, 0, conv.UnreadAdminCount)
	assert.Equal(t, 0, conv.UnreadClientCount)
	assert.Equal(t, models.ConversationActive, conv.Status)

	for i := 0; i < 3; i++ {
		appendMsg(t, h.Store, conv.ID, false, clientID, fmt.Sprintf("client %d", i))
	}
	last := appendMsg(t, h.Store, conv.ID, true, adminID, "admin reply")

	got, err := h.Store.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.UnreadAdminCount)
	assert.Equal(t, 1, got.UnreadClientCount)
	assert.WithinDuration(t, last.CreatedAt, got.LastMessageAt, time.Millisecond)

	require.NoError(t, h.Store.AcknowledgeRead(ctx, conv.ID, true))
	got, err = h.Store.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.UnreadAdminCount)
	assert.Equal(t, 1, got.UnreadClientCount)

	// Redundant acknowledgement is a no-op.
	require.NoError(t, h.Store.AcknowledgeRead(ctx, conv.ID, true))
	require.NoError(t, h.Store.AcknowledgeRead(ctx, conv.ID, false))
	require.NoError(t, h.Store.AcknowledgeRead(ctx, conv.ID, false))
	got, err = h.Store.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.UnreadAdminCount)
	assert.Equal(t, 0, got.UnreadClientCount)
}

func testConcurrentGetOrCreate(t *testing.T, h Harness) {
	ctx := context.Background()
	clientID := newClient(t, h, "Two Tabs")

	const callers = 8
	ids := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			conv, err := h.Store.GetOrCreateForClient(ctx, clientID)
			errs[i] = err
			if conv != nil {
				ids[i] = conv.ID
			}
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i], "every caller should get the same conversation")
	}

	found, err := h.Store.FindForClient(ctx, clientID)
	require.NoError(t, err)
	assert.Equal(t, ids[0], found.ID)
}

func testConcurrentAppends(t *testing.T, h Harness) {
	ctx := context.Background()
	clientID := newClient(t, h, "Busy Client")
	conv, err := h.Store.GetOrCreateForClient(ctx, clientID)
	require.NoError(t, err)

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.Store.Append(ctx, chat.AppendInput{
				ConversationID: conv.ID,
				SenderID:       clientID,
				Content:        fmt.Sprintf("message %d", i),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := h.Store.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, writers, got.UnreadAdminCount)

	msgs, err := h.Store.ListByConversation(ctx, conv.ID, 0, chat.Ascending)
	require.NoError(t, err)
	require.Len(t, msgs, writers)
	for i := 1; i < len(msgs); i++ {
		assert.True(t, msgs[i].CreatedAt.After(msgs[i-1].CreatedAt), "created_at must be strictly increasing")
	}
}

func testAppendValidation(t *testing.T, h Harness) {
	ctx := context.Background()
	clientID := newClient(t, h, "Empty Words")
	conv, err := h.Store.GetOrCreateForClient(ctx, clientID)
	require.NoError(t, err)

	_, err = h.Store.Append(ctx, chat.AppendInput{ConversationID: conv.ID, SenderID: clientID, Content: "   "})
	assert.ErrorIs(t, err, chat.ErrValidation)

	_, err = h.Store.Append(ctx, chat.AppendInput{ConversationID: uuid.NewString(), SenderID: clientID, Content: "hello"})
	assert.ErrorIs(t, err, chat.ErrNotFound)

	got, err := h.Store.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.UnreadAdminCount, "rejected appends must not touch counters")

	msgs, err := h.Store.ListByConversation(ctx, conv.ID, 10, chat.Ascending)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

// Content that grows under JSON escaping must be judged the same way by
// every store, whatever the change feed transport carries.
func testEscapedContentLimit(t *testing.T, h Harness) {
	ctx := context.Background()
	clientID := newClient(t, h, "Quoted")
	conv, err := h.Store.GetOrCreateForClient(ctx, clientID)
	require.NoError(t, err)

	_, err = h.Store.Append(ctx, chat.AppendInput{ConversationID: conv.ID, SenderID: clientID, Content: strings.Repeat(`"`, chat.MaxContentBytes)})
	assert.ErrorIs(t, err, chat.ErrValidation)

	half := strings.Repeat(`"`, chat.MaxContentBytes/2)
	m := appendMsg(t, h.Store, conv.ID, false, clientID, half)
	assert.Equal(t, half, m.Content)

	m = appendMsg(t, h.Store, conv.ID, true, uuid.NewString(), "inicio"+strings.Repeat("\n", chat.MaxContentBytes/4)+"fin")
	assert.Equal(t, chat.MaxContentBytes/4+9, len(m.Content))

	msgs, err := h.Store.ListByConversation(ctx, conv.ID, 10, chat.Ascending)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func testListOrdering(t *testing.T, h Harness) {
	ctx := context.Background()
	clientID := newClient(t, h, "Ordered")
	conv, err := h.Store.GetOrCreateForClient(ctx, clientID)
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, appendMsg(t, h.Store, conv.ID, i%2 == 1, clientID, fmt.Sprintf("m%d", i)).ID)
	}

	asc, err := h.Store.ListByConversation(ctx, conv.ID, 0, chat.Ascending)
	require.NoError(t, err)
	require.Len(t, asc, 5)
	for i, m := range asc {
		assert.Equal(t, ids[i], m.ID)
	}

	recent, err := h.Store.ListByConversation(ctx, conv.ID, 2, chat.Descending)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, ids[4], recent[0].ID)
	assert.Equal(t, ids[3], recent[1].ID)
}

func testAdminWorklist(t *testing.T, h Harness) {
	ctx := context.Background()
	ana := newClient(t, h, "Ana Gomez")
	beto := newClient(t, h, "Beto Ruiz")

	anaConv, err := h.Store.GetOrCreateForClient(ctx, ana)
	require.NoError(t, err)
	appendMsg(t, h.Store, anaConv.ID, false, ana, "first")
	bConv, err := h.Store.GetOrCreateForClient(ctx, beto)
	require.NoError(t, err)
	appendMsg(t, h.Store, bConv.ID, false, beto, "second")

	list, err := h.Store.ListForAdmin(ctx, "")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, bConv.ID, list[0].ID, "most recent first")
	assert.Equal(t, "Beto Ruiz", list[0].ClientName)
	assert.Equal(t, "Beto Ruiz@example.com", list[0].ClientEmail)

	appendMsg(t, h.Store, anaConv.ID, false, ana, "third")
	list, err = h.Store.ListForAdmin(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, anaConv.ID, list[0].ID)

	list, err = h.Store.ListForAdmin(ctx, "gOMe")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, anaConv.ID, list[0].ID)

	list, err = h.Store.ListForAdmin(ctx, "ruiz@EXAMPLE")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, bConv.ID, list[0].ID)

	archived, err := h.Store.SetStatus(ctx, anaConv.ID, models.ConversationArchived)
	require.NoError(t, err)
	assert.True(t, archived.IsArchived())

	list, err = h.Store.ListForAdmin(ctx, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, bConv.ID, list[0].ID)

	msgs, err := h.Store.ListByConversation(ctx, anaConv.ID, 10, chat.Ascending)
	require.NoError(t, err)
	assert.Len(t, msgs, 2, "archived conversations stay readable")

	appendMsg(t, h.Store, anaConv.ID, false, ana, "back again")
	got, err := h.Store.GetByID(ctx, anaConv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationActive, got.Status, "a client message reactivates the conversation")

	_, err = h.Store.SetStatus(ctx, anaConv.ID, "deleted")
	assert.ErrorIs(t, err, chat.ErrValidation)
}

func testAcknowledgeUnknown(t *testing.T, h Harness) {
	err := h.Store.AcknowledgeRead(context.Background(), uuid.NewString(), true)
	assert.ErrorIs(t, err, chat.ErrNotFound)

	_, err = h.Store.GetByID(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, chat.ErrNotFound)

	_, err = h.Store.FindForClient(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, chat.ErrNotFound)
}
