package feed_test

import (
	"context"
	"testing"
	"time"

	"portal-backend/internal/chat"
	"portal-backend/internal/feed"
	"portal-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(id, conversationID string) models.Message {
	return models.Message{ID: id, ConversationID: conversationID, Content: "hola " + id, CreatedAt: time.Now()}
}

func recv(t *testing.T, s feed.Stream) feed.Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		require.True(t, ok, "stream should still be open")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return feed.Event{}
	}
}

func TestFilterValidate(t *testing.T) {
	assert.NoError(t, feed.Filter{ConversationID: "c1"}.Validate())
	assert.NoError(t, feed.Filter{Table: feed.TableConversations}.Validate())
	assert.ErrorIs(t, feed.Filter{}.Validate(), feed.ErrInvalidFilter)
	assert.ErrorIs(t, feed.Filter{ConversationID: "c1", Table: feed.TableMessages}.Validate(), feed.ErrInvalidFilter)
	assert.ErrorIs(t, feed.Filter{Table: "flights"}.Validate(), feed.ErrInvalidFilter)
}

func TestFilterMatches(t *testing.T) {
	byConv := feed.Filter{ConversationID: "c1"}
	assert.True(t, byConv.Matches(feed.MessageInserted(msg("m1", "c1"))))
	assert.False(t, byConv.Matches(feed.MessageInserted(msg("m2", "c2"))))
	assert.True(t, byConv.Matches(feed.ConversationChanged(feed.Update, models.Conversation{ID: "c1"})))

	byTable := feed.Filter{Table: feed.TableConversations}
	assert.True(t, byTable.Matches(feed.ConversationChanged(feed.Update, models.Conversation{ID: "c9"})))
	assert.False(t, byTable.Matches(feed.MessageInserted(msg("m1", "c1"))))
}

func TestHubDeliversOnlyMatchingEventsInOrder(t *testing.T) {
	hub := feed.NewHub(nil)
	ctx := context.Background()

	s1, err := hub.Subscribe(ctx, feed.Filter{ConversationID: "c1"})
	require.NoError(t, err)
	defer s1.Close()
	s2, err := hub.Subscribe(ctx, feed.Filter{ConversationID: "c2"})
	require.NoError(t, err)
	defer s2.Close()

	assert.Equal(t, 1, hub.Publish(feed.MessageInserted(msg("m1", "c1"))))
	assert.Equal(t, 1, hub.Publish(feed.MessageInserted(msg("m2", "c2"))))
	assert.Equal(t, 1, hub.Publish(feed.MessageInserted(msg("m3", "c1"))))

	assert.Equal(t, "m1", recv(t, s1).Message.ID)
	assert.Equal(t, "m3", recv(t, s1).Message.ID)
	assert.Equal(t, "m2", recv(t, s2).Message.ID)
}

func TestHubCloseReleasesSubscription(t *testing.T) {
	hub := feed.NewHub(nil)
	s, err := hub.Subscribe(context.Background(), feed.Filter{Table: feed.TableConversations})
	require.NoError(t, err)
	require.Equal(t, 1, hub.Len())

	s.Close()
	s.Close()

	assert.Equal(t, 0, hub.Len())
	_, ok := <-s.Events()
	assert.False(t, ok, "events channel should be closed")
	assert.NoError(t, s.Err())
	assert.Equal(t, 0, hub.Publish(feed.ConversationChanged(feed.Update, models.Conversation{ID: "c1"})))
}

func TestHubContextCancelReleasesSubscription(t *testing.T) {
	hub := feed.NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	s, err := hub.Subscribe(ctx, feed.Filter{ConversationID: "c1"})
	require.NoError(t, err)

	cancel()

	require.Eventually(t, func() bool { return hub.Len() == 0 }, time.Second, 5*time.Millisecond)
	_, ok := <-s.Events()
	assert.False(t, ok)
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := feed.NewHub(nil)
	slow, err := hub.Subscribe(context.Background(), feed.Filter{ConversationID: "c1"})
	require.NoError(t, err)

	for i := 0; i < feed.DefaultBuffer+1; i++ {
		hub.Publish(feed.MessageInserted(msg("m", "c1")))
	}

	assert.Equal(t, 0, hub.Len())
	assert.ErrorIs(t, slow.Err(), chat.ErrTransientDelivery)

	drained := 0
	for range slow.Events() {
		drained++
	}
	assert.Equal(t, feed.DefaultBuffer, drained)
}

func TestHubClosedRejectsSubscribe(t *testing.T) {
	hub := feed.NewHub(nil)
	s, err := hub.Subscribe(context.Background(), feed.Filter{ConversationID: "c1"})
	require.NoError(t, err)

	hub.Close()

	assert.ErrorIs(t, s.Err(), chat.ErrTransientDelivery)
	_, err = hub.Subscribe(context.Background(), feed.Filter{ConversationID: "c1"})
	assert.ErrorIs(t, err, chat.ErrTransientDelivery)
}

func TestHubInterruptKeepsAcceptingSubscribers(t *testing.T) {
	hub := feed.NewHub(nil)
	s, err := hub.Subscribe(context.Background(), feed.Filter{ConversationID: "c1"})
	require.NoError(t, err)

	hub.Interrupt("listener reconnected")

	_, ok := <-s.Events()
	assert.False(t, ok)
	assert.ErrorIs(t, s.Err(), chat.ErrTransientDelivery)

	again, err := hub.Subscribe(context.Background(), feed.Filter{ConversationID: "c1"})
	require.NoError(t, err)
	defer again.Close()
	assert.Equal(t, 1, hub.Publish(feed.MessageInserted(msg("m1", "c1"))))
}
