package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"portal-backend/internal/api"
	"portal-backend/internal/app"
	"portal-backend/internal/auth"
	"portal-backend/internal/chat"
	"portal-backend/internal/config"
	"portal-backend/internal/feed"
	"portal-backend/internal/memstore"
	"portal-backend/internal/models"
	"portal-backend/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe for the command loop and the
// transcript writing concurrently.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"SUPABASE_JWT_SECRET", "SUPABASE_URL", "SUPABASE_ANON_KEY", "REDIS_URL", "LOG_FILE"} {
		t.Setenv(key, "")
	}
}

func execute(t *testing.T, in io.Reader, out io.Writer, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	rootCmd.SetIn(in)
	rootCmd.SetOut(out)
	rootCmd.SetErr(io.Discard)
	return rootCmd.Execute()
}

func TestTokenCommand(t *testing.T) {
	clearEnv(t)
	userID := uuid.NewString()

	var out bytes.Buffer
	err := execute(t, nil, &out, "token", "--user", userID, "--email", "ana@example.com", "--role", "admin", "--ttl", "5m")
	require.NoError(t, err)

	identity, err := auth.NewJWTManagerWithSecret(app.DemoJWTSecret).Verify(context.Background(), strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, userID, identity.UserID)
	assert.Equal(t, "ana@example.com", identity.Email)
	assert.True(t, identity.IsAdmin())
}

func TestTokenCommandValidatesFlags(t *testing.T) {
	clearEnv(t)

	err := execute(t, nil, io.Discard, "token", "--user", "", "--role", "client")
	assert.ErrorContains(t, err, "--user is required")

	err = execute(t, nil, io.Discard, "token", "--user", "u1", "--role", "owner")
	assert.ErrorContains(t, err, "--role")
}

func TestWorkerRequiresRedis(t *testing.T) {
	clearEnv(t)
	err := execute(t, nil, io.Discard, "worker")
	assert.ErrorContains(t, err, "REDIS_URL")
}

func TestTranscriptPrintsEachConfirmedMessageOnce(t *testing.T) {
	var out bytes.Buffer
	tr := newTranscript(&out)
	at := time.Date(2026, 3, 1, 10, 30, 0, 0, time.Local)

	msg := func(id, content string, admin bool) session.Entry {
		return session.Entry{Message: models.Message{ID: id, Content: content, IsAdmin: admin, CreatedAt: at}}
	}
	pending := session.Entry{Message: models.Message{ID: session.TempIDPrefix + "1", Content: "pending"}, Optimistic: true}

	tr.update(session.Snapshot{Connected: true, Messages: []session.Entry{msg("m1", "hola", false), pending}})
	tr.update(session.Snapshot{Connected: true, Messages: []session.Entry{msg("m1", "hola", false), msg("m2", "hi there", true)}})

	sendErr := fmt.Errorf("%w: boom", chat.ErrSendFailure)
	tr.update(session.Snapshot{Connected: false, Draft: "again", LastError: sendErr})
	tr.update(session.Snapshot{Connected: false, Draft: "again", LastError: sendErr})
	tr.update(session.Snapshot{Connected: true})

	got := out.String()
	assert.Equal(t, 1, strings.Count(got, "client: hola"))
	assert.Contains(t, got, "[10:30] staff: hi there\n")
	assert.NotContains(t, got, "pending")
	assert.Equal(t, 1, strings.Count(got, "boom"))
	assert.Contains(t, got, `draft restored: "again"`)
	assert.Contains(t, got, "* connection lost, retrying\n")
	assert.Contains(t, got, "* reconnected\n")

	tr.reset()
	out.Reset()
	tr.update(session.Snapshot{Connected: true, Messages: []session.Entry{msg("m1", "hola", false)}})
	assert.Equal(t, "[10:30] client: hola\n", out.String())
}

func TestPrintRows(t *testing.T) {
	var out bytes.Buffer
	printRows(&out, nil)
	assert.Equal(t, "No conversations.\n", out.String())

	out.Reset()
	row := models.AdminConversation{ClientEmail: "maria@example.com"}
	row.ID = "c1"
	row.UnreadAdminCount = 2
	printRows(&out, []models.AdminConversation{row})
	assert.Contains(t, out.String(), "maria@example.com")
	assert.Contains(t, out.String(), "unread=2")
}

func TestChatCommandAsClient(t *testing.T) {
	clearEnv(t)
	gin.SetMode(gin.TestMode)

	hub := feed.NewHub(nil)
	store := memstore.New(hub)
	jwtManager := auth.NewJWTManagerWithSecret("cli-test")
	router := gin.New()
	api.SetupRoutes(router, api.Dependencies{
		Config:    config.New(),
		Chat:      chat.NewService(store),
		Feed:      hub,
		Verifier:  jwtManager,
		Directory: store,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})

	clientID := uuid.NewString()
	token, err := jwtManager.Generate(clientID, "maria@example.com", models.RoleClient, time.Hour)
	require.NoError(t, err)

	in, keyboard := io.Pipe()
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- execute(t, in, out, "chat", "--api", srv.URL, "--token", token, "--email", "", "--conversation", "")
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Signed in as maria@example.com")
	}, 5*time.Second, 10*time.Millisecond)

	_, err = io.WriteString(keyboard, "hola\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "client: hola")
	}, 5*time.Second, 20*time.Millisecond)

	conv, err := store.FindForClient(context.Background(), clientID)
	require.NoError(t, err)
	msgs, err := store.ListByConversation(context.Background(), conv.ID, 10, chat.Ascending)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	_, err = io.WriteString(keyboard, "/quit\n")
	require.NoError(t, err)
	require.NoError(t, keyboard.Close())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("chat command did not exit")
	}
}
