// Package client talks to a running portal backend over HTTP and the
// websocket change feed. It implements the session backends so the same
// chat surfaces run remotely and in process.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"portal-backend/internal/chat"
	"portal-backend/internal/models"
	"portal-backend/internal/session"
)

// Client is an authenticated API client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a client for baseURL. If baseURL is empty, uses PORTAL_API_URL
// or defaults to localhost:8080.
func New(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("PORTAL_API_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// WithHTTPClient replaces the HTTP client (tests).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

func (c *Client) Token() string { return c.token }

// APIError is a non-2xx response. It unwraps to the matching chat error so
// callers can use errors.Is across the network boundary.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (%d): %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return chat.ErrValidation
	case http.StatusNotFound:
		return chat.ErrNotFound
	case http.StatusForbidden:
		return chat.ErrForbidden
	default:
		return nil
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

type loginResponse struct {
	Token string          `json:"token"`
	User  models.Identity `json:"user"`
}

// Login signs in with email and password and keeps the access token.
func (c *Client) Login(ctx context.Context, email, password string) (*models.Identity, error) {
	var resp loginResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", map[string]string{"email": email, "password": password}, &resp)
	if err != nil {
		return nil, err
	}
	c.token = resp.Token
	return &resp.User, nil
}

// Me returns the identity behind the current token.
func (c *Client) Me(ctx context.Context) (*models.Identity, error) {
	var resp struct {
		User models.Identity `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/profile", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.User, nil
}

// =============================================================================
// CLIENT CHAT
// =============================================================================

func (c *Client) GetMyConversation(ctx context.Context) (*models.ClientConversation, error) {
	var resp struct {
		Conversation *models.ClientConversation `json:"conversation"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/chat/me", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversation, nil
}

func (c *Client) SendMessage(ctx context.Context, content string) (string, error) {
	var resp models.SendMessageResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/chat/messages", models.SendMessageRequest{Content: content}, &resp); err != nil {
		return "", err
	}
	return resp.ConversationID, nil
}

func (c *Client) MarkAsRead(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/chat/read", models.MarkAsReadRequest{ConversationID: conversationID}, nil)
}

// =============================================================================
// ADMIN CHAT
// =============================================================================

func (c *Client) GetAdminConversations(ctx context.Context, search string) ([]models.AdminConversation, error) {
	path := "/api/v1/admin/chat/conversations"
	if search != "" {
		path += "?search=" + url.QueryEscape(search)
	}
	var convs []models.AdminConversation
	if err := c.do(ctx, http.MethodGet, path, nil, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

func (c *Client) GetAdminConversationDetails(ctx context.Context, conversationID string) (*models.ConversationDetails, error) {
	var details models.ConversationDetails
	if err := c.do(ctx, http.MethodGet, conversationPath(conversationID, ""), nil, &details); err != nil {
		return nil, err
	}
	return &details, nil
}

func (c *Client) SendAdminMessage(ctx context.Context, conversationID, content string) error {
	return c.do(ctx, http.MethodPost, conversationPath(conversationID, "/messages"), models.SendMessageRequest{Content: content}, nil)
}

func (c *Client) MarkAdminMessagesAsRead(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPost, conversationPath(conversationID, "/read"), nil, nil)
}

func (c *Client) ArchiveConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	var conv models.Conversation
	if err := c.do(ctx, http.MethodPost, conversationPath(conversationID, "/archive"), nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *Client) ReopenConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	var conv models.Conversation
	if err := c.do(ctx, http.MethodPost, conversationPath(conversationID, "/reopen"), nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func conversationPath(id, suffix string) string {
	return "/api/v1/admin/chat/conversations/" + url.PathEscape(id) + suffix
}

// =============================================================================
// SESSION BACKENDS
// =============================================================================

// ClientBackend adapts the client routes to session.ClientBackend.
func (c *Client) ClientBackend() session.ClientBackend { return clientBackend{c} }

// AdminBackend adapts the admin routes to session.AdminBackend.
func (c *Client) AdminBackend() session.AdminBackend { return adminBackend{c} }

type clientBackend struct{ c *Client }

func (b clientBackend) Send(ctx context.Context, _ string, content string) (string, error) {
	return b.c.SendMessage(ctx, content)
}

func (b clientBackend) Acknowledge(ctx context.Context, conversationID string) error {
	return b.c.MarkAsRead(ctx, conversationID)
}

func (b clientBackend) History(ctx context.Context, conversationID string) ([]models.Message, error) {
	conv, err := b.c.GetMyConversation(ctx)
	if err != nil {
		return nil, err
	}
	if conv == nil || conv.ID != conversationID {
		return nil, chat.ErrForbidden
	}
	return conv.Messages, nil
}

func (b clientBackend) Mine(ctx context.Context) (*models.ClientConversation, error) {
	return b.c.GetMyConversation(ctx)
}

type adminBackend struct{ c *Client }

func (b adminBackend) Send(ctx context.Context, conversationID, content string) (string, error) {
	if err := b.c.SendAdminMessage(ctx, conversationID, content); err != nil {
		return "", err
	}
	return conversationID, nil
}

func (b adminBackend) Acknowledge(ctx context.Context, conversationID string) error {
	return b.c.MarkAdminMessagesAsRead(ctx, conversationID)
}

func (b adminBackend) History(ctx context.Context, conversationID string) ([]models.Message, error) {
	details, err := b.c.GetAdminConversationDetails(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return details.Messages, nil
}

func (b adminBackend) Conversations(ctx context.Context, search string) ([]models.AdminConversation, error) {
	return b.c.GetAdminConversations(ctx, search)
}

func (b adminBackend) Details(ctx context.Context, conversationID string) (*models.ConversationDetails, error) {
	return b.c.GetAdminConversationDetails(ctx, conversationID)
}

func (b adminBackend) Thread() session.Backend { return b }
