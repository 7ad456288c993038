package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"portal-backend/internal/config"
)

type Client struct {
	baseURL        string
	anonKey        string
	serviceRoleKey string
	http           *http.Client
}

type SupabaseError struct {
	StatusCode int
	Message    string
}

func (e *SupabaseError) Error() string {
	return fmt.Sprintf("supabase error (status %d): %s", e.StatusCode, e.Message)
}

func NewClient(cfg *config.Config) *Client {
	return New(cfg.Supabase.URL, cfg.Supabase.AnonKey, cfg.Supabase.ServiceRoleKey, nil)
}

// New builds a client for the project at baseURL. httpClient may be nil.
func New(baseURL, anonKey, serviceRoleKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		anonKey:        anonKey,
		serviceRoleKey: serviceRoleKey,
		http:           httpClient,
	}
}

// Configured reports whether a project URL and anon key are set.
func (s *Client) Configured() bool {
	return s.baseURL != "" && s.anonKey != ""
}

type User struct {
	ID           string                 `json:"id"`
	Email        string                 `json:"email"`
	UserMetadata map[string]interface{} `json:"user_metadata"`
	AppMetadata  map[string]interface{} `json:"app_metadata"`
}

// Role returns app_metadata.role, which only the service role can set.
func (u *User) Role() string {
	role, _ := u.AppMetadata["role"].(string)
	return role
}

// FullName returns user_metadata.full_name when present.
func (u *User) FullName() string {
	name, _ := u.UserMetadata["full_name"].(string)
	return name
}

// GetUser resolves the user an access token belongs to.
func (s *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", s.anonKey)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var user User
	if err := s.do(req, &user, http.StatusOK); err != nil {
		return nil, err
	}
	return &user, nil
}

type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignInResponse struct {
	User         User   `json:"user"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (s *Client) SignIn(ctx context.Context, email, password string) (*SignInResponse, error) {
	reqBody, _ := json.Marshal(SignInRequest{
		Email:    email,
		Password: password,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/auth/v1/token?grant_type=password", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", s.anonKey)
	req.Header.Set("Content-Type", "application/json")

	var result SignInResponse
	if err := s.do(req, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

type AdminCreateUserRequest struct {
	Email        string                 `json:"email"`
	Password     string                 `json:"password"`
	EmailConfirm bool                   `json:"email_confirm"`
	UserMetadata map[string]interface{} `json:"user_metadata"`
	AppMetadata  map[string]interface{} `json:"app_metadata"`
}

// AdminCreateUser creates a confirmed user with the given portal role.
func (s *Client) AdminCreateUser(ctx context.Context, email, password, fullName, role string) (*User, error) {
	reqBody, _ := json.Marshal(AdminCreateUserRequest{
		Email:        email,
		Password:     password,
		EmailConfirm: true,
		UserMetadata: map[string]interface{}{"full_name": fullName},
		AppMetadata:  map[string]interface{}{"role": role},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/auth/v1/admin/users", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, err
	}

	// Use Service Role Key for Admin operations
	req.Header.Set("apikey", s.serviceRoleKey)
	req.Header.Set("Authorization", "Bearer "+s.serviceRoleKey)
	req.Header.Set("Content-Type", "application/json")

	var result User
	if err := s.do(req, &result, http.StatusOK, http.StatusCreated); err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *Client) do(req *http.Request, out interface{}, okStatus ...int) error {
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	for _, code := range okStatus {
		if resp.StatusCode == code {
			return json.NewDecoder(resp.Body).Decode(out)
		}
	}

	var errResp map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&errResp)

	msg := "unknown error"
	if m, ok := errResp["msg"].(string); ok {
		msg = m
	} else if m, ok := errResp["error_description"].(string); ok {
		msg = m
	} else if m, ok := errResp["message"].(string); ok {
		msg = m
	}

	return &SupabaseError{
		StatusCode: resp.StatusCode,
		Message:    msg,
	}
}
