package api

import (
	"errors"
	"net/http"

	"portal-backend/internal/chat"
	"portal-backend/internal/middleware"
	"portal-backend/internal/models"
	"portal-backend/internal/supabase"

	"github.com/gin-gonic/gin"
)

// Server holds the account endpoints. Accounts live in Supabase Auth; the
// profiles table only mirrors display fields.
type Server struct {
	supabase  *supabase.Client
	directory chat.Directory
}

func NewServer(sb *supabase.Client, directory chat.Directory) *Server {
	return &Server{supabase: sb, directory: directory}
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token        string          `json:"token"`
	RefreshToken string          `json:"refresh_token,omitempty"`
	User         models.Identity `json:"user"`
}

// Login exchanges email and password for a Supabase access token.
func (s *Server) Login(c *gin.Context) {
	if s.supabase == nil || !s.supabase.Configured() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Login is not configured"})
		return
	}

	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := s.supabase.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		var sbErr *supabase.SupabaseError
		if errors.As(err, &sbErr) && sbErr.StatusCode < http.StatusInternalServerError {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to sign in"})
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Token:        resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		User: models.Identity{
			UserID: resp.User.ID,
			Email:  resp.User.Email,
			Role:   resp.User.Role(),
		},
	})
}

// GetProfile returns the caller's identity and, when mirrored, the profile.
func (s *Server) GetProfile(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	resp := gin.H{"user": identity}
	if s.directory != nil {
		profile, err := s.directory.GetProfile(c.Request.Context(), identity.UserID)
		switch {
		case err == nil:
			resp["profile"] = profile
		case !errors.Is(err, chat.ErrNotFound):
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load profile"})
			return
		}
	}
	c.JSON(http.StatusOK, resp)
}
