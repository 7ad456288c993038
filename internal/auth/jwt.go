// Package auth verifies Supabase access tokens and resolves the caller's
// portal role.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"portal-backend/internal/config"
	"portal-backend/internal/models"
	"portal-backend/internal/supabase"

	"github.com/golang-jwt/jwt/v5"
)

var ErrUnauthorized = errors.New("unauthorized")

// Verifier resolves an access token to the caller's identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (*models.Identity, error)
}

// Claims is the subset of a Supabase access token the portal reads. The
// top-level "role" claim is the Postgres role ("authenticated"); the portal
// role lives in app_metadata.
type Claims struct {
	jwt.RegisteredClaims
	Email       string      `json:"email,omitempty"`
	AppMetadata AppMetadata `json:"app_metadata"`
}

type AppMetadata struct {
	Role string `json:"role,omitempty"`
}

// portalRole maps app_metadata.role to a portal role. Only an explicit
// admin role grants admin access.
func portalRole(role string) string {
	if role == models.RoleAdmin {
		return models.RoleAdmin
	}
	return models.RoleClient
}

// JWTManager verifies and issues HS256 tokens signed with the project JWT
// secret.
type JWTManager struct {
	secret []byte
	now    func() time.Time
}

func NewJWTManager(cfg *config.Config) *JWTManager {
	return NewJWTManagerWithSecret(cfg.Supabase.JWTSecret)
}

func NewJWTManagerWithSecret(secret string) *JWTManager {
	return &JWTManager{secret: []byte(secret), now: time.Now}
}

// Generate issues a token shaped like a Supabase access token.
func (m *JWTManager) Generate(userID, email, role string, ttl time.Duration) (string, error) {
	now := m.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Audience:  jwt.ClaimStrings{"authenticated"},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Email:       email,
		AppMetadata: AppMetadata{Role: role},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

func (m *JWTManager) Verify(_ context.Context, tokenString string) (*models.Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}
	return &models.Identity{
		UserID: claims.Subject,
		Email:  claims.Email,
		Role:   portalRole(claims.AppMetadata.Role),
	}, nil
}

// SupabaseVerifier asks the Supabase Auth API who a token belongs to. It is
// used when the JWT secret is not available to the backend.
type SupabaseVerifier struct {
	client *supabase.Client
}

func NewSupabaseVerifier(client *supabase.Client) *SupabaseVerifier {
	return &SupabaseVerifier{client: client}
}

func (v *SupabaseVerifier) Verify(ctx context.Context, token string) (*models.Identity, error) {
	user, err := v.client.GetUser(ctx, token)
	if err != nil {
		var sbErr *supabase.SupabaseError
		if errors.As(err, &sbErr) && sbErr.StatusCode < 500 {
			return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("verify token with supabase: %w", err)
	}
	return &models.Identity{
		UserID: user.ID,
		Email:  user.Email,
		Role:   portalRole(user.Role()),
	}, nil
}

// NewVerifier prefers local verification with the JWT secret and falls back
// to the Supabase Auth API.
func NewVerifier(cfg *config.Config) (Verifier, error) {
	if cfg.Supabase.JWTSecret != "" {
		return NewJWTManager(cfg), nil
	}
	client := supabase.NewClient(cfg)
	if client.Configured() {
		return NewSupabaseVerifier(client), nil
	}
	return nil, errors.New("auth: set SUPABASE_JWT_SECRET or SUPABASE_URL and SUPABASE_ANON_KEY")
}
