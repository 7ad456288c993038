package models

import (
	"time"
)

const (
	RoleAdmin  = "admin"
	RoleClient = "client"
)

// Profile mirrors the profiles table kept next to Supabase auth.users.
type Profile struct {
	ID        string    `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	FullName  string    `json:"full_name" db:"full_name"`
	Role      string    `json:"role" db:"role"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Identity is the authenticated caller resolved from an access token.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

func (i *Identity) IsRole(role string) bool {
	return i.Role == role
}

func (i *Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

func (i *Identity) IsClient() bool {
	return i.Role == RoleClient
}
