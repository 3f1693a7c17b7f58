package account

import (
	"time"

	"assist/cmd/identity"
	"assist/cmd/security/token"
)

// Profile is the client-facing projection of an identity. It never carries the password hash.
type Profile struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Role        string     `json:"role"`
	DisplayName string     `json:"display_name"`
	AvatarURL   *string    `json:"avatar_url"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// Session is an issued token with its claim and the profile it was issued for.
type Session struct {
	Token   string
	Claims  token.Claims
	Profile Profile
}

func toProfile(rec identity.Identity) Profile {
	return Profile{
		ID:          rec.ID,
		Email:       rec.Email,
		Role:        string(rec.Role),
		DisplayName: rec.DisplayName,
		AvatarURL:   rec.AvatarURL,
		CreatedAt:   rec.CreatedAt,
		LastLoginAt: rec.LastLoginAt,
	}
}

// RegisterInput is the registration request.
type RegisterInput struct {
	Email       string
	Password    string
	DisplayName string
	Role        string
}
