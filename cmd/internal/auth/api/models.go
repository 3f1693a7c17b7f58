package authapi

import (
	"time"

	"assist/cmd/internal/auth/account"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type userResponse struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Role        string     `json:"role"`
	DisplayName string     `json:"display_name"`
	AvatarURL   *string    `json:"avatar_url"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

type sessionResponse struct {
	User      userResponse `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
}

type profileResponse struct {
	User userResponse `json:"user"`
}

type statusResponse struct {
	Status string `json:"status"`
}

func toUserResponse(p account.Profile) userResponse {
	return userResponse{
		ID:          p.ID,
		Email:       p.Email,
		Role:        p.Role,
		DisplayName: p.DisplayName,
		AvatarURL:   p.AvatarURL,
		CreatedAt:   p.CreatedAt,
		LastLoginAt: p.LastLoginAt,
	}
}

func toSessionResponse(s account.Session) sessionResponse {
	return sessionResponse{
		User:      toUserResponse(s.Profile),
		Token:     s.Token,
		ExpiresAt: s.Claims.ExpiresAt,
	}
}
