package identity

import (
	"strings"
	"time"
)

// Role is the coarse authorization label carried by an identity and its tokens.
type Role string

const (
	RoleAdmin        Role = "admin"
	RoleProfessional Role = "professional"
	RoleUser         Role = "user"
)

// ParseRole maps a user-supplied label onto a known role.
func ParseRole(s string) (Role, bool) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleProfessional, RoleUser:
		return r, true
	default:
		return "", false
	}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleProfessional, RoleUser:
		return true
	default:
		return false
	}
}

// Identity is the persisted principal. Inactive identities never authenticate.
type Identity struct {
	ID           string
	Email        string
	PasswordHash string
	Role         Role

	DisplayName string
	AvatarURL   *string

	Active bool

	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastLoginAt *time.Time
}

// CreateInput describes a new identity. PasswordHash is an already-computed digest.
type CreateInput struct {
	Email        string
	PasswordHash string
	Role         Role
	DisplayName  string
	Now          time.Time
}

// ProfileUpdate carries the user-editable profile fields. Nil means "leave unchanged";
// an empty AvatarURL clears the avatar.
type ProfileUpdate struct {
	DisplayName *string
	AvatarURL   *string
}

// Empty reports whether the update would change nothing.
func (u ProfileUpdate) Empty() bool {
	return u.DisplayName == nil && u.AvatarURL == nil
}

func (in CreateInput) validate(op string) error {
	if NormalizeEmail(in.Email) == "" {
		return invalid(op, "email is required")
	}
	if strings.TrimSpace(in.PasswordHash) == "" {
		return invalid(op, "password hash is required")
	}
	if !in.Role.Valid() {
		return invalid(op, "unknown role")
	}
	return nil
}

func (u ProfileUpdate) validate(op string) error {
	if u.Empty() {
		return invalid(op, "no fields to update")
	}
	if u.DisplayName != nil && strings.TrimSpace(*u.DisplayName) == "" {
		return invalid(op, "display name must not be blank")
	}
	return nil
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
