package dto

import (
	"time"

	"github.com/spec-kit/escalation-service/internal/domain"
)

// LoginRequest payload.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// PasswordChangeRequest payload for authenticated password changes.
type PasswordChangeRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=72"`
}

// CreateOperatorRequest registers an operator in the caller's organization.
type CreateOperatorRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Role     string `json:"role" validate:"omitempty,oneof=MEMBER ADMIN"`
}

// OperatorResponse hides the password hash.
type OperatorResponse struct {
	ID             string              `json:"id"`
	OrganizationID string              `json:"organization_id"`
	Name           string              `json:"name"`
	Email          string              `json:"email"`
	Role           domain.OperatorRole `json:"role"`
	Active         bool                `json:"active"`
	CreatedAt      time.Time           `json:"created_at"`
}

// AuthResponse carries a session token.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
