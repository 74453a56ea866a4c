package domain

import "time"

// OperatorRole enumerates organization dashboard roles.
type OperatorRole string

const (
	OperatorRoleMember OperatorRole = "MEMBER"
	OperatorRoleAdmin  OperatorRole = "ADMIN"
)

// Operator is a session-authenticated member of an organization.
type Operator struct {
	ID             string
	OrganizationID string
	Name           string
	Email          string
	PasswordHash   string
	Role           OperatorRole
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
