package models

import "fmt"

// UserRole distinguishes end-users from support staff. Authentication is
// owned upstream; the role arrives with every inbound event.
type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAgent UserRole = "customer_service"
	RoleAdmin UserRole = "admin"
)

// ParseUserRole validates a role string from the wire.
func ParseUserRole(s string) (UserRole, error) {
	switch UserRole(s) {
	case RoleUser, RoleAgent, RoleAdmin:
		return UserRole(s), nil
	}
	return "", fmt.Errorf("unknown user role %q", s)
}

// IsStaff reports whether the role may act as a support agent.
func (r UserRole) IsStaff() bool {
	return r == RoleAgent || r == RoleAdmin
}

// User is the slice of the identity collaborator's user record this core
// needs for session listings and event payloads.
type User struct {
	ID       int64    `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Role     UserRole `json:"role"`
}
