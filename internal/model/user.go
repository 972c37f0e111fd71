package model

import (
	"time"

	"github.com/google/uuid"
)

// Role is the authorization level of a user.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

var roleRank = map[Role]int{RoleUser: 1, RoleAdmin: 2}

// RoleAtLeast reports whether role has at least the privileges of min.
func RoleAtLeast(role, min Role) bool {
	return roleRank[role] >= roleRank[min]
}

// ValidRole reports whether r is a known role.
func ValidRole(r Role) bool {
	_, ok := roleRank[r]
	return ok
}

// User is an authenticated principal. Users own runs and review approvals.
type User struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Role       Role      `json:"role"`
	APIKeyHash string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}
