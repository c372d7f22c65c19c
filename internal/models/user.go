package models

import (
	"fmt"
	"time"
)

// Roles
const (
	RoleClient = "client"
	RoleAgent  = "agent"
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
)

var validRoles = []string{RoleClient, RoleAgent, RoleOwner, RoleAdmin}

type User struct {
	ID        string    `json:"id" gorm:"primaryKey;size:24"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email" gorm:"uniqueIndex"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// FullName joins first and last name.
func (u *User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// HasRole reports whether the user holds one of the given roles.
func (u *User) HasRole(roles ...string) bool {
	for _, r := range roles {
		if u.Role == r {
			return true
		}
	}
	return false
}

// IsAdmin is a shorthand for HasRole(RoleAdmin).
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// ValidateRole rejects unknown roles.
func ValidateRole(role string) error {
	for _, r := range validRoles {
		if r == role {
			return nil
		}
	}
	return fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
}
