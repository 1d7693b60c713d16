package models

import (
	"time"

	"github.com/google/uuid"
)

// UserRole defines the role of a user.
type UserRole string

const (
	UserRoleUser  UserRole = "USER"
	UserRoleAdmin UserRole = "ADMIN"
)

// UserStatus defines the moderation status of a user.
type UserStatus string

const (
	UserStatusActive UserStatus = "ACTIVE"
	UserStatusBanned UserStatus = "BANNED"
)

// User represents an authenticated user in the system.
type User struct {
	ID        uuid.UUID  `json:"id"`
	GoogleID  string     `json:"google_id"`
	Email     string     `json:"email"`
	Role      UserRole   `json:"role"`
	Status    UserStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}
