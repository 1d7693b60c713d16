package models

import "fmt"

// Actor is any identity capable of requesting a placement: an anonymous
// visitor or an authenticated user. Exactly one role and one status apply
// at any time.
type Actor struct {
	// ID is the stable identity used for cooldown tracking and audit,
	// "user:<uuid>" for authenticated users and "anon:<id>" for visitors.
	ID            string     `json:"id"`
	Email         string     `json:"email,omitempty"`
	Role          UserRole   `json:"role"`
	Status        UserStatus `json:"status"`
	Authenticated bool       `json:"authenticated"`
}

// AnonymousActor builds the actor for a client-generated anonymous id.
func AnonymousActor(anonID string) Actor {
	return Actor{
		ID:     fmt.Sprintf("anon:%s", anonID),
		Role:   UserRoleUser,
		Status: UserStatusActive,
	}
}

// UserActor builds the actor for an authenticated user.
func UserActor(u *User) Actor {
	return Actor{
		ID:            fmt.Sprintf("user:%s", u.ID),
		Email:         u.Email,
		Role:          u.Role,
		Status:        u.Status,
		Authenticated: true,
	}
}

// IsAdmin reports whether the actor may perform moderation actions.
func (a Actor) IsAdmin() bool {
	return a.Role == UserRoleAdmin && a.Status != UserStatusBanned
}

// IsBanned reports whether every write from this actor must be rejected.
func (a Actor) IsBanned() bool {
	return a.Status == UserStatusBanned
}
