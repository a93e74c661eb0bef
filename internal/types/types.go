package types

import (
	"time"
)

// Roles assignable to users. Registration always yields RoleUser.
const (
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
	RoleUser      = "user"
)

// Presence statuses a user may hold.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
	StatusAway    = "away"
	StatusBusy    = "busy"
)

// ValidStatus reports whether s is one of the fixed presence statuses.
func ValidStatus(s string) bool {
	switch s {
	case StatusOnline, StatusOffline, StatusAway, StatusBusy:
		return true
	}
	return false
}

// ElevatedRole reports whether the role may moderate other users' content.
func ElevatedRole(role string) bool {
	return role == RoleAdmin || role == RoleModerator
}

type User struct {
	Id        int       `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

type Room struct {
	Id         string    `json:"id"`
	Name       string    `json:"name"`
	Visibility string    `json:"visibility"`
	OwnerId    int       `json:"owner_id"`
	Members    []int     `json:"members,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

type Message struct {
	Id        string    `json:"id"`
	RoomId    string    `json:"room_id"`
	UserId    int       `json:"user_id"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Edited    bool      `json:"edited,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}
