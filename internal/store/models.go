package store

import (
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

type User struct {
	Id           int
	Username     string
	Email        string
	PasswordHash string
	Role         string
	Status       string
	AvatarURL    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type CreateAccountParams struct {
	Username     string
	Email        string
	PasswordHash string
	Role         string
}

// Session is created at login and bound to exactly one token. LastActiveAt
// is refreshed on every successful token verification.
type Session struct {
	Id           string
	UserId       int
	TokenId      string
	CreatedAt    time.Time
	LastActiveAt time.Time
	ExpiresAt    time.Time
}

type Room struct {
	Id         string
	Name       string
	Visibility string
	OwnerId    int
	Members    map[int]struct{}
	CreatedAt  time.Time
}

type CreateRoomParams struct {
	Id         string
	Name       string
	Visibility string
	OwnerId    int
}

// MessageEdit records the body a message held before one edit.
type MessageEdit struct {
	PrevContent string
	EditorId    int
	EditedAt    time.Time
}

type Message struct {
	Id        string
	RoomId    string
	UserId    int
	Username  string
	Content   string
	CreatedAt time.Time
	Deleted   bool
	DeletedBy int
	DeletedAt time.Time
	Edited    bool
	History   []MessageEdit
}

type CreateMessageParams struct {
	Id       string
	RoomId   string
	UserId   int
	Username string
	Content  string
}
