package store

import "time"

// Repository is the single data-access surface shared by the HTTP layer, the
// token service and the connection manager. Each entity type has exactly one
// mutating owner; the rest read.
type Repository interface {
	// accounts
	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountById(userId int) (User, error)
	GetAccountByLogin(login string) (User, error)
	UpdateStatus(userId int, status string) (User, error)

	// sessions and token revocation
	CreateSession(session Session) error
	GetSession(sessionId string) (Session, error)
	TouchSession(sessionId string, now time.Time) error
	DeleteSession(sessionId string) error
	RevokeToken(tokenId string, expiresAt time.Time)
	IsTokenRevoked(tokenId string) bool
	PurgeExpired(now time.Time) (sessions, tokens int)

	// rooms and membership
	CreateRoom(params CreateRoomParams) (Room, error)
	GetRoom(roomId string) (Room, error)
	ListRoomsForUser(userId int) ([]Room, error)
	AddMember(roomId string, userId int) error
	RemoveMember(roomId string, userId int) error
	CanAccess(roomId string, userId int) (bool, error)

	// messages
	CreateMessage(params CreateMessageParams) (Message, error)
	GetMessage(roomId, messageId string) (Message, error)
	GetMessages(roomId string, limit, offset int) ([]Message, int, error)
	UpdateMessage(roomId, messageId string, editorId int, content string) (Message, error)
	DeleteMessage(roomId, messageId string, deleterId int) error
}
