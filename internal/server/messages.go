package server

import (
	"time"

	"github.com/relaychat/go-relaychat/internal/types"
)

// Client message types.
const (
	MsgAuth      = "auth"
	MsgJoinRoom  = "join_room"
	MsgLeaveRoom = "leave_room"
	MsgTyping    = "typing"
	MsgPresence  = "presence"
	MsgPing      = "ping"
)

// Server event types.
const (
	EvtConnected      = "connected"
	EvtAuthenticated  = "authenticated"
	EvtError          = "error"
	EvtJoinedRoom     = "joined_room"
	EvtLeftRoom       = "left_room"
	EvtUserJoined     = "user_joined"
	EvtUserLeft       = "user_left"
	EvtTypingStart    = "typing_start"
	EvtTypingStop     = "typing_stop"
	EvtPresenceUpdate = "presence_update"
	EvtNewMessage     = "new_message"
	EvtPong           = "pong"
)

// Error codes carried by error events and 401 responses.
const (
	CodeAuthRequired   = "auth_required"
	CodeInvalidToken   = "token_invalid"
	CodeRoomNotFound   = "room_not_found"
	CodeAccessDenied   = "access_denied"
	CodeNotSubscribed  = "not_subscribed"
	CodeInvalidStatus  = "invalid_status"
	CodeInvalidMessage = "invalid_message"
	CodeInternalError  = "internal_error"
)

// ClientMessage is the tagged union read off the socket. Type selects the
// handler; the remaining fields are populated per type.
type ClientMessage struct {
	Type     string `json:"type"`
	Token    string `json:"token,omitempty"`
	RoomId   string `json:"room_id,omitempty"`
	IsTyping bool   `json:"is_typing,omitempty"`
	Status   string `json:"status,omitempty"`
}

// ServerEvent is a flat JSON object pushed to clients, discriminated by Type.
type ServerEvent struct {
	Type      string         `json:"type"`
	Error     string         `json:"error,omitempty"`
	Code      string         `json:"code,omitempty"`
	RoomId    string         `json:"room_id,omitempty"`
	UserId    int            `json:"user_id,omitempty"`
	Username  string         `json:"username,omitempty"`
	Status    string         `json:"status,omitempty"`
	User      *types.User    `json:"user,omitempty"`
	Message   *types.Message `json:"message,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func evtConnected() *ServerEvent {
	return &ServerEvent{Type: EvtConnected, Timestamp: Now()}
}

func evtAuthenticated(user types.User) *ServerEvent {
	return &ServerEvent{Type: EvtAuthenticated, User: &user, Timestamp: Now()}
}

func evtErr(code, message string) *ServerEvent {
	return &ServerEvent{Type: EvtError, Code: code, Error: message, Timestamp: Now()}
}

func evtJoinedRoom(roomId string) *ServerEvent {
	return &ServerEvent{Type: EvtJoinedRoom, RoomId: roomId, Timestamp: Now()}
}

func evtLeftRoom(roomId string) *ServerEvent {
	return &ServerEvent{Type: EvtLeftRoom, RoomId: roomId, Timestamp: Now()}
}

func evtUserJoined(roomId string, userId int, username string) *ServerEvent {
	return &ServerEvent{Type: EvtUserJoined, RoomId: roomId, UserId: userId, Username: username, Timestamp: Now()}
}

func evtUserLeft(roomId string, userId int, username string) *ServerEvent {
	return &ServerEvent{Type: EvtUserLeft, RoomId: roomId, UserId: userId, Username: username, Timestamp: Now()}
}

func evtTypingStart(roomId string, userId int, username string) *ServerEvent {
	return &ServerEvent{Type: EvtTypingStart, RoomId: roomId, UserId: userId, Username: username, Timestamp: Now()}
}

func evtTypingStop(roomId string, userId int, username string) *ServerEvent {
	return &ServerEvent{Type: EvtTypingStop, RoomId: roomId, UserId: userId, Username: username, Timestamp: Now()}
}

func evtPresenceUpdate(userId int, username, status string) *ServerEvent {
	return &ServerEvent{Type: EvtPresenceUpdate, UserId: userId, Username: username, Status: status, Timestamp: Now()}
}

func evtNewMessage(msg types.Message) *ServerEvent {
	return &ServerEvent{Type: EvtNewMessage, RoomId: msg.RoomId, Message: &msg, Timestamp: Now()}
}

func evtPong() *ServerEvent {
	return &ServerEvent{Type: EvtPong, Timestamp: Now()}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
