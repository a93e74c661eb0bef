package store

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// MemStore is an in-process Repository. Every map is guarded by its own
// RWMutex so the HTTP handlers, the token service and the connection manager
// can call into it concurrently.
type MemStore struct {
	usersMu    sync.RWMutex
	users      map[int]*User
	byUsername map[string]int
	byEmail    map[string]int
	nextUserId int

	sessionsMu sync.RWMutex
	sessions   map[string]*Session
	revoked    map[string]time.Time

	roomsMu sync.RWMutex
	rooms   map[string]*Room

	messagesMu sync.RWMutex
	messages   map[string][]*Message
	byId       map[string]*Message
}

func NewMemStore() *MemStore {
	return &MemStore{
		users:      make(map[int]*User),
		byUsername: make(map[string]int),
		byEmail:    make(map[string]int),
		sessions:   make(map[string]*Session),
		revoked:    make(map[string]time.Time),
		rooms:      make(map[string]*Room),
		messages:   make(map[string][]*Message),
		byId:       make(map[string]*Message),
	}
}

func (m *MemStore) CreateAccount(params CreateAccountParams) (User, error) {
	m.usersMu.Lock()
	defer m.usersMu.Unlock()

	uname := strings.ToLower(params.Username)
	email := strings.ToLower(params.Email)
	if _, ok := m.byUsername[uname]; ok {
		return User{}, ErrDuplicate
	}
	if _, ok := m.byEmail[email]; ok {
		return User{}, ErrDuplicate
	}

	m.nextUserId++
	now := time.Now().UTC()
	u := &User{
		Id:           m.nextUserId,
		Username:     params.Username,
		Email:        params.Email,
		PasswordHash: params.PasswordHash,
		Role:         params.Role,
		Status:       "offline",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.users[u.Id] = u
	m.byUsername[uname] = u.Id
	m.byEmail[email] = u.Id

	return *u, nil
}

func (m *MemStore) GetAccountById(userId int) (User, error) {
	m.usersMu.RLock()
	defer m.usersMu.RUnlock()

	u, ok := m.users[userId]
	if !ok {
		return User{}, ErrNotFound
	}
	return *u, nil
}

// GetAccountByLogin resolves either a username or an email address.
func (m *MemStore) GetAccountByLogin(login string) (User, error) {
	m.usersMu.RLock()
	defer m.usersMu.RUnlock()

	key := strings.ToLower(login)
	id, ok := m.byUsername[key]
	if !ok {
		id, ok = m.byEmail[key]
	}
	if !ok {
		return User{}, ErrNotFound
	}
	return *m.users[id], nil
}

func (m *MemStore) UpdateStatus(userId int, status string) (User, error) {
	m.usersMu.Lock()
	defer m.usersMu.Unlock()

	u, ok := m.users[userId]
	if !ok {
		return User{}, ErrNotFound
	}
	u.Status = status
	u.UpdatedAt = time.Now().UTC()
	return *u, nil
}

func (m *MemStore) CreateSession(session Session) error {
	m.sessionsMu.Lock()
	defer m.sessionsMu.Unlock()

	if _, ok := m.sessions[session.Id]; ok {
		return ErrDuplicate
	}
	s := session
	m.sessions[session.Id] = &s
	return nil
}

func (m *MemStore) GetSession(sessionId string) (Session, error) {
	m.sessionsMu.RLock()
	defer m.sessionsMu.RUnlock()

	s, ok := m.sessions[sessionId]
	if !ok {
		return Session{}, ErrNotFound
	}
	return *s, nil
}

func (m *MemStore) TouchSession(sessionId string, now time.Time) error {
	m.sessionsMu.Lock()
	defer m.sessionsMu.Unlock()

	s, ok := m.sessions[sessionId]
	if !ok {
		return ErrNotFound
	}
	s.LastActiveAt = now
	return nil
}

func (m *MemStore) DeleteSession(sessionId string) error {
	m.sessionsMu.Lock()
	defer m.sessionsMu.Unlock()

	if _, ok := m.sessions[sessionId]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, sessionId)
	return nil
}

// RevokeToken records the token id until expiresAt so the entry can be
// garbage collected once the token itself would no longer verify.
func (m *MemStore) RevokeToken(tokenId string, expiresAt time.Time) {
	m.sessionsMu.Lock()
	defer m.sessionsMu.Unlock()

	m.revoked[tokenId] = expiresAt
}

func (m *MemStore) IsTokenRevoked(tokenId string) bool {
	m.sessionsMu.RLock()
	defer m.sessionsMu.RUnlock()

	_, ok := m.revoked[tokenId]
	return ok
}

func (m *MemStore) PurgeExpired(now time.Time) (sessions, tokens int) {
	m.sessionsMu.Lock()
	defer m.sessionsMu.Unlock()

	for id, s := range m.sessions {
		if now.After(s.ExpiresAt) {
			delete(m.sessions, id)
			sessions++
		}
	}
	for id, exp := range m.revoked {
		if now.After(exp) {
			delete(m.revoked, id)
			tokens++
		}
	}
	return sessions, tokens
}

func (m *MemStore) CreateRoom(params CreateRoomParams) (Room, error) {
	m.roomsMu.Lock()
	defer m.roomsMu.Unlock()

	if _, ok := m.rooms[params.Id]; ok {
		return Room{}, ErrDuplicate
	}
	r := &Room{
		Id:         params.Id,
		Name:       params.Name,
		Visibility: params.Visibility,
		OwnerId:    params.OwnerId,
		Members:    map[int]struct{}{params.OwnerId: {}},
		CreatedAt:  time.Now().UTC(),
	}
	m.rooms[r.Id] = r
	return copyRoom(r), nil
}

func (m *MemStore) GetRoom(roomId string) (Room, error) {
	m.roomsMu.RLock()
	defer m.roomsMu.RUnlock()

	r, ok := m.rooms[roomId]
	if !ok {
		return Room{}, ErrNotFound
	}
	return copyRoom(r), nil
}

// ListRoomsForUser returns every public room plus the private rooms the user
// is a member of, sorted by name.
func (m *MemStore) ListRoomsForUser(userId int) ([]Room, error) {
	m.roomsMu.RLock()
	defer m.roomsMu.RUnlock()

	var rooms []Room
	for _, r := range m.rooms {
		if r.Visibility == "public" {
			rooms = append(rooms, copyRoom(r))
			continue
		}
		if _, ok := r.Members[userId]; ok {
			rooms = append(rooms, copyRoom(r))
		}
	}

	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Name < rooms[j].Name })
	return rooms, nil
}

func (m *MemStore) AddMember(roomId string, userId int) error {
	m.roomsMu.Lock()
	defer m.roomsMu.Unlock()

	r, ok := m.rooms[roomId]
	if !ok {
		return ErrNotFound
	}
	r.Members[userId] = struct{}{}
	return nil
}

func (m *MemStore) RemoveMember(roomId string, userId int) error {
	m.roomsMu.Lock()
	defer m.roomsMu.Unlock()

	r, ok := m.rooms[roomId]
	if !ok {
		return ErrNotFound
	}
	delete(r.Members, userId)
	return nil
}

// CanAccess implements the room access predicate: public rooms admit any
// authenticated user, private rooms require membership. Unknown rooms fail
// closed with ErrNotFound.
func (m *MemStore) CanAccess(roomId string, userId int) (bool, error) {
	m.roomsMu.RLock()
	defer m.roomsMu.RUnlock()

	r, ok := m.rooms[roomId]
	if !ok {
		return false, ErrNotFound
	}
	if r.Visibility == "public" {
		return true, nil
	}
	_, member := r.Members[userId]
	return member, nil
}

func (m *MemStore) CreateMessage(params CreateMessageParams) (Message, error) {
	m.messagesMu.Lock()
	defer m.messagesMu.Unlock()

	msg := &Message{
		Id:        params.Id,
		RoomId:    params.RoomId,
		UserId:    params.UserId,
		Username:  params.Username,
		Content:   params.Content,
		CreatedAt: time.Now().UTC(),
	}
	m.messages[params.RoomId] = append(m.messages[params.RoomId], msg)
	m.byId[params.Id] = msg
	return copyMessage(msg), nil
}

func (m *MemStore) GetMessage(roomId, messageId string) (Message, error) {
	m.messagesMu.RLock()
	defer m.messagesMu.RUnlock()

	msg, ok := m.byId[messageId]
	if !ok || msg.RoomId != roomId || msg.Deleted {
		return Message{}, ErrNotFound
	}
	return copyMessage(msg), nil
}

// GetMessages pages through the room's log newest-last, skipping soft-deleted
// entries. The returned total counts only visible messages.
func (m *MemStore) GetMessages(roomId string, limit, offset int) ([]Message, int, error) {
	m.messagesMu.RLock()
	defer m.messagesMu.RUnlock()

	var visible []*Message
	for _, msg := range m.messages[roomId] {
		if !msg.Deleted {
			visible = append(visible, msg)
		}
	}

	total := len(visible)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}

	out := make([]Message, 0, end-offset)
	for _, msg := range visible[offset:end] {
		out = append(out, copyMessage(msg))
	}
	return out, total, nil
}

// UpdateMessage appends the pre-edit body to the history and replaces the
// content. Authorship checks belong to the caller; the store only refuses
// edits to unknown or deleted messages.
func (m *MemStore) UpdateMessage(roomId, messageId string, editorId int, content string) (Message, error) {
	m.messagesMu.Lock()
	defer m.messagesMu.Unlock()

	msg, ok := m.byId[messageId]
	if !ok || msg.RoomId != roomId || msg.Deleted {
		return Message{}, ErrNotFound
	}

	msg.History = append(msg.History, MessageEdit{
		PrevContent: msg.Content,
		EditorId:    editorId,
		EditedAt:    time.Now().UTC(),
	})
	msg.Content = content
	msg.Edited = true
	return copyMessage(msg), nil
}

// DeleteMessage marks the record deleted but retains it.
func (m *MemStore) DeleteMessage(roomId, messageId string, deleterId int) error {
	m.messagesMu.Lock()
	defer m.messagesMu.Unlock()

	msg, ok := m.byId[messageId]
	if !ok || msg.RoomId != roomId || msg.Deleted {
		return ErrNotFound
	}
	msg.Deleted = true
	msg.DeletedBy = deleterId
	msg.DeletedAt = time.Now().UTC()
	return nil
}

func copyRoom(r *Room) Room {
	out := *r
	out.Members = make(map[int]struct{}, len(r.Members))
	for id := range r.Members {
		out.Members[id] = struct{}{}
	}
	return out
}

func copyMessage(msg *Message) Message {
	out := *msg
	out.History = append([]MessageEdit(nil), msg.History...)
	return out
}
