package store

import (
	"time"

	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetAccountById(userId int) (User, error) {
	args := m.Called(userId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetAccountByLogin(login string) (User, error) {
	args := m.Called(login)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) UpdateStatus(userId int, status string) (User, error) {
	args := m.Called(userId, status)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) CreateSession(session Session) error {
	args := m.Called(session)
	return args.Error(0)
}
func (m *MockRepository) GetSession(sessionId string) (Session, error) {
	args := m.Called(sessionId)
	return args.Get(0).(Session), args.Error(1)
}
func (m *MockRepository) TouchSession(sessionId string, now time.Time) error {
	args := m.Called(sessionId, now)
	return args.Error(0)
}
func (m *MockRepository) DeleteSession(sessionId string) error {
	args := m.Called(sessionId)
	return args.Error(0)
}
func (m *MockRepository) RevokeToken(tokenId string, expiresAt time.Time) {
	m.Called(tokenId, expiresAt)
}
func (m *MockRepository) IsTokenRevoked(tokenId string) bool {
	args := m.Called(tokenId)
	return args.Bool(0)
}
func (m *MockRepository) PurgeExpired(now time.Time) (int, int) {
	args := m.Called(now)
	return args.Int(0), args.Int(1)
}
func (m *MockRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockRepository) GetRoom(roomId string) (Room, error) {
	args := m.Called(roomId)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockRepository) ListRoomsForUser(userId int) ([]Room, error) {
	args := m.Called(userId)
	return args.Get(0).([]Room), args.Error(1)
}
func (m *MockRepository) AddMember(roomId string, userId int) error {
	args := m.Called(roomId, userId)
	return args.Error(0)
}
func (m *MockRepository) RemoveMember(roomId string, userId int) error {
	args := m.Called(roomId, userId)
	return args.Error(0)
}
func (m *MockRepository) CanAccess(roomId string, userId int) (bool, error) {
	args := m.Called(roomId, userId)
	return args.Bool(0), args.Error(1)
}
func (m *MockRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) GetMessage(roomId, messageId string) (Message, error) {
	args := m.Called(roomId, messageId)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) GetMessages(roomId string, limit, offset int) ([]Message, int, error) {
	args := m.Called(roomId, limit, offset)
	return args.Get(0).([]Message), args.Int(1), args.Error(2)
}
func (m *MockRepository) UpdateMessage(roomId, messageId string, editorId int, content string) (Message, error) {
	args := m.Called(roomId, messageId, editorId, content)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) DeleteMessage(roomId, messageId string, deleterId int) error {
	args := m.Called(roomId, messageId, deleterId)
	return args.Error(0)
}
