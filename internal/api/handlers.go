package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/relaychat/go-relaychat/internal/server"
	"github.com/relaychat/go-relaychat/internal/store"
	"github.com/relaychat/go-relaychat/internal/types"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 100
)

type CreateRoomRequest struct {
	Name       string `json:"name"`
	Visibility string `json:"visibility"`
}

type CreateMessageRequest struct {
	Content string `json:"content"`
}

type MemberRequest struct {
	UserId int `json:"user_id"`
}

type RoomMessagesResponse struct {
	Messages   []types.Message  `json:"messages"`
	Room       types.Room       `json:"room"`
	Pagination types.Pagination `json:"pagination"`
}

func toApiRoom(r store.Room) types.Room {
	members := make([]int, 0, len(r.Members))
	for id := range r.Members {
		members = append(members, id)
	}
	slices.Sort(members)

	return types.Room{
		Id:         r.Id,
		Name:       r.Name,
		Visibility: r.Visibility,
		OwnerId:    r.OwnerId,
		Members:    members,
		CreatedAt:  r.CreatedAt,
	}
}

func toApiMessage(m store.Message) types.Message {
	return types.Message{
		Id:        m.Id,
		RoomId:    m.RoomId,
		UserId:    m.UserId,
		Username:  m.Username,
		Content:   m.Content,
		Edited:    m.Edited,
		Timestamp: m.CreatedAt,
	}
}

// listRooms returns the rooms visible to the caller: all public rooms plus
// private rooms the caller belongs to.
func (s *RelayApp) listRooms(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError(CodeTokenInvalid)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbRooms, err := s.db.ListRoomsForUser(userId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	rooms := make([]types.Room, 0, len(dbRooms))
	for _, room := range dbRooms {
		rooms = append(rooms, toApiRoom(room))
	}

	s.writeJson(w, http.StatusOK, map[string][]types.Room{"rooms": rooms})
}

// roomAccess resolves the room and enforces the access predicate, writing
// the error response itself when access fails.
func (s *RelayApp) roomAccess(w http.ResponseWriter, roomId string, userId int) (store.Room, bool) {
	room, err := s.db.GetRoom(roomId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, store.ErrNotFound) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return store.Room{}, false
	}

	allowed, err := s.db.CanAccess(roomId, userId)
	if err != nil || !allowed {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return store.Room{}, false
	}

	return room, true
}

func (s *RelayApp) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError(CodeTokenInvalid)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	roomId := r.PathValue("roomId")
	room, ok := s.roomAccess(w, roomId, userId)
	if !ok {
		return
	}

	limit := defaultPageLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		v, err := strconv.Atoi(limitStr)
		if err != nil || v < 1 {
			errResp := NewValidationError("limit")
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		limit = min(v, maxPageLimit)
	}

	offset := 0
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		v, err := strconv.Atoi(offsetStr)
		if err != nil || v < 0 {
			errResp := NewValidationError("offset")
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		offset = v
	}

	dbMessages, total, err := s.db.GetMessages(roomId, limit, offset)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	messages := make([]types.Message, 0, len(dbMessages))
	for _, msg := range dbMessages {
		messages = append(messages, toApiMessage(msg))
	}

	s.writeJson(w, http.StatusOK, RoomMessagesResponse{
		Messages: messages,
		Room:     toApiRoom(room),
		Pagination: types.Pagination{
			Limit:  limit,
			Offset: offset,
			Total:  total,
		},
	})
}

// createMessage persists the message and then hands it to the connection
// manager for real-time fan-out to the room's subscribers.
func (s *RelayApp) createMessage(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError(CodeTokenInvalid)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	roomId := r.PathValue("roomId")
	if _, ok := s.roomAccess(w, roomId, claims.UserId); !ok {
		return
	}

	var req CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		errResp := NewValidationError("content")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msgId, err := s.generateShortId()
	if err != nil {
		s.log.Print("generateShortId:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbMsg, err := s.db.CreateMessage(store.CreateMessageParams{
		Id:       msgId,
		RoomId:   roomId,
		UserId:   claims.UserId,
		Username: claims.Username,
		Content:  req.Content,
	})
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg := toApiMessage(dbMsg)
	s.cm.BroadcastNewMessage(roomId, msg)

	s.writeJson(w, http.StatusCreated, msg)
}

// updateMessage lets the author, and only the author, edit the body. The
// pre-edit body lands in the message's edit history.
func (s *RelayApp) updateMessage(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError(CodeTokenInvalid)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	roomId := r.PathValue("roomId")
	messageId := r.PathValue("messageId")
	if _, ok := s.roomAccess(w, roomId, claims.UserId); !ok {
		return
	}

	var req CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		errResp := NewValidationError("content")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg, err := s.db.GetMessage(roomId, messageId)
	if err != nil {
		errResp := NewNotFoundError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if msg.UserId != claims.UserId {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	updated, err := s.db.UpdateMessage(roomId, messageId, claims.UserId, req.Content)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, toApiMessage(updated))
}

// deleteMessage soft deletes. Allowed for the author, the room owner, and
// elevated roles.
func (s *RelayApp) deleteMessage(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError(CodeTokenInvalid)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	roomId := r.PathValue("roomId")
	messageId := r.PathValue("messageId")
	room, ok := s.roomAccess(w, roomId, claims.UserId)
	if !ok {
		return
	}

	msg, err := s.db.GetMessage(roomId, messageId)
	if err != nil {
		errResp := NewNotFoundError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if msg.UserId != claims.UserId && room.OwnerId != claims.UserId && !types.ElevatedRole(claims.Role) {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.DeleteMessage(roomId, messageId, claims.UserId); err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, map[string]string{"message": "deleted"})
}

func (s *RelayApp) createRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError(CodeTokenInvalid)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		errResp := NewValidationError("name")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if req.Visibility == "" {
		req.Visibility = types.VisibilityPublic
	}
	if req.Visibility != types.VisibilityPublic && req.Visibility != types.VisibilityPrivate {
		errResp := NewValidationError("visibility")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	sid, err := s.generateShortId()
	if err != nil {
		s.log.Print("generateShortId:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	newRoom, err := s.db.CreateRoom(store.CreateRoomParams{
		Id:         sid,
		Name:       req.Name,
		Visibility: req.Visibility,
		OwnerId:    userId,
	})
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, toApiRoom(newRoom))
}

// addMember joins the caller to a public room, or lets a room owner or
// elevated role add another user to any room.
func (s *RelayApp) addMember(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError(CodeTokenInvalid)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	roomId := r.PathValue("roomId")
	room, err := s.db.GetRoom(roomId)
	if err != nil {
		errResp := NewNotFoundError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req MemberRequest
	if r.Body != nil {
		// body is optional for self-join
		json.NewDecoder(r.Body).Decode(&req)
	}

	target := claims.UserId
	if req.UserId != 0 && req.UserId != claims.UserId {
		if room.OwnerId != claims.UserId && !types.ElevatedRole(claims.Role) {
			errResp := NewForbiddenError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		if _, err := s.db.GetAccountById(req.UserId); err != nil {
			errResp := NewNotFoundError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		target = req.UserId
	} else if room.Visibility == types.VisibilityPrivate && room.OwnerId != claims.UserId {
		// self-join is only open for public rooms
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.AddMember(roomId, target); err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err = s.db.GetRoom(roomId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, toApiRoom(room))
}

func (s *RelayApp) removeMember(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError(CodeTokenInvalid)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	roomId := r.PathValue("roomId")
	room, err := s.db.GetRoom(roomId)
	if err != nil {
		errResp := NewNotFoundError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req MemberRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	target := claims.UserId
	if req.UserId != 0 && req.UserId != claims.UserId {
		if room.OwnerId != claims.UserId && !types.ElevatedRole(claims.Role) {
			errResp := NewForbiddenError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		target = req.UserId
	}

	if err := s.db.RemoveMember(roomId, target); err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, map[string]string{"message": "member removed"})
}

// serveWs upgrades the connection and starts the client pumps. A token may
// arrive as a query parameter for handshake-time auth; an invalid one
// closes the socket with a policy close code. Without a token the
// connection stays pending until an auth message arrives.
func (s *RelayApp) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(conn, s.cm, s.log)
	s.cm.AddConnection(client)
	go client.Write()
	go client.Read()

	if token := r.URL.Query().Get("token"); token != "" {
		if err := client.Authenticate(token); err != nil {
			s.log.Println("handshake auth failed:", err)
			client.Reject("invalid token")
		}
	}
}
