package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/relaychat/go-relaychat/internal/server"
	"github.com/relaychat/go-relaychat/internal/store"
	"github.com/relaychat/go-relaychat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeJson(rec *httptest.ResponseRecorder, v any) error {
	return json.NewDecoder(rec.Body).Decode(v)
}

func doRequest(t *testing.T, mux *http.ServeMux, method, target, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, target, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestRegister(t *testing.T) {
	_, mux, _ := newTestApp(t)

	tcases := []struct {
		name       string
		body       RegisterRequest
		wantStatus int
	}{
		{
			name:       "valid",
			body:       RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "password123"},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "username too short",
			body:       RegisterRequest{Username: "al", Email: "al@example.com", Password: "password123"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bad email",
			body:       RegisterRequest{Username: "bob", Email: "not-an-email", Password: "password123"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "password too short",
			body:       RegisterRequest{Username: "bob", Email: "bob@example.com", Password: "short"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "duplicate username",
			body:       RegisterRequest{Username: "alice", Email: "alice2@example.com", Password: "password123"},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, mux, http.MethodPost, "/auth/register", "", tc.body)
			assert.Equal(t, tc.wantStatus, rec.Code)

			if tc.wantStatus == http.StatusCreated {
				var resp map[string]types.User
				require.NoError(t, decodeJson(rec, &resp))
				user := resp["user"]
				assert.Equal(t, tc.body.Username, user.Username)
				assert.Equal(t, types.RoleUser, user.Role)
				assert.NotZero(t, user.Id)
			}
		})
	}
}

func TestLoginAndLogout(t *testing.T) {
	app, mux, db := newTestApp(t)
	user, _ := loginUser(t, app, db, "alice", types.RoleUser)

	t.Run("wrong password", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPost, "/auth/login", "",
			LoginRequest{Username: "alice", Password: "wrong-password"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		var apiErr ApiError
		require.NoError(t, decodeJson(rec, &apiErr))
		assert.Equal(t, CodeInvalidCredentials, apiErr.Code)
	})

	t.Run("unknown user is indistinguishable", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPost, "/auth/login", "",
			LoginRequest{Username: "nobody", Password: "password123"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		var apiErr ApiError
		require.NoError(t, decodeJson(rec, &apiErr))
		assert.Equal(t, CodeInvalidCredentials, apiErr.Code)
	})

	var token string
	t.Run("login by username", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPost, "/auth/login", "",
			LoginRequest{Username: "alice", Password: "password123"})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp LoginResponse
		require.NoError(t, decodeJson(rec, &resp))
		assert.NotEmpty(t, resp.Token)
		assert.Equal(t, user.Id, resp.User.Id)
		assert.Equal(t, types.StatusOnline, resp.User.Status)
		token = resp.Token
	})

	t.Run("login by email", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPost, "/auth/login", "",
			LoginRequest{Email: "alice@example.com", Password: "password123"})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("logout invalidates the token", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPost, "/auth/logout", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		stored, err := db.GetAccountById(user.Id)
		require.NoError(t, err)
		assert.Equal(t, types.StatusOffline, stored.Status)

		rec = doRequest(t, mux, http.MethodGet, "/auth/profile", token, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestProfile(t *testing.T) {
	app, mux, db := newTestApp(t)
	user, token := loginUser(t, app, db, "alice", types.RoleUser)

	rec := doRequest(t, mux, http.MethodGet, "/auth/profile", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got types.User
	require.NoError(t, decodeJson(rec, &got))
	assert.Equal(t, user.Id, got.Id)
	assert.Equal(t, user.Username, got.Username)

	rec = doRequest(t, mux, http.MethodGet, "/auth/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUpdateStatus(t *testing.T) {
	app, mux, db := newTestApp(t)
	user, token := loginUser(t, app, db, "alice", types.RoleUser)

	rec := doRequest(t, mux, http.MethodPut, "/auth/status", token, UpdateStatusRequest{Status: "sleeping"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, mux, http.MethodPut, "/auth/status", token, UpdateStatusRequest{Status: types.StatusAway})
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := db.GetAccountById(user.Id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusAway, stored.Status)
}

func TestCreateRoom(t *testing.T) {
	app, mux, db := newTestApp(t)
	user, token := loginUser(t, app, db, "alice", types.RoleUser)

	t.Run("missing name", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPost, "/rooms", token, CreateRoomRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad visibility", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPost, "/rooms", token, CreateRoomRequest{Name: "x", Visibility: "secret"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("visibility defaults to public", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPost, "/rooms", token, CreateRoomRequest{Name: "general"})
		require.Equal(t, http.StatusCreated, rec.Code)

		var room types.Room
		require.NoError(t, decodeJson(rec, &room))
		assert.Equal(t, types.VisibilityPublic, room.Visibility)
		assert.Equal(t, user.Id, room.OwnerId)
		assert.Contains(t, room.Members, user.Id, "owner is a member on creation")
		assert.NotEmpty(t, room.Id)
	})
}

func TestListRooms(t *testing.T) {
	app, mux, db := newTestApp(t)
	owner, _ := loginUser(t, app, db, "owner", types.RoleUser)
	_, token := loginUser(t, app, db, "bob", types.RoleUser)

	_, err := db.CreateRoom(store.CreateRoomParams{Id: "pub", Name: "public", Visibility: types.VisibilityPublic, OwnerId: owner.Id})
	require.NoError(t, err)
	_, err = db.CreateRoom(store.CreateRoomParams{Id: "priv", Name: "private", Visibility: types.VisibilityPrivate, OwnerId: owner.Id})
	require.NoError(t, err)

	rec := doRequest(t, mux, http.MethodGet, "/messages", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string][]types.Room
	require.NoError(t, decodeJson(rec, &resp))
	require.Len(t, resp["rooms"], 1, "non-members only see public rooms")
	assert.Equal(t, "pub", resp["rooms"][0].Id)
}

func TestMessageLifecycle(t *testing.T) {
	app, mux, db := newTestApp(t)
	owner, ownerToken := loginUser(t, app, db, "owner", types.RoleUser)
	author, authorToken := loginUser(t, app, db, "author", types.RoleUser)
	_, otherToken := loginUser(t, app, db, "other", types.RoleUser)

	room, err := db.CreateRoom(store.CreateRoomParams{
		Id: "room1", Name: "general", Visibility: types.VisibilityPublic, OwnerId: owner.Id,
	})
	require.NoError(t, err)

	var msg types.Message
	t.Run("create", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPost, "/messages/"+room.Id, authorToken,
			CreateMessageRequest{Content: "hello"})
		require.Equal(t, http.StatusCreated, rec.Code)

		require.NoError(t, decodeJson(rec, &msg))
		assert.NotEmpty(t, msg.Id)
		assert.Equal(t, room.Id, msg.RoomId)
		assert.Equal(t, author.Id, msg.UserId)
		assert.Equal(t, "hello", msg.Content)
	})

	t.Run("create rejects empty content", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPost, "/messages/"+room.Id, authorToken,
			CreateMessageRequest{Content: "   "})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("create in unknown room", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPost, "/messages/nope", authorToken,
			CreateMessageRequest{Content: "hello"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("list", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodGet, "/messages/"+room.Id, otherToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp RoomMessagesResponse
		require.NoError(t, decodeJson(rec, &resp))
		require.Len(t, resp.Messages, 1)
		assert.Equal(t, msg.Id, resp.Messages[0].Id)
		assert.Equal(t, room.Id, resp.Room.Id)
		assert.Equal(t, 1, resp.Pagination.Total)
		assert.Equal(t, defaultPageLimit, resp.Pagination.Limit)
	})

	t.Run("list rejects bad pagination", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodGet, "/messages/"+room.Id+"?limit=abc", otherToken, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = doRequest(t, mux, http.MethodGet, "/messages/"+room.Id+"?offset=-1", otherToken, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("list caps the limit", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodGet, "/messages/"+room.Id+"?limit=9999", otherToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp RoomMessagesResponse
		require.NoError(t, decodeJson(rec, &resp))
		assert.Equal(t, maxPageLimit, resp.Pagination.Limit)
	})

	t.Run("edit by non-author is forbidden", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPut, "/messages/"+room.Id+"/"+msg.Id, otherToken,
			CreateMessageRequest{Content: "hijacked"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("edit by author", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPut, "/messages/"+room.Id+"/"+msg.Id, authorToken,
			CreateMessageRequest{Content: "hello again"})
		require.Equal(t, http.StatusOK, rec.Code)

		var updated types.Message
		require.NoError(t, decodeJson(rec, &updated))
		assert.Equal(t, msg.Id, updated.Id)
		assert.Equal(t, author.Id, updated.UserId, "authorship survives edits")
		assert.Equal(t, "hello again", updated.Content)
		assert.True(t, updated.Edited)
	})

	t.Run("delete by unrelated user is forbidden", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodDelete, "/messages/"+room.Id+"/"+msg.Id, otherToken, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("delete by room owner", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodDelete, "/messages/"+room.Id+"/"+msg.Id, ownerToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = doRequest(t, mux, http.MethodGet, "/messages/"+room.Id, otherToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp RoomMessagesResponse
		require.NoError(t, decodeJson(rec, &resp))
		assert.Empty(t, resp.Messages)
		assert.Equal(t, 0, resp.Pagination.Total)
	})

	t.Run("delete again", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodDelete, "/messages/"+room.Id+"/"+msg.Id, ownerToken, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestMessageAccessControl(t *testing.T) {
	app, mux, db := newTestApp(t)
	owner, _ := loginUser(t, app, db, "owner", types.RoleUser)
	_, outsiderToken := loginUser(t, app, db, "outsider", types.RoleUser)
	admin, adminToken := loginUser(t, app, db, "admin", types.RoleAdmin)

	room, err := db.CreateRoom(store.CreateRoomParams{
		Id: "priv", Name: "private", Visibility: types.VisibilityPrivate, OwnerId: owner.Id,
	})
	require.NoError(t, err)
	require.NoError(t, db.AddMember(room.Id, admin.Id))

	msg, err := db.CreateMessage(store.CreateMessageParams{
		Id: "m1", RoomId: room.Id, UserId: owner.Id, Username: owner.Username, Content: "secret",
	})
	require.NoError(t, err)

	t.Run("non-member cannot read a private room", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodGet, "/messages/"+room.Id, outsiderToken, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("elevated role can delete another user's message", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodDelete, "/messages/"+room.Id+"/"+msg.Id, adminToken, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestRoomMembers(t *testing.T) {
	app, mux, db := newTestApp(t)
	owner, ownerToken := loginUser(t, app, db, "owner", types.RoleUser)
	bob, bobToken := loginUser(t, app, db, "bob", types.RoleUser)

	pub, err := db.CreateRoom(store.CreateRoomParams{
		Id: "pub", Name: "public", Visibility: types.VisibilityPublic, OwnerId: owner.Id,
	})
	require.NoError(t, err)
	priv, err := db.CreateRoom(store.CreateRoomParams{
		Id: "priv", Name: "private", Visibility: types.VisibilityPrivate, OwnerId: owner.Id,
	})
	require.NoError(t, err)

	t.Run("self-join public room", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPost, "/rooms/"+pub.Id+"/members", bobToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var room types.Room
		require.NoError(t, decodeJson(rec, &room))
		assert.Contains(t, room.Members, bob.Id)
	})

	t.Run("self-join private room is forbidden", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPost, "/rooms/"+priv.Id+"/members", bobToken, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("non-owner cannot add someone else", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPost, "/rooms/"+pub.Id+"/members", bobToken,
			MemberRequest{UserId: owner.Id + 100})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("owner adds a member to a private room", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPost, "/rooms/"+priv.Id+"/members", ownerToken,
			MemberRequest{UserId: bob.Id})
		require.Equal(t, http.StatusOK, rec.Code)

		allowed, err := db.CanAccess(priv.Id, bob.Id)
		require.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("self-leave", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodDelete, "/rooms/"+priv.Id+"/members", bobToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		allowed, err := db.CanAccess(priv.Id, bob.Id)
		require.NoError(t, err)
		assert.False(t, allowed)
	})

	t.Run("unknown room", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodPost, "/rooms/nope/members", bobToken, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestServeWs(t *testing.T) {
	app, mux, db := newTestApp(t)
	user, token := loginUser(t, app, db, "alice", types.RoleUser)

	srv := httptest.NewServer(mux)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	t.Run("handshake token authenticates immediately", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+token, nil)
		require.NoError(t, err)
		defer conn.Close()
		conn.SetReadDeadline(time.Now().Add(time.Second))

		var evt server.ServerEvent
		require.NoError(t, conn.ReadJSON(&evt))
		assert.Equal(t, server.EvtConnected, evt.Type)

		require.NoError(t, conn.ReadJSON(&evt))
		assert.Equal(t, server.EvtAuthenticated, evt.Type)
		require.NotNil(t, evt.User)
		assert.Equal(t, user.Id, evt.User.Id)
	})

	t.Run("invalid handshake token closes the connection", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token=garbage", nil)
		require.NoError(t, err)
		defer conn.Close()
		conn.SetReadDeadline(time.Now().Add(time.Second))

		for {
			var evt server.ServerEvent
			if err = conn.ReadJSON(&evt); err != nil {
				break
			}
		}
		assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation),
			"expected policy violation close, got %v", err)
	})

	t.Run("pending connection only accepts auth", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		defer conn.Close()
		conn.SetReadDeadline(time.Now().Add(time.Second))

		var evt server.ServerEvent
		require.NoError(t, conn.ReadJSON(&evt))
		require.Equal(t, server.EvtConnected, evt.Type)

		require.NoError(t, conn.WriteJSON(server.ClientMessage{Type: server.MsgJoinRoom, RoomId: "x"}))
		require.NoError(t, conn.ReadJSON(&evt))
		assert.Equal(t, server.EvtError, evt.Type)
		assert.Equal(t, server.CodeAuthRequired, evt.Code)

		require.NoError(t, conn.WriteJSON(server.ClientMessage{Type: server.MsgAuth, Token: token}))
		require.NoError(t, conn.ReadJSON(&evt))
		assert.Equal(t, server.EvtAuthenticated, evt.Type)
	})
}
