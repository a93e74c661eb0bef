package server

import (
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/relaychat/go-relaychat/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 1024
)

// Client is one physical WebSocket connection. user is nil while the
// connection is pending authentication; it is set exactly once, under the
// manager's lock, when the connection authenticates.
type Client struct {
	conn   *websocket.Conn
	cm     *ConnectionManager
	log    *log.Logger
	user   *types.User
	send   chan *ServerEvent
	ping   chan struct{}
	reject chan string
	// alive is set by the pong handler and consumed by the heartbeat sweep
	alive     atomic.Bool
	stop      chan struct{}
	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn, cm *ConnectionManager, l *log.Logger) *Client {
	c := &Client{
		conn:   conn,
		cm:     cm,
		log:    l,
		send:   make(chan *ServerEvent, 256),
		ping:   make(chan struct{}, 1),
		reject: make(chan string, 1),
		stop:   make(chan struct{}),
	}
	c.alive.Store(true)
	return c
}

// Authenticate verifies a token through the shared token service and, on
// success, transitions the connection from pending to authenticated. It is
// used both for handshake-time tokens and for auth messages.
func (c *Client) Authenticate(token string) error {
	claims, err := c.cm.auth.Verify(token)
	if err != nil {
		return err
	}

	user, err := c.cm.db.GetAccountById(claims.UserId)
	if err != nil {
		return err
	}

	c.cm.Register(c, types.User{
		Id:        user.Id,
		Username:  user.Username,
		Email:     user.Email,
		Role:      user.Role,
		Status:    user.Status,
		AvatarURL: user.AvatarURL,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	})
	return nil
}

// Reject terminates a connection whose handshake token failed verification.
// The close frame is written by the write pump, which owns the connection.
func (c *Client) Reject(reason string) {
	select {
	case c.reject <- reason:
	default:
	}
}

func (c *Client) Write() {
	defer func() {
		c.conn.Close()
		c.log.Println("write exiting")
	}()

	for {
		select {
		case evt, ok := <-c.send:
			if !ok {
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(evt); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
					websocket.CloseNormalClosure) {
					c.log.Printf("write event: %s", err)
				}
				return
			}
		case <-c.ping:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case reason := <-c.reject:
			msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, msg)
			return
		case <-c.stop:
			return
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Println("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.alive.Store(true)
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueEvent(evtErr(CodeInvalidMessage, "invalid message format"))
			continue
		}

		c.dispatch(&msg)
	}
}

// dispatch routes one parsed client message. A pending connection only
// accepts auth messages; everything else yields an error event without
// closing the socket.
func (c *Client) dispatch(msg *ClientMessage) {
	if msg.Type == MsgAuth {
		if c.authenticated() {
			c.queueEvent(evtErr(CodeInvalidMessage, "already authenticated"))
			return
		}
		if err := c.Authenticate(msg.Token); err != nil {
			c.queueEvent(evtErr(CodeInvalidToken, "authentication failed"))
		}
		return
	}

	if !c.authenticated() {
		c.queueEvent(evtErr(CodeAuthRequired, "authentication required"))
		return
	}

	switch msg.Type {
	case MsgJoinRoom:
		c.cm.JoinRoom(c, msg.RoomId)
	case MsgLeaveRoom:
		c.cm.LeaveRoom(c, msg.RoomId)
	case MsgTyping:
		c.cm.Typing(c, msg.RoomId, msg.IsTyping)
	case MsgPresence:
		c.cm.PresenceUpdate(c, msg.Status)
	case MsgPing:
		c.queueEvent(evtPong())
	default:
		c.queueEvent(evtErr(CodeInvalidMessage, "unknown message type"))
	}
}

func (c *Client) authenticated() bool {
	c.cm.mu.Lock()
	defer c.cm.mu.Unlock()
	return c.user != nil
}

func (c *Client) queueEvent(evt *ServerEvent) bool {
	select {
	case c.send <- evt:
	default:
		c.log.Println("dropping event, client send buffer full")
		return false
	}

	return true
}

func (c *Client) cleanup() {
	c.cm.Unregister(c)
	c.close()
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.stop)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}
