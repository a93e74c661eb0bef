package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/relaychat/go-relaychat/internal/auth"
	"github.com/relaychat/go-relaychat/internal/stats"
	"github.com/relaychat/go-relaychat/internal/store"
	"github.com/relaychat/go-relaychat/internal/types"
)

type typingKey struct {
	roomId string
	userId int
}

// ConnectionManager owns every piece of real-time runtime state: live
// connections, the user-to-connection mapping, room subscriber sets and
// typing timers. All of it is guarded by one coarse mutex; no other
// component mutates these maps.
type ConnectionManager struct {
	log   *log.Logger
	db    store.Repository
	auth  *auth.TokenService
	stats stats.StatsProvider

	typingTimeout     time.Duration
	heartbeatInterval time.Duration

	mu            sync.Mutex
	conns         map[*Client]struct{}
	userConns     map[int]map[*Client]struct{}
	subscriptions map[string]map[int]struct{}
	typingTimers  map[typingKey]*time.Timer

	stop chan struct{}
	done chan struct{}
}

func NewConnectionManager(logger *log.Logger, db store.Repository, tokenSvc *auth.TokenService,
	su stats.StatsProvider, typingTimeout, heartbeatInterval time.Duration) (*ConnectionManager, error) {
	cm := &ConnectionManager{
		log:               logger,
		db:                db,
		auth:              tokenSvc,
		stats:             su,
		typingTimeout:     typingTimeout,
		heartbeatInterval: heartbeatInterval,
		conns:             make(map[*Client]struct{}),
		userConns:         make(map[int]map[*Client]struct{}),
		subscriptions:     make(map[string]map[int]struct{}),
		typingTimers:      make(map[typingKey]*time.Timer),
		stop:              make(chan struct{}),
		done:              make(chan struct{}),
	}

	for _, name := range []string{"NumConnections", "NumUsersOnline", "NumRoomSubscriptions", "NumTypingTimers"} {
		cm.stats.RegisterMetric(name)
	}

	return cm, nil
}

// AddConnection tracks a freshly upgraded, still pending connection so the
// heartbeat sweep covers it, and greets it with a connected event.
func (cm *ConnectionManager) AddConnection(c *Client) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.conns[c] = struct{}{}
	cm.stats.Incr("NumConnections")
	c.queueEvent(evtConnected())
}

// Register binds an authenticated user to the connection. Adding the first
// connection for a user flips them online and broadcasts presence; further
// connections for the same user are counted but stay silent.
func (cm *ConnectionManager) Register(c *Client, user types.User) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	c.user = &user
	if cm.userConns[user.Id] == nil {
		cm.userConns[user.Id] = make(map[*Client]struct{})
	}
	if _, ok := cm.userConns[user.Id][c]; ok {
		return
	}
	cm.userConns[user.Id][c] = struct{}{}

	c.queueEvent(evtAuthenticated(user))

	if len(cm.userConns[user.Id]) == 1 {
		cm.stats.Incr("NumUsersOnline")
		if _, err := cm.db.UpdateStatus(user.Id, types.StatusOnline); err != nil {
			cm.log.Println("update status:", err)
		}
		cm.broadcastAll(evtPresenceUpdate(user.Id, user.Username, types.StatusOnline))
	}
}

// Unregister drops the connection. When the user's last connection goes
// away it runs the full disconnect path: typing timers cancelled with their
// stop events, subscriptions cleared with user_left broadcasts, and exactly
// one global presence-offline broadcast.
func (cm *ConnectionManager) Unregister(c *Client) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, ok := cm.conns[c]; !ok {
		return
	}
	delete(cm.conns, c)
	cm.stats.Decr("NumConnections")

	if c.user == nil {
		return
	}

	userId := c.user.Id
	delete(cm.userConns[userId], c)
	if len(cm.userConns[userId]) > 0 {
		return
	}
	delete(cm.userConns, userId)

	cm.handleDisconnect(userId, c.user.Username)
}

// handleDisconnect runs with cm.mu held.
func (cm *ConnectionManager) handleDisconnect(userId int, username string) {
	for key, timer := range cm.typingTimers {
		if key.userId != userId {
			continue
		}
		timer.Stop()
		delete(cm.typingTimers, key)
		cm.stats.Decr("NumTypingTimers")
		cm.broadcastToRoom(key.roomId, evtTypingStop(key.roomId, userId, username), userId)
	}

	for roomId, subs := range cm.subscriptions {
		if _, ok := subs[userId]; !ok {
			continue
		}
		delete(subs, userId)
		cm.stats.Decr("NumRoomSubscriptions")
		cm.broadcastToRoom(roomId, evtUserLeft(roomId, userId, username), userId)
	}

	cm.stats.Decr("NumUsersOnline")
	if _, err := cm.db.UpdateStatus(userId, types.StatusOffline); err != nil {
		cm.log.Println("update status:", err)
	}
	cm.broadcastAll(evtPresenceUpdate(userId, username, types.StatusOffline))
}

// JoinRoom re-validates room existence and the access predicate on every
// join, then subscribes the user for real-time delivery. Failures are error
// events to the caller only; they never close the connection.
func (cm *ConnectionManager) JoinRoom(c *Client, roomId string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	userId, username := c.user.Id, c.user.Username

	allowed, err := cm.db.CanAccess(roomId, userId)
	if err != nil {
		c.queueEvent(evtErr(CodeRoomNotFound, "room not found"))
		return
	}
	if !allowed {
		c.queueEvent(evtErr(CodeAccessDenied, "access denied"))
		return
	}

	if cm.subscriptions[roomId] == nil {
		cm.subscriptions[roomId] = make(map[int]struct{})
	}
	if _, ok := cm.subscriptions[roomId][userId]; ok {
		c.queueEvent(evtJoinedRoom(roomId))
		return
	}
	cm.subscriptions[roomId][userId] = struct{}{}
	cm.stats.Incr("NumRoomSubscriptions")

	c.queueEvent(evtJoinedRoom(roomId))
	cm.broadcastToRoom(roomId, evtUserJoined(roomId, userId, username), userId)
}

// LeaveRoom unsubscribes the user, cancelling any pending typing timer for
// the room so its stop event still fires exactly once.
func (cm *ConnectionManager) LeaveRoom(c *Client, roomId string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	userId, username := c.user.Id, c.user.Username

	subs, ok := cm.subscriptions[roomId]
	if !ok {
		c.queueEvent(evtLeftRoom(roomId))
		return
	}
	if _, ok := subs[userId]; !ok {
		c.queueEvent(evtLeftRoom(roomId))
		return
	}

	key := typingKey{roomId: roomId, userId: userId}
	if timer, ok := cm.typingTimers[key]; ok {
		timer.Stop()
		delete(cm.typingTimers, key)
		cm.stats.Decr("NumTypingTimers")
		cm.broadcastToRoom(roomId, evtTypingStop(roomId, userId, username), userId)
	}

	delete(subs, userId)
	cm.stats.Decr("NumRoomSubscriptions")

	c.queueEvent(evtLeftRoom(roomId))
	cm.broadcastToRoom(roomId, evtUserLeft(roomId, userId, username), userId)
}

// Typing manages the per-(room, user) debounce timer. A true restarts the
// timer (cancel-then-reschedule, never stacking); a false cancels it and
// broadcasts the stop immediately.
func (cm *ConnectionManager) Typing(c *Client, roomId string, isTyping bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	userId, username := c.user.Id, c.user.Username

	if _, ok := cm.subscriptions[roomId][userId]; !ok {
		c.queueEvent(evtErr(CodeNotSubscribed, "not subscribed to room"))
		return
	}

	key := typingKey{roomId: roomId, userId: userId}
	if timer, ok := cm.typingTimers[key]; ok {
		timer.Stop()
		delete(cm.typingTimers, key)
		cm.stats.Decr("NumTypingTimers")
	}

	if !isTyping {
		cm.broadcastToRoom(roomId, evtTypingStop(roomId, userId, username), userId)
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(cm.typingTimeout, func() {
		cm.expireTyping(key, timer, username)
	})
	cm.typingTimers[key] = timer
	cm.stats.Incr("NumTypingTimers")

	cm.broadcastToRoom(roomId, evtTypingStart(roomId, userId, username), userId)
}

// expireTyping fires when a typing timer runs out without a refresh. The
// identity check discards stale timers that lost a race with a restart.
func (cm *ConnectionManager) expireTyping(key typingKey, timer *time.Timer, username string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	current, ok := cm.typingTimers[key]
	if !ok || current != timer {
		return
	}
	delete(cm.typingTimers, key)
	cm.stats.Decr("NumTypingTimers")

	cm.broadcastToRoom(key.roomId, evtTypingStop(key.roomId, key.userId, username), key.userId)
}

// PresenceUpdate validates the status, persists it, and broadcasts to every
// authenticated client. Presence is global, not room-scoped.
func (cm *ConnectionManager) PresenceUpdate(c *Client, status string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !types.ValidStatus(status) {
		c.queueEvent(evtErr(CodeInvalidStatus, "invalid status"))
		return
	}

	userId, username := c.user.Id, c.user.Username
	if _, err := cm.db.UpdateStatus(userId, status); err != nil {
		cm.log.Println("update status:", err)
		c.queueEvent(evtErr(CodeInternalError, "failed to update status"))
		return
	}

	cm.broadcastAll(evtPresenceUpdate(userId, username, status))
}

// BroadcastNewMessage is the single bridge from the HTTP path into the
// real-time path, invoked after a message is durably created.
func (cm *ConnectionManager) BroadcastNewMessage(roomId string, msg types.Message) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.broadcastToRoom(roomId, evtNewMessage(msg), 0)
}

// broadcastToRoom delivers to every connection of every subscriber of the
// room except excludeUserId. Callers hold cm.mu.
func (cm *ConnectionManager) broadcastToRoom(roomId string, evt *ServerEvent, excludeUserId int) {
	for userId := range cm.subscriptions[roomId] {
		if userId == excludeUserId {
			continue
		}
		for c := range cm.userConns[userId] {
			c.queueEvent(evt)
		}
	}
}

// broadcastAll delivers to every authenticated connection. Callers hold cm.mu.
func (cm *ConnectionManager) broadcastAll(evt *ServerEvent) {
	for c := range cm.conns {
		if c.user == nil {
			continue
		}
		c.queueEvent(evt)
	}
}

// SubscribersOf returns the user ids currently subscribed to the room.
func (cm *ConnectionManager) SubscribersOf(roomId string) []int {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	subs := make([]int, 0, len(cm.subscriptions[roomId]))
	for userId := range cm.subscriptions[roomId] {
		subs = append(subs, userId)
	}
	return subs
}

// Run drives the heartbeat sweep until Shutdown.
func (cm *ConnectionManager) Run() {
	defer close(cm.done)

	ticker := time.NewTicker(cm.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cm.sweepConnections()
		case <-cm.stop:
			cm.closeAll()
			return
		}
	}
}

// sweepConnections terminates every connection that failed to answer the
// previous round's ping, then pings the survivors. Teardown of a dead peer
// follows the normal unregister path via its read pump.
func (cm *ConnectionManager) sweepConnections() {
	cm.mu.Lock()
	var dead []*Client
	for c := range cm.conns {
		if !c.alive.Load() {
			dead = append(dead, c)
			continue
		}
		c.alive.Store(false)
		select {
		case c.ping <- struct{}{}:
		default:
		}
	}
	cm.mu.Unlock()

	for _, c := range dead {
		cm.log.Println("terminating unresponsive connection")
		c.close()
		cm.Unregister(c)
	}
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.Lock()
	conns := make([]*Client, 0, len(cm.conns))
	for c := range cm.conns {
		conns = append(conns, c)
	}
	cm.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

func (cm *ConnectionManager) Shutdown(ctx context.Context) error {
	cm.log.Println("shutting down connection manager")
	close(cm.stop)

	select {
	case <-cm.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
