package hub

import (
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/oscash/payhub/common"
	"github.com/oscash/payhub/gateway"
)

// connState connection lifecycle state
type connState int

const (
	connStateUnauthenticated connState = iota
	connStateAuthenticated
	connStateClosed
)

// Connection one client websocket session.
//
// The hub's lock guards state, identity, account, subscriptions and
// lastHeartbeatAt. The outbound path has its own small lock so frames can be
// queued without touching hub state.
type Connection struct {
	common.Component
	id          string
	ws          *websocket.Conn
	connectedAt time.Time

	// guarded by the owning hub's lock
	state           connState
	identity        string
	account         gateway.AccountContext
	subscriptions   map[string]struct{}
	lastHeartbeatAt time.Time

	// outbound path
	sendLock   sync.Mutex
	send       chan interface{}
	sendClosed bool

	// dead marks a connection whose transport failed before the hub removed
	// it; the cleanup sweep reconciles these. Guarded by sendLock.
	dead bool
}

// newConnection define a connection record for a newly accepted websocket
func newConnection(ws *websocket.Conn, param common.ConnectionParam, sendBufferLen int) *Connection {
	if param.ID == "" {
		param.ID = uuid.New().String()
	}
	logTags := log.Fields{
		"module": "hub", "component": "connection",
	}
	param.UpdateLogTags(logTags)
	now := time.Now()
	return &Connection{
		Component:       common.Component{LogTags: logTags},
		id:              param.ID,
		ws:              ws,
		connectedAt:     now,
		state:           connStateUnauthenticated,
		subscriptions:   make(map[string]struct{}),
		lastHeartbeatAt: now,
		send:            make(chan interface{}, sendBufferLen),
	}
}

// enqueue queue an outbound frame for delivery. Never blocks: returns false
// when the connection is closed, its transport already failed, or the buffer
// is full. Delivery is best-effort in all cases.
func (c *Connection) enqueue(frame interface{}) bool {
	c.sendLock.Lock()
	defer c.sendLock.Unlock()
	if c.sendClosed || c.dead {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		log.WithFields(c.LogTags).Warn("Outbound buffer full. Dropping frame")
		return false
	}
}

// closeSend seal the outbound path. Pending frames are still flushed by the
// write loop before the socket closes. Safe to call more than once.
func (c *Connection) closeSend() {
	c.sendLock.Lock()
	defer c.sendLock.Unlock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}

// markDead record a transport-level send failure
func (c *Connection) markDead() {
	c.sendLock.Lock()
	defer c.sendLock.Unlock()
	c.dead = true
}

// isDead whether the transport already failed
func (c *Connection) isDead() bool {
	c.sendLock.Lock()
	defer c.sendLock.Unlock()
	return c.dead
}

// writeLoop single writer goroutine for the websocket. Exits once the send
// channel is closed and drained, or on the first transport failure, and then
// closes the underlying socket.
func (c *Connection) writeLoop() {
	defer func() { _ = c.ws.Close() }()
	for frame := range c.send {
		if err := c.ws.WriteJSON(frame); err != nil {
			log.WithError(err).WithFields(c.LogTags).Debug("Frame write failed")
			c.markDead()
			return
		}
	}
}
