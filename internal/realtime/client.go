package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"conify/internal/common"
	"conify/internal/events"
)

// client is one websocket session. It implements events.Session.
type client struct {
	id    string
	ident common.Identity
	conn  *websocket.Conn
	gw    *Gateway

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	send   chan []byte
}

func newClient(gw *Gateway, conn *websocket.Conn, id string, ident common.Identity) *client {
	ctx, cancel := context.WithCancel(common.WithIdentity(context.Background(), ident))
	return &client{
		id:     id,
		ident:  ident,
		conn:   conn,
		gw:     gw,
		ctx:    ctx,
		cancel: cancel,
		send:   make(chan []byte, gw.cfg.SendBuffer),
	}
}

func (c *client) ID() string                { return c.id }
func (c *client) Identity() common.Identity { return c.ident }

// Deliver queues a frame without blocking. It returns false when the queue is
// full or the session is closing.
func (c *client) Deliver(frame []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *client) shutdown() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
	c.cancel()
}

func (c *client) closeConn() {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
		time.Now().Add(time.Second))
	_ = c.conn.Close()
}

func (c *client) readPump() {
	defer func() {
		c.shutdown()
		c.gw.release(c)
		_ = c.conn.Close()
	}()

	pongWait := c.gw.cfg.PongWait
	c.conn.SetReadLimit(c.gw.cfg.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.gw.log.Error("failed to set read deadline", zap.Error(err))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.gw.log.Warn("unexpected websocket close", zap.String("session_id", c.id), zap.Error(err))
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *client) writePump() {
	writeWait := c.gw.cfg.WriteWait
	ticker := time.NewTicker(c.gw.cfg.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.gw.log.Debug("websocket write failed", zap.String("session_id", c.id), zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reply sends an event to this session only.
func (c *client) reply(ev events.Event) {
	frame, err := events.Encode(ev)
	if err != nil {
		c.gw.log.Error("encode reply", zap.Error(err))
		return
	}
	if !c.Deliver(frame) {
		c.gw.log.Debug("reply dropped", zap.String("session_id", c.id), zap.String("event_type", string(ev.Type)))
	}
}
