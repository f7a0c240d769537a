// Package realtime is the websocket transport: it authenticates connections,
// registers them with the event hub and presence tracker, and turns inbound
// frames into chat operations.
package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"conify/internal/chat/service"
	"conify/internal/common"
	"conify/internal/config"
	"conify/internal/events"
	"conify/internal/presence"
)

// Registry is the session side of the event hub.
type Registry interface {
	Register(s events.Session)
	Unregister(sessionID string) bool
	Subscribe(sessionID, topic string) error
	Unsubscribe(sessionID, topic string)
}

type Gateway struct {
	resolver   common.IdentityResolver
	registry   Registry
	tracker    presence.Tracker
	chat       service.ChatService
	cfg        config.RealtimeConfig
	cookieName string
	upgrader   websocket.Upgrader
	log        *zap.Logger

	mu      sync.Mutex
	clients map[string]*client
}

func NewGateway(
	cfg *config.Config,
	resolver common.IdentityResolver,
	registry Registry,
	tracker presence.Tracker,
	chat service.ChatService,
	log *zap.Logger,
) *Gateway {
	rt := cfg.Realtime
	if rt.SendBuffer <= 0 {
		rt.SendBuffer = 256
	}
	if rt.MaxMessageSize <= 0 {
		rt.MaxMessageSize = 64 * 1024
	}
	if rt.WriteWait <= 0 {
		rt.WriteWait = 10 * time.Second
	}
	if rt.PongWait <= 0 {
		rt.PongWait = 60 * time.Second
	}

	g := &Gateway{
		resolver:   resolver,
		registry:   registry,
		tracker:    tracker,
		chat:       chat,
		cfg:        rt,
		cookieName: cfg.Auth.CookieName,
		log:        log.Named("gateway"),
		clients:    make(map[string]*client),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if common.OriginAllowed(r, g.cfg.AllowedOrigins) {
		return true
	}
	g.log.Warn("websocket origin rejected", zap.String("origin", r.Header.Get("Origin")))
	return false
}

// identify never fails: a missing or rejected credential yields an
// anonymous identity.
func (g *Gateway) identify(r *http.Request) common.Identity {
	token := common.TokenFromRequest(r, g.cookieName)
	if token == "" || g.resolver == nil {
		return common.AnonymousIdentity()
	}
	id, err := g.resolver.Resolve(r.Context(), token)
	if err != nil {
		g.log.Debug("credential rejected, continuing anonymously", zap.Error(err))
		return common.AnonymousIdentity()
	}
	return id
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ident := g.identify(r)

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newClient(g, conn, uuid.NewString(), ident)
	g.mu.Lock()
	g.clients[c.id] = c
	g.mu.Unlock()

	g.registry.Register(c)
	if err := g.registry.Subscribe(c.id, events.PresenceTopic); err != nil {
		g.log.Warn("presence subscription failed", zap.String("session_id", c.id), zap.Error(err))
	}
	if ident.Authenticated() {
		g.tracker.Connect(c.ctx, ident.UserID, c.id)
	}
	g.log.Debug("session opened",
		zap.String("session_id", c.id),
		zap.Stringer("identity", ident),
		zap.Bool("anonymous", ident.Anonymous),
	)

	go c.writePump()
	go c.readPump()
}

// release runs once per session after its read loop ends.
func (g *Gateway) release(c *client) {
	g.mu.Lock()
	delete(g.clients, c.id)
	g.mu.Unlock()

	g.registry.Unregister(c.id)
	if c.ident.Authenticated() {
		// the connection context is already cancelled
		g.tracker.Disconnect(context.WithoutCancel(c.ctx), c.ident.UserID, c.id)
	}
	g.log.Debug("session closed", zap.String("session_id", c.id))
}

// Shutdown closes every open session and waits for their cleanup or ctx.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	open := make([]*client, 0, len(g.clients))
	for _, c := range g.clients {
		open = append(open, c)
	}
	g.mu.Unlock()

	for _, c := range open {
		c.closeConn()
	}

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		g.mu.Lock()
		n := len(g.clients)
		g.mu.Unlock()
		if n == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// SessionCount reports open websocket sessions on this node.
func (g *Gateway) SessionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}
