package events

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"conify/internal/common"
	"conify/internal/metrics"
)

// Session is one live realtime connection. Deliver must not block; it
// returns false when the session's outbound queue is full or closed.
type Session interface {
	ID() string
	Identity() common.Identity
	Deliver(frame []byte) bool
}

type registration struct {
	session Session
	topics  map[string]struct{}
}

// Hub is the in-process session registry. It satisfies Publisher for
// single-node deployments and is the local delivery stage of NATSRouter.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*registration
	byUser   map[int64]map[string]Session
	byTopic  map[string]map[string]Session

	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewHub(log *zap.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		sessions: make(map[string]*registration),
		byUser:   make(map[int64]map[string]Session),
		byTopic:  make(map[string]map[string]Session),
		log:      log.Named("hub"),
		metrics:  m,
	}
}

// Register adds a session. Anonymous sessions are never indexed by user.
func (h *Hub) Register(s Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.sessions[s.ID()]; exists {
		return
	}
	h.sessions[s.ID()] = &registration{session: s, topics: make(map[string]struct{})}

	if id := s.Identity(); id.Authenticated() {
		set, ok := h.byUser[id.UserID]
		if !ok {
			set = make(map[string]Session)
			h.byUser[id.UserID] = set
		}
		set[s.ID()] = s
	}
	h.metrics.SessionOpened()
}

func (h *Hub) Unregister(sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	reg, ok := h.sessions[sessionID]
	if !ok {
		return false
	}
	delete(h.sessions, sessionID)

	for topic := range reg.topics {
		h.removeFromTopic(topic, sessionID)
	}
	if id := reg.session.Identity(); id.Authenticated() {
		if set := h.byUser[id.UserID]; set != nil {
			delete(set, sessionID)
			if len(set) == 0 {
				delete(h.byUser, id.UserID)
			}
		}
	}
	h.metrics.SessionClosed()
	return true
}

func (h *Hub) Subscribe(sessionID, topic string) error {
	if err := ValidateTopic(topic); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	reg, ok := h.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, common.ErrNotFound)
	}
	reg.topics[topic] = struct{}{}

	set, ok := h.byTopic[topic]
	if !ok {
		set = make(map[string]Session)
		h.byTopic[topic] = set
	}
	set[sessionID] = reg.session
	return nil
}

func (h *Hub) Unsubscribe(sessionID, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if reg, ok := h.sessions[sessionID]; ok {
		delete(reg.topics, topic)
	}
	h.removeFromTopic(topic, sessionID)
}

// caller holds h.mu
func (h *Hub) removeFromTopic(topic, sessionID string) {
	if set := h.byTopic[topic]; set != nil {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(h.byTopic, topic)
		}
	}
}

func (h *Hub) Publish(ctx context.Context, ev Event, target Target) error {
	frame, err := Encode(ev)
	if err != nil {
		return err
	}
	h.metrics.EventPublished(string(ev.Type))
	return h.Deliver(target, frame)
}

// Deliver enqueues an encoded frame on every session entitled to the target.
// Each session queue is FIFO, so frames from one producer keep their order.
func (h *Hub) Deliver(target Target, frame []byte) error {
	recipients := h.recipients(target)
	if len(recipients) == 0 {
		if target.Kind == KindPrivate {
			h.metrics.EventDropped("no_session")
		}
		return nil
	}

	failed := 0
	for _, s := range recipients {
		if !s.Deliver(frame) {
			failed++
			h.metrics.EventDropped("queue_full")
			h.log.Warn("dropped push for slow session",
				zap.String("session_id", s.ID()),
				zap.Stringer("target", target),
			)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d sessions on %s: %w", failed, len(recipients), target, common.ErrTransientDelivery)
	}
	return nil
}

func (h *Hub) recipients(target Target) []Session {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var set map[string]Session
	switch target.Kind {
	case KindPrivate:
		set = h.byUser[target.UserID]
	case KindTopic:
		set = h.byTopic[target.Topic]
	}
	out := make([]Session, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	return out
}

// UserSessions counts the live sessions of a user on this node.
func (h *Hub) UserSessions(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}

func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
