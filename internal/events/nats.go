package events

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"conify/internal/common"
	"conify/internal/config"
	"conify/internal/metrics"
)

const dedupeWindow = 2 * time.Minute

// ConnectNATS dials the broker with unlimited reconnects.
func ConnectNATS(cfg config.NATSConfig, log *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("conify-chat"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	return nc, nil
}

// NATSRouter fans events out across nodes. Every node publishes to the broker
// and delivers what it receives to its own Hub.
type NATSRouter struct {
	nc      *nats.Conn
	local   *Hub
	prefix  string
	log     *zap.Logger
	metrics *metrics.Metrics
	seen    *seenCache

	mu   sync.Mutex
	subs []*nats.Subscription
}

func NewNATSRouter(nc *nats.Conn, local *Hub, prefix string, log *zap.Logger, m *metrics.Metrics) *NATSRouter {
	return &NATSRouter{
		nc:      nc,
		local:   local,
		prefix:  prefix,
		log:     log.Named("nats-router"),
		metrics: m,
		seen:    newSeenCache(dedupeWindow),
	}
}

func (r *NATSRouter) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, subject := range []string{r.prefix + ".private.*", r.prefix + ".topic.>"} {
		sub, err := r.nc.Subscribe(subject, r.handle)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		r.subs = append(r.subs, sub)
	}
	if err := r.nc.Flush(); err != nil {
		return fmt.Errorf("flush subscriptions: %w", err)
	}
	return nil
}

func (r *NATSRouter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, sub := range r.subs {
		if err := sub.Unsubscribe(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.subs = nil
	return firstErr
}

func (r *NATSRouter) Publish(ctx context.Context, ev Event, target Target) error {
	subject, err := r.subject(target)
	if err != nil {
		return err
	}
	data, err := Encode(ev)
	if err != nil {
		return err
	}

	msg := nats.NewMsg(subject)
	msg.Header.Set(nats.MsgIdHdr, ev.ID)
	msg.Data = data
	if err := r.nc.PublishMsg(msg); err != nil {
		r.metrics.EventDropped("broker")
		return fmt.Errorf("publish %s: %v: %w", subject, err, common.ErrTransientDelivery)
	}
	r.metrics.EventPublished(string(ev.Type))
	return nil
}

func (r *NATSRouter) handle(m *nats.Msg) {
	if id := m.Header.Get(nats.MsgIdHdr); id != "" && r.seen.seenBefore(m.Subject+"|"+id) {
		r.metrics.EventDropped("duplicate")
		return
	}
	target, ok := r.parseSubject(m.Subject)
	if !ok {
		r.log.Warn("ignoring message on unexpected subject", zap.String("subject", m.Subject))
		return
	}
	if err := r.local.Deliver(target, m.Data); err != nil {
		r.log.Debug("local delivery incomplete", zap.Stringer("target", target), zap.Error(err))
	}
}

func (r *NATSRouter) subject(target Target) (string, error) {
	switch target.Kind {
	case KindPrivate:
		if target.UserID <= 0 {
			return "", common.Invalid("private target needs a user id")
		}
		return fmt.Sprintf("%s.private.%d", r.prefix, target.UserID), nil
	case KindTopic:
		if err := ValidateTopic(target.Topic); err != nil {
			return "", err
		}
		return r.prefix + ".topic." + target.Topic, nil
	}
	return "", common.Invalid("unknown target kind %d", target.Kind)
}

func (r *NATSRouter) parseSubject(subject string) (Target, bool) {
	rest, ok := strings.CutPrefix(subject, r.prefix+".")
	if !ok {
		return Target{}, false
	}
	if idStr, ok := strings.CutPrefix(rest, "private."); ok {
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil || id <= 0 {
			return Target{}, false
		}
		return Private(id), true
	}
	if topic, ok := strings.CutPrefix(rest, "topic."); ok && topic != "" {
		return Topic(topic), true
	}
	return Target{}, false
}

// seenCache remembers event keys for a fixed window.
type seenCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
	sweepAt time.Time
	now     func() time.Time
}

func newSeenCache(ttl time.Duration) *seenCache {
	return &seenCache{ttl: ttl, entries: make(map[string]time.Time), now: time.Now}
}

// seenBefore records key and reports whether it was already present.
func (c *seenCache) seenBefore(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.After(c.sweepAt) {
		for k, exp := range c.entries {
			if !exp.After(now) {
				delete(c.entries, k)
			}
		}
		c.sweepAt = now.Add(c.ttl)
	}

	if exp, ok := c.entries[key]; ok && exp.After(now) {
		return true
	}
	c.entries[key] = now.Add(c.ttl)
	return false
}
