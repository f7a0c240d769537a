// Package presence tracks which users hold at least one live realtime session
// and announces online/offline transitions on the presence topic.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"conify/internal/common"
	"conify/internal/events"
	"conify/internal/metrics"
)

const (
	shardCount      = 32
	lastSeenTimeout = 2 * time.Second
)

// Tracker aggregates sessions per user. Connect and Disconnect report whether
// the call caused an online or offline transition.
type Tracker interface {
	Connect(ctx context.Context, userID int64, sessionID string) bool
	Disconnect(ctx context.Context, userID int64, sessionID string) bool
	IsOnline(ctx context.Context, userID int64) bool
	Snapshot(ctx context.Context) []int64
}

type LastSeenWriter interface {
	TouchLastSeen(ctx context.Context, userID int64, at time.Time) error
}

type shard struct {
	mu    sync.Mutex
	users map[int64]map[string]struct{}
}

// LocalTracker keeps sessions in process memory, sharded by user.
// Transitions are detected and broadcast while the user's shard is locked, so
// two racing calls for one user can never both claim the same transition.
type LocalTracker struct {
	shards    [shardCount]*shard
	publisher events.Publisher
	lastSeen  LastSeenWriter
	log       *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewLocalTracker(publisher events.Publisher, lastSeen LastSeenWriter, log *zap.Logger, m *metrics.Metrics) *LocalTracker {
	t := &LocalTracker{
		publisher: publisher,
		lastSeen:  lastSeen,
		log:       log.Named("presence"),
		metrics:   m,
		now:       time.Now,
	}
	for i := range t.shards {
		t.shards[i] = &shard{users: make(map[int64]map[string]struct{})}
	}
	return t
}

func (t *LocalTracker) shardFor(userID int64) *shard {
	return t.shards[uint64(userID)%shardCount]
}

func (t *LocalTracker) Connect(ctx context.Context, userID int64, sessionID string) bool {
	if userID <= 0 || sessionID == "" {
		return false
	}
	sh := t.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sessions, ok := sh.users[userID]
	if !ok {
		sessions = make(map[string]struct{})
		sh.users[userID] = sessions
	}
	if _, dup := sessions[sessionID]; dup {
		return false
	}
	sessions[sessionID] = struct{}{}
	if len(sessions) > 1 {
		return false
	}

	t.metrics.UserOnline()
	t.log.Debug("user online", zap.Int64("user_id", userID), zap.String("session_id", sessionID))
	broadcast(ctx, t.publisher, t.log, userID, true)
	return true
}

func (t *LocalTracker) Disconnect(ctx context.Context, userID int64, sessionID string) bool {
	sh := t.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sessions, ok := sh.users[userID]
	if !ok {
		return false
	}
	if _, ok := sessions[sessionID]; !ok {
		return false
	}
	delete(sessions, sessionID)
	if len(sessions) > 0 {
		return false
	}
	delete(sh.users, userID)

	t.metrics.UserOffline()
	t.log.Debug("user offline", zap.Int64("user_id", userID))
	touchLastSeen(ctx, t.lastSeen, t.log, userID, t.now())
	broadcast(ctx, t.publisher, t.log, userID, false)
	return true
}

func (t *LocalTracker) IsOnline(_ context.Context, userID int64) bool {
	sh := t.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return len(sh.users[userID]) > 0
}

// Snapshot lists online users in ascending order.
func (t *LocalTracker) Snapshot(_ context.Context) []int64 {
	var out []int64
	for _, sh := range t.shards {
		sh.mu.Lock()
		for id := range sh.users {
			out = append(out, id)
		}
		sh.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SessionCount returns the number of live sessions of a user.
func (t *LocalTracker) SessionCount(userID int64) int {
	sh := t.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return len(sh.users[userID])
}

func broadcast(ctx context.Context, pub events.Publisher, log *zap.Logger, userID int64, online bool) {
	common.BestEffort(ctx, log, "presence.broadcast", func(ctx context.Context) error {
		ev := events.New(events.TypePresence, events.PresenceChange{UserID: userID, Online: online})
		return pub.Publish(ctx, ev, events.Topic(events.PresenceTopic))
	})
}

func touchLastSeen(ctx context.Context, store LastSeenWriter, log *zap.Logger, userID int64, at time.Time) {
	if store == nil {
		return
	}
	common.BestEffort(ctx, log, "presence.last_seen", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lastSeenTimeout)
		defer cancel()
		return store.TouchLastSeen(ctx, userID, at.UTC())
	})
}

var (
	_ Tracker = (*LocalTracker)(nil)
	_ Tracker = (*LeaseTracker)(nil)
)
