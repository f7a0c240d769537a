package presence

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"conify/internal/events"
	"conify/internal/metrics"
)

const onlineSetKey = "presence:online"

func sessionsKey(userID int64) string {
	return "presence:sessions:" + strconv.FormatInt(userID, 10)
}

// KEYS[1] = sessions zset, KEYS[2] = online set
// ARGV[1] = session id, ARGV[2] = lease expiry (ms), ARGV[3] = now (ms)
// ARGV[4] = user id, ARGV[5] = key ttl (ms)
// returns 1 when the user became online
const luaAcquire = `
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[3])
redis.call("ZADD", KEYS[1], ARGV[2], ARGV[1])
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return redis.call("SADD", KEYS[2], ARGV[4])
`

// KEYS as above. ARGV[1] = session id, ARGV[2] = now (ms), ARGV[3] = user id
// returns 1 when the user went offline
const luaRelease = `
redis.call("ZREM", KEYS[1], ARGV[1])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[2])
if redis.call("ZCARD", KEYS[1]) == 0 then
  redis.call("DEL", KEYS[1])
  return redis.call("SREM", KEYS[2], ARGV[3])
end
return 0
`

// KEYS[1] = sessions zset. ARGV[1] = session id, ARGV[2] = lease expiry (ms), ARGV[3] = key ttl (ms)
// returns 0 when the lease was already gone
const luaRefresh = `
if redis.call("ZSCORE", KEYS[1], ARGV[1]) == false then
  return 0
end
redis.call("ZADD", KEYS[1], ARGV[2], ARGV[1])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return 1
`

// KEYS as acquire. ARGV[1] = now (ms), ARGV[2] = user id
const luaSweep = `
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
if redis.call("ZCARD", KEYS[1]) == 0 then
  redis.call("DEL", KEYS[1])
  return redis.call("SREM", KEYS[2], ARGV[2])
end
return 0
`

// LeaseTracker shares presence between nodes through Redis. Each session
// holds a lease in a per-user sorted set scored by expiry; the user is online
// while the set is non-empty. Transitions are decided inside Lua scripts, so
// across all nodes exactly one caller observes each online or offline edge.
//
// The scripts touch a per-user key and the global online set together, which
// requires a single-shard deployment.
type LeaseTracker struct {
	rdb       redis.UniversalClient
	ttl       time.Duration
	publisher events.Publisher
	lastSeen  LastSeenWriter
	log       *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	acquire *redis.Script
	release *redis.Script
	refresh *redis.Script
	sweep   *redis.Script

	mu    sync.Mutex
	local map[string]int64 // session id -> user id, for heartbeats
}

func NewLeaseTracker(rdb redis.UniversalClient, ttl time.Duration, publisher events.Publisher, lastSeen LastSeenWriter, log *zap.Logger, m *metrics.Metrics) *LeaseTracker {
	if ttl <= 0 {
		ttl = 45 * time.Second
	}
	return &LeaseTracker{
		rdb:       rdb,
		ttl:       ttl,
		publisher: publisher,
		lastSeen:  lastSeen,
		log:       log.Named("presence"),
		metrics:   m,
		now:       time.Now,
		acquire:   redis.NewScript(luaAcquire),
		release:   redis.NewScript(luaRelease),
		refresh:   redis.NewScript(luaRefresh),
		sweep:     redis.NewScript(luaSweep),
		local:     make(map[string]int64),
	}
}

func (t *LeaseTracker) keyTTL() int64 {
	return (2 * t.ttl).Milliseconds()
}

func (t *LeaseTracker) Connect(ctx context.Context, userID int64, sessionID string) bool {
	if userID <= 0 || sessionID == "" {
		return false
	}
	t.mu.Lock()
	t.local[sessionID] = userID
	t.mu.Unlock()

	online, err := t.acquireLease(ctx, userID, sessionID)
	if err != nil {
		t.log.Error("acquire presence lease", zap.Int64("user_id", userID), zap.Error(err))
		return false
	}
	if online {
		t.metrics.UserOnline()
		broadcast(ctx, t.publisher, t.log, userID, true)
	}
	return online
}

func (t *LeaseTracker) acquireLease(ctx context.Context, userID int64, sessionID string) (bool, error) {
	now := t.now()
	n, err := t.acquire.Run(ctx, t.rdb,
		[]string{sessionsKey(userID), onlineSetKey},
		sessionID, now.Add(t.ttl).UnixMilli(), now.UnixMilli(), userID, t.keyTTL(),
	).Int64()
	if err != nil {
		return false, errors.Wrap(err, "presence acquire")
	}
	return n == 1, nil
}

func (t *LeaseTracker) Disconnect(ctx context.Context, userID int64, sessionID string) bool {
	t.mu.Lock()
	delete(t.local, sessionID)
	t.mu.Unlock()

	n, err := t.release.Run(ctx, t.rdb,
		[]string{sessionsKey(userID), onlineSetKey},
		sessionID, t.now().UnixMilli(), userID,
	).Int64()
	if err != nil {
		t.log.Error("release presence lease", zap.Int64("user_id", userID), zap.Error(errors.Wrap(err, "presence release")))
		return false
	}
	if n != 1 {
		return false
	}
	t.wentOffline(ctx, userID)
	return true
}

func (t *LeaseTracker) wentOffline(ctx context.Context, userID int64) {
	t.metrics.UserOffline()
	touchLastSeen(ctx, t.lastSeen, t.log, userID, t.now())
	broadcast(ctx, t.publisher, t.log, userID, false)
}

func (t *LeaseTracker) IsOnline(ctx context.Context, userID int64) bool {
	ok, err := t.rdb.SIsMember(ctx, onlineSetKey, userID).Result()
	if err != nil {
		t.log.Warn("presence lookup failed", zap.Int64("user_id", userID), zap.Error(err))
		return false
	}
	return ok
}

func (t *LeaseTracker) Snapshot(ctx context.Context) []int64 {
	members, err := t.rdb.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		t.log.Warn("presence snapshot failed", zap.Error(err))
		return nil
	}
	out := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Heartbeat extends the leases of every session held by this node. A lease
// that expired in the meantime is acquired again unless its session closed.
func (t *LeaseTracker) Heartbeat(ctx context.Context) error {
	t.mu.Lock()
	held := make(map[string]int64, len(t.local))
	for sid, uid := range t.local {
		held[sid] = uid
	}
	t.mu.Unlock()

	now := t.now()
	for sid, uid := range held {
		n, err := t.refresh.Run(ctx, t.rdb, []string{sessionsKey(uid)},
			sid, now.Add(t.ttl).UnixMilli(), t.keyTTL()).Int64()
		if err != nil {
			return errors.Wrapf(err, "refresh lease for user %d", uid)
		}
		if n == 0 {
			online, err := t.reacquire(ctx, uid, sid)
			if err != nil {
				return err
			}
			if online {
				t.metrics.UserOnline()
				broadcast(ctx, t.publisher, t.log, uid, true)
			}
		}
	}
	return nil
}

// reacquire takes the lease again only while the session is still held here.
// Disconnect forgets the session under the same lock before releasing, so a
// session closed after the heartbeat snapshot is never brought back.
func (t *LeaseTracker) reacquire(ctx context.Context, userID int64, sessionID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.local[sessionID]; !ok {
		return false, nil
	}
	return t.acquireLease(ctx, userID, sessionID)
}

// Sweep drops expired leases of every online user and announces the users
// whose last lease ran out.
func (t *LeaseTracker) Sweep(ctx context.Context) ([]int64, error) {
	users, err := t.rdb.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list online users")
	}
	nowMs := t.now().UnixMilli()
	var offline []int64
	for _, m := range users {
		uid, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		n, err := t.sweep.Run(ctx, t.rdb, []string{sessionsKey(uid), onlineSetKey}, nowMs, uid).Int64()
		if err != nil {
			return offline, errors.Wrapf(err, "sweep user %d", uid)
		}
		if n == 1 {
			t.wentOffline(ctx, uid)
			offline = append(offline, uid)
		}
	}
	return offline, nil
}

// Run heartbeats and sweeps every third of the lease TTL until ctx is done.
func (t *LeaseTracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := t.Heartbeat(ctx); err != nil {
				t.log.Warn("presence heartbeat", zap.Error(err))
			}
			if offline, err := t.Sweep(ctx); err != nil {
				t.log.Warn("presence sweep", zap.Error(err))
			} else if len(offline) > 0 {
				t.log.Info("expired presence leases", zap.Int64s("user_ids", offline))
			}
		}
	}
}

func NewRedisClient(addr, password string, db, poolSize int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db, PoolSize: poolSize})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "connect redis at %s", addr)
	}
	return rdb, nil
}
