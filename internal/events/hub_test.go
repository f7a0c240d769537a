package events_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"conify/internal/common"
	"conify/internal/events"
	"conify/internal/events/eventstest"
)

func newTestHub() *events.Hub {
	return events.NewHub(zap.NewNop(), nil)
}

func TestHub_PrivateDeliveryReachesEverySessionOfUser(t *testing.T) {
	hub := newTestHub()
	a1 := eventstest.NewSession("a1", common.UserIdentity(1, "ann"), 8)
	a2 := eventstest.NewSession("a2", common.UserIdentity(1, "ann"), 8)
	b := eventstest.NewSession("b", common.UserIdentity(2, "bob"), 8)
	for _, s := range []*eventstest.Session{a1, a2, b} {
		hub.Register(s)
	}
	assert.Equal(t, 2, hub.UserSessions(1))

	err := hub.Publish(context.Background(), events.New(events.TypeMessage, map[string]string{"content": "hi"}), events.Private(1))
	require.NoError(t, err)

	assert.Len(t, a1.Drain(), 1)
	assert.Len(t, a2.Drain(), 1)
	assert.Empty(t, b.Drain())
}

func TestHub_PrivateWithoutSessionsIsDroppedSilently(t *testing.T) {
	hub := newTestHub()
	assert.NoError(t, hub.Publish(context.Background(), events.New(events.TypeTyping, nil), events.Private(42)))
}

func TestHub_AnonymousSessionsAreNotTargetable(t *testing.T) {
	hub := newTestHub()
	anon := eventstest.NewSession("x", common.AnonymousIdentity(), 8)
	hub.Register(anon)

	require.NoError(t, hub.Publish(context.Background(), events.New(events.TypeMessage, nil), events.Private(0)))
	assert.Empty(t, anon.Drain())

	require.NoError(t, hub.Subscribe("x", events.PresenceTopic))
	require.NoError(t, hub.Publish(context.Background(), events.New(events.TypePresence, events.PresenceChange{UserID: 3, Online: true}), events.Topic(events.PresenceTopic)))
	frames := anon.Drain()
	require.Len(t, frames, 1)
	assert.Equal(t, events.TypePresence, frames[0].Type)
	assert.JSONEq(t, `{"userId":3,"online":true}`, string(frames[0].Payload))
}

func TestHub_TopicSubscription(t *testing.T) {
	hub := newTestHub()
	s := eventstest.NewSession("s", common.UserIdentity(1, ""), 8)
	hub.Register(s)

	assert.ErrorIs(t, hub.Subscribe("s", "bad topic"), common.ErrValidation)
	assert.ErrorIs(t, hub.Subscribe("missing", "group.7.typing"), common.ErrNotFound)

	require.NoError(t, hub.Subscribe("s", events.GroupTypingTopic("7")))
	require.NoError(t, hub.Publish(context.Background(), events.New(events.TypeGroupTyping, nil), events.Topic("group.7.typing")))
	assert.Len(t, s.Drain(), 1)

	hub.Unsubscribe("s", "group.7.typing")
	require.NoError(t, hub.Publish(context.Background(), events.New(events.TypeGroupTyping, nil), events.Topic("group.7.typing")))
	assert.Empty(t, s.Drain())
}

func TestHub_FullQueueIsTransientFailure(t *testing.T) {
	hub := newTestHub()
	slow := eventstest.NewSession("slow", common.UserIdentity(1, ""), 1)
	fast := eventstest.NewSession("fast", common.UserIdentity(1, ""), 4)
	hub.Register(slow)
	hub.Register(fast)

	require.NoError(t, hub.Publish(context.Background(), events.New(events.TypeMessage, nil), events.Private(1)))
	err := hub.Publish(context.Background(), events.New(events.TypeMessage, nil), events.Private(1))
	assert.ErrorIs(t, err, common.ErrTransientDelivery)

	assert.Len(t, slow.Drain(), 1)
	assert.Len(t, fast.Drain(), 2)
}

func TestHub_PreservesProducerOrder(t *testing.T) {
	hub := newTestHub()
	s := eventstest.NewSession("s", common.UserIdentity(1, ""), 64)
	hub.Register(s)

	var ids []string
	for i := 0; i < 20; i++ {
		ev := events.New(events.TypeMessage, i)
		ids = append(ids, ev.ID)
		require.NoError(t, hub.Publish(context.Background(), ev, events.Private(1)))
	}

	frames := s.Drain()
	require.Len(t, frames, 20)
	for i, f := range frames {
		assert.Equal(t, ids[i], f.ID)
	}
}

func TestHub_UnregisterCleansIndexes(t *testing.T) {
	hub := newTestHub()
	s := eventstest.NewSession("s", common.UserIdentity(1, ""), 8)
	hub.Register(s)
	hub.Register(s)
	require.NoError(t, hub.Subscribe("s", events.PresenceTopic))
	assert.Equal(t, 1, hub.SessionCount())

	assert.True(t, hub.Unregister("s"))
	assert.False(t, hub.Unregister("s"))
	assert.Equal(t, 0, hub.UserSessions(1))
	assert.Equal(t, 0, hub.SessionCount())

	require.NoError(t, hub.Publish(context.Background(), events.New(events.TypePresence, nil), events.Topic(events.PresenceTopic)))
	assert.Empty(t, s.Drain())
}

func TestValidateTopicAndTargets(t *testing.T) {
	assert.NoError(t, events.ValidateTopic("presence"))
	assert.NoError(t, events.ValidateTopic("group.abc-1.typing"))
	assert.Error(t, events.ValidateTopic(""))
	assert.Error(t, events.ValidateTopic("group..typing"))
	assert.Error(t, events.ValidateTopic("group.*"))
	assert.Error(t, events.ValidateTopic("a>b"))

	assert.Equal(t, "private:5", events.Private(5).String())
	assert.Equal(t, "topic:presence", events.Topic(events.PresenceTopic).String())
}
