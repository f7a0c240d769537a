package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestNATSRouter_ParseSubject(t *testing.T) {
	r := &NATSRouter{prefix: "conify", log: zap.NewNop()}

	target, ok := r.parseSubject("conify.private.42")
	assert.True(t, ok)
	assert.Equal(t, Private(42), target)

	target, ok = r.parseSubject("conify.topic.group.7.typing")
	assert.True(t, ok)
	assert.Equal(t, Topic("group.7.typing"), target)

	for _, bad := range []string{"other.private.1", "conify.private.x", "conify.private.-1", "conify.topic.", "conify.misc.1"} {
		_, ok = r.parseSubject(bad)
		assert.False(t, ok, bad)
	}

	subject, err := r.subject(Private(9))
	assert.NoError(t, err)
	assert.Equal(t, "conify.private.9", subject)
	subject, err = r.subject(Topic(PresenceTopic))
	assert.NoError(t, err)
	assert.Equal(t, "conify.topic.presence", subject)
}

func TestSeenCache_ExpiresEntries(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newSeenCache(time.Minute)
	c.now = func() time.Time { return now }

	assert.False(t, c.seenBefore("a"))
	assert.True(t, c.seenBefore("a"))
	assert.False(t, c.seenBefore("b"))

	now = now.Add(2 * time.Minute)
	assert.False(t, c.seenBefore("a"))
	assert.Len(t, c.entries, 1)
}
