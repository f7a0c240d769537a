package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"conify/internal/chat/models"
	"conify/internal/chat/repository"
	"conify/internal/events/eventstest"
)

// stepClock returns strictly increasing times, one second apart.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type staticPresence map[int64]bool

func (p staticPresence) IsOnline(_ context.Context, userID int64) bool { return p[userID] }

type fixture struct {
	svc   *chatService
	store *repository.MemoryStore
	rec   *eventstest.Recorder
}

func newFixture(t *testing.T, online OnlineChecker) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	rec := &eventstest.Recorder{}
	svc := newChatService(store.Conversations(), store.Messages(), store.Profiles(), online, rec,
		zap.NewNop(), nil, Options{MaxContentLength: 100, MaxWriteRetries: 5})
	svc.now = newStepClock().Now
	return &fixture{svc: svc, store: store, rec: rec}
}

func (f *fixture) send(t *testing.T, from, to int64, content string) *models.Message {
	t.Helper()
	msg, err := f.svc.SendMessage(context.Background(), SendRequest{SenderID: from, RecipientID: to, Content: content})
	require.NoError(t, err)
	return msg
}

func (f *fixture) conversation(t *testing.T, a, b int64) *models.Conversation {
	t.Helper()
	conv, err := f.store.Conversations().FindByID(context.Background(), models.ConversationID(a, b))
	require.NoError(t, err)
	return conv
}

func (f *fixture) status(t *testing.T, id string) models.MessageStatus {
	t.Helper()
	m, err := f.store.Messages().FindByID(context.Background(), id)
	require.NoError(t, err)
	return m.Status
}
