package wire

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"conify/internal/chat/service"
	"conify/internal/config"
	"conify/internal/presence"
	"conify/internal/user"
)

func TestProviders_InProcessGraph(t *testing.T) {
	cfg := &config.Config{
		Auth:     config.AuthConfig{JWTSecret: "wire-secret", CookieName: "authToken"},
		Realtime: config.RealtimeConfig{PresenceBackend: "memory"},
		Chat:     config.ChatConfig{StoreDriver: "memory", MaxContentLength: 100, MaxWriteRetries: 3},
	}
	require.NoError(t, cfg.Validate())
	log := zap.NewNop()
	reg := ProvideRegistry()
	m := ProvideMetrics(reg)

	stores, cleanupStores, err := ProvideStores(cfg, log)
	require.NoError(t, err)
	defer cleanupStores()
	assert.Nil(t, stores.Mongo)

	bus, cleanupBus, err := ProvideEventBus(cfg, log, m)
	require.NoError(t, err)
	defer cleanupBus()
	assert.Nil(t, bus.NATS)
	assert.Same(t, bus.Hub, bus.Publisher)

	p, cleanupPresence, err := ProvidePresence(cfg, stores, bus, log, m)
	require.NoError(t, err)
	defer cleanupPresence()
	assert.Nil(t, p.Lease)
	assert.IsType(t, &presence.LocalTracker{}, p.Tracker)

	chat := ProvideChatService(cfg, stores, p, bus, log, m)
	resolver := user.NewResolver(cfg, nil, log)
	gateway := ProvideGateway(cfg, resolver, bus, p, chat, log)
	router := ProvideRouter(cfg, resolver, ProvideChatHandler(chat, p, stores, log), ProvideMediaServer(cfg, stores, log), gateway, reg, log)

	msg, err := chat.SendMessage(context.Background(), service.SendRequest{SenderID: 1, RecipientID: 2, Content: "wired"})
	require.NoError(t, err)
	assert.Equal(t, "1_2", msg.ConversationID)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "conify_messages_sent_total 1")
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}

func TestProvideUserRepository_Disabled(t *testing.T) {
	repo, cleanup, err := ProvideUserRepository(&config.Config{}, zap.NewNop())
	require.NoError(t, err)
	cleanup()
	assert.Nil(t, repo)
}
