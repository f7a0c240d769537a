package wire

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"conify/internal/chat/handler"
	"conify/internal/chat/repository"
	"conify/internal/chat/service"
	"conify/internal/config"
	"conify/internal/dbmongo"
	"conify/internal/dbmysql"
	"conify/internal/events"
	"conify/internal/logger"
	"conify/internal/media"
	"conify/internal/metrics"
	"conify/internal/presence"
	"conify/internal/realtime"
	"conify/internal/user"
)

// Application is the fully wired chat service.
type Application struct {
	Config   *config.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Stores   *Stores
	Events   *EventBus
	Presence *Presence
	Resolver *user.Resolver
	Chat     service.ChatService
	Gateway  *realtime.Gateway
	Router   http.Handler
}

// Stores groups the chat repositories of the configured driver.
// Mongo is nil for the memory driver.
type Stores struct {
	Conversations repository.ConversationRepository
	Messages      repository.MessageRepository
	Profiles      repository.ProfileRepository
	Media         media.Storage
	Mongo         *dbmongo.MongoClient
}

// EventBus is the publisher the engine writes to plus the local hub sessions
// register with. NATS is nil on single-node deployments.
type EventBus struct {
	Hub       *events.Hub
	Publisher events.Publisher
	NATS      *events.NATSRouter
}

// Presence holds the active tracker. Lease is nil for the memory backend.
type Presence struct {
	Tracker presence.Tracker
	Lease   *presence.LeaseTracker
}

func ProvideConfig() (*config.Config, error) {
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func ProvideLogger(cfg *config.Config) (*zap.Logger, func(), error) {
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return log, func() { _ = log.Sync() }, nil
}

func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func ProvideMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New(reg)
}

func ProvideStores(cfg *config.Config, log *zap.Logger) (*Stores, func(), error) {
	if cfg.Chat.StoreDriver == "memory" {
		log.Warn("using in-memory chat store, data is lost on restart")
		mem := repository.NewMemoryStore()
		return &Stores{
			Conversations: mem.Conversations(),
			Messages:      mem.Messages(),
			Profiles:      mem.Profiles(),
			Media:         media.NewMemoryStorage(),
		}, func() {}, nil
	}

	mc, err := dbmongo.NewMongoConnection(cfg)
	if err != nil {
		return nil, nil, err
	}
	log.Info("connected to MongoDB", zap.String("database", cfg.MongoDB.Database))

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mc.Close(ctx); err != nil {
			log.Warn("mongo disconnect failed", zap.Error(err))
		}
	}
	return &Stores{
		Conversations: dbmongo.NewConversationStore(mc),
		Messages:      dbmongo.NewMessageStore(mc),
		Profiles:      dbmongo.NewProfileStore(mc),
		Media:         dbmongo.NewMediaStorage(mc),
		Mongo:         mc,
	}, cleanup, nil
}

// ProvideUserRepository returns nil when the account database is disabled,
// in which case token claims are trusted as-is.
func ProvideUserRepository(cfg *config.Config, log *zap.Logger) (user.UserRepository, func(), error) {
	if !cfg.Database.Enabled {
		log.Info("account database disabled, trusting token claims")
		return nil, func() {}, nil
	}

	db, err := dbmysql.NewMySQL(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return user.NewUserRepository(db), cleanup, nil
}

func ProvideEventBus(cfg *config.Config, log *zap.Logger, m *metrics.Metrics) (*EventBus, func(), error) {
	hub := events.NewHub(log, m)
	if !cfg.NATS.Enabled {
		return &EventBus{Hub: hub, Publisher: hub}, func() {}, nil
	}

	nc, err := events.ConnectNATS(cfg.NATS, log)
	if err != nil {
		return nil, nil, err
	}
	router := events.NewNATSRouter(nc, hub, cfg.NATS.SubjectPrefix, log, m)
	if err := router.Start(); err != nil {
		nc.Close()
		return nil, nil, err
	}
	log.Info("event routing via NATS", zap.String("url", nc.ConnectedUrl()))

	cleanup := func() {
		if err := router.Close(); err != nil {
			log.Warn("nats unsubscribe failed", zap.Error(err))
		}
		if err := nc.Drain(); err != nil {
			log.Warn("nats drain failed", zap.Error(err))
		}
	}
	return &EventBus{Hub: hub, Publisher: router, NATS: router}, cleanup, nil
}

func ProvidePresence(cfg *config.Config, stores *Stores, bus *EventBus, log *zap.Logger, m *metrics.Metrics) (*Presence, func(), error) {
	if cfg.Realtime.PresenceBackend != "redis" {
		return &Presence{Tracker: presence.NewLocalTracker(bus.Publisher, stores.Profiles, log, m)}, func() {}, nil
	}

	rdb, err := presence.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize)
	if err != nil {
		return nil, nil, err
	}
	lease := presence.NewLeaseTracker(rdb, cfg.Realtime.PresenceLeaseTTL, bus.Publisher, stores.Profiles, log, m)
	cleanup := func() {
		if err := rdb.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			log.Warn("redis close failed", zap.Error(err))
		}
	}
	return &Presence{Tracker: lease, Lease: lease}, cleanup, nil
}

func ProvideChatService(cfg *config.Config, stores *Stores, p *Presence, bus *EventBus, log *zap.Logger, m *metrics.Metrics) service.ChatService {
	return service.NewChatService(
		stores.Conversations,
		stores.Messages,
		stores.Profiles,
		p.Tracker,
		bus.Publisher,
		log,
		m,
		service.OptionsFromConfig(cfg),
	)
}

func ProvideGateway(cfg *config.Config, resolver *user.Resolver, bus *EventBus, p *Presence, chat service.ChatService, log *zap.Logger) *realtime.Gateway {
	return realtime.NewGateway(cfg, resolver, bus.Hub, p.Tracker, chat, log)
}

func ProvideChatHandler(chat service.ChatService, p *Presence, stores *Stores, log *zap.Logger) *handler.ChatHandler {
	return handler.NewChatHandler(chat, p.Tracker, stores.Profiles, log)
}

func ProvideMediaServer(cfg *config.Config, stores *Stores, log *zap.Logger) *media.HTTPServer {
	return media.NewHTTPServer(stores.Media, cfg, log)
}

func ProvideRouter(
	cfg *config.Config,
	resolver *user.Resolver,
	chat *handler.ChatHandler,
	mediaServer *media.HTTPServer,
	gateway *realtime.Gateway,
	reg *prometheus.Registry,
	log *zap.Logger,
) http.Handler {
	return handler.NewRouter(cfg, resolver, chat, mediaServer, gateway, reg, log)
}
