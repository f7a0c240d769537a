package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"conify/internal/chat/models"
	"conify/internal/chat/repository"
	"conify/internal/common"
	"conify/internal/config"
	"conify/internal/events"
	"conify/internal/metrics"
)

// ChatService defines the interface exposed to the handler and gateway layers
type ChatService interface {
	SendMessage(ctx context.Context, req SendRequest) (*models.Message, error)
	SendTyping(ctx context.Context, senderID, recipientID int64, isTyping bool)
	SendGroupTyping(ctx context.Context, senderID int64, groupID string, isTyping bool)
	AcknowledgeRead(ctx context.Context, readerID, otherPartyID int64, lastReadMessageID string) error
	OpenConversation(ctx context.Context, viewerID, counterpartID int64) (*History, error)
	ListConversations(ctx context.Context, userID int64) ([]ConversationSummary, error)
}

// OnlineChecker is the slice of the presence tracker the service needs.
type OnlineChecker interface {
	IsOnline(ctx context.Context, userID int64) bool
}

type Options struct {
	MaxContentLength int
	MaxWriteRetries  int
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxContentLength: cfg.Chat.MaxContentLength,
		MaxWriteRetries:  cfg.Chat.MaxWriteRetries,
	}
}

type chatService struct {
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	profiles      repository.ProfileRepository
	presence      OnlineChecker
	publisher     events.Publisher
	log           *zap.Logger
	metrics       *metrics.Metrics
	opts          Options
	locks         *keyedMutex
	now           func() time.Time
}

// Constructor used in DI/wire
func NewChatService(
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	profiles repository.ProfileRepository,
	presence OnlineChecker,
	publisher events.Publisher,
	log *zap.Logger,
	m *metrics.Metrics,
	opts Options,
) ChatService {
	return newChatService(conversations, messages, profiles, presence, publisher, log, m, opts)
}

func newChatService(
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	profiles repository.ProfileRepository,
	presence OnlineChecker,
	publisher events.Publisher,
	log *zap.Logger,
	m *metrics.Metrics,
	opts Options,
) *chatService {
	if opts.MaxWriteRetries <= 0 {
		opts.MaxWriteRetries = 5
	}
	return &chatService{
		conversations: conversations,
		messages:      messages,
		profiles:      profiles,
		presence:      presence,
		publisher:     publisher,
		log:           log.Named("chat"),
		metrics:       m,
		opts:          opts,
		locks:         newKeyedMutex(),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// mutateConversation runs a read-modify-write of one conversation under its
// key lock, re-reading and re-applying fn when the store reports a version
// conflict. With create set, a missing conversation is started between a and
// b; otherwise it returns (nil, nil). fn reports whether it changed anything.
func (s *chatService) mutateConversation(
	ctx context.Context,
	a, b int64,
	create bool,
	fn func(*models.Conversation) (bool, error),
) (*models.Conversation, error) {
	unlock := s.locks.Lock(models.ConversationID(a, b))
	defer unlock()
	return s.applyConversation(ctx, a, b, create, fn)
}

// applyConversation is mutateConversation for callers already holding the
// conversation lock.
func (s *chatService) applyConversation(
	ctx context.Context,
	a, b int64,
	create bool,
	fn func(*models.Conversation) (bool, error),
) (*models.Conversation, error) {
	id := models.ConversationID(a, b)
	for attempt := 1; attempt <= s.opts.MaxWriteRetries; attempt++ {
		conv, err := s.conversations.FindByID(ctx, id)
		switch {
		case errors.Is(err, common.ErrNotFound):
			if !create {
				return nil, nil
			}
			conv = models.NewConversation(a, b, s.now())
		case err != nil:
			return nil, fmt.Errorf("load conversation %s: %w", id, err)
		}

		changed, err := fn(conv)
		if err != nil {
			return nil, err
		}
		if !changed {
			return conv, nil
		}

		err = s.conversations.Save(ctx, conv)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, common.ErrConcurrencyConflict) {
			return nil, fmt.Errorf("save conversation %s: %w", id, err)
		}
		s.metrics.ConversationConflict()
		s.log.Debug("conversation write conflict, retrying",
			zap.String("conversation_id", id),
			zap.Int("attempt", attempt),
		)
	}
	return nil, fmt.Errorf("conversation %s: %d attempts: %w", id, s.opts.MaxWriteRetries, common.ErrConcurrencyConflict)
}

func (s *chatService) profile(ctx context.Context, userID int64) *models.Profile {
	if s.profiles == nil {
		return nil
	}
	p, err := s.profiles.FindByUserID(ctx, userID)
	if err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			s.log.Warn("profile lookup failed", zap.Int64("user_id", userID), zap.Error(err))
		}
		return nil
	}
	return p
}

func (s *chatService) isOnline(ctx context.Context, userID int64) bool {
	if s.presence == nil {
		return false
	}
	return s.presence.IsOnline(ctx, userID)
}

// publish logs and swallows fan-out failures; persisted state stays committed.
func (s *chatService) publish(ctx context.Context, ev events.Event, target events.Target) {
	if err := s.publisher.Publish(ctx, ev, target); err != nil {
		s.metrics.EventDropped("publish")
		s.log.Warn("event fan-out failed",
			zap.String("event_type", string(ev.Type)),
			zap.Stringer("target", target),
			zap.Error(err),
		)
	}
}
