package repository

//go:generate mockgen -source=repository.go -destination=mocks/mock_repository.go -package=mocks

import (
	"context"
	"time"

	"conify/internal/chat/models"
)

// ConversationRepository persists per-pair conversation metadata.
// Save is optimistic: a stale Version yields common.ErrConcurrencyConflict,
// a successful Save bumps conv.Version.
type ConversationRepository interface {
	FindByID(ctx context.Context, id string) (*models.Conversation, error)
	Save(ctx context.Context, conv *models.Conversation) error
	FindByParticipant(ctx context.Context, userID int64) ([]*models.Conversation, error)
}

// MessageRepository persists chat messages. Save assigns an id to new messages.
// FindByConversation returns messages ordered by timestamp ascending.
type MessageRepository interface {
	FindByID(ctx context.Context, id string) (*models.Message, error)
	Save(ctx context.Context, msg *models.Message) error
	FindByConversation(ctx context.Context, conversationID string) ([]*models.Message, error)
}

type ProfileRepository interface {
	FindByUserID(ctx context.Context, userID int64) (*models.Profile, error)
	TouchLastSeen(ctx context.Context, userID int64, at time.Time) error
}
