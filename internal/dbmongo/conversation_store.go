package dbmongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"conify/internal/chat/models"
	"conify/internal/chat/repository"
	"conify/internal/common"
)

var (
	_ repository.ConversationRepository = (*ConversationStore)(nil)
	_ repository.MessageRepository      = (*MessageStore)(nil)
	_ repository.ProfileRepository      = (*ProfileStore)(nil)
)

type ConversationStore struct {
	coll *mongo.Collection
}

func NewConversationStore(mc *MongoClient) *ConversationStore {
	return &ConversationStore{coll: mc.Database.Collection(conversationsCollection)}
}

func (s *ConversationStore) FindByID(ctx context.Context, id string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("conversation %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation %s: %w", id, err)
	}
	return &conv, nil
}

// Save inserts a new conversation (Version 0) or replaces the stored one only
// if its version still matches.
func (s *ConversationStore) Save(ctx context.Context, conv *models.Conversation) error {
	if conv.Version == 0 {
		doc := conv.Clone()
		doc.Version = 1
		if _, err := s.coll.InsertOne(ctx, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return fmt.Errorf("conversation %s already exists: %w", conv.ID, common.ErrConcurrencyConflict)
			}
			return fmt.Errorf("insert conversation %s: %w", conv.ID, err)
		}
		conv.Version = 1
		return nil
	}

	doc := conv.Clone()
	doc.Version = conv.Version + 1
	res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": conv.ID, "version": conv.Version}, doc)
	if err != nil {
		return fmt.Errorf("replace conversation %s: %w", conv.ID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("conversation %s version %d is stale: %w", conv.ID, conv.Version, common.ErrConcurrencyConflict)
	}
	conv.Version = doc.Version
	return nil
}

func (s *ConversationStore) FindByParticipant(ctx context.Context, userID int64) ([]*models.Conversation, error) {
	cursor, err := s.coll.Find(ctx, bson.M{"participants": userID})
	if err != nil {
		return nil, fmt.Errorf("find conversations of %d: %w", userID, err)
	}
	defer cursor.Close(ctx)

	var convs []*models.Conversation
	if err := cursor.All(ctx, &convs); err != nil {
		return nil, fmt.Errorf("decode conversations of %d: %w", userID, err)
	}
	return convs, nil
}
