package dbmongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"conify/internal/chat/models"
	"conify/internal/common"
)

type ProfileStore struct {
	coll *mongo.Collection
}

func NewProfileStore(mc *MongoClient) *ProfileStore {
	return &ProfileStore{coll: mc.Database.Collection(profilesCollection)}
}

func (s *ProfileStore) FindByUserID(ctx context.Context, userID int64) (*models.Profile, error) {
	var p models.Profile
	err := s.coll.FindOne(ctx, bson.M{"_id": userID}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("profile %d: %w", userID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find profile %d: %w", userID, err)
	}
	return &p, nil
}

func (s *ProfileStore) TouchLastSeen(ctx context.Context, userID int64, at time.Time) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": bson.M{"last_seen_at": at.UTC()}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("update last seen of %d: %w", userID, err)
	}
	return nil
}
