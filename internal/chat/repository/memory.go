package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"conify/internal/chat/models"
	"conify/internal/common"
)

// MemoryStore keeps conversations, messages and profiles in process memory.
// It stores copies, so callers observe the same read-modify-write races as
// with the document store.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
	messages      map[string]*models.Message
	byConv        map[string][]string
	profiles      map[int64]*models.Profile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string]*models.Message),
		byConv:        make(map[string][]string),
		profiles:      make(map[int64]*models.Profile),
	}
}

// Conversations returns the store as a ConversationRepository.
func (s *MemoryStore) Conversations() ConversationRepository { return memConversations{s} }

func (s *MemoryStore) Messages() MessageRepository { return memMessages{s} }

func (s *MemoryStore) Profiles() ProfileRepository { return memProfiles{s} }

// PutProfile seeds or replaces a profile.
func (s *MemoryStore) PutProfile(p models.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = &p
}

type memConversations struct{ s *MemoryStore }

func (r memConversations) FindByID(_ context.Context, id string) (*models.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	conv, ok := r.s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, common.ErrNotFound)
	}
	return conv.Clone(), nil
}

func (r memConversations) Save(_ context.Context, conv *models.Conversation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, exists := r.s.conversations[conv.ID]
	switch {
	case conv.Version == 0 && exists:
		return fmt.Errorf("conversation %s already exists: %w", conv.ID, common.ErrConcurrencyConflict)
	case conv.Version > 0 && (!exists || current.Version != conv.Version):
		return fmt.Errorf("conversation %s version %d is stale: %w", conv.ID, conv.Version, common.ErrConcurrencyConflict)
	}

	conv.Version++
	r.s.conversations[conv.ID] = conv.Clone()
	return nil
}

func (r memConversations) FindByParticipant(_ context.Context, userID int64) ([]*models.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*models.Conversation
	for _, conv := range r.s.conversations {
		if conv.Has(userID) {
			out = append(out, conv.Clone())
		}
	}
	return out, nil
}

type memMessages struct{ s *MemoryStore }

func (r memMessages) FindByID(_ context.Context, id string) (*models.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	msg, ok := r.s.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, common.ErrNotFound)
	}
	return msg.Clone(), nil
}

func (r memMessages) Save(_ context.Context, msg *models.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = primitive.NewObjectID().Hex()
	}
	if _, exists := r.s.messages[msg.ID]; !exists {
		r.s.byConv[msg.ConversationID] = append(r.s.byConv[msg.ConversationID], msg.ID)
	}
	r.s.messages[msg.ID] = msg.Clone()
	return nil
}

func (r memMessages) FindByConversation(_ context.Context, conversationID string) ([]*models.Message, error) {
	r.s.mu.RLock()
	ids := r.s.byConv[conversationID]
	out := make([]*models.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.s.messages[id].Clone())
	}
	r.s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

type memProfiles struct{ s *MemoryStore }

func (r memProfiles) FindByUserID(_ context.Context, userID int64) (*models.Profile, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("profile %d: %w", userID, common.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (r memProfiles) TouchLastSeen(_ context.Context, userID int64, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.profiles[userID]
	if !ok {
		p = &models.Profile{UserID: userID}
		r.s.profiles[userID] = p
	}
	at = at.UTC()
	p.LastSeenAt = &at
	return nil
}
