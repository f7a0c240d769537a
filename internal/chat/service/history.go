package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"conify/internal/chat/models"
	"conify/internal/common"
)

const (
	emptyConversationPreview = "Start chatting"
	profileLookupParallelism = 8
)

type History struct {
	Messages      []*models.Message `json:"messages"`
	FirstUnreadID *string           `json:"firstUnreadId"`
}

type ConversationSummary struct {
	ConversationID string    `json:"conversationId"`
	CounterpartID  int64     `json:"counterpartId"`
	Name           string    `json:"name"`
	Avatar         string    `json:"avatar"`
	LastMessage    string    `json:"lastMessage"`
	Timestamp      time.Time `json:"timestamp"`
	UnreadCount    int       `json:"unreadCount"`
	Online         bool      `json:"online"`
}

// OpenConversation returns the full thread oldest first. Opening a thread
// counts as reading it: the viewer's unread count is cleared and the read
// cursor moves to the newest incoming message. Message statuses are left to
// AcknowledgeRead.
func (s *chatService) OpenConversation(ctx context.Context, viewerID, counterpartID int64) (*History, error) {
	if err := common.ValidatePair(viewerID, counterpartID); err != nil {
		return nil, err
	}

	convID := models.ConversationID(viewerID, counterpartID)
	msgs, err := s.messages.FindByConversation(ctx, convID)
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", convID, err)
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Before(msgs[j]) })

	history := &History{Messages: make([]*models.Message, 0, len(msgs))}
	var newestIncoming string
	for _, m := range msgs {
		history.Messages = append(history.Messages, m)
		if !m.IsFromTo(counterpartID, viewerID) {
			continue
		}
		newestIncoming = m.ID
		if history.FirstUnreadID == nil && m.Status != models.StatusRead {
			id := m.ID
			history.FirstUnreadID = &id
		}
	}
	if len(msgs) == 0 {
		return history, nil
	}

	_, err = s.mutateConversation(ctx, viewerID, counterpartID, false, func(conv *models.Conversation) (bool, error) {
		return conv.MarkRead(viewerID, newestIncoming, s.now()), nil
	})
	if err != nil {
		// the thread is still readable
		s.log.Warn("clear unread on open failed",
			zap.String("conversation_id", convID),
			zap.Int64("viewer_id", viewerID),
			zap.Error(err),
		)
	}
	return history, nil
}

// ListConversations summarizes every conversation of userID, newest first.
func (s *chatService) ListConversations(ctx context.Context, userID int64) ([]ConversationSummary, error) {
	if err := common.ValidateUserID("user", userID); err != nil {
		return nil, err
	}

	convs, err := s.conversations.FindByParticipant(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations of %d: %w", userID, err)
	}

	summaries := make([]ConversationSummary, len(convs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(profileLookupParallelism)
	for i, conv := range convs {
		g.Go(func() error {
			summaries[i] = s.summarize(gctx, conv, userID)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(summaries, func(i, j int) bool {
		a, b := summaries[i], summaries[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.ConversationID < b.ConversationID
	})
	return summaries, nil
}

func (s *chatService) summarize(ctx context.Context, conv *models.Conversation, userID int64) ConversationSummary {
	other, _ := conv.Counterpart(userID)
	p := s.profile(ctx, other)

	sum := ConversationSummary{
		ConversationID: conv.ID,
		CounterpartID:  other,
		Name:           models.DisplayName(p, other),
		Avatar:         models.AvatarOf(p),
		LastMessage:    emptyConversationPreview,
		UnreadCount:    conv.UnreadFor(userID),
		Online:         s.isOnline(ctx, other),
	}
	if conv.LastMessage != nil {
		sum.LastMessage = conv.LastMessage.Content
		sum.Timestamp = conv.LastMessage.Timestamp
	}
	return sum
}
