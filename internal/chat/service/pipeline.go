package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"conify/internal/chat/models"
	"conify/internal/common"
	"conify/internal/events"
)

type SendRequest struct {
	SenderID    int64
	RecipientID int64
	Content     string
	MediaURL    string
	Type        models.MessageType
	Reply       *models.ReplyRef
}

func (s *chatService) validateSend(req *SendRequest) error {
	if err := common.ValidatePair(req.SenderID, req.RecipientID); err != nil {
		return err
	}
	req.MediaURL = strings.TrimSpace(req.MediaURL)
	if err := common.ValidateContent(req.Content, req.MediaURL, s.opts.MaxContentLength); err != nil {
		return err
	}

	switch {
	case req.Type == "" && req.MediaURL != "" && strings.TrimSpace(req.Content) == "":
		req.Type = models.MessageTypeImage
	case req.Type == "":
		req.Type = models.MessageTypeText
	case req.Type.IsTransient():
		return common.Invalid("%s is a signal and is never stored, use its own operation", req.Type)
	case !req.Type.IsPersistable():
		return common.Invalid("message type %q cannot be sent", req.Type)
	}
	return nil
}

// SendMessage persists a direct message, folds it into the conversation and
// pushes it to the recipient and back to the sender's other sessions.
func (s *chatService) SendMessage(ctx context.Context, req SendRequest) (*models.Message, error) {
	if err := s.validateSend(&req); err != nil {
		s.metrics.MessageFailed("validation")
		return nil, err
	}

	author := s.profile(ctx, req.SenderID).Snapshot()
	if author == nil {
		author = &models.AuthorSnapshot{
			UserID:    req.SenderID,
			Username:  models.DisplayName(nil, req.SenderID),
			AvatarURL: models.DefaultAvatar,
		}
	}

	msg := &models.Message{
		ConversationID: models.ConversationID(req.SenderID, req.RecipientID),
		SenderID:       req.SenderID,
		RecipientID:    req.RecipientID,
		Sender:         author,
		Content:        req.Content,
		MediaURL:       req.MediaURL,
		Type:           req.Type,
		Status:         models.StatusDelivered,
		Reply:          models.NormalizeReply(req.Reply),
		Timestamp:      s.now(),
	}

	if err := s.messages.Save(ctx, msg); err != nil {
		s.metrics.MessageFailed("persist")
		s.log.Error("persist message failed",
			zap.String("conversation_id", msg.ConversationID),
			zap.Int64("sender_id", msg.SenderID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("persist message: %w", err)
	}

	_, err := s.mutateConversation(ctx, req.SenderID, req.RecipientID, true, func(conv *models.Conversation) (bool, error) {
		return true, conv.RecordMessage(msg)
	})
	if err != nil {
		s.metrics.MessageFailed("conversation")
		s.log.Error("update conversation after send failed",
			zap.String("conversation_id", msg.ConversationID),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("update conversation: %w", err)
	}

	s.metrics.MessageSent()
	ev := events.New(events.TypeMessage, msg.Clone())
	s.publish(ctx, ev, events.Private(msg.RecipientID))
	s.publish(ctx, ev, events.Private(msg.SenderID))
	return msg, nil
}

// SendTyping is transient: nothing is stored and every failure is swallowed.
func (s *chatService) SendTyping(ctx context.Context, senderID, recipientID int64, isTyping bool) {
	common.BestEffort(ctx, s.log, "chat.typing", func(ctx context.Context) error {
		if err := common.ValidatePair(senderID, recipientID); err != nil {
			return err
		}
		ev := events.New(events.TypeTyping, events.Typing{
			SenderID:    senderID,
			RecipientID: recipientID,
			IsTyping:    isTyping,
		})
		return s.publisher.Publish(ctx, ev, events.Private(recipientID))
	})
}

func (s *chatService) SendGroupTyping(ctx context.Context, senderID int64, groupID string, isTyping bool) {
	common.BestEffort(ctx, s.log, "chat.group_typing", func(ctx context.Context) error {
		if err := common.ValidateUserID("sender", senderID); err != nil {
			return err
		}
		if err := common.ValidateGroupID(groupID); err != nil {
			return err
		}
		ev := events.New(events.TypeGroupTyping, events.GroupTyping{
			SenderID: senderID,
			GroupID:  groupID,
			IsTyping: isTyping,
		})
		return s.publisher.Publish(ctx, ev, events.Topic(events.GroupTypingTopic(groupID)))
	})
}
