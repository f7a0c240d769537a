package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"conify/internal/chat/models"
	"conify/internal/common"
	"conify/internal/events"
)

// AcknowledgeRead marks every message from otherPartyID to readerID up to
// and including the watermark message as READ, clears the reader's unread
// count and notifies the original sender. An unknown watermark is a no-op, and
// so is an acknowledgement that neither marks a message nor moves the cursor.
func (s *chatService) AcknowledgeRead(ctx context.Context, readerID, otherPartyID int64, lastReadMessageID string) error {
	if err := common.ValidatePair(readerID, otherPartyID); err != nil {
		return err
	}
	lastReadMessageID = strings.TrimSpace(lastReadMessageID)
	if err := common.ValidateMessageID(lastReadMessageID); err != nil {
		return err
	}

	convID := models.ConversationID(readerID, otherPartyID)
	watermark, err := s.messages.FindByID(ctx, lastReadMessageID)
	if errors.Is(err, common.ErrNotFound) {
		s.log.Debug("read ack for unknown message ignored",
			zap.String("message_id", lastReadMessageID),
			zap.Int64("reader_id", readerID),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load watermark %s: %w", lastReadMessageID, err)
	}
	if watermark.ConversationID != convID {
		s.log.Debug("read ack watermark outside conversation ignored",
			zap.String("message_id", lastReadMessageID),
			zap.String("conversation_id", convID),
		)
		return nil
	}

	unlock := s.locks.Lock(convID)
	moved := false
	marked, err := s.markReadUpTo(ctx, convID, readerID, otherPartyID, watermark)
	if err == nil {
		_, err = s.applyConversation(ctx, readerID, otherPartyID, false, func(conv *models.Conversation) (bool, error) {
			moved = conv.MarkRead(readerID, s.readCursor(ctx, conv, readerID, watermark), s.now())
			return moved, nil
		})
		if err != nil {
			err = fmt.Errorf("update read cursor: %w", err)
		}
	}
	unlock()
	if err != nil {
		return err
	}

	s.metrics.ReadAck()
	if marked == 0 && !moved {
		// repeated or stale acknowledgement
		return nil
	}
	s.log.Debug("messages marked read",
		zap.String("conversation_id", convID),
		zap.Int64("reader_id", readerID),
		zap.Int("count", marked),
	)

	s.publish(ctx, events.New(events.TypeReadReceipt, events.ReadReceipt{
		MessageID:        lastReadMessageID,
		ReaderID:         readerID,
		OriginalSenderID: otherPartyID,
	}), events.Private(otherPartyID))
	return nil
}

// markReadUpTo advances matching messages to READ. The caller holds the
// conversation lock.
func (s *chatService) markReadUpTo(
	ctx context.Context,
	convID string,
	readerID, senderID int64,
	watermark *models.Message,
) (int, error) {
	msgs, err := s.messages.FindByConversation(ctx, convID)
	if err != nil {
		return 0, fmt.Errorf("load conversation %s messages: %w", convID, err)
	}

	marked := 0
	for _, m := range msgs {
		if !m.IsFromTo(senderID, readerID) || m.Timestamp.After(watermark.Timestamp) {
			continue
		}
		if !m.Advance(models.StatusRead) {
			continue
		}
		if err := s.messages.Save(ctx, m); err != nil {
			return marked, fmt.Errorf("mark message %s read: %w", m.ID, err)
		}
		marked++
	}
	return marked, nil
}

// readCursor keeps the reader's cursor from moving backwards when an older
// watermark is acknowledged late.
func (s *chatService) readCursor(ctx context.Context, conv *models.Conversation, readerID int64, watermark *models.Message) string {
	st, ok := conv.State(readerID)
	if !ok || st.LastReadMessageID == "" || st.LastReadMessageID == watermark.ID {
		return watermark.ID
	}
	current, err := s.messages.FindByID(ctx, st.LastReadMessageID)
	if err != nil || current.ConversationID != conv.ID {
		return watermark.ID
	}
	if watermark.Before(current) {
		return current.ID
	}
	return watermark.ID
}
