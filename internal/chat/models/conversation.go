package models

import (
	"fmt"
	"time"
)

// ConversationID is the canonical id of the direct conversation between a and b.
// Both directions produce the same value.
func ConversationID(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d_%d", a, b)
}

type LastMessage struct {
	MessageID string    `bson:"message_id" json:"messageId"`
	SenderID  int64     `bson:"sender_id" json:"senderId"`
	Content   string    `bson:"content" json:"content"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

type ParticipantState struct {
	UserID            int64  `bson:"user_id" json:"userId"`
	Unread            int    `bson:"unread" json:"unread"`
	LastReadMessageID string `bson:"last_read_message_id,omitempty" json:"lastReadMessageId,omitempty"`
}

// Conversation holds the per-pair metadata. States always has exactly two
// entries, aligned with Participants.
type Conversation struct {
	ID           string              `bson:"_id" json:"id"`
	Participants [2]int64            `bson:"participants" json:"participants"`
	States       [2]ParticipantState `bson:"states" json:"states"`
	LastMessage  *LastMessage        `bson:"last_message,omitempty" json:"lastMessage,omitempty"`
	Version      int64               `bson:"version" json:"version"`
	CreatedAt    time.Time           `bson:"created_at" json:"createdAt"`
	UpdatedAt    time.Time           `bson:"updated_at" json:"updatedAt"`
}

func NewConversation(a, b int64, now time.Time) *Conversation {
	if a > b {
		a, b = b, a
	}
	return &Conversation{
		ID:           ConversationID(a, b),
		Participants: [2]int64{a, b},
		States:       [2]ParticipantState{{UserID: a}, {UserID: b}},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (c *Conversation) slot(userID int64) int {
	for i, p := range c.Participants {
		if p == userID {
			return i
		}
	}
	return -1
}

func (c *Conversation) Has(userID int64) bool {
	return c.slot(userID) >= 0
}

func (c *Conversation) Counterpart(userID int64) (int64, bool) {
	switch c.slot(userID) {
	case 0:
		return c.Participants[1], true
	case 1:
		return c.Participants[0], true
	}
	return 0, false
}

func (c *Conversation) State(userID int64) (ParticipantState, bool) {
	i := c.slot(userID)
	if i < 0 {
		return ParticipantState{}, false
	}
	return c.States[i], true
}

func (c *Conversation) UnreadFor(userID int64) int {
	s, _ := c.State(userID)
	return s.Unread
}

// RecordMessage replaces the last-message snapshot and bumps the recipient's
// unread counter by one. The sender's state is left alone.
func (c *Conversation) RecordMessage(msg *Message) error {
	ri := c.slot(msg.RecipientID)
	if ri < 0 || !c.Has(msg.SenderID) {
		return fmt.Errorf("message %s does not belong to conversation %s", msg.ID, c.ID)
	}
	c.LastMessage = &LastMessage{
		MessageID: msg.ID,
		SenderID:  msg.SenderID,
		Content:   msg.Preview(),
		Timestamp: msg.Timestamp,
	}
	c.States[ri].Unread++
	c.UpdatedAt = msg.Timestamp
	return nil
}

// MarkRead zeroes the reader's unread counter and, when cursor is non-empty,
// moves the read cursor. It reports whether anything changed.
func (c *Conversation) MarkRead(reader int64, cursor string, now time.Time) bool {
	i := c.slot(reader)
	if i < 0 {
		return false
	}
	st := &c.States[i]
	changed := false
	if st.Unread != 0 {
		st.Unread = 0
		changed = true
	}
	if cursor != "" && st.LastReadMessageID != cursor {
		st.LastReadMessageID = cursor
		changed = true
	}
	if changed {
		c.UpdatedAt = now
	}
	return changed
}

func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	cp := *c
	if c.LastMessage != nil {
		lm := *c.LastMessage
		cp.LastMessage = &lm
	}
	return &cp
}
