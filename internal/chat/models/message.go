package models

import (
	"strings"
	"time"
)

type MessageType string

const (
	MessageTypeText   MessageType = "TEXT"
	MessageTypeImage  MessageType = "IMAGE"
	MessageTypeEmoji  MessageType = "EMOJI"
	MessageTypeSystem MessageType = "SYSTEM"

	// transient, never persisted
	MessageTypeTyping  MessageType = "TYPING"
	MessageTypeReadAck MessageType = "READ_ACK"
)

func (t MessageType) IsTransient() bool {
	return t == MessageTypeTyping || t == MessageTypeReadAck
}

// IsPersistable reports whether a message of this type may be stored.
func (t MessageType) IsPersistable() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeEmoji, MessageTypeSystem:
		return true
	}
	return false
}

type MessageStatus string

const (
	StatusSent      MessageStatus = "SENT"
	StatusDelivered MessageStatus = "DELIVERED"
	StatusRead      MessageStatus = "READ"
)

func (s MessageStatus) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// ReplyRef points at the message being answered. The three fields travel
// together: a message either carries a full reference or none at all.
type ReplyRef struct {
	MessageID  string `bson:"message_id" json:"messageId"`
	SenderName string `bson:"sender_name" json:"senderName"`
	Content    string `bson:"content" json:"content"`
}

// NormalizeReply drops the whole reference when the target id is blank.
func NormalizeReply(r *ReplyRef) *ReplyRef {
	if r == nil || strings.TrimSpace(r.MessageID) == "" {
		return nil
	}
	return &ReplyRef{
		MessageID:  strings.TrimSpace(r.MessageID),
		SenderName: r.SenderName,
		Content:    r.Content,
	}
}

// AuthorSnapshot is copied onto a message when it is written and never
// refreshed afterwards.
type AuthorSnapshot struct {
	UserID    int64  `bson:"user_id" json:"userId"`
	Username  string `bson:"username" json:"username"`
	AvatarURL string `bson:"avatar_url,omitempty" json:"avatarUrl,omitempty"`
}

type Message struct {
	ID             string          `bson:"_id" json:"id"`
	ConversationID string          `bson:"conversation_id" json:"conversationId"`
	SenderID       int64           `bson:"sender_id" json:"senderId"`
	RecipientID    int64           `bson:"recipient_id" json:"recipientId"`
	Sender         *AuthorSnapshot `bson:"sender,omitempty" json:"sender,omitempty"`
	Content        string          `bson:"content" json:"content"`
	MediaURL       string          `bson:"media_url,omitempty" json:"mediaUrl,omitempty"`
	Type           MessageType     `bson:"type" json:"type"`
	Status         MessageStatus   `bson:"status" json:"status"`
	Reply          *ReplyRef       `bson:"reply,omitempty" json:"replyTo,omitempty"`
	Timestamp      time.Time       `bson:"timestamp" json:"timestamp"`
}

// Advance moves the status forward. Backward or equal transitions are ignored
// and reported as false.
func (m *Message) Advance(to MessageStatus) bool {
	if to.rank() <= m.Status.rank() {
		return false
	}
	m.Status = to
	return true
}

// IsFromTo reports whether the message was authored by sender and addressed to recipient.
func (m *Message) IsFromTo(sender, recipient int64) bool {
	return m.SenderID == sender && m.RecipientID == recipient
}

// Preview is the text shown in conversation lists.
func (m *Message) Preview() string {
	if strings.TrimSpace(m.Content) != "" {
		return m.Content
	}
	if m.MediaURL != "" {
		return "📷 Photo"
	}
	return ""
}

func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	cp := *m
	if m.Sender != nil {
		s := *m.Sender
		cp.Sender = &s
	}
	if m.Reply != nil {
		r := *m.Reply
		cp.Reply = &r
	}
	return &cp
}

// Before orders messages by timestamp, then id.
func (m *Message) Before(o *Message) bool {
	if !m.Timestamp.Equal(o.Timestamp) {
		return m.Timestamp.Before(o.Timestamp)
	}
	return m.ID < o.ID
}
