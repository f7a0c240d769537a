// Package events routes realtime events to private per-user channels and
// shared topics.
package events

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"conify/internal/common"
)

type Type string

const (
	TypeMessage     Type = "message"
	TypeTyping      Type = "typing"
	TypeGroupTyping Type = "group-typing"
	TypeReadReceipt Type = "read-receipt"
	TypePresence    Type = "presence"
	TypeError       Type = "error"
	TypePong        Type = "pong"
)

// PresenceTopic carries online/offline transitions for every user.
const PresenceTopic = "presence"

// Event is the envelope pushed to clients. ID identifies one logical event.
type Event struct {
	ID      string `json:"id"`
	Type    Type   `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

func New(t Type, payload any) Event {
	return Event{ID: uuid.NewString(), Type: t, Payload: payload}
}

func Encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	return data, nil
}

type Kind int

const (
	KindPrivate Kind = iota + 1
	KindTopic
)

// Target addresses either one user's private channel or a shared topic.
type Target struct {
	Kind   Kind
	UserID int64
	Topic  string
}

func Private(userID int64) Target {
	return Target{Kind: KindPrivate, UserID: userID}
}

func Topic(name string) Target {
	return Target{Kind: KindTopic, Topic: name}
}

func (t Target) String() string {
	switch t.Kind {
	case KindPrivate:
		return fmt.Sprintf("private:%d", t.UserID)
	case KindTopic:
		return "topic:" + t.Topic
	}
	return "invalid"
}

func GroupTypingTopic(groupID string) string {
	return "group." + groupID + ".typing"
}

var topicSegment = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateTopic accepts dot separated segments of letters, digits, '_' and '-'.
func ValidateTopic(name string) error {
	if name == "" || len(name) > 128 {
		return common.Invalid("topic name must be 1-128 characters")
	}
	for _, seg := range strings.Split(name, ".") {
		if !topicSegment.MatchString(seg) {
			return common.Invalid("malformed topic %q", name)
		}
	}
	return nil
}

// Publisher delivers an event to a target. Delivery to a private channel with
// no live session is not an error.
type Publisher interface {
	Publish(ctx context.Context, ev Event, target Target) error
}

type ReadReceipt struct {
	MessageID        string `json:"messageId"`
	ReaderID         int64  `json:"readerId"`
	OriginalSenderID int64  `json:"originalSenderId"`
}

type PresenceChange struct {
	UserID int64 `json:"userId"`
	Online bool  `json:"online"`
}

type Typing struct {
	SenderID    int64 `json:"senderId"`
	RecipientID int64 `json:"recipientId"`
	IsTyping    bool  `json:"isTyping"`
}

type GroupTyping struct {
	SenderID int64  `json:"senderId"`
	GroupID  string `json:"groupId"`
	IsTyping bool   `json:"isTyping"`
}

type ErrorPayload struct {
	Op        string `json:"op"`
	ClientRef string `json:"clientRef,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}
