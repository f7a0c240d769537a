package realtime

import (
	"strings"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"conify/internal/chat/models"
	"conify/internal/chat/service"
	"conify/internal/common"
	"conify/internal/events"
)

const (
	opSendMessage = "send-message"
	opTyping      = "typing"
	opGroupTyping = "group-typing"
	opReadAck     = "read-ack"
	opSubscribe   = "subscribe"
	opUnsubscribe = "unsubscribe"
	opPing        = "ping"
)

type inboundFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type sendMessagePayload struct {
	RecipientID int64              `json:"recipientId"`
	Content     string             `json:"content"`
	MediaURL    string             `json:"mediaUrl"`
	Type        models.MessageType `json:"type"`
	ReplyTo     *models.ReplyRef   `json:"replyTo"`
	ClientRef   string             `json:"clientRef"`
}

type typingPayload struct {
	RecipientID int64 `json:"recipientId"`
	IsTyping    bool  `json:"isTyping"`
}

type groupTypingPayload struct {
	GroupID  string `json:"groupId"`
	IsTyping bool   `json:"isTyping"`
}

type readAckPayload struct {
	LastReadMessageID string `json:"lastReadMessageId"`
	ReaderID          int64  `json:"readerId"`
	OriginalSenderID  int64  `json:"originalSenderId"`
	ClientRef         string `json:"clientRef"`
}

type topicPayload struct {
	Topic string `json:"topic"`
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return common.Invalid("missing payload")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return common.Invalid("malformed payload: %v", err)
	}
	return nil
}

func (c *client) dispatch(data []byte) {
	var in inboundFrame
	if err := json.Unmarshal(data, &in); err != nil {
		c.fail("frame", "", common.Invalid("malformed frame"))
		return
	}

	switch in.Type {
	case opPing:
		c.reply(events.New(events.TypePong, nil))

	case opSendMessage:
		var p sendMessagePayload
		if err := decodePayload(in.Payload, &p); err != nil {
			c.fail(in.Type, "", err)
			return
		}
		if !c.ident.Authenticated() {
			c.fail(in.Type, p.ClientRef, common.ErrUnauthenticated)
			return
		}
		_, err := c.gw.chat.SendMessage(c.ctx, service.SendRequest{
			SenderID:    c.ident.UserID,
			RecipientID: p.RecipientID,
			Content:     p.Content,
			MediaURL:    p.MediaURL,
			Type:        p.Type,
			Reply:       p.ReplyTo,
		})
		if err != nil {
			c.fail(in.Type, p.ClientRef, err)
		}

	case opTyping:
		var p typingPayload
		if decodePayload(in.Payload, &p) != nil || !c.ident.Authenticated() {
			return
		}
		c.gw.chat.SendTyping(c.ctx, c.ident.UserID, p.RecipientID, p.IsTyping)

	case opGroupTyping:
		var p groupTypingPayload
		if decodePayload(in.Payload, &p) != nil || !c.ident.Authenticated() {
			return
		}
		c.gw.chat.SendGroupTyping(c.ctx, c.ident.UserID, p.GroupID, p.IsTyping)

	case opReadAck:
		var p readAckPayload
		if err := decodePayload(in.Payload, &p); err != nil {
			c.fail(in.Type, "", err)
			return
		}
		if !c.ident.Authenticated() {
			c.fail(in.Type, p.ClientRef, common.ErrUnauthenticated)
			return
		}
		if p.ReaderID != 0 && p.ReaderID != c.ident.UserID {
			c.fail(in.Type, p.ClientRef, common.Invalid("readerId does not match the session user"))
			return
		}
		if err := c.gw.chat.AcknowledgeRead(c.ctx, c.ident.UserID, p.OriginalSenderID, p.LastReadMessageID); err != nil {
			c.fail(in.Type, p.ClientRef, err)
		}

	case opSubscribe:
		var p topicPayload
		if err := decodePayload(in.Payload, &p); err != nil {
			c.fail(in.Type, "", err)
			return
		}
		if err := c.gw.registry.Subscribe(c.id, strings.TrimSpace(p.Topic)); err != nil {
			c.fail(in.Type, "", err)
		}

	case opUnsubscribe:
		var p topicPayload
		if err := decodePayload(in.Payload, &p); err != nil {
			c.fail(in.Type, "", err)
			return
		}
		c.gw.registry.Unsubscribe(c.id, strings.TrimSpace(p.Topic))

	default:
		c.fail("frame", "", common.Invalid("unknown frame type %q", in.Type))
	}
}

// fail reports a rejected operation to the originating session only.
func (c *client) fail(op, clientRef string, err error) {
	code := common.ErrorCode(err)
	msg := err.Error()
	if code == "internal" {
		msg = "internal error"
		c.gw.log.Error("realtime operation failed",
			zap.String("op", op),
			zap.String("session_id", c.id),
			zap.Error(err),
		)
	}
	c.reply(events.New(events.TypeError, events.ErrorPayload{
		Op:        op,
		ClientRef: clientRef,
		Code:      code,
		Message:   msg,
	}))
}
