package chat

import (
	"encoding/json"
	"time"

	"consultchat/logger"
	"consultchat/module/chat/model"
	"consultchat/tools/decode"
	"consultchat/tools/errs"
)

// Inbound event types.
const (
	EvChatMessage     = "chat_message"
	EvTyping          = "typing"
	EvReadMessages    = "read_messages"
	EvPing            = "ping"
	EvHeartbeat       = "heartbeat"
	EvPresenceUpdates = "presence_updates"
)

// Outbound event types.
const (
	EvLast50Messages  = "last_50_messages"
	EvChatMessageEcho = "chat_message_echo"
	EvPresence        = "presence"
	EvLastReadUpdate  = "last_read_update"
	EvReadMessagesAck = "read_messages_ack"
	EvPong            = "pong"
	EvUserStatus      = "user_status"
	EvUnreadCount     = "unread_count"
	EvNewMessage      = "new_message_notification"
	EvError           = "error"
)

// DecodeInbound splits a raw frame into its type discriminator and the loose
// payload map the per-event decoders consume.
func DecodeInbound(raw []byte) (string, map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", nil, errs.ErrValidationFailed.WrapMsg("malformed frame", "err", err)
	}
	t, _ := m["type"].(string)
	if t == "" {
		return "", nil, errs.ErrValidationFailed.WithDetail("frame without type")
	}
	return t, m, nil
}

type MediaIn struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

type ChatMessageIn struct {
	ConversationID string   `json:"conversationId"`
	Content        string   `json:"content"`
	MessageType    string   `json:"messageType"`
	ReplyTo        string   `json:"replyTo"`
	Media          *MediaIn `json:"media"`
}

type TypingIn struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Username       string `json:"username"`
	Status         string `json:"status"`
}

type ReadMessagesIn struct {
	ConversationID string `json:"conversationId"`
}

type PresenceUpdateIn struct {
	UserID   string `json:"user_id"`
	Status   string `json:"status"`
	LastSeen string `json:"last_seen"`
}

func decodeAs[T any](m map[string]any) (*T, error) {
	v, err := decode.DecodeMap[T](m)
	if err != nil {
		return nil, errs.ErrValidationFailed.WrapMsg("bad payload", "err", err)
	}
	return v, nil
}

// Outbound frame constructors. Marshaling these structs cannot fail for any
// input we build; a marshal error is logged and yields a nil frame which the
// send path drops.

func marshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		logger.Errorf("[ws] marshal outbound: %v", err)
		return nil
	}
	return b
}

func Last50Frame(messages []model.Message, hasMore bool) []byte {
	if messages == nil {
		messages = []model.Message{}
	}
	return marshal(struct {
		Type     string          `json:"type"`
		Messages []model.Message `json:"messages"`
		HasMore  bool            `json:"has_more"`
	}{EvLast50Messages, messages, hasMore})
}

func EchoFrame(msg *model.Message) []byte {
	return marshal(struct {
		Type    string         `json:"type"`
		Message *model.Message `json:"message"`
	}{EvChatMessageEcho, msg})
}

func TypingFrame(in *TypingIn) []byte {
	return marshal(struct {
		Type           string `json:"type"`
		ConversationID string `json:"conversationId"`
		UserID         string `json:"userId"`
		Username       string `json:"username"`
		Status         string `json:"status"`
	}{EvTyping, in.ConversationID, in.UserID, in.Username, in.Status})
}

func PresenceFrame(userID, status string, lastSeen *time.Time) []byte {
	var seen string
	if lastSeen != nil {
		seen = lastSeen.UTC().Format(time.RFC3339Nano)
	}
	return marshal(struct {
		Type     string `json:"type"`
		UserID   string `json:"user_id"`
		Status   string `json:"status"`
		LastSeen string `json:"last_seen,omitempty"`
	}{EvPresence, userID, status, seen})
}

func LastReadUpdateFrame(conversationID, userID string, at time.Time) []byte {
	return marshal(struct {
		Type           string `json:"type"`
		ConversationID string `json:"conversationId"`
		UserID         string `json:"userId"`
		LastReadAt     string `json:"lastReadAt"`
	}{EvLastReadUpdate, conversationID, userID, at.UTC().Format(time.RFC3339Nano)})
}

func ReadAckFrame(conversationID string, at time.Time) []byte {
	return marshal(struct {
		Type           string `json:"type"`
		ConversationID string `json:"conversationId"`
		LastReadAt     string `json:"lastReadAt"`
	}{EvReadMessagesAck, conversationID, at.UTC().Format(time.RFC3339Nano)})
}

func PongFrame() []byte {
	return marshal(struct {
		Type string `json:"type"`
	}{EvPong})
}

func UserStatusFrame(userID, status string, lastSeen *time.Time) []byte {
	var seen string
	if lastSeen != nil {
		seen = lastSeen.UTC().Format(time.RFC3339Nano)
	}
	return marshal(struct {
		Type     string `json:"type"`
		UserID   string `json:"user_id"`
		Status   string `json:"status"`
		LastSeen string `json:"last_seen,omitempty"`
	}{EvUserStatus, userID, status, seen})
}

func UnreadCountFrame(count int) []byte {
	return marshal(struct {
		Type  string `json:"type"`
		Count int    `json:"count"`
	}{EvUnreadCount, count})
}

func NewMessageFrame(msg *model.Message) []byte {
	return marshal(struct {
		Type           string `json:"type"`
		ConversationID string `json:"conversationId"`
		MessageID      string `json:"messageId"`
		SenderID       string `json:"senderId"`
		SenderName     string `json:"senderName,omitempty"`
		Content        string `json:"content,omitempty"`
		MessageType    string `json:"messageType"`
		Timestamp      string `json:"timestamp"`
	}{
		EvNewMessage,
		msg.ConversationID,
		msg.ID.Hex(),
		msg.SenderID,
		msg.SenderName,
		msg.Content,
		msg.Type,
		msg.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

func ErrorFrame(err error) []byte {
	return marshal(struct {
		Type    string `json:"type"`
		Code    int    `json:"code"`
		Message string `json:"message"`
	}{EvError, errs.CodeOf(err), err.Error()})
}
