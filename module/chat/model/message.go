package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	MessageTypeText    = "text"
	MessageTypeImage   = "image"
	MessageTypeFile    = "file"
	MessageTypeSystem  = "system"
	MessageTypeDeleted = "deleted"
)

// Media points at an object-store upload; the URL is opaque here.
type Media struct {
	URL      string `bson:"url" json:"url"`
	Filename string `bson:"filename,omitempty" json:"filename,omitempty"`
	Size     int64  `bson:"size,omitempty" json:"size,omitempty"`
	MimeType string `bson:"mimeType,omitempty" json:"mimeType,omitempty"`
}

// ReadReceipt entries are append-only, at most one per user.
type ReadReceipt struct {
	UserID string    `bson:"userId" json:"userId"`
	ReadAt time.Time `bson:"readAt" json:"readAt"`
}

// Message is the source of truth for conversation content. Immutable once
// created except for edit/delete/read-receipt fields. Retrieval order is
// (conversationId, timestamp) descending.
type Message struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ConversationID string             `bson:"conversationId" json:"conversationId"`
	SenderID       string             `bson:"senderId" json:"senderId"`
	SenderName     string             `bson:"senderName,omitempty" json:"senderName,omitempty"`
	Content        string             `bson:"content,omitempty" json:"content,omitempty"`
	Type           string             `bson:"type" json:"type"`
	Timestamp      time.Time          `bson:"timestamp" json:"timestamp"`
	Media          *Media             `bson:"media,omitempty" json:"media,omitempty"`
	ReplyTo        string             `bson:"replyTo,omitempty" json:"replyTo,omitempty"`
	ReadBy         []ReadReceipt      `bson:"readBy,omitempty" json:"readBy,omitempty"`
	IsEdited       bool               `bson:"isEdited" json:"isEdited"`
	EditedAt       *time.Time         `bson:"editedAt,omitempty" json:"editedAt,omitempty"`
	IsDeleted      bool               `bson:"isDeleted" json:"isDeleted"`
	DeletedAt      *time.Time         `bson:"deletedAt,omitempty" json:"deletedAt,omitempty"`
	OrganizationID string             `bson:"organizationId,omitempty" json:"organizationId,omitempty"`
	LocationID     string             `bson:"locationId,omitempty" json:"locationId,omitempty"`
}

func (*Message) GetTableName() string { return "messages" }

// Snapshot is what the inbox projection denormalizes per row.
func (m *Message) Snapshot() LastMessageInfo {
	return LastMessageInfo{
		MessageID:  m.ID.Hex(),
		Content:    m.Content,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Timestamp:  m.Timestamp,
		Type:       m.Type,
	}
}
