package model

import "time"

// DirectMessageInfo denormalizes the counterpart's display data.
type DirectMessageInfo struct {
	OtherParticipantID     string `bson:"otherParticipantId" json:"otherParticipantId"`
	OtherParticipantName   string `bson:"otherParticipantName,omitempty" json:"otherParticipantName,omitempty"`
	OtherParticipantAvatar string `bson:"otherParticipantAvatar,omitempty" json:"otherParticipantAvatar,omitempty"`
	OtherParticipantStatus string `bson:"otherParticipantStatus,omitempty" json:"otherParticipantStatus,omitempty"`
}

type GroupChatInfo struct {
	Name        string   `bson:"name,omitempty" json:"name,omitempty"`
	Description string   `bson:"description,omitempty" json:"description,omitempty"`
	Avatar      string   `bson:"avatar,omitempty" json:"avatar,omitempty"`
	MemberCount int      `bson:"memberCount" json:"memberCount"`
	AdminIDs    []string `bson:"adminIds,omitempty" json:"adminIds,omitempty"`
	MyRole      string   `bson:"myRole,omitempty" json:"myRole,omitempty"`
}

type LastMessageInfo struct {
	MessageID  string    `bson:"messageId" json:"messageId"`
	Content    string    `bson:"content,omitempty" json:"content,omitempty"`
	SenderID   string    `bson:"senderId" json:"senderId"`
	SenderName string    `bson:"senderName,omitempty" json:"senderName,omitempty"`
	Timestamp  time.Time `bson:"timestamp" json:"timestamp"`
	Type       string    `bson:"type" json:"type"`
}

type DraftInfo struct {
	Content   string    `bson:"content" json:"content"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// UserConversation is the per-(user, conversation) inbox projection: a
// read-optimized cache strictly downstream of the message log, never
// authoritative for message content.
type UserConversation struct {
	ID               string             `bson:"_id" json:"id"`
	UserID           string             `bson:"userId" json:"userId"`
	ConversationID   string             `bson:"conversationId" json:"conversationId"`
	ConversationType string             `bson:"conversationType" json:"conversationType"`
	DirectMessage    *DirectMessageInfo `bson:"directMessage,omitempty" json:"directMessage,omitempty"`
	GroupChat        *GroupChatInfo     `bson:"groupChat,omitempty" json:"groupChat,omitempty"`
	LastMessage      *LastMessageInfo   `bson:"lastMessage,omitempty" json:"lastMessage,omitempty"`
	UnreadCount      int                `bson:"unreadCount" json:"unreadCount"`
	LastReadAt       *time.Time         `bson:"lastReadAt,omitempty" json:"lastReadAt,omitempty"`
	IsPinned         bool               `bson:"isPinned" json:"isPinned"`
	IsMuted          bool               `bson:"isMuted" json:"isMuted"`
	IsArchived       bool               `bson:"isArchived" json:"isArchived"`
	Draft            *DraftInfo         `bson:"draft,omitempty" json:"draft,omitempty"`
	OrganizationID   string             `bson:"organizationId,omitempty" json:"organizationId,omitempty"`
	LocationID       string             `bson:"locationId,omitempty" json:"locationId,omitempty"`
	UnitID           string             `bson:"unitId,omitempty" json:"unitId,omitempty"`
	UpdatedAt        time.Time          `bson:"updatedAt" json:"updatedAt"`
}

func (*UserConversation) GetTableName() string { return "user_conversations" }
