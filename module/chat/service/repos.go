package service

import (
	"context"
	"time"

	"consultchat/module/chat/model"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// The service orchestrates against these narrow repo interfaces; the mongo
// stores in module/chat/store satisfy them, tests substitute fakes.

type ConversationRepo interface {
	FindDirectByPair(ctx context.Context, userA, userB string) (*model.Conversation, error)
	FindByID(ctx context.Context, id string) (*model.Conversation, error)
	FindUnitGroup(ctx context.Context, unitID string) (*model.Conversation, error)
	Insert(ctx context.Context, conv *model.Conversation) error
	AddParticipant(ctx context.Context, convID primitive.ObjectID, p model.Participant) error
	RemoveParticipant(ctx context.Context, convID primitive.ObjectID, userID string) (bool, error)
	SetParticipantLastRead(ctx context.Context, convID primitive.ObjectID, userID string, at time.Time) error
}

type MessageRepo interface {
	Insert(ctx context.Context, msg *model.Message) error
	FindByID(ctx context.Context, id string) (*model.Message, error)
	History(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, bool, error)
	AppendReadReceipts(ctx context.Context, conversationID, userID string, upTo time.Time) (int64, error)
	Edit(ctx context.Context, id, senderID, content string) (*model.Message, error)
	SoftDelete(ctx context.Context, id, senderID string) (*model.Message, error)
}

type InboxRepo interface {
	InsertMany(ctx context.Context, rows []*model.UserConversation) error
	Delete(ctx context.Context, userID, conversationID string) error
	RowFor(ctx context.Context, userID, conversationID string) (*model.UserConversation, error)
	ListForUser(ctx context.Context, userID string, includeArchived bool) ([]model.UserConversation, error)
	SetLastMessageAll(ctx context.Context, conversationID string, snap model.LastMessageInfo, at time.Time) error
	IncrementUnreadExcept(ctx context.Context, conversationID, senderID string, at time.Time) error
	MarkRead(ctx context.Context, userID, conversationID string, at time.Time) error
	SumUnread(ctx context.Context, userID string) (int, error)
	SetDraft(ctx context.Context, userID, conversationID string, draft *model.DraftInfo) error
	SetFlags(ctx context.Context, userID, conversationID string, pinned, muted, archived *bool) error
	UpdateGroupInfoAll(ctx context.Context, conversationID string, memberCount int, adminIDs []string) error
}

type DirectoryRepo interface {
	Get(ctx context.Context, userID string) (*model.User, error)
	GetMany(ctx context.Context, userIDs []string) ([]model.User, error)
}

type MarkRepo interface {
	Begin(ctx context.Context, messageID, conversationID string) (done bool, err error)
	MarkDone(ctx context.Context, messageID string) error
}
