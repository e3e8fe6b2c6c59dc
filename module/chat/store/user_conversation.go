package store

import (
	"context"
	"time"

	"consultchat/module/chat/model"
	"consultchat/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type UserConversationStore struct {
	db *mongo.Database
}

func NewUserConversationStore(db *mongo.Database) *UserConversationStore {
	return &UserConversationStore{db: db}
}

func (s *UserConversationStore) coll() *mongo.Collection {
	return s.db.Collection((*model.UserConversation)(nil).GetTableName())
}

func (s *UserConversationStore) InsertMany(ctx context.Context, rows []*model.UserConversation) error {
	docs := make([]interface{}, 0, len(rows))
	for _, r := range rows {
		docs = append(docs, r)
	}
	if len(docs) == 0 {
		return nil
	}
	if _, err := s.coll().InsertMany(ctx, docs); err != nil {
		return errs.ErrTransientStore.WrapMsg("insert user conversations", "err", err)
	}
	return nil
}

func (s *UserConversationStore) Delete(ctx context.Context, userID, conversationID string) error {
	_, err := s.coll().DeleteOne(ctx, bson.M{"userId": userID, "conversationId": conversationID})
	if err != nil {
		return errs.ErrTransientStore.WrapMsg("delete user conversation", "user", userID, "conv", conversationID, "err", err)
	}
	return nil
}

func (s *UserConversationStore) RowFor(ctx context.Context, userID, conversationID string) (*model.UserConversation, error) {
	var row model.UserConversation
	err := s.coll().FindOne(ctx, bson.M{"userId": userID, "conversationId": conversationID}).Decode(&row)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrNotFound.WrapMsg("user conversation not found", "user", userID, "conv", conversationID)
	}
	if err != nil {
		return nil, errs.ErrTransientStore.WrapMsg("find user conversation", "err", err)
	}
	return &row, nil
}

// ListForUser returns inbox rows newest-activity-first.
func (s *UserConversationStore) ListForUser(ctx context.Context, userID string, includeArchived bool) ([]model.UserConversation, error) {
	filter := bson.M{"userId": userID}
	if !includeArchived {
		filter["isArchived"] = false
	}
	cur, err := s.coll().Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}}))
	if err != nil {
		return nil, errs.ErrTransientStore.WrapMsg("list user conversations", "user", userID, "err", err)
	}
	defer cur.Close(ctx)

	var out []model.UserConversation
	for cur.Next(ctx) {
		var row model.UserConversation
		if err := cur.Decode(&row); err != nil {
			return nil, errs.ErrTransientStore.WrapMsg("decode user conversation", "err", err)
		}
		out = append(out, row)
	}
	if err := cur.Err(); err != nil {
		return nil, errs.ErrTransientStore.WrapMsg("iterate user conversations", "err", err)
	}
	return out, nil
}

// SetLastMessageAll overwrites the lastMessage snapshot on every row of the
// conversation (sender included). Last-write-wins, safe to re-apply.
func (s *UserConversationStore) SetLastMessageAll(ctx context.Context, conversationID string, snap model.LastMessageInfo, at time.Time) error {
	_, err := s.coll().UpdateMany(ctx,
		bson.M{"conversationId": conversationID},
		bson.M{"$set": bson.M{"lastMessage": snap, "updatedAt": at}})
	if err != nil {
		return errs.ErrTransientStore.WrapMsg("set last message", "conv", conversationID, "err", err)
	}
	return nil
}

// IncrementUnreadExcept bumps unreadCount on every row but the sender's.
func (s *UserConversationStore) IncrementUnreadExcept(ctx context.Context, conversationID, senderID string, at time.Time) error {
	_, err := s.coll().UpdateMany(ctx,
		bson.M{"conversationId": conversationID, "userId": bson.M{"$ne": senderID}},
		bson.M{
			"$inc": bson.M{"unreadCount": 1},
			"$set": bson.M{"updatedAt": at},
		})
	if err != nil {
		return errs.ErrTransientStore.WrapMsg("increment unread", "conv", conversationID, "err", err)
	}
	return nil
}

// MarkRead zeroes unreadCount and advances lastReadAt. The two writes are
// split so lastReadAt is monotonic (never regresses under reordered retries)
// while the zeroing is unconditional and idempotent.
func (s *UserConversationStore) MarkRead(ctx context.Context, userID, conversationID string, at time.Time) error {
	if _, err := s.coll().UpdateOne(ctx,
		bson.M{"userId": userID, "conversationId": conversationID},
		bson.M{"$set": bson.M{"unreadCount": 0, "updatedAt": at}}); err != nil {
		return errs.ErrTransientStore.WrapMsg("zero unread", "user", userID, "conv", conversationID, "err", err)
	}
	if _, err := s.coll().UpdateOne(ctx,
		bson.M{
			"userId":         userID,
			"conversationId": conversationID,
			"$or": bson.A{
				bson.M{"lastReadAt": bson.M{"$lt": at}},
				bson.M{"lastReadAt": bson.M{"$exists": false}},
			},
		},
		bson.M{"$set": bson.M{"lastReadAt": at}}); err != nil {
		return errs.ErrTransientStore.WrapMsg("advance last read", "user", userID, "conv", conversationID, "err", err)
	}
	return nil
}

// SumUnread totals unreadCount across all of the user's rows.
func (s *UserConversationStore) SumUnread(ctx context.Context, userID string) (int, error) {
	cur, err := s.coll().Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"userId": userID}}},
		{{Key: "$group", Value: bson.M{"_id": nil, "total": bson.M{"$sum": "$unreadCount"}}}},
	})
	if err != nil {
		return 0, errs.ErrTransientStore.WrapMsg("sum unread", "user", userID, "err", err)
	}
	defer cur.Close(ctx)

	var row struct {
		Total int `bson:"total"`
	}
	if cur.Next(ctx) {
		if err := cur.Decode(&row); err != nil {
			return 0, errs.ErrTransientStore.WrapMsg("decode unread total", "err", err)
		}
	}
	if err := cur.Err(); err != nil {
		return 0, errs.ErrTransientStore.WrapMsg("iterate unread total", "err", err)
	}
	return row.Total, nil
}

func (s *UserConversationStore) SetDraft(ctx context.Context, userID, conversationID string, draft *model.DraftInfo) error {
	update := bson.M{"$set": bson.M{"draft": draft, "updatedAt": time.Now().UTC()}}
	if draft == nil {
		update = bson.M{
			"$unset": bson.M{"draft": ""},
			"$set":   bson.M{"updatedAt": time.Now().UTC()},
		}
	}
	_, err := s.coll().UpdateOne(ctx, bson.M{"userId": userID, "conversationId": conversationID}, update)
	if err != nil {
		return errs.ErrTransientStore.WrapMsg("set draft", "user", userID, "conv", conversationID, "err", err)
	}
	return nil
}

// SetFlags updates pin/mute/archive; nil leaves a flag untouched.
func (s *UserConversationStore) SetFlags(ctx context.Context, userID, conversationID string, pinned, muted, archived *bool) error {
	set := bson.M{"updatedAt": time.Now().UTC()}
	if pinned != nil {
		set["isPinned"] = *pinned
	}
	if muted != nil {
		set["isMuted"] = *muted
	}
	if archived != nil {
		set["isArchived"] = *archived
	}
	_, err := s.coll().UpdateOne(ctx,
		bson.M{"userId": userID, "conversationId": conversationID},
		bson.M{"$set": set})
	if err != nil {
		return errs.ErrTransientStore.WrapMsg("set flags", "user", userID, "conv", conversationID, "err", err)
	}
	return nil
}

// UpdateGroupInfoAll refreshes the denormalized groupChat block on every row
// after membership changes.
func (s *UserConversationStore) UpdateGroupInfoAll(ctx context.Context, conversationID string, memberCount int, adminIDs []string) error {
	_, err := s.coll().UpdateMany(ctx,
		bson.M{"conversationId": conversationID},
		bson.M{"$set": bson.M{
			"groupChat.memberCount": memberCount,
			"groupChat.adminIds":    adminIDs,
			"updatedAt":             time.Now().UTC(),
		}})
	if err != nil {
		return errs.ErrTransientStore.WrapMsg("update group info", "conv", conversationID, "err", err)
	}
	return nil
}
