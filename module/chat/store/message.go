package store

import (
	"context"
	"time"

	"consultchat/module/chat/model"
	"consultchat/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MessageStore struct {
	db *mongo.Database
}

func NewMessageStore(db *mongo.Database) *MessageStore { return &MessageStore{db: db} }

func (s *MessageStore) coll() *mongo.Collection {
	return s.db.Collection((*model.Message)(nil).GetTableName())
}

func (s *MessageStore) Insert(ctx context.Context, msg *model.Message) error {
	if msg.ID.IsZero() {
		msg.ID = primitive.NewObjectID()
	}
	if _, err := s.coll().InsertOne(ctx, msg); err != nil {
		return errs.ErrTransientStore.WrapMsg("insert message", "conv", msg.ConversationID, "err", err)
	}
	return nil
}

func (s *MessageStore) FindByID(ctx context.Context, id string) (*model.Message, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, errs.ErrValidationFailed.WrapMsg("bad message id", "id", id)
	}
	var msg model.Message
	err = s.coll().FindOne(ctx, bson.M{"_id": oid}).Decode(&msg)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrNotFound.WrapMsg("message not found", "id", id)
	}
	if err != nil {
		return nil, errs.ErrTransientStore.WrapMsg("find message", "id", id, "err", err)
	}
	return &msg, nil
}

// History returns up to limit messages newest-first, skipping offset, plus a
// hasMore flag. Callers wanting chronological order reverse the slice.
func (s *MessageStore) History(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, bool, error) {
	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit) + 1) // one extra to compute hasMore

	cur, err := s.coll().Find(ctx, bson.M{"conversationId": conversationID}, opts)
	if err != nil {
		return nil, false, errs.ErrTransientStore.WrapMsg("message history", "conv", conversationID, "err", err)
	}
	defer cur.Close(ctx)

	var out []model.Message
	for cur.Next(ctx) {
		var m model.Message
		if err := cur.Decode(&m); err != nil {
			return nil, false, errs.ErrTransientStore.WrapMsg("decode message", "err", err)
		}
		out = append(out, m)
	}
	if err := cur.Err(); err != nil {
		return nil, false, errs.ErrTransientStore.WrapMsg("iterate messages", "err", err)
	}

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	return out, hasMore, nil
}

// AppendReadReceipts pushes a receipt onto every message from other senders
// in the conversation at or before upTo that does not already carry one for
// this user. Re-marking is therefore idempotent, and a reader never receipts
// their own messages.
func (s *MessageStore) AppendReadReceipts(ctx context.Context, conversationID, userID string, upTo time.Time) (int64, error) {
	res, err := s.coll().UpdateMany(ctx,
		bson.M{
			"conversationId": conversationID,
			"senderId":       bson.M{"$ne": userID},
			"timestamp":      bson.M{"$lte": upTo},
			"readBy.userId":  bson.M{"$ne": userID},
		},
		bson.M{"$push": bson.M{"readBy": model.ReadReceipt{UserID: userID, ReadAt: upTo}}})
	if err != nil {
		return 0, errs.ErrTransientStore.WrapMsg("append read receipts", "conv", conversationID, "user", userID, "err", err)
	}
	return res.ModifiedCount, nil
}

// Edit rewrites content of the sender's own message.
func (s *MessageStore) Edit(ctx context.Context, id, senderID, content string) (*model.Message, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, errs.ErrValidationFailed.WrapMsg("bad message id", "id", id)
	}
	now := time.Now().UTC()
	var msg model.Message
	err = s.coll().FindOneAndUpdate(ctx,
		bson.M{"_id": oid, "senderId": senderID, "isDeleted": false},
		bson.M{"$set": bson.M{"content": content, "isEdited": true, "editedAt": now}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&msg)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrNotFound.WrapMsg("message not found or not editable", "id", id, "sender", senderID)
	}
	if err != nil {
		return nil, errs.ErrTransientStore.WrapMsg("edit message", "id", id, "err", err)
	}
	return &msg, nil
}

// SoftDelete blanks the content and flips the type; the document stays for
// audit and ordering.
func (s *MessageStore) SoftDelete(ctx context.Context, id, senderID string) (*model.Message, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, errs.ErrValidationFailed.WrapMsg("bad message id", "id", id)
	}
	now := time.Now().UTC()
	var msg model.Message
	err = s.coll().FindOneAndUpdate(ctx,
		bson.M{"_id": oid, "senderId": senderID, "isDeleted": false},
		bson.M{"$set": bson.M{
			"content":   "",
			"media":     nil,
			"type":      model.MessageTypeDeleted,
			"isDeleted": true,
			"deletedAt": now,
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&msg)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrNotFound.WrapMsg("message not found or already deleted", "id", id, "sender", senderID)
	}
	if err != nil {
		return nil, errs.ErrTransientStore.WrapMsg("delete message", "id", id, "err", err)
	}
	return &msg, nil
}
