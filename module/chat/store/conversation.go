package store

import (
	"context"
	"time"

	"consultchat/module/chat/model"
	"consultchat/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type ConversationStore struct {
	db *mongo.Database
}

func NewConversationStore(db *mongo.Database) *ConversationStore {
	return &ConversationStore{db: db}
}

func (s *ConversationStore) coll() *mongo.Collection {
	return s.db.Collection((*model.Conversation)(nil).GetTableName())
}

// FindDirectByPair looks a direct conversation up by its unordered pair key.
// Returns (nil, nil) when none exists.
func (s *ConversationStore) FindDirectByPair(ctx context.Context, userA, userB string) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.coll().FindOne(ctx, bson.M{
		"type":                      model.ConversationTypeDirect,
		"directMessageParticipants": bson.M{"$all": []string{userA, userB}},
	}).Decode(&conv)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errs.ErrTransientStore.WrapMsg("find direct conversation", "err", err)
	}
	return &conv, nil
}

func (s *ConversationStore) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, errs.ErrValidationFailed.WrapMsg("bad conversation id", "id", id)
	}
	var conv model.Conversation
	err = s.coll().FindOne(ctx, bson.M{"_id": oid}).Decode(&conv)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrNotFound.WrapMsg("conversation not found", "id", id)
	}
	if err != nil {
		return nil, errs.ErrTransientStore.WrapMsg("find conversation", "id", id, "err", err)
	}
	return &conv, nil
}

// FindUnitGroup returns the group conversation bound to an organizational
// unit, or NotFound.
func (s *ConversationStore) FindUnitGroup(ctx context.Context, unitID string) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.coll().FindOne(ctx, bson.M{
		"type":   model.ConversationTypeGroup,
		"unitId": unitID,
	}).Decode(&conv)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrNotFound.WrapMsg("no group conversation for unit", "unit", unitID)
	}
	if err != nil {
		return nil, errs.ErrTransientStore.WrapMsg("find unit group", "unit", unitID, "err", err)
	}
	return &conv, nil
}

func (s *ConversationStore) Insert(ctx context.Context, conv *model.Conversation) error {
	if conv.ID.IsZero() {
		conv.ID = primitive.NewObjectID()
	}
	if _, err := s.coll().InsertOne(ctx, conv); err != nil {
		return errs.ErrTransientStore.WrapMsg("insert conversation", "err", err)
	}
	return nil
}

func (s *ConversationStore) AddParticipant(ctx context.Context, convID primitive.ObjectID, p model.Participant) error {
	_, err := s.coll().UpdateOne(ctx,
		bson.M{"_id": convID},
		bson.M{
			"$push": bson.M{"participants": p},
			"$set":  bson.M{"updatedAt": time.Now().UTC()},
		})
	if err != nil {
		return errs.ErrTransientStore.WrapMsg("add participant", "conv", convID.Hex(), "err", err)
	}
	return nil
}

// RemoveParticipant reports whether the user was actually a member.
func (s *ConversationStore) RemoveParticipant(ctx context.Context, convID primitive.ObjectID, userID string) (bool, error) {
	res, err := s.coll().UpdateOne(ctx,
		bson.M{"_id": convID},
		bson.M{
			"$pull": bson.M{"participants": bson.M{"userId": userID}},
			"$set":  bson.M{"updatedAt": time.Now().UTC()},
		})
	if err != nil {
		return false, errs.ErrTransientStore.WrapMsg("remove participant", "conv", convID.Hex(), "err", err)
	}
	return res.ModifiedCount > 0, nil
}

// SetParticipantLastRead advances the embedded participant lastReadAt; the
// filter keeps it monotonic under reordered retries.
func (s *ConversationStore) SetParticipantLastRead(ctx context.Context, convID primitive.ObjectID, userID string, at time.Time) error {
	_, err := s.coll().UpdateOne(ctx,
		bson.M{
			"_id": convID,
			"participants": bson.M{"$elemMatch": bson.M{
				"userId": userID,
				"$or": bson.A{
					bson.M{"lastReadAt": bson.M{"$lt": at}},
					bson.M{"lastReadAt": bson.M{"$exists": false}},
				},
			}},
		},
		bson.M{"$set": bson.M{"participants.$.lastReadAt": at}})
	if err != nil {
		return errs.ErrTransientStore.WrapMsg("set participant last read", "conv", convID.Hex(), "err", err)
	}
	return nil
}
