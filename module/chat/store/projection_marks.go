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

// ProjectionMarkStore persists the projector's per-message dedup state.
type ProjectionMarkStore struct {
	db *mongo.Database
}

func NewProjectionMarkStore(db *mongo.Database) *ProjectionMarkStore {
	return &ProjectionMarkStore{db: db}
}

func (s *ProjectionMarkStore) coll() *mongo.Collection {
	return s.db.Collection((*model.ProjectionMark)(nil).GetTableName())
}

// Begin claims the message for projection. done reports that a previous run
// already completed; the caller must then skip the unread increment.
func (s *ProjectionMarkStore) Begin(ctx context.Context, messageID, conversationID string) (done bool, err error) {
	var prev model.ProjectionMark
	findErr := s.coll().FindOneAndUpdate(ctx,
		bson.M{"_id": messageID},
		bson.M{"$setOnInsert": bson.M{
			"conversationId": conversationID,
			"state":          model.ProjectionStatePending,
			"updatedAt":      time.Now().UTC(),
		}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.Before),
	).Decode(&prev)
	if findErr == mongo.ErrNoDocuments {
		// fresh claim
		return false, nil
	}
	if findErr != nil {
		return false, errs.ErrTransientStore.WrapMsg("begin projection", "msg", messageID, "err", findErr)
	}
	return prev.State == model.ProjectionStateDone, nil
}

func (s *ProjectionMarkStore) MarkDone(ctx context.Context, messageID string) error {
	_, err := s.coll().UpdateOne(ctx,
		bson.M{"_id": messageID},
		bson.M{"$set": bson.M{"state": model.ProjectionStateDone, "updatedAt": time.Now().UTC()}})
	if err != nil {
		return errs.ErrTransientStore.WrapMsg("mark projection done", "msg", messageID, "err", err)
	}
	return nil
}
