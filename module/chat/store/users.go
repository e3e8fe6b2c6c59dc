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

// UserStore reads the identity mirror (collection "users"). The chat core
// never writes credentials here; Upsert exists for the sync endpoint the
// identity collaborator calls.
type UserStore struct {
	db *mongo.Database
}

func NewUserStore(db *mongo.Database) *UserStore { return &UserStore{db: db} }

func (s *UserStore) coll() *mongo.Collection {
	return s.db.Collection((*model.User)(nil).GetTableName())
}

func (s *UserStore) Get(ctx context.Context, userID string) (*model.User, error) {
	var u model.User
	err := s.coll().FindOne(ctx, bson.M{"userId": userID}).Decode(&u)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrNotFound.WrapMsg("user not found", "user", userID)
	}
	if err != nil {
		return nil, errs.ErrTransientStore.WrapMsg("get user", "user", userID, "err", err)
	}
	return &u, nil
}

// GetMany returns the mirror records for the deduplicated id set; absent ids
// are simply not in the result, existence checks compare lengths.
func (s *UserStore) GetMany(ctx context.Context, userIDs []string) ([]model.User, error) {
	set := make(map[string]struct{}, len(userIDs))
	ids := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if _, ok := set[id]; !ok {
			set[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	cur, err := s.coll().Find(ctx, bson.M{"userId": bson.M{"$in": ids}})
	if err != nil {
		return nil, errs.ErrTransientStore.WrapMsg("find users", "err", err)
	}
	defer cur.Close(ctx)

	var out []model.User
	for cur.Next(ctx) {
		var u model.User
		if err := cur.Decode(&u); err != nil {
			return nil, errs.ErrTransientStore.WrapMsg("decode user", "err", err)
		}
		out = append(out, u)
	}
	if err := cur.Err(); err != nil {
		return nil, errs.ErrTransientStore.WrapMsg("iterate users", "err", err)
	}
	return out, nil
}

func (s *UserStore) Upsert(ctx context.Context, u *model.User) error {
	now := time.Now().UTC()
	set := bson.M{
		"username":       u.Username,
		"email":          u.Email,
		"displayName":    u.DisplayName,
		"profilePicture": u.ProfilePicture,
		"status":         u.Status,
		"organizationId": u.OrganizationID,
		"locationId":     u.LocationID,
		"updatedAt":      now,
	}
	_, err := s.coll().UpdateOne(ctx,
		bson.M{"userId": u.UserID},
		bson.M{
			"$set":         set,
			"$setOnInsert": bson.M{"createdAt": now},
		},
		options.Update().SetUpsert(true))
	if err != nil {
		return errs.ErrTransientStore.WrapMsg("upsert user", "user", u.UserID, "err", err)
	}
	return nil
}
