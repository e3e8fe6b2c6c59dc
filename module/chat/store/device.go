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

type DeviceStore struct {
	db *mongo.Database
}

func NewDeviceStore(db *mongo.Database) *DeviceStore { return &DeviceStore{db: db} }

func (s *DeviceStore) coll() *mongo.Collection {
	return s.db.Collection((*model.UserDevice)(nil).GetTableName())
}

// Register upserts by registrationId: a token re-registered by a different
// user is reassigned to the new user and reactivated, never duplicated.
func (s *DeviceStore) Register(ctx context.Context, userID, registrationID, deviceType string) error {
	switch deviceType {
	case model.DeviceTypeFCM, model.DeviceTypeAPNS, model.DeviceTypeWeb:
	default:
		return errs.ErrValidationFailed.WrapMsg("unknown device type", "type", deviceType)
	}
	if registrationID == "" {
		return errs.ErrValidationFailed.WithDetail("empty registration id")
	}
	now := time.Now().UTC()
	_, err := s.coll().UpdateOne(ctx,
		bson.M{"registrationId": registrationID},
		bson.M{
			"$set": bson.M{
				"userId":    userID,
				"type":      deviceType,
				"active":    true,
				"updatedAt": now,
			},
			"$setOnInsert": bson.M{"createdAt": now},
		},
		options.Update().SetUpsert(true))
	if err != nil {
		return errs.ErrTransientStore.WrapMsg("register device", "user", userID, "err", err)
	}
	return nil
}

// ActiveDevices returns the user's active registrations.
func (s *DeviceStore) ActiveDevices(ctx context.Context, userID string) ([]model.UserDevice, error) {
	cur, err := s.coll().Find(ctx, bson.M{"userId": userID, "active": true})
	if err != nil {
		return nil, errs.ErrTransientStore.WrapMsg("find devices", "user", userID, "err", err)
	}
	defer cur.Close(ctx)

	var out []model.UserDevice
	for cur.Next(ctx) {
		var d model.UserDevice
		if err := cur.Decode(&d); err != nil {
			return nil, errs.ErrTransientStore.WrapMsg("decode device", "err", err)
		}
		out = append(out, d)
	}
	if err := cur.Err(); err != nil {
		return nil, errs.ErrTransientStore.WrapMsg("iterate devices", "err", err)
	}
	return out, nil
}

// Deactivate flips active=false for the given tokens. The records stay for
// audit; they are just excluded from future sends.
func (s *DeviceStore) Deactivate(ctx context.Context, registrationIDs []string) (int64, error) {
	if len(registrationIDs) == 0 {
		return 0, nil
	}
	res, err := s.coll().UpdateMany(ctx,
		bson.M{"registrationId": bson.M{"$in": registrationIDs}},
		bson.M{"$set": bson.M{"active": false, "updatedAt": time.Now().UTC()}})
	if err != nil {
		return 0, errs.ErrTransientStore.WrapMsg("deactivate devices", "err", err)
	}
	return res.ModifiedCount, nil
}

// Unregister soft-deactivates one registration owned by the user.
func (s *DeviceStore) Unregister(ctx context.Context, userID, registrationID string) error {
	res, err := s.coll().UpdateOne(ctx,
		bson.M{"registrationId": registrationID, "userId": userID},
		bson.M{"$set": bson.M{"active": false, "updatedAt": time.Now().UTC()}})
	if err != nil {
		return errs.ErrTransientStore.WrapMsg("unregister device", "user", userID, "err", err)
	}
	if res.MatchedCount == 0 {
		return errs.ErrNotFound.WrapMsg("device not found", "user", userID, "registration", registrationID)
	}
	return nil
}
