package model

import "time"

const (
	DeviceTypeFCM  = "fcm"
	DeviceTypeAPNS = "apns"
	DeviceTypeWeb  = "web"
)

// UserDevice is a push registration. registrationId is globally unique: a
// token re-registered by a different user is reassigned, not duplicated.
// Devices are soft-deactivated on delivery failure, never deleted.
type UserDevice struct {
	RegistrationID string    `bson:"registrationId" json:"registrationId"`
	UserID         string    `bson:"userId" json:"userId"`
	Type           string    `bson:"type" json:"type"`
	Active         bool      `bson:"active" json:"active"`
	CreatedAt      time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt      time.Time `bson:"updatedAt" json:"updatedAt"`
}

func (*UserDevice) GetTableName() string { return "user_devices" }
