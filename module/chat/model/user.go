package model

import "time"

// User mirrors the identity collaborator's record; the chat core reads it
// for existence checks and display snapshots, never for authentication.
type User struct {
	UserID         string    `bson:"userId" json:"userId"`
	Username       string    `bson:"username" json:"username"`
	Email          string    `bson:"email,omitempty" json:"email,omitempty"`
	DisplayName    string    `bson:"displayName,omitempty" json:"displayName,omitempty"`
	ProfilePicture string    `bson:"profilePicture,omitempty" json:"profilePicture,omitempty"`
	Status         string    `bson:"status,omitempty" json:"status,omitempty"`
	OrganizationID string    `bson:"organizationId,omitempty" json:"organizationId,omitempty"`
	LocationID     string    `bson:"locationId,omitempty" json:"locationId,omitempty"`
	CreatedAt      time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt      time.Time `bson:"updatedAt" json:"updatedAt"`
}

func (*User) GetTableName() string { return "users" }
