package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	ConversationTypeDirect = "direct"
	ConversationTypeGroup  = "group"
)

const (
	RoleMember = "member"
	RoleAdmin  = "admin"
	RoleOwner  = "owner"
)

// Participant is embedded in Conversation.participants.
type Participant struct {
	UserID     string     `bson:"userId" json:"userId"`
	Name       string     `bson:"name,omitempty" json:"name,omitempty"`
	Role       string     `bson:"role" json:"role"`
	JoinedAt   time.Time  `bson:"joinedAt" json:"joinedAt"`
	LastReadAt *time.Time `bson:"lastReadAt,omitempty" json:"lastReadAt,omitempty"`
}

type GroupSettings struct {
	IsPublic          bool `bson:"isPublic" json:"isPublic"`
	AllowMemberInvite bool `bson:"allowMemberInvite" json:"allowMemberInvite"`
	MaxMembers        int  `bson:"maxMembers" json:"maxMembers"`
}

// Conversation is a direct (2-party) or group thread. For direct threads
// directMessageParticipants is the immutable unordered uniqueness key: at
// most one direct conversation exists per pair. A group tied to an
// organizational unit (unitId set) is unique per unit.
type Conversation struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Type           string             `bson:"type" json:"type"`
	Name           string             `bson:"name,omitempty" json:"name,omitempty"`
	Description    string             `bson:"description,omitempty" json:"description,omitempty"`
	Participants   []Participant      `bson:"participants" json:"participants"`
	GroupSettings  *GroupSettings     `bson:"groupSettings,omitempty" json:"groupSettings,omitempty"`
	IsActive       bool               `bson:"isActive" json:"isActive"`
	CreatedBy      string             `bson:"createdBy" json:"createdBy"`
	OrganizationID string             `bson:"organizationId,omitempty" json:"organizationId,omitempty"`
	LocationID     string             `bson:"locationId,omitempty" json:"locationId,omitempty"`
	UnitID         string             `bson:"unitId,omitempty" json:"unitId,omitempty"`
	CreatedAt      time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt      time.Time          `bson:"updatedAt" json:"updatedAt"`

	// direct only; stored sorted is NOT assumed, lookups use $all
	DirectMessageParticipants []string `bson:"directMessageParticipants,omitempty" json:"directMessageParticipants,omitempty"`
}

func (*Conversation) GetTableName() string { return "conversations" }

// HasParticipant reports membership.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// Counterpart returns the other user of a direct conversation.
func (c *Conversation) Counterpart(userID string) (string, bool) {
	if c.Type != ConversationTypeDirect {
		return "", false
	}
	for _, id := range c.DirectMessageParticipants {
		if id != userID {
			return id, true
		}
	}
	return "", false
}

func (c *Conversation) AdminIDs() []string {
	var out []string
	for _, p := range c.Participants {
		if p.Role == RoleAdmin || p.Role == RoleOwner {
			out = append(out, p.UserID)
		}
	}
	return out
}
