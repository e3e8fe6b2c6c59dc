package model

import "time"

const (
	ProjectionStatePending = "pending"
	ProjectionStateDone    = "done"
)

// ProjectionMark is the per-message "already projected" record the inbox
// projector uses to keep retries from double-incrementing unread counts.
// _id is the message id, so the uniqueness check is the insert itself.
type ProjectionMark struct {
	MessageID      string    `bson:"_id" json:"messageId"`
	ConversationID string    `bson:"conversationId" json:"conversationId"`
	State          string    `bson:"state" json:"state"`
	UpdatedAt      time.Time `bson:"updatedAt" json:"updatedAt"`
}

func (*ProjectionMark) GetTableName() string { return "inbox_projections" }
