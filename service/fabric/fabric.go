package fabric

import "context"

// Subscriber is one live session's receiving end. Deliver must not block for
// long; sessions enqueue onto their per-connection send queue.
type Subscriber interface {
	ID() string
	Deliver(group string, payload []byte)
}

// Fabric is the named-group publish/subscribe primitive. Delivery is
// at-least-once to every currently joined subscriber; within a group, events
// from a single publisher arrive in publish order. Sessions not joined at
// publish time receive nothing; catch-up is the session backlog, not replay.
type Fabric interface {
	Join(group string, sub Subscriber) error
	Leave(group string, sub Subscriber) error
	Publish(ctx context.Context, group string, payload []byte) error
	Close() error
}

// Well-known group names. Conversation groups are just the conversation id.
const (
	// PresenceGroup carries global user_status events for notification
	// sessions.
	PresenceGroup = "presence"
)

// UserGroup is the per-user notification channel.
func UserGroup(userID string) string { return "user." + userID }
