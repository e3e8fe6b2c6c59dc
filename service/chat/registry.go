package chat

import (
	"context"
	"sync"
	"time"

	"consultchat/logger"
	"consultchat/service/fabric"
)

// presenceStore is the slice of the redis presence layer the gateway uses.
type presenceStore interface {
	MarkOnline(ctx context.Context, userID string) error
	MarkOffline(ctx context.Context, userID string) error
	Heartbeat(ctx context.Context, userID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
	LastSeen(ctx context.Context, userID string) (time.Time, bool, error)
}

// Registry tracks live sessions and reference-counts them per user: the
// first connection of a user marks them online and broadcasts the status
// change, the last disconnect marks them offline. Connections in between
// only churn the counters. The presence store itself stays connection-blind.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session            // by session id
	byUser   map[string]map[string]*Session // userID -> session id -> session

	presence presenceStore
	fab      fabric.Fabric
}

func NewRegistry(presence presenceStore, fab fabric.Fabric) *Registry {
	return &Registry{
		sessions: map[string]*Session{},
		byUser:   map[string]map[string]*Session{},
		presence: presence,
		fab:      fab,
	}
}

// Connect registers the session. On a user's first live connection the user
// is marked online and a user_status broadcast goes out on the presence
// group. Presence write failures are logged, never fatal to the connection.
func (r *Registry) Connect(ctx context.Context, s *Session) {
	r.mu.Lock()
	r.sessions[s.id] = s
	userSessions := r.byUser[s.userID]
	if userSessions == nil {
		userSessions = map[string]*Session{}
		r.byUser[s.userID] = userSessions
	}
	first := len(userSessions) == 0
	userSessions[s.id] = s
	r.mu.Unlock()

	if !first {
		return
	}
	if err := r.presence.MarkOnline(ctx, s.userID); err != nil {
		logger.Errorf("[registry] mark online user=%s err=%v", s.userID, err)
	}
	if err := r.fab.Publish(ctx, fabric.PresenceGroup, UserStatusFrame(s.userID, "online", nil)); err != nil {
		logger.Errorf("[registry] broadcast online user=%s err=%v", s.userID, err)
	}
}

// Disconnect unregisters the session; on the user's last one the user goes
// offline and the change is broadcast with the persisted last-seen stamp.
func (r *Registry) Disconnect(ctx context.Context, s *Session) {
	r.mu.Lock()
	delete(r.sessions, s.id)
	last := false
	if userSessions, ok := r.byUser[s.userID]; ok {
		delete(userSessions, s.id)
		if len(userSessions) == 0 {
			delete(r.byUser, s.userID)
			last = true
		}
	}
	r.mu.Unlock()

	if !last {
		return
	}
	if err := r.presence.MarkOffline(ctx, s.userID); err != nil {
		logger.Errorf("[registry] mark offline user=%s err=%v", s.userID, err)
	}
	now := time.Now().UTC()
	if err := r.fab.Publish(ctx, fabric.PresenceGroup, UserStatusFrame(s.userID, "offline", &now)); err != nil {
		logger.Errorf("[registry] broadcast offline user=%s err=%v", s.userID, err)
	}
}

// ConnectionCount reports the user's live connections.
func (r *Registry) ConnectionCount(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser[userID])
}

// CloseAll tears down every live session, for server shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}
