package presence

import (
	"context"
	"time"

	"consultchat/tools/errs"

	"github.com/redis/go-redis/v9"
)

const onlineUsersKey = "presence:users"

func heartbeatKey(userID string) string { return "presence:user:" + userID + ":heartbeat" }
func lastSeenKey(userID string) string  { return "presence:user:" + userID + ":last_seen" }

// Store tracks liveness in redis. A user is online iff they are in the
// online set AND their heartbeat key has not expired; heartbeat expiry alone
// never removes set membership, an explicit MarkOffline does. Store is not
// connection-aware; the session registry refcounts connections and calls
// MarkOnline/MarkOffline only on the first/last one.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Store{rdb: rdb, ttl: ttl}
}

// MarkOnline adds the user to the online set, stamps last-seen (no expiry)
// and arms the heartbeat key.
func (s *Store) MarkOnline(ctx context.Context, userID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	pipe := s.rdb.Pipeline()
	pipe.SAdd(ctx, onlineUsersKey, userID)
	pipe.Set(ctx, lastSeenKey(userID), now, 0)
	pipe.Set(ctx, heartbeatKey(userID), "1", s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.ErrTransientStore.WrapMsg("mark online", "user", userID, "err", err)
	}
	return nil
}

// MarkOffline removes set membership and deletes the heartbeat, but keeps
// last-seen for history.
func (s *Store) MarkOffline(ctx context.Context, userID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	pipe := s.rdb.Pipeline()
	pipe.SRem(ctx, onlineUsersKey, userID)
	pipe.Set(ctx, lastSeenKey(userID), now, 0)
	pipe.Del(ctx, heartbeatKey(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.ErrTransientStore.WrapMsg("mark offline", "user", userID, "err", err)
	}
	return nil
}

// Heartbeat refreshes the TTL only for current set members: a stale ping can
// never resurrect a user already marked offline.
func (s *Store) Heartbeat(ctx context.Context, userID string) error {
	member, err := s.rdb.SIsMember(ctx, onlineUsersKey, userID).Result()
	if err != nil {
		return errs.ErrTransientStore.WrapMsg("heartbeat membership check", "user", userID, "err", err)
	}
	if !member {
		return nil
	}
	if err := s.rdb.Set(ctx, heartbeatKey(userID), "1", s.ttl).Err(); err != nil {
		return errs.ErrTransientStore.WrapMsg("heartbeat refresh", "user", userID, "err", err)
	}
	return nil
}

// IsOnline ANDs set membership with heartbeat existence.
func (s *Store) IsOnline(ctx context.Context, userID string) (bool, error) {
	member, err := s.rdb.SIsMember(ctx, onlineUsersKey, userID).Result()
	if err != nil {
		return false, errs.ErrTransientStore.WrapMsg("is online", "user", userID, "err", err)
	}
	if !member {
		return false, nil
	}
	n, err := s.rdb.Exists(ctx, heartbeatKey(userID)).Result()
	if err != nil {
		return false, errs.ErrTransientStore.WrapMsg("is online", "user", userID, "err", err)
	}
	return n > 0, nil
}

// LastSeen returns the persisted timestamp regardless of current state.
// ok is false when the user has never been seen.
func (s *Store) LastSeen(ctx context.Context, userID string) (time.Time, bool, error) {
	v, err := s.rdb.Get(ctx, lastSeenKey(userID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errs.ErrTransientStore.WrapMsg("last seen", "user", userID, "err", err)
	}
	ts, perr := time.Parse(time.RFC3339Nano, v)
	if perr != nil {
		return time.Time{}, false, errs.WrapMsg(perr, "parse last seen", "user", userID)
	}
	return ts, true, nil
}

func (s *Store) OnlineUsers(ctx context.Context) ([]string, error) {
	users, err := s.rdb.SMembers(ctx, onlineUsersKey).Result()
	if err != nil {
		return nil, errs.ErrTransientStore.WrapMsg("online users", "err", err)
	}
	return users, nil
}
