package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	constants "github.com/CodeAndHammer/heungbuja/internal/constants"
	models "github.com/CodeAndHammer/heungbuja/internal/models"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrStateNotFound   = errors.New("game state not found")
	ErrTooManyRetries  = errors.New("session update kept conflicting")
)

const maxUpdateRetries = 16

// compareAndDelete removes KEYS[1] only while it still holds ARGV[1].
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore keeps ephemeral session data in redis. Every key carries a TTL so
// sessions abandoned by their client expire on their own.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func stateKey(sessionID string) string   { return constants.KeyPrefixGameState + sessionID }
func sessionKey(sessionID string) string { return constants.KeyPrefixGameSession + sessionID }
func statusKey(sessionID string) string  { return constants.KeyPrefixSessionStatus + sessionID }
func lockKey(sessionID string) string    { return constants.KeyPrefixFinalizeLock + sessionID }
func leaseKey(sessionID string) string   { return constants.KeyPrefixLease + sessionID }
func activityKey(userID string) string   { return constants.KeyPrefixUserActivity + userID }
func topicChannel(sessionID string) string {
	return constants.ChannelPrefixTopic + sessionID
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return errors.Wrap(s.client.Ping(ctx).Err(), "failed to ping redis")
}

func (s *RedisStore) SaveState(ctx context.Context, state *models.GameState, ttl time.Duration) error {
	data, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "failed to marshal game state")
	}
	if err := s.client.Set(ctx, stateKey(state.SessionID), data, ttl).Err(); err != nil {
		return errors.Wrap(err, "failed to save game state")
	}
	return nil
}

func (s *RedisStore) GetState(ctx context.Context, sessionID string) (*models.GameState, error) {
	data, err := s.client.Get(ctx, stateKey(sessionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrStateNotFound
		}
		return nil, errors.Wrap(err, "failed to get game state")
	}
	var state models.GameState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal game state")
	}
	return &state, nil
}

func (s *RedisStore) SaveSession(ctx context.Context, session *models.GameSession, ttl time.Duration) error {
	data, err := json.Marshal(session)
	if err != nil {
		return errors.Wrap(err, "failed to marshal session")
	}
	if err := s.client.Set(ctx, sessionKey(session.SessionID), data, ttl).Err(); err != nil {
		return errors.Wrap(err, "failed to save session")
	}
	return nil
}

func (s *RedisStore) GetSession(ctx context.Context, sessionID string) (*models.GameSession, error) {
	return s.getSession(ctx, s.client, sessionID)
}

func (s *RedisStore) getSession(ctx context.Context, c redis.Cmdable, sessionID string) (*models.GameSession, error) {
	data, err := c.Get(ctx, sessionKey(sessionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrSessionNotFound
		}
		return nil, errors.Wrap(err, "failed to get session")
	}
	var session models.GameSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal session")
	}
	return &session, nil
}

// UpdateSession runs fn against the current session record and commits the
// result only if nobody else wrote the record in between. The version is
// bumped and both session keys get their TTL refreshed on commit. An error
// from fn aborts the update and is returned unchanged.
func (s *RedisStore) UpdateSession(ctx context.Context, sessionID string, ttl time.Duration, fn func(*models.GameSession) error) (*models.GameSession, error) {
	key := sessionKey(sessionID)
	var updated *models.GameSession

	txf := func(tx *redis.Tx) error {
		session, err := s.getSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if err := fn(session); err != nil {
			return err
		}
		session.Version++

		data, err := json.Marshal(session)
		if err != nil {
			return errors.Wrap(err, "failed to marshal session")
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			pipe.Expire(ctx, stateKey(sessionID), ttl)
			return nil
		})
		if err == nil {
			updated = session
		}
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, ErrTooManyRetries
}

// DeleteSession removes both halves of the session.
func (s *RedisStore) DeleteSession(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, stateKey(sessionID), sessionKey(sessionID)).Err(); err != nil {
		return errors.Wrap(err, "failed to delete session")
	}
	return nil
}

// SessionIDs lists every live session by scanning session keys.
func (s *RedisStore) SessionIDs(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.client.Scan(ctx, 0, constants.KeyPrefixGameSession+"*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val()[len(constants.KeyPrefixGameSession):])
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to scan sessions")
	}
	return ids, nil
}

// AcquireLock takes the acquire-once finalize lock for a session.
func (s *RedisStore) AcquireLock(ctx context.Context, sessionID string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, lockKey(sessionID), "1", ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "failed to acquire lock")
	}
	return ok, nil
}

func (s *RedisStore) ReleaseLock(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, lockKey(sessionID)).Err(); err != nil {
		return errors.Wrap(err, "failed to release lock")
	}
	return nil
}

// AcquireLease takes a short-lived exclusive lease on a session and returns
// the owner token needed to release it.
func (s *RedisStore) AcquireLease(ctx context.Context, sessionID string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, leaseKey(sessionID), token, ttl).Result()
	if err != nil {
		return "", false, errors.Wrap(err, "failed to acquire lease")
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseLease drops the lease only if token still owns it.
func (s *RedisStore) ReleaseLease(ctx context.Context, sessionID, token string) error {
	if err := compareAndDelete.Run(ctx, s.client, []string{leaseKey(sessionID)}, token).Err(); err != nil {
		return errors.Wrap(err, "failed to release lease")
	}
	return nil
}

func (s *RedisStore) LeaseHeld(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.client.Exists(ctx, leaseKey(sessionID)).Result()
	if err != nil {
		return false, errors.Wrap(err, "failed to check lease")
	}
	return n > 0, nil
}

func (s *RedisStore) SetStatus(ctx context.Context, sessionID, status string, ttl time.Duration) error {
	if err := s.client.Set(ctx, statusKey(sessionID), status, ttl).Err(); err != nil {
		return errors.Wrap(err, "failed to set session status")
	}
	return nil
}

// GetStatus returns the out-of-band status flag, or "" when none is set.
func (s *RedisStore) GetStatus(ctx context.Context, sessionID string) (string, error) {
	status, err := s.client.Get(ctx, statusKey(sessionID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to get session status")
	}
	return status, nil
}

func (s *RedisStore) ClearStatus(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, statusKey(sessionID)).Err(); err != nil {
		return errors.Wrap(err, "failed to clear session status")
	}
	return nil
}

func activityValue(sessionID string) string {
	return constants.ActivityGame + ":" + sessionID
}

// SetActivity points the user's current activity at a game session.
func (s *RedisStore) SetActivity(ctx context.Context, userID, sessionID string, ttl time.Duration) error {
	if err := s.client.Set(ctx, activityKey(userID), activityValue(sessionID), ttl).Err(); err != nil {
		return errors.Wrap(err, "failed to set user activity")
	}
	return nil
}

func (s *RedisStore) GetActivity(ctx context.Context, userID string) (string, error) {
	v, err := s.client.Get(ctx, activityKey(userID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to get user activity")
	}
	return v, nil
}

// ClearActivity clears the pointer unless the user already moved on to
// another activity.
func (s *RedisStore) ClearActivity(ctx context.Context, userID, sessionID string) error {
	err := compareAndDelete.Run(ctx, s.client, []string{activityKey(userID)}, activityValue(sessionID)).Err()
	if err != nil {
		return errors.Wrap(err, "failed to clear user activity")
	}
	return nil
}

// Publish sends a push message on the session's topic channel.
func (s *RedisStore) Publish(ctx context.Context, sessionID string, message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message")
	}
	if err := s.client.Publish(ctx, topicChannel(sessionID), data).Err(); err != nil {
		return errors.Wrap(err, "failed to publish message")
	}
	return nil
}

// Subscribe streams raw payloads published on a session topic until ctx is
// done.
func (s *RedisStore) Subscribe(ctx context.Context, sessionID string) (<-chan []byte, error) {
	pubsub := s.client.Subscribe(ctx, topicChannel(sessionID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, errors.Wrap(err, "failed to subscribe")
	}

	ch := pubsub.Channel()
	out := make(chan []byte)
	go func() {
		defer close(out)
		defer pubsub.Close()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
