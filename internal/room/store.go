package room

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/igorvboas/medcall-ai-sub003/internal/shared"
)

const (
	sessionTTL = 24 * time.Hour
	counterTTL = 7 * 24 * time.Hour
)

type Store struct {
	redis *redis.Client
}

func NewStore(redisClient *redis.Client) *Store {
	return &Store{redis: redisClient}
}

func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = shared.NewID("sess_")
	}
	if sess.Mode == "" {
		sess.Mode = ModeInPerson
	}
	sess.Status = StatusActive
	sess.StartedAt = time.Now()
	sess.LastActiveAt = time.Now()

	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, sess.RedisKey(), data, sessionTTL).Err()
}

func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	data, err := s.redis.Get(ctx, "session:"+id).Bytes()
	if err == redis.Nil {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) UpdateSession(ctx context.Context, sess *Session) error {
	sess.LastActiveAt = time.Now()
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, sess.RedisKey(), data, sessionTTL).Err()
}

// EndSession is idempotent: ending an already-ended session keeps the
// original end timestamp.
func (s *Store) EndSession(ctx context.Context, id string, status Status) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if sess.Status != StatusActive {
		return nil
	}
	sess.Status = status
	sess.EndedAt = time.Now()
	return s.UpdateSession(ctx, sess)
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.redis.Del(ctx, "session:"+id, UtteranceCountKey(id)).Err()
}

func (s *Store) AddParticipant(ctx context.Context, id, participantID string) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	for _, p := range sess.Participants {
		if p == participantID {
			return s.UpdateSession(ctx, sess)
		}
	}
	sess.Participants = append(sess.Participants, participantID)
	return s.UpdateSession(ctx, sess)
}

func (s *Store) RemoveParticipant(ctx context.Context, id, participantID string) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	kept := sess.Participants[:0]
	for _, p := range sess.Participants {
		if p != participantID {
			kept = append(kept, p)
		}
	}
	sess.Participants = kept
	return s.UpdateSession(ctx, sess)
}

func (s *Store) IncrementUtterances(ctx context.Context, sessionID string) error {
	pipe := s.redis.Pipeline()
	pipe.Incr(ctx, UtteranceCountKey(sessionID))
	pipe.Expire(ctx, UtteranceCountKey(sessionID), counterTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) UtteranceCount(ctx context.Context, sessionID string) (int64, error) {
	count, err := s.redis.Get(ctx, UtteranceCountKey(sessionID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return count, err
}

func (s *Store) GetActiveSessions(ctx context.Context) ([]*Session, error) {
	keys, err := s.redis.Keys(ctx, "session:sess_*").Result()
	if err != nil {
		return nil, err
	}

	var sessions []*Session
	for _, key := range keys {
		data, err := s.redis.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			continue
		}
		if sess.Active() {
			sessions = append(sessions, &sess)
		}
	}
	return sessions, nil
}
