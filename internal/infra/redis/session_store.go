package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// SessionStore keeps sessions in Redis so they survive a process restart.
// Layout:
//
//	live:session:{id}   JSON document
//	live:pin:{pin}      id of the open session holding the pin (SETNX)
//	live:sessions       set of known ids, used by List
//
// Timers are not persisted; a restarted process sees active sessions
// without a running countdown.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

var _ app.SessionRepository = (*SessionStore)(nil)

// releasePin deletes the pin key only while it still points at the session.
var releasePin = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (s *SessionStore) Create(ctx context.Context, session domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	ok, err := s.client.SetNX(ctx, pinKey(session.Pin), session.ID, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("reserve pin: %w", err)
	}
	if !ok {
		return domain.ErrPinTaken
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKey(session.ID), data, s.ttl)
	pipe.SAdd(ctx, sessionsKey, session.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		_ = releasePin.Run(ctx, s.client, []string{pinKey(session.Pin)}, session.ID).Err()
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, id string) (domain.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if isMiss(err) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("load session: %w", err)
	}
	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return domain.Session{}, fmt.Errorf("decode session: %w", err)
	}
	return session, nil
}

func (s *SessionStore) GetByPin(ctx context.Context, pin string) (domain.Session, error) {
	id, err := s.client.Get(ctx, pinKey(pin)).Result()
	if isMiss(err) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("resolve pin: %w", err)
	}
	session, err := s.Get(ctx, id)
	if err != nil {
		return domain.Session{}, err
	}
	if session.Phase == domain.PhaseFinished {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *SessionStore) Update(ctx context.Context, session domain.Session) error {
	n, err := s.client.Exists(ctx, sessionKey(session.ID)).Result()
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if n == 0 {
		return domain.ErrSessionNotFound
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(session.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store session: %w", err)
	}

	if session.Phase == domain.PhaseFinished {
		if err := releasePin.Run(ctx, s.client, []string{pinKey(session.Pin)}, session.ID).Err(); err != nil {
			return fmt.Errorf("release pin: %w", err)
		}
		return nil
	}
	if s.ttl > 0 {
		_ = s.client.Expire(ctx, pinKey(session.Pin), s.ttl).Err()
	}
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	session, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := releasePin.Run(ctx, s.client, []string{pinKey(session.Pin)}, id).Err(); err != nil {
		return fmt.Errorf("release pin: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKey(id))
	pipe.SRem(ctx, sessionsKey, id)
	_, err = pipe.Exec(ctx)
	return err
}

// List returns matching sessions, newest first. Ids whose document has
// expired are pruned from the index on the way.
func (s *SessionStore) List(ctx context.Context, filter app.SessionFilter) ([]domain.Session, error) {
	ids, err := s.client.SMembers(ctx, sessionsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if len(ids) == 0 {
		return []domain.Session{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = sessionKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}

	out := make([]domain.Session, 0, len(values))
	var stale []interface{}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var session domain.Session
		if err := json.Unmarshal([]byte(raw), &session); err != nil {
			return nil, fmt.Errorf("decode session %s: %w", ids[i], err)
		}
		if filter.OwnerID != "" && session.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Phase != "" && session.Phase != filter.Phase {
			continue
		}
		out = append(out, session)
	}
	if len(stale) > 0 {
		_ = s.client.SRem(ctx, sessionsKey, stale...).Err()
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

const sessionsKey = "live:sessions"

func sessionKey(id string) string {
	return "live:session:" + id
}

func pinKey(pin string) string {
	return "live:pin:" + pin
}
