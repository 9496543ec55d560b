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

// ParticipationStore keeps one hash per session, field per participant:
//
//	HSET live:session:{id}:participations {userID} {json}
type ParticipationStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewParticipationStore(client *redis.Client, ttl time.Duration) *ParticipationStore {
	return &ParticipationStore{client: client, ttl: ttl}
}

var _ app.ParticipationRepository = (*ParticipationStore)(nil)

func (s *ParticipationStore) Create(ctx context.Context, p domain.Participation) error {
	return s.put(ctx, p)
}

func (s *ParticipationStore) Get(ctx context.Context, sessionID, userID string) (domain.Participation, error) {
	data, err := s.client.HGet(ctx, participationsKey(sessionID), userID).Bytes()
	if isMiss(err) {
		return domain.Participation{}, domain.ErrNotAParticipant
	}
	if err != nil {
		return domain.Participation{}, fmt.Errorf("load participation: %w", err)
	}
	var p domain.Participation
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.Participation{}, fmt.Errorf("decode participation: %w", err)
	}
	return p, nil
}

func (s *ParticipationStore) Update(ctx context.Context, p domain.Participation) error {
	ok, err := s.client.HExists(ctx, participationsKey(p.SessionID), p.UserID).Result()
	if err != nil {
		return fmt.Errorf("check participation: %w", err)
	}
	if !ok {
		return domain.ErrNotAParticipant
	}
	return s.put(ctx, p)
}

func (s *ParticipationStore) Delete(ctx context.Context, sessionID, userID string) error {
	return s.client.HDel(ctx, participationsKey(sessionID), userID).Err()
}

// ListBySession returns ledgers ordered by start time.
func (s *ParticipationStore) ListBySession(ctx context.Context, sessionID string) ([]domain.Participation, error) {
	raw, err := s.client.HGetAll(ctx, participationsKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list participations: %w", err)
	}
	out := make([]domain.Participation, 0, len(raw))
	for userID, data := range raw {
		var p domain.Participation
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("decode participation %s: %w", userID, err)
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

func (s *ParticipationStore) DeleteBySession(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, participationsKey(sessionID)).Err()
}

func (s *ParticipationStore) put(ctx context.Context, p domain.Participation) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode participation: %w", err)
	}
	key := participationsKey(p.SessionID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, p.UserID, data)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store participation: %w", err)
	}
	return nil
}

func participationsKey(sessionID string) string {
	return sessionKey(sessionID) + ":participations"
}
