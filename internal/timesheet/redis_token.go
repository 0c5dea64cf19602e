package timesheet

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// RedisTokenStore keeps scan tokens in Redis so several API replicas share
// one token space. Used-token markers outlive the token itself for the same
// TTL, so a replayed scan is reported as "already used" rather than
// "unknown code".
type RedisTokenStore struct {
	client  *redis.Client
	usedTTL time.Duration
}

const (
	tokenKeyPrefix  = "scan:token:"
	activeKeyPrefix = "scan:active:"
	usedKeyPrefix   = "scan:used:"
)

// NewRedisTokenStore wraps an existing client.
func NewRedisTokenStore(client *redis.Client, usedTTL time.Duration) *RedisTokenStore {
	if usedTTL <= 0 {
		usedTTL = time.Hour
	}
	return &RedisTokenStore{client: client, usedTTL: usedTTL}
}

func (s *RedisTokenStore) Issue(ctx context.Context, timesheetID string, ttl time.Duration) (string, error) {
	existing, err := s.client.Get(ctx, activeKeyPrefix+timesheetID).Result()
	if err == nil && existing != "" {
		return existing, nil
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	tok := uuid.NewString()
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, tokenKeyPrefix+tok, timesheetID, ttl)
	pipe.Set(ctx, activeKeyPrefix+timesheetID, tok, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return tok, nil
}

func (s *RedisTokenStore) Resolve(ctx context.Context, token string) (string, error) {
	used, err := s.client.Exists(ctx, usedKeyPrefix+token).Result()
	if err != nil {
		return "", err
	}
	if used > 0 {
		return "", ErrTokenUsed
	}
	tsID, err := s.client.Get(ctx, tokenKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrTokenMismatch
	}
	if err != nil {
		return "", err
	}
	return tsID, nil
}

func (s *RedisTokenStore) Consume(ctx context.Context, token string) error {
	// SETNX makes consumption at-most-once across replicas.
	ok, err := s.client.SetNX(ctx, usedKeyPrefix+token, 1, s.usedTTL).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrTokenUsed
	}
	tsID, err := s.client.Get(ctx, tokenKeyPrefix+token).Result()
	if err == nil && tsID != "" {
		s.client.Del(ctx, activeKeyPrefix+tsID)
	}
	s.client.Del(ctx, tokenKeyPrefix+token)
	return nil
}

func (s *RedisTokenStore) Release(ctx context.Context, timesheetID string) error {
	tok, err := s.client.Get(ctx, activeKeyPrefix+timesheetID).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, tokenKeyPrefix+tok)
	pipe.Del(ctx, activeKeyPrefix+timesheetID)
	_, err = pipe.Exec(ctx)
	return err
}
