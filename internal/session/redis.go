package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jordanhubbard/queryforge/pkg/models"
)

const redisKeyPrefix = "queryforge:session:"

// RedisStore persists sessions in Redis, one JSON value per id. Useful
// when several pipeline instances share session state. TTL applies the
// retention policy; zero means keep forever.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

func (rs *RedisStore) Save(ctx context.Context, s *models.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", s.ID, err)
	}
	if err := rs.client.Set(ctx, redisKeyPrefix+s.ID, data, rs.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session %s: %w", s.ID, err)
	}
	return nil
}

func (rs *RedisStore) Load(ctx context.Context, id string) (*models.Session, error) {
	data, err := rs.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}

	var s models.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	return &s, nil
}

func (rs *RedisStore) Delete(ctx context.Context, id string) error {
	return rs.client.Del(ctx, redisKeyPrefix+id).Err()
}

// List scans session keys. Redis listing is best-effort and unordered
// beyond UpdatedAt sorting of the loaded records.
func (rs *RedisStore) List(ctx context.Context, state models.State, limit int) ([]*models.Session, error) {
	var sessions []*models.Session
	iter := rs.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		s, err := rs.Load(ctx, iter.Val()[len(redisKeyPrefix):])
		if err != nil {
			continue
		}
		if state != "" && s.State != state {
			continue
		}
		sessions = append(sessions, s)
		if limit > 0 && len(sessions) >= limit {
			break
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan sessions: %w", err)
	}
	return sessions, nil
}

// Close releases the Redis connection.
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}
