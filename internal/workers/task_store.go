package workers

import (
	"context"
	"time"

	"github.com/alumitra/advisory/internal/cache"
)

// TaskStore persists task status for the polling endpoint. The production
// store is Redis-backed so status survives across instances; tests use the
// in-memory store.
type TaskStore interface {
	Put(ctx context.Context, st TaskStatus) error
	Get(ctx context.Context, id string) (*TaskStatus, bool, error)
}

type RedisTaskStore struct {
	cache cache.Cache
	ttl   time.Duration
}

func NewRedisTaskStore(c cache.Cache, ttl time.Duration) *RedisTaskStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisTaskStore{cache: c, ttl: ttl}
}

func taskKey(id string) string { return "task:" + id }

func (s *RedisTaskStore) Put(ctx context.Context, st TaskStatus) error {
	return s.cache.SetJSON(ctx, taskKey(st.ID), st, s.ttl)
}

func (s *RedisTaskStore) Get(ctx context.Context, id string) (*TaskStatus, bool, error) {
	var st TaskStatus
	hit, err := s.cache.GetJSON(ctx, taskKey(id), &st)
	if err != nil || !hit {
		return nil, false, err
	}
	return &st, true, nil
}
