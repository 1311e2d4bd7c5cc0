package attachments

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/procurement-approvals/internal/domain"
	"github.com/xela07ax/procurement-approvals/internal/infra"
)

// Store: внешнее хранилище байтов вложений. Ключ выдает сервис (uuid).
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// RedisStore кладет байты вложений в Redis под префиксом пространства имен.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Put(ctx context.Context, key string, data []byte) error {
	if err := s.rdb.Set(ctx, infra.AttachmentKey(key), data, 0).Err(); err != nil {
		return fmt.Errorf("redis: failed to store attachment %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, infra.AttachmentKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", domain.ErrAttachmentNotFound, key)
		}
		return nil, fmt.Errorf("redis: failed to load attachment %s: %w", key, err)
	}
	return data, nil
}

// MemoryStore: хранилище в памяти для локального запуска и тестов.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrAttachmentNotFound, key)
	}
	return append([]byte(nil), data...), nil
}
