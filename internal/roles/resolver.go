package roles

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/procurement-approvals/internal/domain"
	"github.com/xela07ax/procurement-approvals/internal/infra"
	"go.uber.org/zap"
)

// CachedResolver: Redis-кэш -> внешний справочник -> статический реестр.
// Справочник необязателен, кэш тоже. Недоступность справочника не ломает
// чтение снимков: роль берется из реестра с предупреждением в лог.
type CachedResolver struct {
	directory Resolver
	fallback  Resolver
	rdb       *redis.Client
	ttl       time.Duration
	logger    *zap.Logger
}

func NewCachedResolver(directory Resolver, fallback Resolver, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedResolver {
	return &CachedResolver{
		directory: directory,
		fallback:  fallback,
		rdb:       rdb,
		ttl:       ttl,
		logger:    logger.With(zap.String("mod", "roles")),
	}
}

func (r *CachedResolver) ResolveRole(ctx context.Context, id string) (domain.Role, error) {
	// 1. Кэш
	if role, ok := r.fromCache(ctx, id); ok {
		return role, nil
	}

	if r.directory == nil {
		return r.fallback.ResolveRole(ctx, id)
	}

	// 2. Внешний справочник
	role, err := r.directory.ResolveRole(ctx, id)
	switch {
	case err == nil:
		r.toCache(ctx, role)
		return role, nil
	case errors.Is(err, domain.ErrUnknownRole):
		// справочник ответил явно, реестр не спрашиваем
		return domain.Role{}, err
	}

	// 3. Справочник недоступен
	r.logger.Warn("directory unavailable, using static registry", zap.String("role", id), zap.Error(err))
	return r.fallback.ResolveRole(ctx, id)
}

func (r *CachedResolver) fromCache(ctx context.Context, id string) (domain.Role, bool) {
	if r.rdb == nil {
		return domain.Role{}, false
	}
	raw, err := r.rdb.Get(ctx, infra.RoleCacheKey(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("role cache read failed", zap.String("role", id), zap.Error(err))
		}
		return domain.Role{}, false
	}
	var role domain.Role
	if err := json.Unmarshal(raw, &role); err != nil {
		r.logger.Warn("role cache entry corrupted", zap.String("role", id), zap.Error(err))
		return domain.Role{}, false
	}
	return role, true
}

func (r *CachedResolver) toCache(ctx context.Context, role domain.Role) {
	if r.rdb == nil {
		return
	}
	raw, err := json.Marshal(role)
	if err != nil {
		r.logger.Warn("role cache encode failed", zap.String("role", role.ID), zap.Error(err))
		return
	}
	if err := r.rdb.Set(ctx, infra.RoleCacheKey(role.ID), raw, r.ttl).Err(); err != nil {
		r.logger.Warn("role cache write failed", zap.String("role", role.ID), zap.Error(err))
	}
}
