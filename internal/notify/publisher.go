package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/procurement-approvals/internal/domain"
	"github.com/xela07ax/procurement-approvals/internal/infra"
	"go.uber.org/zap"
)

// RedisPublisher транслирует уведомления о переходах в Pub/Sub.
// Доставка best-effort: подписчиков может не быть, повторов нет.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: infra.RedisChanTransitions}
}

func (p *RedisPublisher) Publish(ctx context.Context, n domain.TransitionNotice) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notice: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish to %s: %w", p.channel, err)
	}
	return nil
}

// LogPublisher пишет уведомления в лог. Используется, когда Redis не настроен.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With(zap.String("mod", "notify"))}
}

func (p *LogPublisher) Publish(_ context.Context, n domain.TransitionNotice) error {
	p.logger.Info("workflow transition",
		zap.String("document_id", n.DocumentID),
		zap.String("status", string(n.NewStatus)),
		zap.String("next_role", n.NextApproverRole),
		zap.Int64("version", n.Version))
	return nil
}
