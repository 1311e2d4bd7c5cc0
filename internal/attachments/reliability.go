package attachments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/procurement-approvals/internal/domain"
	"golang.org/x/time/rate"
)

// ReliabilityConfig: параметры обвязки хранилища вложений.
type ReliabilityConfig struct {
	Name          string
	MaxRequests   uint32
	Interval      time.Duration
	Timeout       time.Duration
	FailureStreak uint32
	Attempts      uint
	CallTimeout   time.Duration
	RatePerSecond float64
	Burst         int
	// OnStateChange вызывается при смене состояния предохранителя (метрики).
	OnStateChange func(name string, open bool)
}

func (c *ReliabilityConfig) withDefaults() {
	if c.Name == "" {
		c.Name = "attachment-store"
	}
	if c.MaxRequests == 0 {
		c.MaxRequests = 3
	}
	if c.Interval == 0 {
		c.Interval = 5 * time.Second
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.FailureStreak == 0 {
		c.FailureStreak = 5
	}
	if c.Attempts == 0 {
		c.Attempts = 3
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.RatePerSecond == 0 {
		c.RatePerSecond = 100
	}
	if c.Burst == 0 {
		c.Burst = 20
	}
}

// ReliableStore оборачивает Store: лимитер -> предохранитель -> ретраи с бэкоффом.
// Любой отказ транспорта наружу отдается как ErrAttachmentStoreUnavailable.
type ReliableStore struct {
	next     Store
	cb       *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	attempts uint
	timeout  time.Duration
}

func NewReliableStore(next Store, cfg ReliabilityConfig) *ReliableStore {
	cfg.withDefaults()

	// Настройка предохранителя
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > cfg.FailureStreak
		},
		// Отсутствующее вложение не признак отказа хранилища
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrAttachmentNotFound)
		},
	}
	if cfg.OnStateChange != nil {
		settings.OnStateChange = func(name string, _ gobreaker.State, to gobreaker.State) {
			cfg.OnStateChange(name, to == gobreaker.StateOpen)
		}
	}

	return &ReliableStore{
		next:     next,
		cb:       gobreaker.NewCircuitBreaker(settings),
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		attempts: cfg.Attempts,
		timeout:  cfg.CallTimeout,
	}
}

func (s *ReliableStore) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.call(ctx, func(ctx context.Context) ([]byte, error) {
		return nil, s.next.Put(ctx, key, data)
	})
	return err
}

func (s *ReliableStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.call(ctx, func(ctx context.Context) ([]byte, error) {
		return s.next.Get(ctx, key)
	})
}

func (s *ReliableStore) call(ctx context.Context, op func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	// 1. Rate Limiter
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit: %v", domain.ErrAttachmentStoreUnavailable, err)
	}

	var (
		data    []byte
		lastErr error
	)

	// 2. Circuit Breaker
	_, err := s.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(s.attempts),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			data, lastErr = op(tCtx)
			if errors.Is(lastErr, domain.ErrAttachmentNotFound) {
				// повтор не поможет
				return retry.Unrecoverable(lastErr)
			}
			return lastErr
		})
		if errors.Is(lastErr, domain.ErrAttachmentNotFound) {
			return nil, lastErr
		}
		return nil, retryErr
	})

	if err != nil {
		if errors.Is(err, domain.ErrAttachmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrAttachmentStoreUnavailable, err)
	}
	return data, nil
}
