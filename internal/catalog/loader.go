package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"github.com/xela07ax/procurement-approvals/internal/domain"
	"github.com/xela07ax/procurement-approvals/internal/infra"
	"go.uber.org/zap"
)

// ConfigKey: секция конфига с переопределениями маршрутов.
const ConfigKey = "catalog.document_types"

// FromConfig собирает набор маршрутов: встроенные значения, поверх которых
// накладываются виды документов из конфига (совпадающий вид заменяется целиком).
func FromConfig(v *viper.Viper) ([]domain.DocumentTypeDefinition, error) {
	var overrides []domain.DocumentTypeDefinition
	if v.IsSet(ConfigKey) {
		if err := v.UnmarshalKey(ConfigKey, &overrides); err != nil {
			return nil, fmt.Errorf("unable to decode %s: %w", ConfigKey, err)
		}
	}
	return Merge(Defaults(), overrides), nil
}

// Merge накладывает overrides на base по виду документа, сохраняя порядок base.
func Merge(base, overrides []domain.DocumentTypeDefinition) []domain.DocumentTypeDefinition {
	idx := make(map[domain.DocumentType]int, len(base))
	out := make([]domain.DocumentTypeDefinition, 0, len(base)+len(overrides))
	for _, d := range base {
		idx[d.DocumentType] = len(out)
		out = append(out, d.Clone())
	}
	for _, d := range overrides {
		if i, ok := idx[d.DocumentType]; ok {
			out[i] = d.Clone()
			continue
		}
		idx[d.DocumentType] = len(out)
		out = append(out, d.Clone())
	}
	return out
}

// Reloader перечитывает каталог из конфига: по изменению файла (viper watch)
// и по сигналу в Redis. Ошибка перезагрузки логируется, старый каталог остается.
type Reloader struct {
	catalog *Catalog
	v       *viper.Viper
	logger  *zap.Logger
	mu      sync.Mutex
}

func NewReloader(c *Catalog, v *viper.Viper, logger *zap.Logger) *Reloader {
	return &Reloader{
		catalog: c,
		v:       v,
		logger:  logger.With(zap.String("mod", "catalog")),
	}
}

// Reload перечитывает файл конфигурации и подменяет каталог.
func (r *Reloader) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return r.apply()
}

func (r *Reloader) apply() error {
	defs, err := FromConfig(r.v)
	if err != nil {
		return err
	}
	if err := r.catalog.Replace(defs); err != nil {
		return err
	}
	r.logger.Info("catalog reloaded", zap.Int("document_types", len(defs)))
	return nil
}

// Watch подписывается на изменения файла конфигурации.
func (r *Reloader) Watch() {
	r.v.OnConfigChange(func(e fsnotify.Event) {
		// viper уже перечитал файл перед вызовом
		r.mu.Lock()
		defer r.mu.Unlock()
		if err := r.apply(); err != nil {
			r.logger.Error("catalog reload rejected", zap.String("file", e.Name), zap.Error(err))
		}
	})
	r.v.WatchConfig()
}

// Listen слушает канал обновления каталога до отмены ctx.
// После каждой (пере)подписки каталог перечитывается: сигнал,
// отправленный пока подписка лежала, иначе потерялся бы.
func (r *Reloader) Listen(ctx context.Context, rdb *redis.Client) {
	infra.ListenResilient(ctx, rdb, r.logger, infra.RedisChanCatalogRefresh,
		r.resync,
		func(_ context.Context, payload string) {
			r.logger.Info("catalog refresh signal", zap.String("payload", payload))
			if err := r.Reload(); err != nil {
				r.logger.Error("catalog reload rejected", zap.Error(err))
			}
		},
	)
}

// resync: ресинхронизация каталога при восстановлении подписки.
// Ошибку логирует ListenResilient.
func (r *Reloader) resync(_ context.Context) error {
	return r.Reload()
}
