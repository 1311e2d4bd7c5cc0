package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/xela07ax/procurement-approvals/internal/domain"
)

// Config: корневая структура конфигурации сервиса согласований.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	GRPC      GRPCConfig      `mapstructure:"grpc"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Roles     []domain.Role   `mapstructure:"roles"` // переопределения справочника ролей
	Logger    LoggerConfig    `mapstructure:"logger"`

	// Viper остается доступен для секций, которые перечитываются на лету (каталог)
	Viper *viper.Viper `mapstructure:"-"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

// Addr: адрес для net.Listen.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GRPCConfig: порт gRPC health-сервера (пробы инфраструктуры).
type GRPCConfig struct {
	Port int `mapstructure:"port"`
}

// StorageConfig выбирает хранилище экземпляров: postgres или memory.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

// DatabaseConfig описывает подключение к PostgreSQL.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub, вложения, кэш ролей).
// Пустой Addr отключает Redis: уведомления уходят в лог, вложения в память.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	RoleTTL  time.Duration `mapstructure:"role_ttl"`
}

// AuthConfig: путь к публичному RSA ключу IdP. Без ключа привязка личности выключена.
type AuthConfig struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
	PublicKey     []byte
}

// Enabled сообщает, нужно ли требовать bearer-токен.
func (a AuthConfig) Enabled() bool {
	return len(a.PublicKey) > 0
}

// EngineConfig: настройки обвязки хранилища вложений и отложенной выгрузки.
type EngineConfig struct {
	LinkerBufferSize    int           `mapstructure:"linker_buffer_size"`
	LinkerRetryInterval time.Duration `mapstructure:"linker_retry_interval"`
	LinkerMaxAttempts   int           `mapstructure:"linker_max_attempts"`

	// Circuit Breaker хранилища вложений
	CBMaxRequests   uint32        `mapstructure:"cb_max_requests"`
	CBInterval      time.Duration `mapstructure:"cb_interval"`
	CBTimeout       time.Duration `mapstructure:"cb_timeout"`
	CBFailureStreak uint32        `mapstructure:"cb_failure_streak"`

	RetryAttempts    uint          `mapstructure:"retry_attempts"`
	StoreCallTimeout time.Duration `mapstructure:"store_call_timeout"`
	StoreRateLimit   float64       `mapstructure:"store_rate_limit"`
	StoreBurst       int           `mapstructure:"store_burst"`

	// Прямая выгрузка inline-вложения, если очередь не приняла байты
	InlineUploadTimeout time.Duration `mapstructure:"inline_upload_timeout"`
}

// DirectoryConfig: внешний справочник ролей (gRPC). Пустой адрес: только статический реестр.
type DirectoryConfig struct {
	Addr    string        `mapstructure:"addr"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// CatalogConfig управляет перезагрузкой каталога. Сами маршруты читает catalog.FromConfig.
type CatalogConfig struct {
	Watch bool `mapstructure:"watch"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// 2. ENV перекрывает файл: SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Дефолты
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет, работаем на ENV и дефолтах
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	switch cfg.Storage.Driver {
	case "postgres":
		if cfg.Database.URL == "" {
			return nil, fmt.Errorf("database.url is required for storage driver %q", cfg.Storage.Driver)
		}
	case "memory":
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	// PEM-ключ может прийти прямо в ENV (Docker/K8s), иначе читаем файл
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Viper = v
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.max_body_bytes", 16<<20)
	v.SetDefault("grpc.port", 50052)
	v.SetDefault("storage.driver", "memory")
	// Пустые значения нужны, чтобы ENV без ключа в файле тоже доходил до Unmarshal
	v.SetDefault("database.url", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("auth.public_key_path", "")
	v.SetDefault("directory.addr", "")
	v.SetDefault("catalog.watch", false)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("redis.role_ttl", 10*time.Minute)
	v.SetDefault("directory.timeout", 2*time.Second)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("engine.linker_buffer_size", 1000)
	v.SetDefault("engine.linker_retry_interval", 2*time.Second)
	v.SetDefault("engine.linker_max_attempts", 10)
	v.SetDefault("engine.cb_max_requests", 3)
	v.SetDefault("engine.cb_interval", 5*time.Second)
	v.SetDefault("engine.cb_timeout", 30*time.Second)
	v.SetDefault("engine.cb_failure_streak", 5)
	v.SetDefault("engine.retry_attempts", 3)
	v.SetDefault("engine.store_call_timeout", 10*time.Second)
	v.SetDefault("engine.store_rate_limit", 100)
	v.SetDefault("engine.store_burst", 20)
	v.SetDefault("engine.inline_upload_timeout", 2*time.Second)
}

// loadKeyResource: сначала ENV с самим ключом, затем файл по пути из конфига.
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
