package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	StoreDriverSQLite = "sqlite"
	StoreDriverRedis  = "redis"
	StoreDriverMemory = "memory"
)

type Config struct {
	App   AppConfig
	API   APIConfig
	Push  PushConfig
	Store StoreConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Store.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STOREFRONT_APP_ENV" default:"dev"`
	LogLevel     string `envconfig:"STOREFRONT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STOREFRONT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type APIConfig struct {
	BaseURL        string        `envconfig:"STOREFRONT_API_BASE_URL" required:"true"`
	RequestTimeout time.Duration `envconfig:"STOREFRONT_API_REQUEST_TIMEOUT" default:"15s"`
	UserAgent      string        `envconfig:"STOREFRONT_API_USER_AGENT" default:"storefront-sync"`
}

type PushConfig struct {
	URL              string        `envconfig:"STOREFRONT_PUSH_URL" required:"true"`
	HandshakeTimeout time.Duration `envconfig:"STOREFRONT_PUSH_HANDSHAKE_TIMEOUT" default:"10s"`
	ReconnectBase    time.Duration `envconfig:"STOREFRONT_PUSH_RECONNECT_BASE" default:"1s"`
	ReconnectMax     time.Duration `envconfig:"STOREFRONT_PUSH_RECONNECT_MAX" default:"1m"`
}

type StoreConfig struct {
	Driver     string `envconfig:"STOREFRONT_STORE_DRIVER" default:"sqlite"`
	SQLitePath string `envconfig:"STOREFRONT_STORE_SQLITE_PATH" default:"storefront.db"`

	RedisURL          string        `envconfig:"STOREFRONT_STORE_REDIS_URL"`
	RedisAddress      string        `envconfig:"STOREFRONT_STORE_REDIS_ADDR"`
	RedisPassword     string        `envconfig:"STOREFRONT_STORE_REDIS_PASSWORD"`
	RedisDB           int           `envconfig:"STOREFRONT_STORE_REDIS_DB" default:"0"`
	RedisPoolSize     int           `envconfig:"STOREFRONT_STORE_REDIS_POOL_SIZE" default:"10"`
	RedisDialTimeout  time.Duration `envconfig:"STOREFRONT_STORE_REDIS_DIAL_TIMEOUT" default:"5s"`
	RedisReadTimeout  time.Duration `envconfig:"STOREFRONT_STORE_REDIS_READ_TIMEOUT" default:"5s"`
	RedisWriteTimeout time.Duration `envconfig:"STOREFRONT_STORE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

func (s StoreConfig) NormalizedDriver() string {
	return strings.ToLower(strings.TrimSpace(s.Driver))
}

func (s *StoreConfig) validate() error {
	switch s.NormalizedDriver() {
	case StoreDriverSQLite:
		if strings.TrimSpace(s.SQLitePath) == "" {
			return fmt.Errorf("STOREFRONT_STORE_SQLITE_PATH is required for the sqlite driver")
		}
	case StoreDriverRedis:
		if s.RedisURL == "" && s.RedisAddress == "" {
			return fmt.Errorf("STOREFRONT_STORE_REDIS_URL or STOREFRONT_STORE_REDIS_ADDR is required for the redis driver")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", s.Driver)
	}
	return nil
}
