// config предоставляет структуру конфигурации сервиса и функции
// загрузки из файла/переменных окружения с предсказуемым приоритетом.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config — корневая конфигурация сервиса.
// Источники значений (по убыванию приоритета):
//  1. явный путь через флаг --config;
//  2. путь в переменной окружения CONFIG_PATH;
//  3. файл local.yaml из рабочей директории;
//  4. переменные окружения (cleanenv).
type Config struct {
	Env      string        `yaml:"env" env:"ENV" env-default:"local"`
	HTTP     HTTPConfig    `yaml:"http"`
	GRPC     GRPCConfig    `yaml:"grpc"`
	Auth     AuthConfig    `yaml:"auth"`
	Hasher   HasherConfig  `yaml:"hasher"`
	DB       DBConfig      `yaml:"db"`
	Redis    RedisConfig   `yaml:"redis"`
	Limits   LimitsConfig  `yaml:"limits"`
	Notify   NotifyConfig  `yaml:"notify"`
	Janitor  JanitorConfig `yaml:"janitor"`
	Timeouts TimeoutConfig `yaml:"timeouts"`
}

// TimeoutConfig — таймауты сервиса.
type TimeoutConfig struct {
	Service time.Duration `yaml:"service" env:"SERVICE_TIMEOUT" env-default:"5s"`
}

// HTTPConfig — служебный HTTP-сервер (livez/healthz/metrics).
type HTTPConfig struct {
	Host string `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"50081"`
}

// GRPCConfig описывает сетевые настройки gRPC-сервера.
type GRPCConfig struct {
	Host string `yaml:"host" env:"GRPC_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"GRPC_PORT" env-default:"50051"`
}

// Addr возвращает адрес в формате host:port.
func (g HTTPConfig) Addr() string {
	return net.JoinHostPort(g.Host, g.Port)
}

// Addr возвращает адрес в формате host:port.
func (g GRPCConfig) Addr() string {
	return net.JoinHostPort(g.Host, g.Port)
}

// AuthConfig — значение-объект с ключом подписи, алгоритмом и сроками жизни токенов.
// Загружается один раз при старте и далее не меняется.
//
// Algorithm: HS256 | HS384 | HS512 (JWT) или v4.local (PASETO, ключ — 32 байта в hex).
type AuthConfig struct {
	SigningKey      string        `yaml:"signing_key" env:"AUTH_SIGNING_KEY" env-required:"true"`
	Algorithm       string        `yaml:"algorithm" env:"AUTH_ALGORITHM" env-default:"HS256"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl" env:"ACCESS_TOKEN_TTL" env-default:"30m"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl" env:"REFRESH_TOKEN_TTL" env-default:"168h"`
	VerificationTTL time.Duration `yaml:"verification_ttl" env:"VERIFICATION_TTL" env-default:"15m"`
	ResetTTL        time.Duration `yaml:"reset_ttl" env:"RESET_TTL" env-default:"15m"`
	Leeway          time.Duration `yaml:"leeway" env:"AUTH_LEEWAY" env-default:"0s"`
	Issuer          string        `yaml:"issuer" env:"AUTH_ISSUER" env-default:"billing-auth"`
	DefaultPlan     string        `yaml:"default_plan" env:"AUTH_DEFAULT_PLAN" env-default:"basic"`
}

// HasherConfig — параметры хэширования паролей.
type HasherConfig struct {
	Algorithm         string `yaml:"algorithm" env:"HASHER_ALGORITHM" env-default:"bcrypt"`
	BcryptCost        int    `yaml:"bcrypt_cost" env:"HASHER_BCRYPT_COST" env-default:"12"`
	Argon2Memory      uint32 `yaml:"argon2_memory" env:"HASHER_ARGON2_MEMORY" env-default:"65536"`
	Argon2Iterations  uint32 `yaml:"argon2_iterations" env:"HASHER_ARGON2_ITERATIONS" env-default:"3"`
	Argon2Parallelism uint8  `yaml:"argon2_parallelism" env:"HASHER_ARGON2_PARALLELISM" env-default:"2"`
}

// DBConfig — настройки подключения к базе данных.
type DBConfig struct {
	DatabaseURL string `yaml:"db_url" env:"DATABASE_URL" env-required:"true"`
	AutoMigrate bool   `yaml:"auto_migrate" env:"DB_AUTO_MIGRATE" env-default:"true"`
}

// RedisConfig — Redis для счётчиков попыток. Пустой URL отключает лимиты.
type RedisConfig struct {
	RedisURL string `yaml:"redis_url" env:"REDIS_URL"`
	Prefix   string `yaml:"prefix" env:"REDIS_PREFIX" env-default:"billing-auth:"`
}

// LimitsConfig — ограничения частоты попыток входа и запросов сброса пароля.
type LimitsConfig struct {
	LoginAttempts  int           `yaml:"login_attempts" env:"LIMIT_LOGIN_ATTEMPTS" env-default:"10"`
	LoginWindow    time.Duration `yaml:"login_window" env:"LIMIT_LOGIN_WINDOW" env-default:"15m"`
	ForgotCooldown time.Duration `yaml:"forgot_cooldown" env:"LIMIT_FORGOT_COOLDOWN" env-default:"1m"`
}

// NotifyConfig — параметры асинхронной отправки уведомлений.
type NotifyConfig struct {
	Workers     int           `yaml:"workers" env:"NOTIFY_WORKERS" env-default:"2"`
	QueueSize   int           `yaml:"queue_size" env:"NOTIFY_QUEUE_SIZE" env-default:"256"`
	RatePerSec  float64       `yaml:"rate_per_sec" env:"NOTIFY_RATE_PER_SEC" env-default:"10"`
	Burst       int           `yaml:"burst" env:"NOTIFY_BURST" env-default:"5"`
	SendTimeout time.Duration `yaml:"send_timeout" env:"NOTIFY_SEND_TIMEOUT" env-default:"10s"`
	MaxAttempts int           `yaml:"max_attempts" env:"NOTIFY_MAX_ATTEMPTS" env-default:"3"`
	Backoff     time.Duration `yaml:"backoff" env:"NOTIFY_BACKOFF" env-default:"500ms"`
}

// JanitorConfig — период сбора статистики реестра refresh-токенов.
type JanitorConfig struct {
	Period time.Duration `yaml:"period" env:"JANITOR_PERIOD" env-default:"5m"`
}

const localConfig = "local.yaml"

// MustLoad — обёртка над Load с panic при ошибке.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

// Validate проверяет согласованность значений, которые cleanenv проверить не может.
func (c *Config) Validate() error {
	switch c.Auth.Algorithm {
	case "HS256", "HS384", "HS512", "v4.local":
	default:
		return fmt.Errorf("auth.algorithm %q is not supported", c.Auth.Algorithm)
	}

	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= 0 {
		return fmt.Errorf("auth token ttl must be positive")
	}

	if c.Auth.VerificationTTL <= 0 || c.Auth.ResetTTL <= 0 {
		return fmt.Errorf("auth verification/reset ttl must be positive")
	}

	return nil
}

// Load загружает конфигурацию по приоритету:
// 1) явный путь; 2) CONFIG_PATH; 3) ./local.yaml; 4) ENV.
// ВАЖНО: после чтения файла накладываем ENV-переменные поверх значений из YAML.
func Load(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func load(path string) (*Config, error) {
	var cfg Config

	src := resolvePath(path)
	if src == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
		}
		return &cfg, nil
	}

	if _, err := os.Stat(src); err != nil {
		return nil, fmt.Errorf("config file %q stat failed: %w", src, err)
	}

	if err := cleanenv.ReadConfig(src, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config %q: %w", src, err)
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to overlay env: %w", err)
	}

	return &cfg, nil
}

// resolvePath выбирает файл конфигурации; пустая строка — читать только ENV.
func resolvePath(explicit string) string {
	switch {
	case explicit != "":
		return explicit
	case os.Getenv("CONFIG_PATH") != "":
		return os.Getenv("CONFIG_PATH")
	}

	if _, err := os.Stat(localConfig); err == nil {
		return localConfig
	}

	return ""
}
