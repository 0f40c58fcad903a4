package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"

	"github.com/ilyakaznacheev/cleanenv"
)

type (
	Config struct {
		App      `json:"app"      toml:"app"`
		HTTP     `json:"http"     toml:"http"`
		DB       `json:"db"       toml:"db"`
		Log      `json:"logger"   toml:"logger"`
		Auth     `json:"auth"     toml:"auth"`
		Redis    `json:"redis"    toml:"redis"`
		Kafka    `json:"kafka"    toml:"kafka"`
		Mail     `json:"mail"     toml:"mail"`
		Payments `json:"payments" toml:"payments"`
		Workers  `json:"workers"  toml:"workers"`
	}

	App struct {
		Name        string `json:"name"        toml:"name"        env:"APP_NAME"  env-default:"storefront-payments"`
		Environment string `json:"environment" toml:"environment" env:"ENV_NAME"  env-default:"dev"`
		Debug       bool   `json:"debug"       toml:"debug"       env:"DEBUG"     env-default:"false"`
	}

	HTTP struct {
		Port           string   `json:"port"            toml:"port"            env:"HTTP_PORT"       env-default:"8080"`
		AllowedOrigins []string `json:"allowed_origins" toml:"allowed_origins" env:"ALLOWED_ORIGINS" env-default:"http://localhost:3000"`
	}

	DB struct {
		DatabaseURL       string `json:"database_url"        toml:"database_url"        env:"DATABASE_URL"`
		MigrationsPath    string `json:"migrations_path"     toml:"migrations_path"     env:"MIGRATIONS_PATH"      env-default:"./migrations"`
		PoolMax           int32  `json:"pool_max"            toml:"pool_max"            env:"PG_POOL_MAX"          env-required:"true"`
		ConnectTimeout    int    `json:"connect_timeout"     toml:"connect_timeout"     env:"PG_POOL_CONN_TIMEOUT" env-default:"5"`
		HealthCheckPeriod int    `json:"health_check_period" toml:"health_check_period" env:"PG_POOL_HEALTHCHECK"  env-default:"1"`
	}

	Log struct {
		Level slog.Level `json:"level" toml:"level" env:"LOG_LEVEL"`
	}

	Auth struct {
		JWTSecret string `json:"jwt_secret" toml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
	}

	Redis struct {
		Addr          string `json:"addr"            toml:"addr"            env:"REDIS_ADDR"`
		Password      string `json:"password"        toml:"password"        env:"REDIS_PASSWORD"`
		DB            int    `json:"db"              toml:"db"              env:"REDIS_DB"              env-default:"0"`
		StatsCacheTTL int    `json:"stats_cache_ttl" toml:"stats_cache_ttl" env:"REDIS_STATS_CACHE_TTL" env-default:"30"`
	}

	Kafka struct {
		Brokers []string `json:"brokers" toml:"brokers" env:"KAFKA_BROKERS"`
		Topic   string   `json:"topic"   toml:"topic"   env:"KAFKA_TOPIC"   env-default:"payments.events"`
	}

	Mail struct {
		Host         string `json:"host"          toml:"host"          env:"SMTP_HOST"`
		Port         int    `json:"port"          toml:"port"          env:"SMTP_PORT"     env-default:"587"`
		Username     string `json:"username"      toml:"username"      env:"SMTP_USERNAME"`
		Password     string `json:"password"      toml:"password"      env:"SMTP_PASSWORD"`
		From         string `json:"from"          toml:"from"          env:"SMTP_FROM"`
		AdminAddress string `json:"admin_address" toml:"admin_address" env:"ADMIN_EMAIL"`
	}

	Payments struct {
		ReferencePattern string `json:"reference_pattern" toml:"reference_pattern" env:"PAYMENT_REFERENCE_PATTERN" env-default:"^[A-Z0-9]{6,20}$"`
		DefaultMethod    string `json:"default_method"    toml:"default_method"    env:"PAYMENT_DEFAULT_METHOD"    env-default:"mpesa"`
	}

	Workers struct {
		// Minutes an awaiting submission may wait before admins are reminded.
		ReminderAfter int `json:"reminder_after" toml:"reminder_after" env:"WORKER_REMINDER_AFTER" env-default:"120"`
		// Minutes between reminder runs.
		ReminderInterval int `json:"reminder_interval" toml:"reminder_interval" env:"WORKER_REMINDER_INTERVAL" env-default:"30"`
	}
)

func LoadConfig() (*Config, error) {
	cfg := &Config{}

	_, b, _, _ := runtime.Caller(0)
	basePath := filepath.Dir(b)

	configTomlPath := filepath.Join(basePath, "config.toml")
	err := cleanenv.ReadConfig(configTomlPath, cfg)
	if err != nil {
		configJsonPath := filepath.Join(basePath, "config.json")
		err = cleanenv.ReadConfig(configJsonPath, cfg)
		if err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	}

	err = cleanenv.ReadEnv(cfg)
	if err != nil {
		return nil, fmt.Errorf("env read error: %w", err)
	}

	return cfg, nil
}
