package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App struct {
		ENV string
	}

	Log struct {
		Level     string
		Format    string
		Component string
		Source    bool
	}

	DB struct {
		Driver   string
		DSN      string
		Host     string
		Port     string
		User     string
		Password string
		Name     string
	}

	Redis struct {
		Addr          string
		Password      string
		DB            int
		ChannelPrefix string
		TeardownQueue string
	}

	GRPC struct {
		Host string
		Port string
	}

	Auth struct {
		JWTSecret string
		Issuer    string
		TokenTTL  time.Duration
	}

	Engine struct {
		CandidatePageSize int
		RefreshTimeout    time.Duration
		TeardownTimeout   time.Duration
		DrainInterval     time.Duration
		DemoSeedCount     int
	}
}

// New builds the configuration from the environment. A .env file in the
// working directory is loaded first when present; real env vars win.
func New() *Config {
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.App.ENV = getEnvDefault("APP_ENV", "development")

	// Logger
	cfg.Log.Level = getEnvDefault("LOG_LEVEL", "info")
	cfg.Log.Format = getEnvDefault("LOG_FORMAT", "text")
	cfg.Log.Component = getEnvDefault("LOG_COMPONENT", "matchroom")
	cfg.Log.Source = isTruthy(os.Getenv("LOG_SOURCE"))

	// Database
	cfg.DB.Driver = strings.ToLower(getEnvDefault("DB_DRIVER", "sqlite"))
	cfg.DB.DSN = os.Getenv("DB_DSN")
	if cfg.DB.DSN == "" {
		cfg.DB.Host = getEnvDefault("DB_HOST", "localhost")
		cfg.DB.User = getEnvDefault("DB_USER", "root")
		cfg.DB.Password = getEnvDefault("DB_PASSWORD", "root")
		cfg.DB.Name = getEnvDefault("DB_NAME", "matchroom")
		cfg.DB.DSN = buildDSN(cfg)
	}

	// Redis
	cfg.Redis.Addr = getEnvDefault("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnvDefault("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)
	cfg.Redis.ChannelPrefix = getEnvDefault("BUS_CHANNEL_PREFIX", "matchroom:changes")
	cfg.Redis.TeardownQueue = getEnvDefault("TEARDOWN_QUEUE", "matchroom:teardown")

	// gRPC (loopback: one engine per client device)
	cfg.GRPC.Host = getEnvDefault("GRPC_HOST", "127.0.0.1")
	cfg.GRPC.Port = getEnvDefault("GRPC_PORT", "50051")

	// Auth
	cfg.Auth.JWTSecret = getEnvDefault("JWT_SECRET", "dev-secret-change-me")
	cfg.Auth.Issuer = getEnvDefault("JWT_ISSUER", "matchroom")
	cfg.Auth.TokenTTL = getEnvDuration("JWT_TTL", 24*time.Hour)

	// Engine
	cfg.Engine.CandidatePageSize = getEnvInt("CANDIDATE_PAGE_SIZE", 50)
	cfg.Engine.RefreshTimeout = getEnvDuration("REFRESH_TIMEOUT", 5*time.Second)
	cfg.Engine.TeardownTimeout = getEnvDuration("TEARDOWN_TIMEOUT", 2*time.Second)
	cfg.Engine.DrainInterval = getEnvDuration("TEARDOWN_DRAIN_INTERVAL", 30*time.Second)
	cfg.Engine.DemoSeedCount = getEnvInt("DEMO_SEED_COUNT", 20)

	return cfg
}

// buildDSN assembles a driver-specific DSN from the discrete DB_* settings.
func buildDSN(cfg *Config) string {
	switch cfg.DB.Driver {
	case "mysql":
		cfg.DB.Port = getEnvDefault("DB_PORT", "3306")
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
			cfg.DB.User, cfg.DB.Password, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name,
		)
	case "postgres":
		cfg.DB.Port = getEnvDefault("DB_PORT", "5432")
		return fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
			cfg.DB.Host, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.Port,
		)
	default:
		return fmt.Sprintf("file:%s.db?_foreign_keys=on&_busy_timeout=5000", cfg.DB.Name)
	}
}

func getEnvDefault(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getEnvInt(k string, def int) int {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(k string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}
