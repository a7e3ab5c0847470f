package app

import (
	"log/slog"

	"gorm.io/gorm"

	"github.com/oggyb/matchroom/internal/bus"
	"github.com/oggyb/matchroom/internal/cache"
	"github.com/oggyb/matchroom/internal/config"
	"github.com/oggyb/matchroom/internal/identity"
)

// AppContext holds shared dependencies (DB, Redis, bus, identity, logger).
type AppContext struct {
	Config     *config.Config
	DB         *gorm.DB
	RedisCache *cache.RedisCache
	Bus        bus.Bus
	Verifier   *identity.Verifier
	Identity   *identity.Provider
	Logger     *slog.Logger
}

// New creates a new AppContext. The bus rides on the same Redis connection
// as the cache.
func New(cfg *config.Config, db *gorm.DB, rdb *cache.RedisCache, logger *slog.Logger) *AppContext {
	verifier := identity.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	return &AppContext{
		Config:     cfg,
		DB:         db,
		RedisCache: rdb,
		Bus:        bus.NewRedisBus(rdb.Client, cfg.Redis.ChannelPrefix, logger.With("component", "bus")),
		Verifier:   verifier,
		Identity:   identity.NewProvider(verifier, 0),
		Logger:     logger,
	}
}
