// Package testutil holds shared fixtures for package tests: an in-memory
// store, a miniredis-backed bus and seeded profiles.
package testutil

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/oggyb/matchroom/internal/app"
	"github.com/oggyb/matchroom/internal/bus"
	"github.com/oggyb/matchroom/internal/cache"
	"github.com/oggyb/matchroom/internal/config"
	"github.com/oggyb/matchroom/internal/db"
	"github.com/oggyb/matchroom/internal/identity"
	"github.com/oggyb/matchroom/internal/logger"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_]`)

// NewDB opens a private in-memory SQLite database with foreign keys on and
// the schema migrated. Each test gets its own database.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", unsafeName.ReplaceAllString(t.Name(), "_"))
	database, err := db.Open(sqlite.Open(dsn), gormlogger.Default.LogMode(gormlogger.Silent))
	require.NoError(t, err)

	sqlDB, err := database.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return database
}

// NewRedis starts a miniredis server and returns a connected cache.
func NewRedis(t *testing.T) (*miniredis.Miniredis, *cache.RedisCache) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := &config.Config{}
	cfg.Redis.Addr = mr.Addr()
	cfg.Redis.TeardownQueue = "test:teardown"

	rc := cache.NewRedisCache(cfg)
	t.Cleanup(func() { _ = rc.Close() })
	return mr, rc
}

// NewBus returns a Redis bus over a fresh miniredis and the cache sharing it.
func NewBus(t *testing.T) (*bus.RedisBus, *cache.RedisCache) {
	t.Helper()
	_, rc := NewRedis(t)
	return bus.NewRedisBus(rc.Client, "test:changes", logger.Discard()), rc
}

// SeedProfile inserts a profile row directly.
func SeedProfile(t *testing.T, database *gorm.DB, id, name string) db.Profile {
	t.Helper()
	p := db.Profile{ID: id, DisplayName: name, Bio: "bio of " + name}
	require.NoError(t, database.WithContext(context.Background()).Create(&p).Error)
	return p
}

// User builds an identity with an email-like handle derived from id.
func User(id string) identity.Identity {
	return identity.Identity{UserID: id, Handle: id + "@example.com"}
}

// Config returns a configuration suitable for tests.
func Config(redisAddr string) *config.Config {
	cfg := &config.Config{}
	cfg.App.ENV = "test"
	cfg.DB.Driver = "sqlite"
	cfg.Redis.Addr = redisAddr
	cfg.Redis.ChannelPrefix = "test:changes"
	cfg.Redis.TeardownQueue = "test:teardown"
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.Issuer = "matchroom-test"
	cfg.Auth.TokenTTL = time.Hour
	cfg.Engine.CandidatePageSize = 50
	cfg.Engine.RefreshTimeout = time.Second
	cfg.Engine.TeardownTimeout = time.Second
	cfg.Engine.DemoSeedCount = 10
	return cfg
}

// NewApp builds a full AppContext over in-memory SQLite and miniredis.
func NewApp(t *testing.T) *app.AppContext {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := Config(mr.Addr())
	rc := cache.NewRedisCache(cfg)
	t.Cleanup(func() { _ = rc.Close() })

	appCtx := app.New(cfg, NewDB(t), rc, logger.Discard())
	appCtx.Identity = identity.NewProvider(appCtx.Verifier, bcrypt.MinCost)
	return appCtx
}
