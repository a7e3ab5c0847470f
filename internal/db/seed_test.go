package db_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/oggyb/matchroom/internal/db"
	"github.com/oggyb/matchroom/internal/testutil"
)

func TestSeedDemoProfiles_Idempotent(t *testing.T) {
	ctx := context.Background()
	database := testutil.NewDB(t)

	n, err := db.SeedDemoProfiles(ctx, database, 25)
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	// same identifiers again: no duplicate-key failure, no duplicate rows
	n, err = db.SeedDemoProfiles(ctx, database, 25)
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	var count int64
	require.NoError(t, database.Model(&db.Profile{}).Count(&count).Error)
	assert.Equal(t, int64(25), count)
}

func TestSeedDemoProfiles_StableIDs(t *testing.T) {
	assert.Equal(t, db.DemoProfileID(3), db.DemoProfileID(3))
	assert.NotEqual(t, db.DemoProfileID(3), db.DemoProfileID(4))
}

func TestSeedDemoProfiles_ZeroCount(t *testing.T) {
	n, err := db.SeedDemoProfiles(context.Background(), testutil.NewDB(t), 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSchema_EnforcesForeignKeys(t *testing.T) {
	database := testutil.NewDB(t)

	err := database.Create(&db.RoomMember{RoomID: "missing-room", UserID: "missing-user"}).Error
	require.Error(t, err)
	assert.ErrorIs(t, err, gorm.ErrForeignKeyViolated)
}
