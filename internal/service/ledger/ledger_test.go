package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/oggyb/matchroom/internal/db"
	apperr "github.com/oggyb/matchroom/internal/errors"
	"github.com/oggyb/matchroom/internal/identity"
	"github.com/oggyb/matchroom/internal/logger"
	"github.com/oggyb/matchroom/internal/repository"
	"github.com/oggyb/matchroom/internal/service/ledger"
	"github.com/oggyb/matchroom/internal/service/profile"
	"github.com/oggyb/matchroom/internal/testutil"
)

func setup(t *testing.T) (*ledger.Ledger, *gorm.DB) {
	t.Helper()
	database := testutil.NewDB(t)
	prov := profile.NewProvisioner(repository.NewProfileRepository(database, nil))
	return ledger.New(repository.NewMatchRepository(database, nil), prov, logger.Discard()), database
}

func rows(t *testing.T, database *gorm.DB, liker, liked string) []db.Match {
	t.Helper()
	var out []db.Match
	require.NoError(t, database.Where("liker_id = ? AND liked_id = ?", liker, liked).Find(&out).Error)
	return out
}

func TestRecordLike_MutualResolution(t *testing.T) {
	ctx := context.Background()
	l, database := setup(t)
	a, b := testutil.User("a1"), testutil.User("b1")
	testutil.SeedProfile(t, database, "b1", "bob")

	res, err := l.RecordLike(ctx, a, "b1")
	require.NoError(t, err)
	assert.False(t, res.Matched)
	first := rows(t, database, "a1", "b1")
	require.Len(t, first, 1)
	assert.Equal(t, db.StatusPending, first[0].Status)

	res, err = l.RecordLike(ctx, b, "a1")
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, first[0].ID, res.MatchID)

	ab := rows(t, database, "a1", "b1")
	require.Len(t, ab, 1)
	assert.Equal(t, db.StatusMatched, ab[0].Status)
	assert.Empty(t, rows(t, database, "b1", "a1"))
}

func TestRecordLike_RepeatedLikesKeepOneRow(t *testing.T) {
	ctx := context.Background()
	l, database := setup(t)
	a, b := testutil.User("a1"), testutil.User("b1")
	testutil.SeedProfile(t, database, "b1", "bob")

	var firstID string
	for i := 0; i < 3; i++ {
		res, err := l.RecordLike(ctx, a, "b1")
		require.NoError(t, err)
		assert.False(t, res.Matched)
		if firstID == "" {
			firstID = res.MatchID
		}
		assert.Equal(t, firstID, res.MatchID)
	}
	assert.Len(t, rows(t, database, "a1", "b1"), 1)

	// reciprocal repeated: still matched, no reverse row
	for i := 0; i < 2; i++ {
		res, err := l.RecordLike(ctx, b, "a1")
		require.NoError(t, err)
		assert.True(t, res.Matched)
	}
	assert.Len(t, rows(t, database, "a1", "b1"), 1)
	assert.Empty(t, rows(t, database, "b1", "a1"))
}

func TestRecordLike_ProvisionsActor(t *testing.T) {
	ctx := context.Background()
	l, database := setup(t)
	testutil.SeedProfile(t, database, "b1", "bob")

	_, err := l.RecordLike(ctx, identity.Identity{UserID: "newbie", Handle: "newbie@example.com"}, "b1")
	require.NoError(t, err)

	var p db.Profile
	require.NoError(t, database.Where("id = ?", "newbie").Take(&p).Error)
	assert.Equal(t, "newbie", p.DisplayName)
}

func TestRecordLike_RejectsSelfAndUnknownTarget(t *testing.T) {
	ctx := context.Background()
	l, _ := setup(t)

	_, err := l.RecordLike(ctx, testutil.User("a1"), "a1")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = l.RecordLike(ctx, testutil.User("a1"), "")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = l.RecordLike(ctx, testutil.User("a1"), "ghost")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindIntegrity))
	assert.Equal(t, "Profile not synchronized, please retry.", apperr.Message(err))
}

type failingProvisioner struct{}

func (failingProvisioner) EnsureProfile(context.Context, identity.Identity) error {
	return errors.New("dial tcp 127.0.0.1:5432: connection refused")
}

func TestRecordLike_ProvisionFailureAborts(t *testing.T) {
	database := testutil.NewDB(t)
	l := ledger.New(repository.NewMatchRepository(database, nil), failingProvisioner{}, logger.Discard())

	_, err := l.RecordLike(context.Background(), testutil.User("a1"), "b1")
	require.Error(t, err)
	assert.Equal(t, ledger.ProvisionFailedMsg, apperr.Message(err))
	assert.True(t, apperr.Is(err, apperr.KindConnectivity))

	var count int64
	require.NoError(t, database.Model(&db.Match{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRecordLike_CrossedPendingRowsResolveOnNextLike(t *testing.T) {
	for _, tc := range []struct {
		name         string
		actor, peer  string
		matchedLiker string
	}{
		{name: "a likes again", actor: "a1", peer: "b1", matchedLiker: "b1"},
		{name: "b likes again", actor: "b1", peer: "a1", matchedLiker: "a1"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			l, database := setup(t)
			testutil.SeedProfile(t, database, "a1", "alice")
			testutil.SeedProfile(t, database, "b1", "bob")

			// both first likes landed before either saw the other
			matches := repository.NewMatchRepository(database, nil)
			_, err := matches.InsertPending(ctx, "a1", "b1")
			require.NoError(t, err)
			_, err = matches.InsertPending(ctx, "b1", "a1")
			require.NoError(t, err)

			peers, err := matches.MatchedPeerIDs(ctx, "a1")
			require.NoError(t, err)
			assert.Empty(t, peers)

			res, err := l.RecordLike(ctx, testutil.User(tc.actor), tc.peer)
			require.NoError(t, err)
			assert.True(t, res.Matched)

			resolved := rows(t, database, tc.matchedLiker, tc.actor)
			require.Len(t, resolved, 1)
			assert.Equal(t, db.StatusMatched, resolved[0].Status)
			assert.Equal(t, resolved[0].ID, res.MatchID)

			for _, side := range [][2]string{{"a1", "b1"}, {"b1", "a1"}} {
				peers, err := matches.MatchedPeerIDs(ctx, side[0])
				require.NoError(t, err)
				assert.Equal(t, []string{side[1]}, peers)
			}
		})
	}
}
