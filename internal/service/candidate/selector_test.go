package candidate_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oggyb/matchroom/internal/db"
	"github.com/oggyb/matchroom/internal/repository"
	"github.com/oggyb/matchroom/internal/service/candidate"
	"github.com/oggyb/matchroom/internal/testutil"
)

func ids(profiles []db.Profile) []string {
	out := make([]string, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, p.ID)
	}
	return out
}

func TestFetchCandidates_ExcludesSelfAndMatched(t *testing.T) {
	ctx := context.Background()
	database := testutil.NewDB(t)
	for _, id := range []string{"u", "p1", "p2", "p3", "p4"} {
		testutil.SeedProfile(t, database, id, id)
	}
	matches := repository.NewMatchRepository(database, nil)

	// u <- p1 matched (u was the liked side), u -> p2 matched, u -> p3 pending
	m1, err := matches.InsertPending(ctx, "p1", "u")
	require.NoError(t, err)
	_, err = matches.MarkMatched(ctx, m1)
	require.NoError(t, err)
	m2, err := matches.InsertPending(ctx, "u", "p2")
	require.NoError(t, err)
	_, err = matches.MarkMatched(ctx, m2)
	require.NoError(t, err)
	_, err = matches.InsertPending(ctx, "u", "p3")
	require.NoError(t, err)

	sel := candidate.NewSelector(repository.NewProfileRepository(database, nil), matches, 0)
	got, err := sel.FetchCandidates(ctx, "u")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"p3", "p4"}, ids(got))
}

func TestFetchCandidates_EmptyPoolIsNotAnError(t *testing.T) {
	database := testutil.NewDB(t)
	testutil.SeedProfile(t, database, "solo", "solo")

	sel := candidate.NewSelector(repository.NewProfileRepository(database, nil), repository.NewMatchRepository(database, nil), 0)
	got, err := sel.FetchCandidates(context.Background(), "solo")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFetchPage_BoundedAndResumable(t *testing.T) {
	ctx := context.Background()
	database := testutil.NewDB(t)
	_, err := db.SeedDemoProfiles(ctx, database, 7)
	require.NoError(t, err)
	me := db.DemoProfileID(0)

	sel := candidate.NewSelector(repository.NewProfileRepository(database, nil), repository.NewMatchRepository(database, nil), 3)

	seen := map[string]bool{}
	var token *string
	for i := 0; i < 5; i++ {
		page, err := sel.FetchPage(ctx, me, token)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(page.Profiles), 3)
		for _, p := range page.Profiles {
			assert.NotEqual(t, me, p.ID)
			assert.False(t, seen[p.ID], fmt.Sprintf("duplicate %s", p.ID))
			seen[p.ID] = true
		}
		if page.Next == nil {
			break
		}
		token = page.Next
	}
	assert.Len(t, seen, 6)
}
