package session

import (
	"context"

	"github.com/oggyb/matchroom/internal/app"
	"github.com/oggyb/matchroom/internal/db"
	"github.com/oggyb/matchroom/internal/repository"
	"github.com/oggyb/matchroom/internal/service/candidate"
	"github.com/oggyb/matchroom/internal/service/ledger"
	"github.com/oggyb/matchroom/internal/service/presence"
	"github.com/oggyb/matchroom/internal/service/profile"
)

// NewDeps wires repositories and services from the shared AppContext.
func NewDeps(appCtx *app.AppContext) Deps {
	profiles := repository.NewProfileRepository(appCtx.DB, appCtx.Bus)
	matches := repository.NewMatchRepository(appCtx.DB, appCtx.Bus)
	rooms := repository.NewRoomRepository(appCtx.DB, appCtx.Bus)
	members := repository.NewMemberRepository(appCtx.DB, appCtx.Bus)
	prov := profile.NewProvisioner(profiles)

	engine := appCtx.Config.Engine
	return Deps{
		Candidates: candidate.NewSelector(profiles, matches, engine.CandidatePageSize),
		Ledger:     ledger.New(matches, prov, appCtx.Logger),
		Directory:  presence.NewDirectory(rooms, prov),
		Presence: presence.Deps{
			Members:         members,
			Rooms:           rooms,
			Profiles:        prov,
			Queue:           appCtx.RedisCache,
			Log:             appCtx.Logger,
			TeardownTimeout: engine.TeardownTimeout,
		},
		Matches:  matches,
		Profiles: profiles,
		Bus:      appCtx.Bus,
		Seed: func(ctx context.Context, count int) (int, error) {
			return db.SeedDemoProfiles(ctx, appCtx.DB, count)
		},
		Log:            appCtx.Logger,
		RefreshTimeout: engine.RefreshTimeout,
	}
}
