package presence_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/oggyb/matchroom/internal/bus"
	"github.com/oggyb/matchroom/internal/cache"
	"github.com/oggyb/matchroom/internal/db"
	apperr "github.com/oggyb/matchroom/internal/errors"
	"github.com/oggyb/matchroom/internal/logger"
	"github.com/oggyb/matchroom/internal/repository"
	"github.com/oggyb/matchroom/internal/service/dispatch"
	"github.com/oggyb/matchroom/internal/service/presence"
	"github.com/oggyb/matchroom/internal/service/profile"
	"github.com/oggyb/matchroom/internal/testutil"
)

const wait = 2 * time.Second
const tick = 10 * time.Millisecond

type env struct {
	t       *testing.T
	db      *gorm.DB
	bus     *bus.RedisBus
	cache   *cache.RedisCache
	rooms   *repository.RoomRepository
	members *repository.MemberRepository
	prov    *profile.Provisioner
	dir     *presence.Directory
}

func newEnv(t *testing.T) *env {
	t.Helper()
	database := testutil.NewDB(t)
	b, rc := testutil.NewBus(t)
	prov := profile.NewProvisioner(repository.NewProfileRepository(database, b))
	rooms := repository.NewRoomRepository(database, b)
	return &env{
		t:       t,
		db:      database,
		bus:     b,
		cache:   rc,
		rooms:   rooms,
		members: repository.NewMemberRepository(database, b),
		prov:    prov,
		dir:     presence.NewDirectory(rooms, prov),
	}
}

func (e *env) deps(members presence.MemberStore) presence.Deps {
	d := dispatch.New(e.bus, logger.Discard(), time.Second)
	e.t.Cleanup(d.Close)
	return presence.Deps{
		Members:         members,
		Rooms:           e.rooms,
		Profiles:        e.prov,
		Queue:           e.cache,
		Dispatcher:      d,
		Log:             logger.Discard(),
		TeardownTimeout: time.Second,
	}
}

func (e *env) coordinator(id string) *presence.Coordinator {
	return presence.NewCoordinator(testutil.User(id), e.deps(e.members), nil)
}

func (e *env) room(owner, name string) *db.Room {
	e.t.Helper()
	r, err := e.dir.Create(context.Background(), testutil.User(owner), name)
	require.NoError(e.t, err)
	return r
}

func (e *env) memberCount(roomID, userID string) int64 {
	e.t.Helper()
	var n int64
	require.NoError(e.t, e.db.Model(&db.RoomMember{}).Where("room_id = ? AND user_id = ?", roomID, userID).Count(&n).Error)
	return n
}

func TestJoin_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	r := e.room("owner", "general")
	m := e.coordinator("m1")

	require.NoError(t, m.Join(ctx, r.ID))
	require.NoError(t, m.Join(ctx, r.ID))

	assert.Equal(t, int64(1), e.memberCount(r.ID, "m1"))
	snap := m.Snapshot()
	assert.Equal(t, presence.Member, snap.State)
	assert.Equal(t, r.ID, snap.RoomID)

	assert.Eventually(t, func() bool { return len(m.Snapshot().Members) == 1 }, wait, tick)
}

func TestJoin_MovesBetweenRooms(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	r1 := e.room("owner", "one")
	r2 := e.room("owner", "two")
	m := e.coordinator("m1")

	require.NoError(t, m.Join(ctx, r1.ID))
	require.NoError(t, m.Join(ctx, r2.ID))

	assert.Zero(t, e.memberCount(r1.ID, "m1"))
	assert.Equal(t, int64(1), e.memberCount(r2.ID, "m1"))
	assert.Equal(t, r2.ID, m.Snapshot().RoomID)
}

func TestJoin_VanishedRoomIsIntegrityError(t *testing.T) {
	e := newEnv(t)
	m := e.coordinator("m1")

	err := m.Join(context.Background(), "no-such-room")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindIntegrity))
	assert.Equal(t, presence.Absent, m.Snapshot().State)
}

func TestKick_TargetSelfEvicts(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	r := e.room("owner", "general")
	owner := e.coordinator("owner")
	m := e.coordinator("m1")

	require.NoError(t, owner.Join(ctx, r.ID))
	require.NoError(t, m.Join(ctx, r.ID))
	assert.Eventually(t, func() bool { return len(owner.Snapshot().Members) == 2 }, wait, tick)

	require.NoError(t, owner.Kick(ctx, r.ID, "m1"))

	assert.Eventually(t, func() bool { return m.Snapshot().State == presence.Absent }, wait, tick)
	assert.Eventually(t, func() bool { return len(owner.Snapshot().Members) == 1 }, wait, tick)
	assert.Equal(t, presence.Member, owner.Snapshot().State)
}

func TestKick_NonOwnerIsRejected(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	r := e.room("owner", "general")
	m1 := e.coordinator("m1")
	m2 := e.coordinator("m2")
	require.NoError(t, m1.Join(ctx, r.ID))
	require.NoError(t, m2.Join(ctx, r.ID))

	err := m1.Kick(ctx, r.ID, "m2")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))
	assert.Equal(t, "Not permitted or failed.", apperr.Message(err))
	assert.Equal(t, int64(1), e.memberCount(r.ID, "m2"))
}

func TestExternalDeleteEvictsMember(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	r := e.room("owner", "general")
	m := e.coordinator("m1")
	require.NoError(t, m.Join(ctx, r.ID))

	// row removed by another process
	require.NoError(t, e.members.Remove(ctx, r.ID, "m1"))

	assert.Eventually(t, func() bool { return m.Snapshot().State == presence.Absent }, wait, tick)
}

type flakySubscriber struct {
	bus.Subscriber
	failures atomic.Int32
}

func (f *flakySubscriber) Subscribe(ctx context.Context, filter bus.Filter) (bus.Subscription, error) {
	if f.failures.Add(-1) >= 0 {
		return nil, errors.New("dial tcp: connection refused")
	}
	return f.Subscriber.Subscribe(ctx, filter)
}

// coordinatorWithFailingFeed returns a coordinator whose first failures
// subscription attempts fail.
func (e *env) coordinatorWithFailingFeed(id string, failures int32) *presence.Coordinator {
	sub := &flakySubscriber{Subscriber: e.bus}
	sub.failures.Store(failures)
	d := dispatch.New(sub, logger.Discard(), time.Second)
	e.t.Cleanup(d.Close)

	deps := e.deps(e.members)
	deps.Dispatcher = d
	return presence.NewCoordinator(testutil.User(id), deps, nil)
}

func TestJoin_RetriesMembershipFeedOnce(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	r := e.room("owner", "general")
	m := e.coordinatorWithFailingFeed("m1", 1)

	require.NoError(t, m.Join(ctx, r.ID))
	assert.Equal(t, presence.Member, m.Snapshot().State)

	// the retried feed is live: an external delete still evicts
	require.NoError(t, e.members.Remove(ctx, r.ID, "m1"))
	assert.Eventually(t, func() bool { return m.Snapshot().State == presence.Absent }, wait, tick)
}

func TestJoin_FeedFailureStaysMemberUntilRetried(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	r := e.room("owner", "general")
	m := e.coordinatorWithFailingFeed("m1", 2)

	err := m.Join(ctx, r.ID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConnectivity))

	snap := m.Snapshot()
	assert.Equal(t, presence.Member, snap.State)
	assert.Equal(t, r.ID, snap.RoomID)
	assert.Equal(t, int64(1), e.memberCount(r.ID, "m1"))

	// retrying is a harmless re-join that starts the feed
	require.NoError(t, m.Join(ctx, r.ID))
	assert.Equal(t, int64(1), e.memberCount(r.ID, "m1"))

	require.NoError(t, e.members.Remove(ctx, r.ID, "m1"))
	assert.Eventually(t, func() bool { return m.Snapshot().State == presence.Absent }, wait, tick)
}

func TestClearStale_KeepsOccupiedRoom(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	r1 := e.room("owner", "one")
	r2 := e.room("owner", "two")
	m := e.coordinator("m1")
	require.NoError(t, m.Join(ctx, r1.ID))

	// leftover row from an earlier run
	require.NoError(t, e.members.Add(ctx, r2.ID, "m1"))

	n, err := m.ClearStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(1), e.memberCount(r1.ID, "m1"))
	assert.Zero(t, e.memberCount(r2.ID, "m1"))
	assert.Equal(t, presence.Member, m.Snapshot().State)
}

func TestRoomDeletionForcesAbsent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	r := e.room("owner", "general")
	m := e.coordinator("m1")
	require.NoError(t, m.Join(ctx, r.ID))

	require.NoError(t, e.dir.Delete(ctx, testutil.User("owner"), r.ID))

	assert.Eventually(t, func() bool { return m.Snapshot().State == presence.Absent }, wait, tick)
	assert.Zero(t, e.memberCount(r.ID, "m1"))
}

func TestRoomsRefreshed_MissingRoom(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	r := e.room("owner", "general")
	m := e.coordinator("m1")
	require.NoError(t, m.Join(ctx, r.ID))

	epoch := m.Epoch()
	m.RoomsRefreshed(epoch, []string{r.ID, "other"})
	assert.Equal(t, presence.Member, m.Snapshot().State)

	// a listing taken before the join says nothing about this membership
	m.RoomsRefreshed(epoch-1, nil)
	assert.Equal(t, presence.Member, m.Snapshot().State)

	m.RoomsRefreshed(epoch, []string{"other"})
	assert.Equal(t, presence.Absent, m.Snapshot().State)
}

type brokenRemove struct{ presence.MemberStore }

func (brokenRemove) Remove(context.Context, string, string) error {
	return errors.New("dial tcp: connection refused")
}

func TestLeave_GoesAbsentEvenWhenDeleteFails(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	r := e.room("owner", "general")
	m := presence.NewCoordinator(testutil.User("m1"), e.deps(brokenRemove{e.members}), nil)
	require.NoError(t, m.Join(ctx, r.ID))

	err := m.Leave(ctx, r.ID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConnectivity))
	assert.Equal(t, presence.Absent, m.Snapshot().State)

	// the row is still there: a ghost until someone cleans it up
	assert.Equal(t, int64(1), e.memberCount(r.ID, "m1"))
}

func TestLeave_WhenAbsentIsNoop(t *testing.T) {
	e := newEnv(t)
	assert.NoError(t, e.coordinator("m1").Leave(context.Background(), ""))
}

func TestTeardown_BestEffort(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	r := e.room("owner", "general")
	m := e.coordinator("m1")
	require.NoError(t, m.Join(ctx, r.ID))

	done := m.Teardown()
	assert.Equal(t, presence.Absent, m.Snapshot().State)

	select {
	case <-done:
	case <-time.After(wait):
		t.Fatal("teardown attempts did not finish")
	}
	assert.Zero(t, e.memberCount(r.ID, "m1"))

	pending, err := e.cache.PendingTeardowns(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	// nothing to do when absent
	<-m.Teardown()
}

func TestGhostMemberSurvivesUntilCleanup(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	r := e.room("owner", "general")
	ghost := e.coordinator("ghost")
	other := e.coordinator("other")
	require.NoError(t, ghost.Join(ctx, r.ID))
	// client vanishes without leave or teardown

	require.NoError(t, other.Join(ctx, r.ID))
	assert.Eventually(t, func() bool { return len(other.Snapshot().Members) == 2 }, wait, tick)

	// its own cleanup attempt lands later through the janitor
	require.NoError(t, e.cache.EnqueueTeardown(ctx, r.ID, "ghost"))
	n, err := presence.NewJanitor(e.cache, e.members, logger.Discard()).Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Eventually(t, func() bool { return len(other.Snapshot().Members) == 1 }, wait, tick)
}

func TestJanitor_RunDrainsOnStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := newEnv(t)
	r := e.room("owner", "general")
	require.NoError(t, e.members.Add(ctx, r.ID, "owner"))
	require.NoError(t, e.cache.EnqueueTeardown(ctx, r.ID, "owner"))
	require.NoError(t, e.cache.EnqueueTeardown(ctx, r.ID, "nobody"))

	go presence.NewJanitor(e.cache, e.members, logger.Discard()).Run(ctx, time.Hour)

	assert.Eventually(t, func() bool { return e.memberCount(r.ID, "owner") == 0 }, wait, tick)
	assert.Eventually(t, func() bool {
		n, err := e.cache.PendingTeardowns(ctx)
		return err == nil && n == 0
	}, wait, tick)
}

func TestDirectory_CreateConflictAndDelete(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	c := testutil.User("c1")

	r, err := e.dir.Create(ctx, c, "  general ")
	require.NoError(t, err)
	assert.Equal(t, "general", r.Name)

	_, err = e.dir.Create(ctx, c, "general")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.Equal(t, presence.RoomTakenMsg, apperr.Message(err))

	_, err = e.dir.Create(ctx, c, "   ")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	rooms, err := e.dir.List(ctx)
	require.NoError(t, err)
	assert.Len(t, rooms, 1)

	err = e.dir.Delete(ctx, testutil.User("intruder"), r.ID)
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))

	require.NoError(t, e.dir.Delete(ctx, c, r.ID))
	rooms, err = e.dir.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, rooms)
}
