// Package presence keeps one client session in at most one room at a time
// and converges its local view with the membership table.
package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oggyb/matchroom/internal/bus"
	"github.com/oggyb/matchroom/internal/cache"
	"github.com/oggyb/matchroom/internal/db"
	apperr "github.com/oggyb/matchroom/internal/errors"
	"github.com/oggyb/matchroom/internal/identity"
	"github.com/oggyb/matchroom/internal/logger"
	"github.com/oggyb/matchroom/internal/repository"
	"github.com/oggyb/matchroom/internal/service/dispatch"
)

// FeedRoomMembers names the dispatcher feed of the occupied room.
const FeedRoomMembers = "room_members"

type State int

const (
	Absent State = iota
	Member
)

func (s State) String() string {
	if s == Member {
		return "member"
	}
	return "absent"
}

type MemberStore interface {
	Add(ctx context.Context, roomID, userID string) error
	Remove(ctx context.Context, roomID, userID string) error
	Kick(ctx context.Context, roomID, targetID, ownerID string) error
	ListProfiles(ctx context.Context, roomID string) ([]db.Profile, error)
	RoomsOf(ctx context.Context, userID string) ([]string, error)
}

type RoomStore interface {
	Create(ctx context.Context, name, creatorID string) (*db.Room, error)
	Get(ctx context.Context, id string) (*db.Room, error)
	List(ctx context.Context) ([]db.Room, error)
	Delete(ctx context.Context, roomID, ownerID string) error
}

type Provisioner interface {
	EnsureProfile(ctx context.Context, id identity.Identity) error
}

// TeardownQueue is the fire-and-forget channel used on abnormal exit.
type TeardownQueue interface {
	EnqueueTeardown(ctx context.Context, roomID, userID string) error
	DequeueTeardown(ctx context.Context) (*cache.TeardownIntent, error)
}

var (
	_ MemberStore   = (*repository.MemberRepository)(nil)
	_ RoomStore     = (*repository.RoomRepository)(nil)
	_ TeardownQueue = (*cache.RedisCache)(nil)
)

// Deps are shared by every coordinator of a process.
type Deps struct {
	Members    MemberStore
	Rooms      RoomStore
	Profiles   Provisioner
	Queue      TeardownQueue // optional
	Dispatcher *dispatch.Dispatcher
	Log        *slog.Logger
	// TeardownTimeout bounds the best-effort cleanup attempts.
	TeardownTimeout time.Duration
}

// Snapshot is the local presence view.
type Snapshot struct {
	State   State
	RoomID  string
	Members []db.Profile
}

// Coordinator is the presence state machine of one identity:
// ABSENT -> MEMBER -> ABSENT.
type Coordinator struct {
	me       identity.Identity
	deps     Deps
	log      *slog.Logger
	onChange func(Snapshot)

	mu     sync.Mutex
	state  State
	roomID string
	roster []db.Profile
	feed   *dispatch.Handle
	// epoch changes on every transition; refreshes that started under an
	// older epoch are discarded.
	epoch uint64
}

// NewCoordinator starts ABSENT. onChange, if set, receives every new
// snapshot; it must not call back into the coordinator synchronously.
func NewCoordinator(me identity.Identity, deps Deps, onChange func(Snapshot)) *Coordinator {
	if deps.Log == nil {
		deps.Log = logger.L()
	}
	if deps.TeardownTimeout <= 0 {
		deps.TeardownTimeout = 2 * time.Second
	}
	return &Coordinator{
		me:       me,
		deps:     deps,
		log:      logger.ForUser(deps.Log, me.UserID),
		onChange: onChange,
	}
}

func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Epoch identifies the current membership. Callers read it before a query
// and hand it back with the result.
func (c *Coordinator) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

func (c *Coordinator) snapshotLocked() Snapshot {
	members := make([]db.Profile, len(c.roster))
	copy(members, c.roster)
	return Snapshot{State: c.state, RoomID: c.roomID, Members: members}
}

// Join makes the user a member of roomID.
//
// Behavior:
//   - Leaves the currently occupied room first when it is a different one.
//   - The profile guard runs before the membership write.
//   - An existing membership row counts as success, so joining twice is
//     harmless.
//   - A vanished room or profile is an Integrity error and the state stays
//     ABSENT.
//   - The membership feed gets one retry. If it still fails the user stays
//     MEMBER and the error is returned.
func (c *Coordinator) Join(ctx context.Context, roomID string) error {
	const op = "presence.join"
	if roomID == "" {
		return apperr.Invalid(op, "missing room id")
	}

	if current := c.Snapshot(); current.State == Member && current.RoomID != roomID {
		if err := c.Leave(ctx, current.RoomID); err != nil {
			c.log.Warn("leaving previous room failed", "room_id", current.RoomID, "err", err)
		}
	}

	if err := c.deps.Profiles.EnsureProfile(ctx, c.me); err != nil {
		return apperr.Wrap(op, err)
	}

	if err := c.deps.Members.Add(ctx, roomID, c.me.UserID); err != nil {
		if !apperr.Is(err, apperr.KindConflict) {
			return apperr.Wrap(op, err)
		}
		c.log.Debug("already a member", "room_id", roomID)
	}

	c.mu.Lock()
	if c.state != Member || c.roomID != roomID {
		c.epoch++
	}
	c.state = Member
	c.roomID = roomID
	epoch := c.epoch
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snap)

	h, err := c.watchMembers(ctx, roomID, epoch)
	if err != nil {
		// still MEMBER: the row exists and a retried Join restarts the feed
		return apperr.Wrap(op, err)
	}

	c.mu.Lock()
	if c.state != Member || c.epoch != epoch {
		// evicted or moved on while the feed was starting
		c.mu.Unlock()
		h.Close()
		return nil
	}
	prev := c.feed
	c.feed = h
	c.mu.Unlock()
	if prev != nil && prev != h {
		prev.Close()
	}

	c.log.Info("joined room", "room_id", roomID)
	return nil
}

// watchMembers starts the membership feed, retrying once.
func (c *Coordinator) watchMembers(ctx context.Context, roomID string, epoch uint64) (*dispatch.Handle, error) {
	filter := bus.Filter{Table: db.TableRoomMembers, Any: map[string]string{"room_id": roomID}}

	h, err := c.deps.Dispatcher.Watch(ctx, FeedRoomMembers, filter, c.refreshMembers(roomID, epoch))
	if err == nil {
		return h, nil
	}
	c.log.Warn("membership feed did not start, retrying", "room_id", roomID, "err", err)
	return c.deps.Dispatcher.Watch(ctx, FeedRoomMembers, filter, c.refreshMembers(roomID, epoch))
}

// ClearStale deletes membership rows of this user that no live state
// accounts for, such as leftovers of a run that ended without Leave or
// Teardown. The occupied room is kept.
func (c *Coordinator) ClearStale(ctx context.Context) (int, error) {
	const op = "presence.clear_stale"

	rooms, err := c.deps.Members.RoomsOf(ctx, c.me.UserID)
	if err != nil {
		return 0, apperr.Wrap(op, err)
	}

	current := c.Snapshot().RoomID
	removed := 0
	for _, roomID := range rooms {
		if roomID == current {
			continue
		}
		if err := c.deps.Members.Remove(ctx, roomID, c.me.UserID); err != nil {
			return removed, apperr.Wrap(op, err)
		}
		removed++
	}
	return removed, nil
}

// Leave removes the user from roomID; an empty roomID means the occupied
// room. Leaving the occupied room goes ABSENT even if the delete fails.
func (c *Coordinator) Leave(ctx context.Context, roomID string) error {
	const op = "presence.leave"

	c.mu.Lock()
	if roomID == "" {
		roomID = c.roomID
	}
	var feed *dispatch.Handle
	changed := roomID != "" && roomID == c.roomID
	if changed {
		feed = c.resetLocked()
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if feed != nil {
		feed.Close()
	}
	if changed {
		c.emit(snap)
	}
	if roomID == "" {
		return nil
	}

	if err := c.deps.Members.Remove(ctx, roomID, c.me.UserID); err != nil {
		return apperr.Wrap(op, err)
	}
	c.log.Info("left room", "room_id", roomID)
	return nil
}

// Kick removes targetID from roomID. Only the room creator may do it; the
// target's own client notices on its next membership refresh.
func (c *Coordinator) Kick(ctx context.Context, roomID, targetID string) error {
	const op = "presence.kick"
	if roomID == "" || targetID == "" {
		return apperr.Invalid(op, "room id and target are required")
	}

	room, err := c.deps.Rooms.Get(ctx, roomID)
	if err != nil {
		return apperr.Wrap(op, err)
	}
	if room.CreatedBy != c.me.UserID {
		return apperr.Wrap(op, fmt.Errorf("kick from %s: %w", roomID, apperr.ErrNotPermitted))
	}

	if err := c.deps.Members.Kick(ctx, roomID, targetID, c.me.UserID); err != nil {
		return apperr.Wrap(op, err)
	}
	c.log.Info("kicked member", "room_id", roomID, "target", targetID)
	return nil
}

// Teardown is the best-effort exit hook. It returns at once: local state
// goes ABSENT and two cleanup attempts run in the background (a queued
// intent and a direct delete). The returned channel closes when both were
// tried. Neither is guaranteed to land, so ghost members are possible.
func (c *Coordinator) Teardown() <-chan struct{} {
	done := make(chan struct{})

	c.mu.Lock()
	roomID := c.roomID
	feed := c.resetLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if feed != nil {
		feed.Close()
	}
	if roomID == "" {
		close(done)
		return done
	}
	c.emit(snap)

	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), c.deps.TeardownTimeout)
		defer cancel()

		if c.deps.Queue != nil {
			if err := c.deps.Queue.EnqueueTeardown(ctx, roomID, c.me.UserID); err != nil {
				c.log.Debug("teardown intent not queued", "room_id", roomID, "err", err)
			}
		}
		if err := c.deps.Members.Remove(ctx, roomID, c.me.UserID); err != nil {
			c.log.Debug("teardown delete failed", "room_id", roomID, "err", err)
		}
	}()
	return done
}

// RoomsRefreshed is fed by the rooms feed with the epoch read before the
// rooms were listed. If the occupied room is gone the user is forced ABSENT.
func (c *Coordinator) RoomsRefreshed(epoch uint64, roomIDs []string) {
	c.mu.Lock()
	if c.state != Member || c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	for _, id := range roomIDs {
		if id == c.roomID {
			c.mu.Unlock()
			return
		}
	}
	roomID := c.roomID
	feed := c.resetLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if feed != nil {
		feed.Close()
	}
	c.log.Info("occupied room deleted", "room_id", roomID)
	c.emit(snap)
}

func (c *Coordinator) refreshMembers(roomID string, epoch uint64) dispatch.RefreshFunc {
	return func(ctx context.Context) error {
		profiles, err := c.deps.Members.ListProfiles(ctx, roomID)
		if err != nil {
			return err
		}

		present := false
		for _, p := range profiles {
			if p.ID == c.me.UserID {
				present = true
				break
			}
		}

		c.mu.Lock()
		if c.state != Member || c.epoch != epoch {
			c.mu.Unlock()
			return nil // stale feed
		}
		var feed *dispatch.Handle
		if present {
			c.roster = profiles
		} else {
			feed = c.resetLocked()
		}
		snap := c.snapshotLocked()
		c.mu.Unlock()

		if feed != nil {
			feed.Close()
		}
		if !present {
			c.log.Info("no longer listed in room, going absent", "room_id", roomID)
		}
		c.emit(snap)
		return nil
	}
}

// resetLocked moves to ABSENT and hands back the feed to close outside
// the lock.
func (c *Coordinator) resetLocked() *dispatch.Handle {
	feed := c.feed
	if c.state == Member {
		c.epoch++
	}
	c.state = Absent
	c.roomID = ""
	c.roster = nil
	c.feed = nil
	return feed
}

func (c *Coordinator) emit(s Snapshot) {
	if c.onChange != nil {
		c.onChange(s)
	}
}
