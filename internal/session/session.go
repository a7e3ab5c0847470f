// Package session bundles the per-identity engine state: the swipe deck,
// the room directory, the presence coordinator and the dispatcher feeds
// that keep them in sync with the store.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oggyb/matchroom/internal/bus"
	"github.com/oggyb/matchroom/internal/db"
	apperr "github.com/oggyb/matchroom/internal/errors"
	"github.com/oggyb/matchroom/internal/identity"
	"github.com/oggyb/matchroom/internal/logger"
	"github.com/oggyb/matchroom/internal/repository"
	"github.com/oggyb/matchroom/internal/service/dispatch"
	"github.com/oggyb/matchroom/internal/service/presence"
)

const (
	FeedRooms   = "rooms"
	FeedMatches = "matches"
)

type UpdateKind string

const (
	UpdatePresence UpdateKind = "presence"
	UpdateRooms    UpdateKind = "rooms"
	UpdateMatches  UpdateKind = "matches"
	UpdateNotice   UpdateKind = "notice"
	UpdateDeck     UpdateKind = "deck"
)

// Update tells watchers which view changed; they re-read it.
type Update struct {
	Kind UpdateKind
	At   time.Time
}

type MatchLister interface {
	ListInvolving(ctx context.Context, userID string) ([]db.Match, error)
}

type ProfileReader interface {
	Get(ctx context.Context, id string) (*db.Profile, error)
}

var (
	_ MatchLister   = (*repository.MatchRepository)(nil)
	_ ProfileReader = (*repository.ProfileRepository)(nil)
)

// Seeder inserts count demo profiles idempotently.
type Seeder func(ctx context.Context, count int) (int, error)

// Deps are shared by all sessions of a process.
type Deps struct {
	Candidates CandidateSource
	Ledger     Liker
	Directory  *presence.Directory
	Presence   presence.Deps // Dispatcher is replaced per session
	Matches    MatchLister
	Profiles   ProfileReader
	Bus        bus.Subscriber
	Seed       Seeder
	Log        *slog.Logger
	// RefreshTimeout bounds each feed refresh.
	RefreshTimeout time.Duration
}

type Session struct {
	me    identity.Identity
	deps  Deps
	log   *slog.Logger
	disp  *dispatch.Dispatcher
	deck  *Deck
	coord *presence.Coordinator

	mu       sync.Mutex
	rooms    []db.Room
	baseline map[string]db.MatchStatus
	primed   bool
	notices  *notices
	subs     map[int]chan Update
	nextSub  int
	closed   bool
}

// Open starts a session for me and its rooms and matches feeds.
func Open(ctx context.Context, me identity.Identity, deps Deps) (*Session, error) {
	if !me.Valid() {
		return nil, apperr.Invalid("session.open", "missing identity")
	}
	if deps.Log == nil {
		deps.Log = logger.L()
	}
	log := logger.ForUser(deps.Log, me.UserID)

	s := &Session{
		me:       me,
		deps:     deps,
		log:      log,
		disp:     dispatch.New(deps.Bus, log, deps.RefreshTimeout),
		baseline: make(map[string]db.MatchStatus),
		notices:  newNotices(),
		subs:     make(map[int]chan Update),
	}
	s.deck = NewDeck(me, deps.Candidates, deps.Ledger, log)

	pdeps := deps.Presence
	pdeps.Dispatcher = s.disp
	pdeps.Log = log
	s.coord = presence.NewCoordinator(me, pdeps, func(presence.Snapshot) { s.broadcast(UpdatePresence) })

	if _, err := s.disp.Watch(ctx, FeedRooms, bus.Filter{Table: db.TableRooms}, s.refreshRooms); err != nil {
		s.disp.Close()
		return nil, apperr.Wrap("session.open", err)
	}
	matchFilter := bus.Filter{Table: db.TableMatches, Any: map[string]string{"liker_id": me.UserID, "liked_id": me.UserID}}
	if _, err := s.disp.Watch(ctx, FeedMatches, matchFilter, s.refreshMatches); err != nil {
		s.disp.Close()
		return nil, apperr.Wrap("session.open", err)
	}

	if n, err := s.coord.ClearStale(ctx); err != nil {
		log.Warn("clearing stale memberships failed", "err", err)
	} else if n > 0 {
		log.Info("cleared stale memberships", "count", n)
	}

	log.Info("session opened")
	return s, nil
}

func (s *Session) Identity() identity.Identity { return s.me }

// Dispatcher exposes the session feeds, mostly for diagnostics.
func (s *Session) Dispatcher() *dispatch.Dispatcher { return s.disp }

// ---- swipe workflow ----

func (s *Session) Deck() *Deck { return s.deck }

// Swipe acts on the top card and raises the match notice on a reciprocal
// like.
func (s *Session) Swipe(ctx context.Context, dir Direction) (SwipeResult, error) {
	res, err := s.deck.Swipe(ctx, dir)
	if err != nil {
		return res, err
	}
	if res.Matched && s.notices.raise(Notice{MatchID: res.MatchID, PeerID: res.Target.ID, PeerName: res.Target.DisplayName, At: time.Now()}) {
		s.broadcast(UpdateNotice)
	}
	s.broadcast(UpdateDeck)
	return res, nil
}

// SeedDemo inserts demo profiles and reloads the deck. It is the recovery
// action offered when the deck is exhausted.
func (s *Session) SeedDemo(ctx context.Context, count int) (int, error) {
	if s.deps.Seed == nil {
		return 0, apperr.Invalid("session.seed", "demo seeding is not available")
	}
	n, err := s.deps.Seed(ctx, count)
	if err != nil {
		return 0, apperr.Wrap("session.seed", err)
	}
	if err := s.deck.Reload(ctx); err != nil {
		return n, apperr.Wrap("session.seed", err)
	}
	s.broadcast(UpdateDeck)
	return n, nil
}

// Notice returns the pending match notice, if any.
func (s *Session) Notice() *Notice { return s.notices.current() }

// DismissNotice clears the pending notice. Dismissed matches never show again.
func (s *Session) DismissNotice() {
	if s.notices.dismiss() {
		s.broadcast(UpdateNotice)
	}
}

// ---- room workflow ----

// Rooms returns the rooms list as of the last refresh of the rooms feed.
func (s *Session) Rooms() []db.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]db.Room, len(s.rooms))
	copy(out, s.rooms)
	return out
}

// ListRooms queries the directory now instead of waiting for the feed.
func (s *Session) ListRooms(ctx context.Context) ([]db.Room, error) {
	rooms, err := s.deps.Directory.List(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.rooms = rooms
	s.mu.Unlock()
	return rooms, nil
}

// CreateRoom creates a room and joins it.
func (s *Session) CreateRoom(ctx context.Context, name string) (*db.Room, error) {
	room, err := s.deps.Directory.Create(ctx, s.me, name)
	if err != nil {
		return nil, err
	}
	if err := s.coord.Join(ctx, room.ID); err != nil {
		return room, err
	}
	return room, nil
}

func (s *Session) DeleteRoom(ctx context.Context, roomID string) error {
	return s.deps.Directory.Delete(ctx, s.me, roomID)
}

func (s *Session) JoinRoom(ctx context.Context, roomID string) error {
	return s.coord.Join(ctx, roomID)
}

func (s *Session) LeaveRoom(ctx context.Context, roomID string) error {
	return s.coord.Leave(ctx, roomID)
}

func (s *Session) Kick(ctx context.Context, roomID, targetID string) error {
	return s.coord.Kick(ctx, roomID, targetID)
}

func (s *Session) Presence() presence.Snapshot { return s.coord.Snapshot() }

// Resync re-runs every live feed. The bus does not replay, so a watcher
// that (re)connects calls this to catch up on what it missed.
func (s *Session) Resync() {
	for _, name := range []string{FeedRooms, FeedMatches, presence.FeedRoomMembers} {
		if h := s.disp.Feed(name); h != nil {
			h.Trigger()
		}
	}
}

// ---- updates ----

// Subscribe returns a stream of view updates. Slow readers miss updates
// rather than stall the session; every update means "re-read the view".
func (s *Session) Subscribe() (<-chan Update, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Update, 8)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	key := s.nextSub
	s.nextSub++
	s.subs[key] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[key]; ok {
			delete(s.subs, key)
			close(c)
		}
	}
}

func (s *Session) broadcast(kind UpdateKind) {
	u := Update{Kind: kind, At: time.Now()}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

// Close runs the best-effort teardown and stops every feed. It does not
// wait; the returned channel closes when the cleanup attempts finished.
func (s *Session) Close() <-chan struct{} {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		done := make(chan struct{})
		close(done)
		return done
	}
	s.closed = true
	s.mu.Unlock()

	done := s.coord.Teardown()
	s.disp.Close()

	s.mu.Lock()
	for key, ch := range s.subs {
		delete(s.subs, key)
		close(ch)
	}
	s.mu.Unlock()

	s.log.Info("session closed")
	return done
}

// ---- feed refreshes ----

func (s *Session) refreshRooms(ctx context.Context) error {
	epoch := s.coord.Epoch()
	rooms, err := s.deps.Directory.List(ctx)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(rooms))
	for _, r := range rooms {
		ids = append(ids, r.ID)
	}

	s.mu.Lock()
	s.rooms = rooms
	s.mu.Unlock()

	s.coord.RoomsRefreshed(epoch, ids)
	s.broadcast(UpdateRooms)
	return nil
}

// refreshMatches re-reads every row involving me and raises a notice for
// rows that turned matched since the previous refresh where I was the
// liked side (the other user liked first). The first refresh only records
// a baseline.
func (s *Session) refreshMatches(ctx context.Context) error {
	rows, err := s.deps.Matches.ListInvolving(ctx, s.me.UserID)
	if err != nil {
		return err
	}

	var fresh []db.Match
	s.mu.Lock()
	for _, m := range rows {
		prev, seen := s.baseline[m.ID]
		if s.primed && m.Status == db.StatusMatched && (!seen || prev != db.StatusMatched) && m.LikedID == s.me.UserID {
			fresh = append(fresh, m)
		}
		s.baseline[m.ID] = m.Status
	}
	s.primed = true
	s.mu.Unlock()

	raised := false
	for _, m := range fresh {
		n := Notice{MatchID: m.ID, PeerID: m.Peer(s.me.UserID), At: m.UpdatedAt}
		if p, err := s.deps.Profiles.Get(ctx, n.PeerID); err == nil {
			n.PeerName = p.DisplayName
		}
		if s.notices.raise(n) {
			raised = true
		}
	}

	s.broadcast(UpdateMatches)
	if raised {
		s.broadcast(UpdateNotice)
	}
	return nil
}
