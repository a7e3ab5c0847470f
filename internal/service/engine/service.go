// Package engine exposes the matching and presence engine over gRPC to the
// local client.
package engine

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oggyb/matchroom/internal/app"
	svcErr "github.com/oggyb/matchroom/internal/errors"
	"github.com/oggyb/matchroom/internal/identity"
	"github.com/oggyb/matchroom/internal/service/presence"
	"github.com/oggyb/matchroom/internal/session"
)

// ExhaustedMsg is returned when swiping on an empty deck.
const ExhaustedMsg = "No candidates left. Reload or seed demo profiles."

// Service implements the Engine gRPC API on top of per-identity sessions.
type Service struct {
	appCtx   *app.AppContext
	sessions *session.Manager
}

// NewEngineService creates the service. Sessions are opened lazily per
// authenticated identity.
func NewEngineService(appCtx *app.AppContext, sessions *session.Manager) *Service {
	return &Service{appCtx: appCtx, sessions: sessions}
}

var _ EngineServer = (*Service)(nil)

func (s *Service) session(ctx context.Context) (*session.Session, identity.Identity, error) {
	me, ok := identity.FromContext(ctx)
	if !ok {
		return nil, identity.Identity{}, svcErr.Unauthenticated("missing identity")
	}
	sess, err := s.sessions.Get(ctx, me)
	if err != nil {
		s.appCtx.Logger.Error("open session failed", "user_id", me.UserID, "err", err)
		return nil, me, svcErr.Map(err)
	}
	return sess, me, nil
}

func reply(fields map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// ---- identity ----

func (s *Service) SignUp(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := s.appCtx.Identity.SignUp(str(req, "handle"), str(req, "password"))
	switch {
	case errors.Is(err, identity.ErrHandleTaken):
		return nil, status.Error(codes.AlreadyExists, "handle already registered")
	case errors.Is(err, identity.ErrInvalidCredentials):
		return nil, svcErr.InvalidArgument("handle and password are required")
	case err != nil:
		return nil, svcErr.Map(err)
	}
	return reply(map[string]any{"user_id": id.UserID, "handle": id.Handle})
}

func (s *Service) SignIn(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, token, err := s.appCtx.Identity.SignIn(str(req, "handle"), str(req, "password"))
	if errors.Is(err, identity.ErrInvalidCredentials) {
		return nil, svcErr.Unauthenticated("invalid credentials")
	}
	if err != nil {
		return nil, svcErr.Map(err)
	}
	return reply(map[string]any{"user_id": id.UserID, "handle": id.Handle, "token": token})
}

// SignOut announces the sign-out; the session manager reacts by tearing
// the session down.
func (s *Service) SignOut(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	me, ok := identity.FromContext(ctx)
	if !ok {
		return nil, svcErr.Unauthenticated("missing identity")
	}
	s.appCtx.Identity.SignOut(me)
	return reply(map[string]any{})
}

// ---- swipe workflow ----

// Candidates returns the remaining cards of the deck. reload=true starts
// over from the first page.
func (s *Service) Candidates(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sess, _, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	deck := sess.Deck()
	if req.GetFields()["reload"].GetBoolValue() {
		if err := deck.Reload(ctx); err != nil {
			return nil, svcErr.Map(err)
		}
	}

	cards, err := deck.Cards(ctx)
	if err != nil {
		return nil, svcErr.Map(err)
	}
	pos, total := deck.Position()
	return reply(map[string]any{
		"profiles":  profileList(cards),
		"position":  pos,
		"total":     total,
		"exhausted": deck.Exhausted(),
	})
}

// Swipe acts on the top card. direction is left|right (or pass|like).
func (s *Service) Swipe(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	dir, ok := session.ParseDirection(str(req, "direction"))
	if !ok {
		return nil, svcErr.InvalidArgument("direction must be left or right")
	}
	sess, me, err := s.session(ctx)
	if err != nil {
		return nil, err
	}

	res, err := sess.Swipe(ctx, dir)
	if errors.Is(err, session.ErrExhausted) {
		return nil, status.Error(codes.FailedPrecondition, ExhaustedMsg)
	}
	if err != nil {
		s.appCtx.Logger.Warn("swipe failed", "user_id", me.UserID, "err", err)
		return nil, svcErr.Map(err)
	}

	var next any
	if top, err := sess.Deck().Current(ctx); err == nil && top != nil {
		next = profileValue(*top)
	}
	return reply(map[string]any{
		"target":    profileValue(res.Target),
		"matched":   res.Matched,
		"match_id":  res.MatchID,
		"next":      next,
		"exhausted": sess.Deck().Exhausted(),
		"notice":    noticeValue(sess.Notice()),
	})
}

func (s *Service) SeedDemo(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sess, _, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	count, ok := num(req, "count")
	if !ok {
		count = s.appCtx.Config.Engine.DemoSeedCount
	}
	if count <= 0 || count > 1000 {
		return nil, svcErr.InvalidArgument("count must be between 1 and 1000")
	}

	n, err := sess.SeedDemo(ctx, count)
	if err != nil {
		return nil, svcErr.Map(err)
	}
	return reply(map[string]any{"seeded": n})
}

func (s *Service) DismissNotice(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	sess, _, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	sess.DismissNotice()
	return reply(map[string]any{})
}

// ---- room workflow ----

func (s *Service) ListRooms(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	sess, _, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	rooms, err := sess.ListRooms(ctx)
	if err != nil {
		return nil, svcErr.Map(err)
	}
	out := make([]any, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, roomValue(r))
	}
	return reply(map[string]any{"rooms": out})
}

// CreateRoom creates a room and joins it. A taken name is AlreadyExists.
func (s *Service) CreateRoom(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sess, _, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	room, err := sess.CreateRoom(ctx, str(req, "name"))
	if err != nil {
		return nil, svcErr.Map(err)
	}
	return reply(map[string]any{"room": roomValue(*room), "presence": presenceValue(sess.Presence())})
}

func (s *Service) DeleteRoom(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sess, _, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	if err := sess.DeleteRoom(ctx, str(req, "room_id")); err != nil {
		return nil, svcErr.Map(err)
	}
	return reply(map[string]any{})
}

func (s *Service) JoinRoom(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sess, _, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	if err := sess.JoinRoom(ctx, str(req, "room_id")); err != nil {
		return nil, svcErr.Map(err)
	}
	return reply(map[string]any{"presence": presenceValue(sess.Presence())})
}

// LeaveRoom leaves the room. Presence is ABSENT afterwards even when the
// delete failed and an error is returned.
func (s *Service) LeaveRoom(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sess, _, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	if err := sess.LeaveRoom(ctx, str(req, "room_id")); err != nil {
		return nil, svcErr.Map(err)
	}
	return reply(map[string]any{"presence": presenceValue(sess.Presence())})
}

func (s *Service) Kick(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sess, _, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	if err := sess.Kick(ctx, str(req, "room_id"), str(req, "user_id")); err != nil {
		return nil, svcErr.Map(err)
	}
	return reply(map[string]any{})
}

// Presence reports the caller's room state. It does not open a session:
// without one the caller is absent.
func (s *Service) Presence(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	me, ok := identity.FromContext(ctx)
	if !ok {
		return nil, svcErr.Unauthenticated("missing identity")
	}
	sess, ok := s.sessions.Lookup(me.UserID)
	if !ok {
		out := presenceValue(presence.Snapshot{State: presence.Absent})
		out["notice"] = noticeValue(nil)
		return reply(out)
	}
	out := presenceValue(sess.Presence())
	out["notice"] = noticeValue(sess.Notice())
	return reply(out)
}

// Watch streams view-changed updates until the client goes away or the
// session ends.
func (s *Service) Watch(_ *structpb.Struct, stream grpc.ServerStream) error {
	ctx := stream.Context()
	sess, _, err := s.session(ctx)
	if err != nil {
		return err
	}

	updates, cancel := sess.Subscribe()
	defer cancel()
	sess.Resync()

	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			msg, err := reply(map[string]any{"kind": string(u.Kind), "at": u.At.UnixMilli()})
			if err != nil {
				return err
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}
