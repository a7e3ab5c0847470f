package engine

import (
	"strings"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oggyb/matchroom/internal/db"
	"github.com/oggyb/matchroom/internal/service/presence"
	"github.com/oggyb/matchroom/internal/session"
)

func str(req *structpb.Struct, key string) string {
	return strings.TrimSpace(req.GetFields()[key].GetStringValue())
}

func num(req *structpb.Struct, key string) (int, bool) {
	v, ok := req.GetFields()[key]
	if !ok {
		return 0, false
	}
	if _, isNum := v.GetKind().(*structpb.Value_NumberValue); !isNum {
		return 0, false
	}
	return int(v.GetNumberValue()), true
}

func profileValue(p db.Profile) map[string]any {
	return map[string]any{"id": p.ID, "display_name": p.DisplayName, "bio": p.Bio}
}

func profileList(ps []db.Profile) []any {
	out := make([]any, 0, len(ps))
	for _, p := range ps {
		out = append(out, profileValue(p))
	}
	return out
}

func roomValue(r db.Room) map[string]any {
	return map[string]any{
		"id":         r.ID,
		"name":       r.Name,
		"created_by": r.CreatedBy,
		"created_at": r.CreatedAt.UnixMilli(),
	}
}

func noticeValue(n *session.Notice) any {
	if n == nil {
		return nil
	}
	return map[string]any{
		"match_id":  n.MatchID,
		"peer_id":   n.PeerID,
		"peer_name": n.PeerName,
		"at":        n.At.UnixMilli(),
	}
}

func presenceValue(p presence.Snapshot) map[string]any {
	return map[string]any{
		"state":   p.State.String(),
		"room_id": p.RoomID,
		"members": profileList(p.Members),
	}
}
