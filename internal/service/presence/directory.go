package presence

import (
	"context"
	"strings"

	"github.com/oggyb/matchroom/internal/db"
	apperr "github.com/oggyb/matchroom/internal/errors"
	"github.com/oggyb/matchroom/internal/identity"
)

// RoomTakenMsg is shown when a room name is already in use.
const RoomTakenMsg = "A room with that name already exists."

// Directory lists, creates and deletes rooms.
type Directory struct {
	rooms RoomStore
	prov  Provisioner
}

func NewDirectory(rooms RoomStore, prov Provisioner) *Directory {
	return &Directory{rooms: rooms, prov: prov}
}

// List returns every room, newest first.
func (d *Directory) List(ctx context.Context) ([]db.Room, error) {
	rooms, err := d.rooms.List(ctx)
	if err != nil {
		return nil, apperr.Wrap("rooms.list", err)
	}
	return rooms, nil
}

// Create makes a room owned by me. A taken name is a Conflict and is
// surfaced, unlike conflicts on likes and joins.
func (d *Directory) Create(ctx context.Context, me identity.Identity, name string) (*db.Room, error) {
	const op = "rooms.create"
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Invalid(op, "room name is required")
	}

	if err := d.prov.EnsureProfile(ctx, me); err != nil {
		return nil, apperr.Wrap(op, err)
	}

	room, err := d.rooms.Create(ctx, name, me.UserID)
	if err != nil {
		if apperr.Is(err, apperr.KindConflict) {
			return nil, apperr.WithMessage(op, RoomTakenMsg, err)
		}
		return nil, apperr.Wrap(op, err)
	}
	return room, nil
}

// Delete removes roomID if me created it. Memberships cascade.
func (d *Directory) Delete(ctx context.Context, me identity.Identity, roomID string) error {
	if roomID == "" {
		return apperr.Invalid("rooms.delete", "missing room id")
	}
	return apperr.Wrap("rooms.delete", d.rooms.Delete(ctx, roomID, me.UserID))
}
