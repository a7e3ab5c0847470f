package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/oggyb/matchroom/internal/bus"
	"github.com/oggyb/matchroom/internal/db"
	apperr "github.com/oggyb/matchroom/internal/errors"
)

// RoomRepository provides data access methods for the Room model.
type RoomRepository struct {
	db  *gorm.DB
	pub bus.Publisher
}

func NewRoomRepository(database *gorm.DB, pub bus.Publisher) *RoomRepository {
	return &RoomRepository{db: database, pub: pub}
}

// Create inserts a room owned by creatorID. A taken name comes back as
// gorm.ErrDuplicatedKey, an unknown creator as gorm.ErrForeignKeyViolated.
func (r *RoomRepository) Create(ctx context.Context, name, creatorID string) (*db.Room, error) {
	room := db.Room{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedBy: creatorID,
	}
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(&room).Error; err != nil {
		return nil, err
	}
	publish(ctx, r.pub, bus.Event{Table: db.TableRooms, Type: bus.Insert, New: room.Row()})
	return &room, nil
}

func (r *RoomRepository) Get(ctx context.Context, id string) (*db.Room, error) {
	var room db.Room
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// List returns every room, newest first.
func (r *RoomRepository) List(ctx context.Context) ([]db.Room, error) {
	var rooms []db.Room
	err := r.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Find(&rooms).Error
	return rooms, err
}

// Delete removes a room if ownerID created it.
//
// Behavior:
//   - Scoped by created_by, so a non-owner deletes nothing and gets
//     apperr.ErrNotPermitted.
//   - Memberships go with the room (ON DELETE CASCADE); a DELETE event is
//     emitted for each of them after commit so room feeds refresh.
func (r *RoomRepository) Delete(ctx context.Context, roomID, ownerID string) error {
	var members []db.RoomMember

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room db.Room
		if err := tx.Where("id = ?", roomID).Take(&room).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.ErrNotFound
			}
			return err
		}
		if room.CreatedBy != ownerID {
			return fmt.Errorf("delete room %s: %w", roomID, apperr.ErrNotPermitted)
		}

		if err := tx.Where("room_id = ?", roomID).Find(&members).Error; err != nil {
			return err
		}

		res := tx.Where("id = ? AND created_by = ?", roomID, ownerID).Delete(&db.Room{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("delete room %s: %w", roomID, apperr.ErrNotPermitted)
		}
		return nil
	})
	if err != nil {
		return err
	}

	events := make([]bus.Event, 0, len(members)+1)
	events = append(events, bus.Event{Table: db.TableRooms, Type: bus.Delete, Old: map[string]string{"id": roomID, "created_by": ownerID}})
	for _, m := range members {
		events = append(events, bus.Event{Table: db.TableRoomMembers, Type: bus.Delete, Old: m.Row()})
	}
	publish(ctx, r.pub, events...)
	return nil
}
