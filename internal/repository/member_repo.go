package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/oggyb/matchroom/internal/bus"
	"github.com/oggyb/matchroom/internal/db"
	apperr "github.com/oggyb/matchroom/internal/errors"
)

// MemberRepository provides data access methods for room membership.
type MemberRepository struct {
	db  *gorm.DB
	pub bus.Publisher
}

func NewMemberRepository(database *gorm.DB, pub bus.Publisher) *MemberRepository {
	return &MemberRepository{db: database, pub: pub}
}

// Add inserts (roomID, userID).
//
// Behavior:
//   - The composite primary key rejects a second row; the caller gets
//     gorm.ErrDuplicatedKey and decides it means "already a member".
//   - A vanished room or profile yields gorm.ErrForeignKeyViolated.
func (r *MemberRepository) Add(ctx context.Context, roomID, userID string) error {
	m := db.RoomMember{RoomID: roomID, UserID: userID}
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(&m).Error; err != nil {
		return err
	}
	publish(ctx, r.pub, bus.Event{Table: db.TableRoomMembers, Type: bus.Insert, New: m.Row()})
	return nil
}

// Remove deletes (roomID, userID). Deleting a missing row is not an error.
func (r *MemberRepository) Remove(ctx context.Context, roomID, userID string) error {
	res := r.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Delete(&db.RoomMember{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		m := db.RoomMember{RoomID: roomID, UserID: userID}
		publish(ctx, r.pub, bus.Event{Table: db.TableRoomMembers, Type: bus.Delete, Old: m.Row()})
	}
	return nil
}

// Kick deletes targetID's membership on behalf of ownerID.
//
// Behavior:
//   - The delete is scoped by a sub-select on rooms.created_by, so it
//     only ever succeeds for the room creator.
//   - When nothing was deleted the room ownership is checked to tell
//     "not permitted" apart from "target already gone" (a no-op).
func (r *MemberRepository) Kick(ctx context.Context, roomID, targetID, ownerID string) error {
	owned := r.db.Model(&db.Room{}).
		Select("id").
		Where("id = ? AND created_by = ?", roomID, ownerID)

	res := r.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ? AND room_id IN (?)", roomID, targetID, owned).
		Delete(&db.RoomMember{})
	if res.Error != nil {
		return res.Error
	}

	if res.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&db.Room{}).
			Where("id = ? AND created_by = ?", roomID, ownerID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("kick from room %s: %w", roomID, apperr.ErrNotPermitted)
		}
		return nil
	}

	m := db.RoomMember{RoomID: roomID, UserID: targetID}
	publish(ctx, r.pub, bus.Event{Table: db.TableRoomMembers, Type: bus.Delete, Old: m.Row()})
	return nil
}

// ListUserIDs returns member ids of roomID in join order.
func (r *MemberRepository) ListUserIDs(ctx context.Context, roomID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&db.RoomMember{}).
		Where("room_id = ?", roomID).
		Order("created_at ASC, user_id ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}

// ListProfiles returns the profiles present in roomID in join order.
func (r *MemberRepository) ListProfiles(ctx context.Context, roomID string) ([]db.Profile, error) {
	var profiles []db.Profile
	err := r.db.WithContext(ctx).
		Table("profiles p").
		Select("p.*").
		Joins("JOIN room_members m ON m.user_id = p.id").
		Where("m.room_id = ?", roomID).
		Order("m.created_at ASC, p.id ASC").
		Find(&profiles).Error
	return profiles, err
}

// RoomsOf lists the rooms userID is a member of in the data layer.
func (r *MemberRepository) RoomsOf(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&db.RoomMember{}).
		Where("user_id = ?", userID).
		Pluck("room_id", &ids).Error
	return ids, err
}
