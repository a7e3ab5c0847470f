package db

import (
	"strconv"
	"time"
)

const (
	TableProfiles    = "profiles"
	TableRooms       = "rooms"
	TableRoomMembers = "room_members"
	TableMatches     = "matches"
)

// MatchStatus is monotonic: pending -> matched, never back.
type MatchStatus string

const (
	StatusPending MatchStatus = "pending"
	StatusMatched MatchStatus = "matched"
)

// Profile is keyed by the identity provider's subject. The engine only
// upserts profiles, it never deletes them.
type Profile struct {
	ID          string    `gorm:"primaryKey;size:36;index:idx_profiles_created_id,priority:2"`
	DisplayName string    `gorm:"size:128;not null"`
	Bio         string    `gorm:"size:512"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index:idx_profiles_created_id,priority:1,sort:desc"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

func (Profile) TableName() string { return TableProfiles }

// Room is deleted only by its creator; memberships cascade.
type Room struct {
	ID        string    `gorm:"primaryKey;size:36"`
	Name      string    `gorm:"uniqueIndex;size:128;not null"`
	CreatedBy string    `gorm:"size:36;not null;index"`
	Creator   Profile   `gorm:"foreignKey:CreatedBy;references:ID"`
	CreatedAt time.Time `gorm:"autoCreateTime;index"`
}

func (Room) TableName() string { return TableRooms }

// RoomMember means "user is currently present in room". Composite PK
// (RoomID, UserID) allows at most one row per pair.
type RoomMember struct {
	RoomID    string    `gorm:"primaryKey;size:36"`
	UserID    string    `gorm:"primaryKey;size:36;index"`
	Room      Room      `gorm:"foreignKey:RoomID;references:ID;constraint:OnDelete:CASCADE"`
	Profile   Profile   `gorm:"foreignKey:UserID;references:ID"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (RoomMember) TableName() string { return TableRoomMembers }

// Match is one directed interaction row.
//
// Unique index idx_liker_liked(liker_id, liked_id) guarantees a single row
// per ordered pair. A reciprocal like flips the existing row to matched
// instead of inserting the reverse direction.
//
// Indexes:
//   - idx_liked_status(liked_id, status) serves "did the target already like me"
//     and "matches involving me" lookups.
type Match struct {
	ID        string      `gorm:"primaryKey;size:36"`
	LikerID   string      `gorm:"size:36;not null;uniqueIndex:idx_liker_liked,priority:1"`
	LikedID   string      `gorm:"size:36;not null;uniqueIndex:idx_liker_liked,priority:2;index:idx_liked_status,priority:1"`
	Status    MatchStatus `gorm:"size:16;not null;default:pending;index:idx_liked_status,priority:2"`
	Liker     Profile     `gorm:"foreignKey:LikerID;references:ID"`
	Liked     Profile     `gorm:"foreignKey:LikedID;references:ID"`
	CreatedAt time.Time   `gorm:"autoCreateTime"`
	UpdatedAt time.Time   `gorm:"autoUpdateTime"`
}

func (Match) TableName() string { return TableMatches }

// Peer returns the other side of the interaction relative to userID.
func (m Match) Peer(userID string) string {
	if m.LikerID == userID {
		return m.LikedID
	}
	return m.LikerID
}

// Row flattens records into the column map carried by change events.

func (p Profile) Row() map[string]string {
	return map[string]string{"id": p.ID, "display_name": p.DisplayName, "bio": p.Bio}
}

func (r Room) Row() map[string]string {
	return map[string]string{
		"id":         r.ID,
		"name":       r.Name,
		"created_by": r.CreatedBy,
		"created_at": strconv.FormatInt(r.CreatedAt.UnixMilli(), 10),
	}
}

func (m RoomMember) Row() map[string]string {
	return map[string]string{"room_id": m.RoomID, "user_id": m.UserID}
}

func (m Match) Row() map[string]string {
	return map[string]string{
		"id":       m.ID,
		"liker_id": m.LikerID,
		"liked_id": m.LikedID,
		"status":   string(m.Status),
	}
}

// Models lists every table in migration order.
func Models() []any {
	return []any{&Profile{}, &Room{}, &RoomMember{}, &Match{}}
}
