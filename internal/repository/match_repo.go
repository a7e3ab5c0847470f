package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/oggyb/matchroom/internal/bus"
	"github.com/oggyb/matchroom/internal/db"
)

// MatchRepository provides data access methods for the Match model.
// It encapsulates all queries related to likes between users.
type MatchRepository struct {
	db  *gorm.DB
	pub bus.Publisher
}

// NewMatchRepository creates a new repository bound to the given DB connection.
func NewMatchRepository(database *gorm.DB, pub bus.Publisher) *MatchRepository {
	return &MatchRepository{db: database, pub: pub}
}

// FindDirected returns the row liker -> liked, or nil when there is none.
func (r *MatchRepository) FindDirected(ctx context.Context, likerID, likedID string) (*db.Match, error) {
	var m db.Match
	err := r.db.WithContext(ctx).
		Where("liker_id = ? AND liked_id = ?", likerID, likedID).
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// InsertPending records liker -> liked as pending.
//
// Behavior:
//   - idx_liker_liked rejects a second row for the same ordered pair; the
//     translated gorm.ErrDuplicatedKey is returned untouched so callers can
//     decide that a retry is already satisfied.
//
// Example:
//
//	repo.InsertPending(ctx, "a1", "b1") // a1 liked b1
func (r *MatchRepository) InsertPending(ctx context.Context, likerID, likedID string) (*db.Match, error) {
	m := db.Match{
		ID:      uuid.NewString(),
		LikerID: likerID,
		LikedID: likedID,
		Status:  db.StatusPending,
	}
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(&m).Error; err != nil {
		return nil, err
	}
	publish(ctx, r.pub, bus.Event{Table: db.TableMatches, Type: bus.Insert, New: m.Row()})
	return &m, nil
}

// MarkMatched flips m from pending to matched.
//
// Behavior:
//   - Conditional on status = pending, so status never moves backwards and
//     a concurrent second flip is a no-op.
//   - Returns whether this call performed the transition. m.Status is
//     matched afterwards either way.
func (r *MatchRepository) MarkMatched(ctx context.Context, m *db.Match) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&db.Match{}).
		Where("id = ? AND status = ?", m.ID, db.StatusPending).
		Update("status", db.StatusMatched)
	if res.Error != nil {
		return false, res.Error
	}

	before := m.Row()
	m.Status = db.StatusMatched
	if res.RowsAffected == 0 {
		return false, nil
	}

	publish(ctx, r.pub, bus.Event{Table: db.TableMatches, Type: bus.Update, Old: before, New: m.Row()})
	return true, nil
}

// MatchedPeerIDs returns every user that has a matched row with userID,
// in either direction.
func (r *MatchRepository) MatchedPeerIDs(ctx context.Context, userID string) ([]string, error) {
	var rows []db.Match
	err := r.db.WithContext(ctx).
		Select("liker_id", "liked_id").
		Where("status = ?", db.StatusMatched).
		Where("(liker_id = ? OR liked_id = ?)", userID, userID).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	peers := make([]string, 0, len(rows))
	for _, m := range rows {
		peers = append(peers, m.Peer(userID))
	}
	return peers, nil
}

// ListInvolving returns all rows where userID is liker or liked, newest first.
// This is the canonical state of the "matches involving me" feed.
func (r *MatchRepository) ListInvolving(ctx context.Context, userID string) ([]db.Match, error) {
	var rows []db.Match
	err := r.db.WithContext(ctx).
		Where("liker_id = ? OR liked_id = ?", userID, userID).
		Order("created_at DESC, id DESC").
		Find(&rows).Error
	return rows, err
}
