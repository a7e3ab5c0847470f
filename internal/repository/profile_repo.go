package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/oggyb/matchroom/internal/bus"
	"github.com/oggyb/matchroom/internal/db"
	apperr "github.com/oggyb/matchroom/internal/errors"
	"github.com/oggyb/matchroom/internal/utils/pagination"
)

// ProfileRepository provides data access methods for the Profile model.
type ProfileRepository struct {
	db  *gorm.DB
	pub bus.Publisher
}

// NewProfileRepository creates a new repository bound to the given DB connection.
// pub may be nil, in which case no change events are emitted.
func NewProfileRepository(database *gorm.DB, pub bus.Publisher) *ProfileRepository {
	return &ProfileRepository{db: database, pub: pub}
}

// Exists checks the primary key only.
func (r *ProfileRepository) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&db.Profile{}).
		Where("id = ?", id).
		Count(&count).Error
	return count > 0, err
}

// Get loads one profile. Missing rows yield apperr.ErrNotFound.
func (r *ProfileRepository) Get(ctx context.Context, id string) (*db.Profile, error) {
	var p db.Profile
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Upsert inserts p unless a profile with the same id exists.
//
// Behavior:
//   - An existing row is left untouched (the engine never rewrites profiles
//     it did not create).
//   - Two callers racing on the same id both succeed; only the winner
//     emits an INSERT event.
//
// Returns whether a row was created.
func (r *ProfileRepository) Upsert(ctx context.Context, p db.Profile) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).
		Create(&p)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	publish(ctx, r.pub, bus.Event{Table: db.TableProfiles, Type: bus.Insert, New: p.Row()})
	return true, nil
}

// ListPage returns profiles newest first.
//
// Behavior:
//   - Ordered by created_at DESC, id DESC (ids break ties within a seed batch).
//   - Supports cursor-based pagination via paginationToken.
//   - No exclusion happens here; callers filter the page themselves.
//
// Example:
//
//	repo.ListPage(ctx, nil, 50) // first 50 profiles
func (r *ProfileRepository) ListPage(
	ctx context.Context,
	paginationToken *string,
	limit int,
) ([]db.Profile, *string, error) {
	var profiles []db.Profile

	cursor, err := pagination.Decode(getString(paginationToken))
	if err != nil {
		return nil, nil, apperr.Invalid("profiles.list", err.Error())
	}

	query := r.db.WithContext(ctx).
		Model(&db.Profile{}).
		Order("created_at DESC, id DESC").
		Limit(limit + 1)

	// apply cursor
	if !cursor.IsZero() {
		ts := time.UnixMilli(cursor.CreatedUnix).UTC()
		query = query.Where(
			"(created_at < ? OR (created_at = ? AND id < ?))",
			ts, ts, cursor.ID,
		)
	}

	if err := query.Find(&profiles).Error; err != nil {
		return nil, nil, err
	}

	// pagination: build next cursor if needed
	var nextToken *string
	if len(profiles) > limit {
		profiles = profiles[:limit]
		token := CursorAfter(profiles[limit-1])
		nextToken = &token
	}

	return profiles, nextToken, nil
}

// CursorAfter encodes the keyset position just past p.
func CursorAfter(p db.Profile) string {
	token, _ := pagination.Encode(pagination.Cursor{
		ID:          p.ID,
		CreatedUnix: p.CreatedAt.UnixMilli(),
	})
	return token
}

// getString safely dereferences a string pointer for pagination tokens.
func getString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
