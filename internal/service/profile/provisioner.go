// Package profile guarantees a profiles row exists for an acting identity
// before anything that references it by foreign key is written.
package profile

import (
	"context"
	"fmt"

	"github.com/oggyb/matchroom/internal/db"
	apperr "github.com/oggyb/matchroom/internal/errors"
	"github.com/oggyb/matchroom/internal/identity"
	"github.com/oggyb/matchroom/internal/repository"
)

// DefaultBio is given to lazily created profiles.
const DefaultBio = "This adventurer has not written a bio yet."

// Store is the part of the profile repository the provisioner needs.
type Store interface {
	Exists(ctx context.Context, id string) (bool, error)
	Upsert(ctx context.Context, p db.Profile) (bool, error)
}

var _ Store = (*repository.ProfileRepository)(nil)

type Provisioner struct {
	store Store
}

func NewProvisioner(store Store) *Provisioner {
	return &Provisioner{store: store}
}

// EnsureProfile checks the primary key and upserts a profile when absent.
//
// Behavior:
//   - Concurrent callers racing on the same id all succeed; a uniqueness
//     conflict means someone else created it first.
//   - Display name is the handle's local part, or "User <id prefix>".
func (p *Provisioner) EnsureProfile(ctx context.Context, id identity.Identity) error {
	const op = "profile.ensure"
	if !id.Valid() {
		return apperr.Invalid(op, "missing user id")
	}

	ok, err := p.store.Exists(ctx, id.UserID)
	if err != nil {
		return apperr.Wrap(op, err)
	}
	if ok {
		return nil
	}

	_, err = p.store.Upsert(ctx, db.Profile{
		ID:          id.UserID,
		DisplayName: DisplayName(id),
		Bio:         DefaultBio,
	})
	if err != nil && !apperr.Is(err, apperr.KindConflict) {
		return apperr.Wrap(op, err)
	}
	return nil
}

// DisplayName derives the name shown for a freshly provisioned profile.
func DisplayName(id identity.Identity) string {
	if local := id.LocalPart(); local != "" {
		return local
	}
	prefix := id.UserID
	if len(prefix) > 5 {
		prefix = prefix[:5]
	}
	return fmt.Sprintf("User %s", prefix)
}
