// Package ledger records directed likes and derives mutual matches.
package ledger

import (
	"context"
	"log/slog"

	"github.com/oggyb/matchroom/internal/db"
	apperr "github.com/oggyb/matchroom/internal/errors"
	"github.com/oggyb/matchroom/internal/identity"
	"github.com/oggyb/matchroom/internal/logger"
	"github.com/oggyb/matchroom/internal/repository"
)

// ProvisionFailedMsg is shown when the acting profile could not be ensured.
const ProvisionFailedMsg = "Could not process the action. Check your connection."

type Store interface {
	FindDirected(ctx context.Context, likerID, likedID string) (*db.Match, error)
	InsertPending(ctx context.Context, likerID, likedID string) (*db.Match, error)
	MarkMatched(ctx context.Context, m *db.Match) (bool, error)
}

var _ Store = (*repository.MatchRepository)(nil)

type Provisioner interface {
	EnsureProfile(ctx context.Context, id identity.Identity) error
}

// Result of one like. MatchID is set whenever a row was read or written.
type Result struct {
	Matched bool
	MatchID string
}

type Ledger struct {
	store Store
	prov  Provisioner
	log   *slog.Logger
}

func New(store Store, prov Provisioner, log *slog.Logger) *Ledger {
	if log == nil {
		log = logger.L()
	}
	return &Ledger{store: store, prov: prov, log: log}
}

// RecordLike stores actor -> target.
//
// Behavior:
//   - If target already liked actor, that row is flipped to matched. This
//     is the only path that ever produces a match.
//   - Otherwise actor -> target is inserted as pending; a duplicate of the
//     same directed like is treated as already recorded.
//   - Two users liking each other at the same instant can both miss the
//     reverse row and leave two pending rows. That gap is not repaired here.
func (l *Ledger) RecordLike(ctx context.Context, actor identity.Identity, targetID string) (Result, error) {
	const op = "ledger.record_like"

	if targetID == "" {
		return Result{}, apperr.Invalid(op, "missing target")
	}
	if targetID == actor.UserID {
		return Result{}, apperr.Invalid(op, "cannot like yourself")
	}

	if err := l.prov.EnsureProfile(ctx, actor); err != nil {
		l.log.Warn("profile guard failed", "user_id", actor.UserID, "err", err)
		return Result{}, apperr.WithMessage(op, ProvisionFailedMsg, err)
	}

	reverse, err := l.store.FindDirected(ctx, targetID, actor.UserID)
	if err != nil {
		return Result{}, apperr.Wrap(op, err)
	}

	if reverse != nil {
		flipped, err := l.store.MarkMatched(ctx, reverse)
		if err != nil {
			return Result{}, apperr.Wrap(op, err)
		}
		l.log.Debug("reciprocal like", "user_id", actor.UserID, "target", targetID, "match_id", reverse.ID, "flipped", flipped)
		return Result{Matched: true, MatchID: reverse.ID}, nil
	}

	m, err := l.store.InsertPending(ctx, actor.UserID, targetID)
	if err != nil {
		if apperr.Is(err, apperr.KindConflict) {
			// retry of a like we already recorded
			existing, ferr := l.store.FindDirected(ctx, actor.UserID, targetID)
			if ferr == nil && existing != nil {
				return Result{MatchID: existing.ID}, nil
			}
			return Result{}, nil
		}
		return Result{}, apperr.Wrap(op, err)
	}

	l.log.Debug("like recorded", "user_id", actor.UserID, "target", targetID, "match_id", m.ID)
	return Result{MatchID: m.ID}, nil
}
