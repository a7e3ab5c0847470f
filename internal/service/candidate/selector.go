// Package candidate computes the pool of profiles to present to a user.
package candidate

import (
	"context"

	"github.com/oggyb/matchroom/internal/db"
	apperr "github.com/oggyb/matchroom/internal/errors"
	"github.com/oggyb/matchroom/internal/repository"
)

// DefaultPageSize bounds one candidate page.
const DefaultPageSize = 50

type ProfileStore interface {
	ListPage(ctx context.Context, paginationToken *string, limit int) ([]db.Profile, *string, error)
}

type MatchStore interface {
	MatchedPeerIDs(ctx context.Context, userID string) ([]string, error)
}

var (
	_ ProfileStore = (*repository.ProfileRepository)(nil)
	_ MatchStore   = (*repository.MatchRepository)(nil)
)

// Page is one ordered slice of candidates. Next is nil on the last page.
type Page struct {
	Profiles []db.Profile
	Next     *string
}

type Selector struct {
	profiles ProfileStore
	matches  MatchStore
	limit    int
}

func NewSelector(profiles ProfileStore, matches MatchStore, limit int) *Selector {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	return &Selector{profiles: profiles, matches: matches, limit: limit}
}

// FetchCandidates returns the first page of candidates for userID.
func (s *Selector) FetchCandidates(ctx context.Context, userID string) ([]db.Profile, error) {
	page, err := s.FetchPage(ctx, userID, nil)
	if err != nil {
		return nil, err
	}
	return page.Profiles, nil
}

// FetchPage returns up to limit profiles, excluding userID and every peer
// with a matched row in either direction.
//
// Behavior:
//   - Pending likes do not exclude: a liked profile stays visible until
//     it reciprocates.
//   - Exclusion happens here, not in the query. The page is over-fetched
//     by the number of ids that may be dropped.
//   - An empty page is the exhausted state, not an error.
func (s *Selector) FetchPage(ctx context.Context, userID string, token *string) (Page, error) {
	const op = "candidate.fetch"
	if userID == "" {
		return Page{}, apperr.Invalid(op, "missing user id")
	}

	peers, err := s.matches.MatchedPeerIDs(ctx, userID)
	if err != nil {
		return Page{}, apperr.Wrap(op, err)
	}
	excluded := make(map[string]struct{}, len(peers)+1)
	excluded[userID] = struct{}{}
	for _, id := range peers {
		excluded[id] = struct{}{}
	}

	fetched, next, err := s.profiles.ListPage(ctx, token, s.limit+len(excluded))
	if err != nil {
		return Page{}, apperr.Wrap(op, err)
	}

	out := make([]db.Profile, 0, s.limit)
	for _, p := range fetched {
		if _, skip := excluded[p.ID]; skip {
			continue
		}
		if len(out) == s.limit {
			// more eligible rows remain in this window; resume after the last kept one
			cursor := repository.CursorAfter(out[len(out)-1])
			next = &cursor
			break
		}
		out = append(out, p)
	}

	return Page{Profiles: out, Next: next}, nil
}
