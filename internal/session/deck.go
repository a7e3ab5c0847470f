package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/oggyb/matchroom/internal/db"
	"github.com/oggyb/matchroom/internal/identity"
	"github.com/oggyb/matchroom/internal/service/candidate"
	"github.com/oggyb/matchroom/internal/service/ledger"
)

// ErrExhausted is returned by Swipe when no candidate is on top of the deck.
var ErrExhausted = errors.New("no candidates left")

type Direction int

const (
	Left Direction = iota
	Right
)

// ParseDirection accepts "left"/"right" (and "pass"/"like").
func ParseDirection(s string) (Direction, bool) {
	switch s {
	case "left", "pass":
		return Left, true
	case "right", "like":
		return Right, true
	}
	return Left, false
}

type CandidateSource interface {
	FetchPage(ctx context.Context, userID string, token *string) (candidate.Page, error)
}

type Liker interface {
	RecordLike(ctx context.Context, actor identity.Identity, targetID string) (ledger.Result, error)
}

var (
	_ CandidateSource = (*candidate.Selector)(nil)
	_ Liker           = (*ledger.Ledger)(nil)
)

// SwipeResult describes one swipe. Target is the profile that was swiped.
type SwipeResult struct {
	Target  db.Profile
	Matched bool
	MatchID string
}

// Deck is the presentation cursor over candidate pages. Passing never
// writes anything; a passed profile can come back on a later reload.
type Deck struct {
	me     identity.Identity
	source CandidateSource
	liker  Liker
	log    *slog.Logger

	mu     sync.Mutex
	cards  []db.Profile
	index  int
	next   *string
	loaded bool
}

func NewDeck(me identity.Identity, source CandidateSource, liker Liker, log *slog.Logger) *Deck {
	return &Deck{me: me, source: source, liker: liker, log: log}
}

// Reload drops the current cards and fetches the first page.
func (d *Deck) Reload(ctx context.Context) error {
	page, err := d.source.FetchPage(ctx, d.me.UserID, nil)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.cards = page.Profiles
	d.next = page.Next
	d.index = 0
	d.loaded = true
	return nil
}

// Current returns the profile on top, loading the first page lazily.
func (d *Deck) Current(ctx context.Context) (*db.Profile, error) {
	if err := d.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.index >= len(d.cards) {
		return nil, nil
	}
	p := d.cards[d.index]
	return &p, nil
}

// Cards returns the remaining cards of the loaded page, top first.
func (d *Deck) Cards(ctx context.Context) ([]db.Profile, error) {
	if err := d.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.index >= len(d.cards) {
		return nil, nil
	}
	out := make([]db.Profile, len(d.cards)-d.index)
	copy(out, d.cards[d.index:])
	return out, nil
}

// Position returns the index of the top card and the page size.
func (d *Deck) Position() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.index, len(d.cards)
}

// Exhausted reports the terminal state: every card seen and no more pages.
func (d *Deck) Exhausted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loaded && d.index >= len(d.cards) && d.next == nil
}

// Swipe acts on the top card. A like that fails leaves the card on top.
func (d *Deck) Swipe(ctx context.Context, dir Direction) (SwipeResult, error) {
	top, err := d.Current(ctx)
	if err != nil {
		return SwipeResult{}, err
	}
	if top == nil {
		return SwipeResult{}, ErrExhausted
	}

	res := SwipeResult{Target: *top}
	if dir == Right {
		lr, err := d.liker.RecordLike(ctx, d.me, top.ID)
		if err != nil {
			return SwipeResult{}, err
		}
		res.Matched, res.MatchID = lr.Matched, lr.MatchID
	}

	d.mu.Lock()
	if d.index < len(d.cards) && d.cards[d.index].ID == top.ID {
		d.index++
	}
	needMore := d.index >= len(d.cards) && d.next != nil
	token := d.next
	d.mu.Unlock()

	if needMore {
		d.loadNext(ctx, token)
	}
	return res, nil
}

func (d *Deck) ensureLoaded(ctx context.Context) error {
	d.mu.Lock()
	loaded := d.loaded
	d.mu.Unlock()
	if loaded {
		return nil
	}
	return d.Reload(ctx)
}

func (d *Deck) loadNext(ctx context.Context, token *string) {
	page, err := d.source.FetchPage(ctx, d.me.UserID, token)
	if err != nil {
		// the swipe itself succeeded; the next Reload retries
		d.log.Warn("next candidate page failed", "err", err)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.next != token {
		return // reloaded meanwhile
	}
	d.cards = page.Profiles
	d.next = page.Next
	d.index = 0
}
