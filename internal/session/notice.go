package session

import (
	"sync"
	"time"
)

// Notice is the one-shot "it's a match" notification.
type Notice struct {
	MatchID  string
	PeerID   string
	PeerName string
	At       time.Time
}

// notices shows each match at most once, whichever path saw it first.
type notices struct {
	mu      sync.Mutex
	pending *Notice
	shown   map[string]struct{}
}

func newNotices() *notices {
	return &notices{shown: make(map[string]struct{})}
}

// raise returns false when n.MatchID was already shown.
func (ns *notices) raise(n Notice) bool {
	if n.MatchID == "" {
		return false
	}
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if _, ok := ns.shown[n.MatchID]; ok {
		return false
	}
	ns.shown[n.MatchID] = struct{}{}
	ns.pending = &n
	return true
}

func (ns *notices) current() *Notice {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if ns.pending == nil {
		return nil
	}
	n := *ns.pending
	return &n
}

func (ns *notices) dismiss() bool {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	had := ns.pending != nil
	ns.pending = nil
	return had
}
