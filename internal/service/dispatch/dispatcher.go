// Package dispatch turns bus events into full-refresh signals, one per
// logical feed. Any event on a feed re-queries that feed's canonical
// state; events are never applied incrementally.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oggyb/matchroom/internal/bus"
	"github.com/oggyb/matchroom/internal/logger"
)

// ErrFeedLost is recorded when the bus closed a subscription we did not close.
var ErrFeedLost = errors.New("change feed lost")

// RefreshFunc re-queries a feed's canonical state.
type RefreshFunc func(ctx context.Context) error

type Dispatcher struct {
	sub     bus.Subscriber
	log     *slog.Logger
	timeout time.Duration

	mu     sync.Mutex
	feeds  map[string]*Handle
	closed bool
}

// New creates a dispatcher. timeout bounds each refresh; zero means 5s.
func New(sub bus.Subscriber, log *slog.Logger, timeout time.Duration) *Dispatcher {
	if log == nil {
		log = logger.L()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{sub: sub, log: log, timeout: timeout, feeds: make(map[string]*Handle)}
}

// Watch subscribes to filter and calls refresh once immediately and again
// after any matching event. A previous feed with the same name is closed.
func (d *Dispatcher) Watch(ctx context.Context, name string, filter bus.Filter, refresh RefreshFunc) (*Handle, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("watch %s: dispatcher closed", name)
	}

	sub, err := d.sub.Subscribe(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", name, err)
	}

	h := &Handle{
		owner:   d,
		name:    name,
		sub:     sub,
		refresh: refresh,
		base:    context.WithoutCancel(ctx),
		timeout: d.timeout,
		log:     d.log.With("feed", name),
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		_ = sub.Close()
		return nil, fmt.Errorf("watch %s: dispatcher closed", name)
	}
	prev := d.feeds[name]
	d.feeds[name] = h
	d.mu.Unlock()

	if prev != nil {
		prev.Close()
	}

	go h.pump()
	go h.loop()
	h.Trigger()
	return h, nil
}

// Feed returns the live handle for name, or nil.
func (d *Dispatcher) Feed(name string) *Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.feeds[name]
}

func (d *Dispatcher) forget(h *Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.feeds[h.name] == h {
		delete(d.feeds, h.name)
	}
}

// Close tears down every feed. Watch fails afterwards.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	feeds := d.feeds
	d.feeds = make(map[string]*Handle)
	d.mu.Unlock()

	for _, h := range feeds {
		h.Close()
	}
}

// Handle is one live feed. Close is non-blocking and idempotent.
type Handle struct {
	owner   *Dispatcher
	name    string
	sub     bus.Subscription
	refresh RefreshFunc
	base    context.Context
	timeout time.Duration
	log     *slog.Logger

	signal    chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	refreshes atomic.Int64
	lastErr   atomic.Pointer[error]
}

func (h *Handle) Name() string { return h.name }

// Trigger requests a refresh. Requests arriving while one is pending
// collapse into it.
func (h *Handle) Trigger() {
	select {
	case h.signal <- struct{}{}:
	default:
	}
}

// Refreshes counts completed refresh attempts, failed ones included.
func (h *Handle) Refreshes() int64 { return h.refreshes.Load() }

// Err returns the outcome of the latest refresh, or ErrFeedLost.
func (h *Handle) Err() error {
	if p := h.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Done is closed once the feed was closed.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Close stops the feed and drops it from its dispatcher unless a newer
// feed has taken the name.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
		_ = h.sub.Close()
		h.owner.forget(h)
	})
}

func (h *Handle) pump() {
	for range h.sub.Events() {
		h.Trigger()
	}
	select {
	case <-h.done:
	default:
		h.log.Warn("change feed ended unexpectedly")
		h.setErr(ErrFeedLost)
	}
}

func (h *Handle) loop() {
	for {
		select {
		case <-h.done:
			return
		case <-h.signal:
			select {
			case <-h.done:
				return
			default:
			}
			h.run()
		}
	}
}

func (h *Handle) run() {
	ctx, cancel := context.WithTimeout(h.base, h.timeout)
	defer cancel()
	defer h.refreshes.Add(1)
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("refresh panicked", "panic", r)
			h.setErr(fmt.Errorf("refresh %s panicked: %v", h.name, r))
		}
	}()

	err := h.refresh(ctx)
	if err != nil {
		h.log.Warn("refresh failed", "err", err)
	}
	h.setErr(err)
}

func (h *Handle) setErr(err error) {
	h.lastErr.Store(&err)
}
