package presence

import (
	"context"
	"log/slog"
	"time"

	"github.com/oggyb/matchroom/internal/logger"
)

// Janitor acts on teardown intents left by clients that went away. It
// shortens the life of ghost members but cannot remove those whose client
// never got to enqueue anything.
type Janitor struct {
	queue   TeardownQueue
	members MemberStore
	log     *slog.Logger
}

func NewJanitor(queue TeardownQueue, members MemberStore, log *slog.Logger) *Janitor {
	if log == nil {
		log = logger.L()
	}
	return &Janitor{queue: queue, members: members, log: log}
}

// Drain pops intents until the queue is empty and deletes the named rows.
// A failed delete does not stop the drain.
func (j *Janitor) Drain(ctx context.Context) (int, error) {
	removed := 0
	for {
		intent, err := j.queue.DequeueTeardown(ctx)
		if err != nil {
			return removed, err
		}
		if intent == nil {
			return removed, nil
		}
		if err := j.members.Remove(ctx, intent.RoomID, intent.UserID); err != nil {
			j.log.Warn("teardown intent not applied", "room_id", intent.RoomID, "user_id", intent.UserID, "err", err)
			continue
		}
		removed++
	}
}

// Run drains once, then on every interval tick until ctx is done.
func (j *Janitor) Run(ctx context.Context, interval time.Duration) {
	j.drainAndLog(ctx)
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.drainAndLog(ctx)
		}
	}
}

func (j *Janitor) drainAndLog(ctx context.Context) {
	n, err := j.Drain(ctx)
	if err != nil {
		j.log.Warn("teardown drain failed", "err", err)
		return
	}
	if n > 0 {
		j.log.Info("teardown intents applied", "count", n)
	}
}
