package repository

import (
	"context"

	"github.com/oggyb/matchroom/internal/bus"
	"github.com/oggyb/matchroom/internal/logger"
)

// publish emits a change event after a committed write. The write already
// happened, so a bus failure is only logged: subscribers converge on their
// next full refresh.
func publish(ctx context.Context, pub bus.Publisher, events ...bus.Event) {
	if pub == nil {
		return
	}
	for _, ev := range events {
		if err := pub.Publish(ctx, ev); err != nil {
			logger.Warn("change event not published", "table", ev.Table, "type", ev.Type, "err", err)
		}
	}
}
