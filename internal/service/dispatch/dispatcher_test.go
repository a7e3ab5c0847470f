package dispatch_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oggyb/matchroom/internal/bus"
	"github.com/oggyb/matchroom/internal/logger"
	"github.com/oggyb/matchroom/internal/service/dispatch"
	"github.com/oggyb/matchroom/internal/testutil"
)

const wait = 2 * time.Second
const tick = 10 * time.Millisecond

func TestWatch_InitialRefreshAndEventRefresh(t *testing.T) {
	ctx := context.Background()
	b, _ := testutil.NewBus(t)
	d := dispatch.New(b, logger.Discard(), time.Second)
	defer d.Close()

	var calls atomic.Int64
	h, err := d.Watch(ctx, "members", bus.Filter{Table: "room_members", Any: map[string]string{"room_id": "r1"}},
		func(context.Context) error { calls.Add(1); return nil })
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return h.Refreshes() == 1 }, wait, tick)

	require.NoError(t, b.Publish(ctx, bus.Event{Table: "room_members", Type: bus.Delete, Old: map[string]string{"room_id": "r1", "user_id": "u"}}))
	assert.Eventually(t, func() bool { return h.Refreshes() >= 2 }, wait, tick)

	// filtered out: another room
	before := h.Refreshes()
	require.NoError(t, b.Publish(ctx, bus.Event{Table: "room_members", Type: bus.Insert, New: map[string]string{"room_id": "r2"}}))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, h.Refreshes())
	assert.Equal(t, before, calls.Load())
}

func TestWatch_ReplacesFeedWithSameName(t *testing.T) {
	ctx := context.Background()
	b, _ := testutil.NewBus(t)
	d := dispatch.New(b, logger.Discard(), time.Second)
	defer d.Close()

	noop := func(context.Context) error { return nil }
	first, err := d.Watch(ctx, "room", bus.Filter{Table: "room_members"}, noop)
	require.NoError(t, err)
	second, err := d.Watch(ctx, "room", bus.Filter{Table: "room_members"}, noop)
	require.NoError(t, err)

	select {
	case <-first.Done():
	case <-time.After(wait):
		t.Fatal("previous feed not closed")
	}
	assert.Same(t, second, d.Feed("room"))

	// closing the replaced feed leaves the live one registered
	first.Close()
	assert.Same(t, second, d.Feed("room"))

	second.Close()
	assert.Nil(t, d.Feed("room"))
	<-second.Done()
}

func TestWatch_RefreshFailureKeepsFeedAlive(t *testing.T) {
	ctx := context.Background()
	b, _ := testutil.NewBus(t)
	d := dispatch.New(b, logger.Discard(), time.Second)
	defer d.Close()

	var fail atomic.Bool
	fail.Store(true)
	h, err := d.Watch(ctx, "rooms", bus.Filter{Table: "rooms"}, func(context.Context) error {
		if fail.Load() {
			return errors.New("boom")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return h.Err() != nil }, wait, tick)

	fail.Store(false)
	require.NoError(t, b.Publish(ctx, bus.Event{Table: "rooms", Type: bus.Insert, New: map[string]string{"id": "r"}}))
	assert.Eventually(t, func() bool { return h.Refreshes() >= 2 && h.Err() == nil }, wait, tick)
}

func TestWatch_RefreshOutlivesRequestContext(t *testing.T) {
	b, _ := testutil.NewBus(t)
	d := dispatch.New(b, logger.Discard(), time.Second)
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	h, err := d.Watch(ctx, "rooms", bus.Filter{Table: "rooms"}, func(rctx context.Context) error { return rctx.Err() })
	require.NoError(t, err)
	cancel()

	h.Trigger()
	assert.Eventually(t, func() bool { return h.Refreshes() >= 1 }, wait, tick)
	assert.NoError(t, h.Err())
}

func TestClose_RejectsNewFeeds(t *testing.T) {
	b, _ := testutil.NewBus(t)
	d := dispatch.New(b, logger.Discard(), 0)

	h, err := d.Watch(context.Background(), "rooms", bus.Filter{Table: "rooms"}, func(context.Context) error { return nil })
	require.NoError(t, err)

	d.Close()
	<-h.Done()
	h.Close()

	_, err = d.Watch(context.Background(), "rooms", bus.Filter{Table: "rooms"}, func(context.Context) error { return nil })
	assert.Error(t, err)
}
