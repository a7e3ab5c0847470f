package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBus carries change events over Redis pub/sub, one channel per table.
// Filtering happens on the subscriber side.
type RedisBus struct {
	client *redis.Client
	prefix string
	log    *slog.Logger
}

func NewRedisBus(client *redis.Client, prefix string, log *slog.Logger) *RedisBus {
	return &RedisBus{client: client, prefix: prefix, log: log}
}

func (b *RedisBus) channel(table string) string {
	return fmt.Sprintf("%s:%s", b.prefix, table)
}

// Publish sends ev to the table channel.
func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel(ev.Table), data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", b.channel(ev.Table), err)
	}
	return nil
}

// Subscribe returns once Redis confirmed the subscription, so any event
// published afterwards is delivered.
func (b *RedisBus) Subscribe(ctx context.Context, f Filter) (Subscription, error) {
	ps := b.client.Subscribe(ctx, b.channel(f.Table))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", b.channel(f.Table), err)
	}

	s := &redisSubscription{
		ps:     ps,
		events: make(chan Event, 16),
		done:   make(chan struct{}),
	}
	go s.run(f, b.log.With("channel", b.channel(f.Table)))
	return s, nil
}

type redisSubscription struct {
	ps     *redis.PubSub
	events chan Event
	done   chan struct{}
	once   sync.Once
	err    error
}

func (s *redisSubscription) Events() <-chan Event { return s.events }

func (s *redisSubscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.err = s.ps.Close()
	})
	return s.err
}

func (s *redisSubscription) run(f Filter, log *slog.Logger) {
	defer close(s.events)

	msgs := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Warn("dropping malformed change event", "err", err)
				continue
			}
			if !f.Matches(ev) {
				continue
			}
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
		}
	}
}
