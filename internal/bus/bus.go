// Package bus is the change-notification bus: row-level insert/update/delete
// events per table, delivered at-least-once to live subscriptions and with
// no replay across reconnects.
package bus

import (
	"context"
)

type EventType string

const (
	Insert EventType = "INSERT"
	Update EventType = "UPDATE"
	Delete EventType = "DELETE"
)

// Event is one row change. Old is set for updates and deletes, New for
// inserts and updates.
type Event struct {
	Table string            `json:"table"`
	Type  EventType         `json:"type"`
	Old   map[string]string `json:"old,omitempty"`
	New   map[string]string `json:"new,omitempty"`
}

// Value returns column from New, falling back to Old (deletes).
func (e Event) Value(column string) string {
	if v, ok := e.New[column]; ok {
		return v
	}
	return e.Old[column]
}

// Filter selects events of one table. Any is an OR over column equalities;
// an empty Any matches every row of the table.
type Filter struct {
	Table string
	Any   map[string]string
}

func (f Filter) Matches(e Event) bool {
	if e.Table != f.Table {
		return false
	}
	if len(f.Any) == 0 {
		return true
	}
	for column, want := range f.Any {
		if e.New[column] == want || e.Old[column] == want {
			return true
		}
	}
	return false
}

// Subscription is a cancellable stream of events. Events is closed after
// Close or when the underlying connection is gone for good.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, f Filter) (Subscription, error)
}

type Bus interface {
	Publisher
	Subscriber
}
