package flashes

import (
	"context"

	"github.com/prudhvinik1/flashsync/internal/models"
)

type EventKind string

const (
	EventCreated  EventKind = "created"
	EventUpdated  EventKind = "updated"
	EventRemoved  EventKind = "removed"
	EventMerged   EventKind = "merged"
	EventReloaded EventKind = "reloaded"
)

// Event describes one change to the projection. Flash is empty for
// EventReloaded.
type Event struct {
	Kind  EventKind
	Flash models.Flash
}

const subscriberBuffer = 64

// Subscribe returns a channel of projection changes and a function that
// cancels the subscription. Slow subscribers miss events rather than
// block mutations.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.subMu.Unlock()

	cancel := func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		if c, ok := e.subs[id]; ok {
			close(c)
			delete(e.subs, id)
		}
	}
	return ch, cancel
}

func (e *Engine) publish(ev Event) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			e.log.Warn(context.Background(), "subscriber too slow, event dropped", "kind", ev.Kind)
		}
	}
}
