package node

import (
	"context"
	"sync"

	"PodLedger/internal/logger"
	"PodLedger/internal/types"
)

// EventHandler receives an event and the object that created it.
type EventHandler func(creator, event types.StorageReference)

// notification is an event waiting for the commit of its transaction.
type notification struct {
	creator types.StorageReference
	event   types.StorageReference
}

// subscription is a handler, optionally limited to the events of one creator.
type subscription struct {
	creator *types.StorageReference
	handler EventHandler
}

// events dispatches committed events to the subscribers.
type events struct {
	mu      sync.Mutex           // mu protects the fields below
	subs    map[int]subscription // subs are the active subscriptions
	nextID  int                  // nextID identifies the next subscription
	pending []notification       // pending are the events of uncommitted transactions
}

func newEvents() *events {
	return &events{subs: make(map[int]subscription)}
}

// subscribe registers a handler and returns the function that removes it.
func (e *events) subscribe(creator *types.StorageReference, handler EventHandler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextID
	e.nextID++
	e.subs[id] = subscription{creator: creator, handler: handler}

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()

		delete(e.subs, id)
	}
}

// schedule queues events until the next commit.
func (e *events) schedule(ns []notification) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pending = append(e.pending, ns...)
}

// take returns the queued events and the current subscribers.
func (e *events) take() ([]notification, []subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ns := e.pending
	e.pending = nil

	subs := make([]subscription, 0, len(e.subs))
	for _, s := range e.subs {
		subs = append(subs, s)
	}

	return ns, subs
}

// notify calls the matching handlers of every notification, in order.
func notify(ctx context.Context, ns []notification, subs []subscription) {
	for _, n := range ns {
		if ctx.Err() != nil {
			logger.Debug("event notification interrupted", "left", len(ns))
			return
		}

		for _, s := range subs {
			if s.creator == nil || *s.creator == n.creator {
				s.handler(n.creator, n.event)
			}
		}
	}
}
