package mgr

import (
	"slices"
	"sync"
	"sync/atomic"
)

// EventMgr distributes events to subscribers and callbacks.
type EventMgr[T any] struct {
	name string
	mgr  *Manager
	lock sync.Mutex

	subs      []*EventSubscription[T]
	callbacks []*EventCallback[T]
}

// EventSubscription receives events of an EventMgr over a channel.
type EventSubscription[T any] struct {
	name     string
	events   chan T
	canceled atomic.Bool
}

// EventCallback runs a function on every event of an EventMgr.
type EventCallback[T any] struct {
	name     string
	callback EventCallbackFunc[T]
	canceled atomic.Bool
}

// EventCallbackFunc handles a submitted event.
// Returning cancel removes the callback from the event manager.
type EventCallbackFunc[T any] func(*WorkerCtx, T) (cancel bool, err error)

// NewEventMgr returns a new event manager for the named event.
// It is commonly exposed as a public field on a struct, so that others can
// simply Subscribe or AddCallback.
func NewEventMgr[T any](eventName string, mgr *Manager) *EventMgr[T] {
	return &EventMgr[T]{
		name: eventName,
		mgr:  mgr,
	}
}

// Subscribe returns a new subscription with the given channel size.
// Event values are shared between all subscribers and callbacks, so guard
// any mutation of them.
func (em *EventMgr[T]) Subscribe(subscriberName string, chanSize int) *EventSubscription[T] {
	em.lock.Lock()
	defer em.lock.Unlock()

	es := &EventSubscription[T]{
		name:   subscriberName,
		events: make(chan T, chanSize),
	}
	em.subs = append(em.subs, es)
	return es
}

// AddCallback registers a callback that runs on every event.
// Event values are shared between all subscribers and callbacks, so guard
// any mutation of them.
func (em *EventMgr[T]) AddCallback(callbackName string, callback EventCallbackFunc[T]) {
	em.lock.Lock()
	defer em.lock.Unlock()

	em.callbacks = append(em.callbacks, &EventCallback[T]{
		name:     callbackName,
		callback: callback,
	})
}

// Submit distributes the event to all active subscribers and callbacks.
func (em *EventMgr[T]) Submit(event T) {
	em.lock.Lock()
	defer em.lock.Unlock()

	var seenCanceled bool
	for _, es := range em.subs {
		if es.canceled.Load() {
			seenCanceled = true
			continue
		}
		em.deliver(es, event)
	}
	for _, ec := range em.callbacks {
		if ec.canceled.Load() {
			seenCanceled = true
			continue
		}
		em.invoke(ec, event)
	}

	// Remove canceled subscriptions and callbacks.
	if seenCanceled {
		em.subs = slices.DeleteFunc(em.subs, func(es *EventSubscription[T]) bool {
			return es.canceled.Load()
		})
		em.callbacks = slices.DeleteFunc(em.callbacks, func(ec *EventCallback[T]) bool {
			return ec.canceled.Load()
		})
	}
}

// deliver sends the event to a subscription channel without blocking.
func (em *EventMgr[T]) deliver(es *EventSubscription[T], event T) {
	select {
	case es.events <- event:
	default:
		if em.mgr != nil {
			em.mgr.Warn(
				"dropping event, subscription channel is full",
				"event", em.name,
				"subscriber", es.name,
			)
		}
	}
}

// invoke runs a callback in a worker, or inline when no manager is
// available.
func (em *EventMgr[T]) invoke(ec *EventCallback[T], event T) {
	if em.mgr == nil {
		// Without a manager there is no worker and no logger, errors
		// are dropped.
		if cancel, _ := ec.callback(nil, event); cancel {
			ec.canceled.Store(true)
		}
		return
	}

	em.mgr.Go("event "+em.name+" callback "+ec.name, func(w *WorkerCtx) error {
		cancel, err := ec.callback(w, event)
		if err != nil {
			w.Warn(
				"event callback returned an error",
				"event", em.name,
				"callback", ec.name,
				"err", err,
			)
		}
		if cancel {
			ec.canceled.Store(true)
		}
		return nil
	})
}

// Events returns the channel the subscription receives events on.
func (es *EventSubscription[T]) Events() <-chan T {
	return es.events
}

// Cancel stops the subscription.
// The events channel is left open, but receives no further events.
func (es *EventSubscription[T]) Cancel() {
	es.canceled.Store(true)
}

// Done reports whether the subscription has been canceled.
func (es *EventSubscription[T]) Done() bool {
	return es.canceled.Load()
}
