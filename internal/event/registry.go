package event

import (
	"sync"
	"sync/atomic"
)

// Handler consumes one frame. It runs on the engine loop and must not keep env.
type Handler func(env *Envelope)

// Subscriber is anything frames can be subscribed on.
type Subscriber interface {
	Subscribe(t MessageType, h Handler) *Subscription
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	registry *Registry
	typ      MessageType
	handler  Handler
	active   atomic.Bool
}

// Unsubscribe detaches the handler. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || !s.active.CompareAndSwap(true, false) {
		return
	}
	s.registry.remove(s)
}

// Active reports whether the handler still receives frames.
func (s *Subscription) Active() bool {
	return s != nil && s.active.Load()
}

// Registry maps message types to handlers in registration order.
type Registry struct {
	mu       sync.RWMutex
	handlers map[MessageType][]*Subscription
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[MessageType][]*Subscription)}
}

// Subscribe registers h for every frame of type t until the handle is unsubscribed.
func (r *Registry) Subscribe(t MessageType, h Handler) *Subscription {
	sub := &Subscription{registry: r, typ: t, handler: h}
	sub.active.Store(true)

	r.mu.Lock()
	r.handlers[t] = append(r.handlers[t], sub)
	r.mu.Unlock()
	return sub
}

func (r *Registry) remove(target *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.handlers[target.typ]
	for i, s := range subs {
		if s == target {
			// copy so a concurrent Dispatch keeps iterating its own snapshot
			next := make([]*Subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			if len(next) == 0 {
				delete(r.handlers, target.typ)
			} else {
				r.handlers[target.typ] = next
			}
			return
		}
	}
}

// Count returns the number of active handlers for t.
func (r *Registry) Count(t MessageType) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[t])
}

// Dispatch invokes the handlers registered for env.Type, in order.
// It returns false if nobody was subscribed.
func (r *Registry) Dispatch(env *Envelope) bool {
	r.mu.RLock()
	subs := r.handlers[env.Type]
	r.mu.RUnlock()

	if len(subs) == 0 {
		return false
	}
	for _, s := range subs {
		// a handler may unsubscribe a later one while this frame is in flight
		if s.active.Load() {
			s.handler(env)
		}
	}
	return true
}
