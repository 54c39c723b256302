// Package event provides the small pub/sub and one-shot-completion
// substrate the cache uses to tell a host application about changes,
// authentication challenges, and authorization decisions. It carries no
// third-party dependency: no library in the retrieved corpus exposes an
// event-emitter-with-vetoable-events API, so this is hand-rolled on top of
// sync.Mutex and channels, documented in the design ledger.
package event

import "sync"

// Name identifies an emitted event.
type Name string

const (
	// Change fires whenever a cached result the host may be holding onto
	// has been mutated in place (background refresh, write propagation,
	// authorization change).
	Change Name = "change"
	// Authentication fires when a request has been challenged and no
	// token is available to retry it with.
	Authentication Name = "authentication"
	// Authorization fires before a newly obtained token is adopted.
	Authorization Name = "authorization"
	// Deauthorization fires before a revoked token's queries are evicted.
	Deauthorization Name = "deauthorization"
)

// Emitter is a minimal synchronous pub/sub hub: handlers run in
// registration order, in the Emit caller's goroutine.
type Emitter struct {
	mu        sync.Mutex
	listeners map[Name][]func(any)
}

// NewEmitter returns a ready-to-use Emitter.
func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[Name][]func(any))}
}

// On registers fn for name and returns a function that unsubscribes it.
func (e *Emitter) On(name Name, fn func(any)) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[name] = append(e.listeners[name], fn)
	idx := len(e.listeners[name]) - 1
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		fns := e.listeners[name]
		if idx < len(fns) {
			fns[idx] = nil
		}
	}
}

// Emit calls every still-subscribed handler for name with payload, in
// registration order.
func (e *Emitter) Emit(name Name, payload any) {
	e.mu.Lock()
	fns := append([]func(any){}, e.listeners[name]...)
	e.mu.Unlock()
	for _, fn := range fns {
		if fn != nil {
			fn(payload)
		}
	}
}
