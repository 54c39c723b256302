package event

import "sync"

// Decision is embedded in vetoable event payloads (Authentication,
// Authorization, Deauthorization). A handler may call PreventDefault to
// cancel the coordinator's default action, and WaitForDecision when it
// needs to resolve asynchronously (e.g. showing the user a credentials
// prompt) rather than within the Emit call itself.
type Decision struct {
	mu        sync.Mutex
	prevented bool
	deferred  bool
	done      chan struct{}
	once      sync.Once
}

// NewDecision returns a Decision ready to be attached to an event payload.
func NewDecision() *Decision {
	return &Decision{done: make(chan struct{})}
}

// PreventDefault cancels the coordinator's default action for this event.
func (d *Decision) PreventDefault() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prevented = true
}

// Prevented reports whether a handler called PreventDefault.
func (d *Decision) Prevented() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.prevented
}

// WaitForDecision tells the coordinator to hold off applying its default
// action until resolve is called. Safe to call from the handler; resolve is
// safe to call later from any goroutine, exactly once effectively (later
// calls are no-ops).
func (d *Decision) WaitForDecision() (resolve func()) {
	d.mu.Lock()
	d.deferred = true
	d.mu.Unlock()
	return func() {
		d.once.Do(func() { close(d.done) })
	}
}

// Settle blocks until a handler's deferred decision resolves, if any
// handler called WaitForDecision; it returns immediately otherwise. The
// coordinator calls this once after Emit returns, before consulting
// Prevented.
func (d *Decision) Settle() {
	d.mu.Lock()
	deferred := d.deferred
	d.mu.Unlock()
	if deferred {
		<-d.done
	}
}
