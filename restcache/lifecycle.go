package restcache

import (
	"context"
	"sync"
	"time"

	"github.com/relaycache/go-restcache/restcache/event"
)

// lifecycleController gates outbound fetches behind Activate/Deactivate
// and runs the background expiration ticker while active.
type lifecycleController struct {
	mu      sync.Mutex
	active  bool
	waiters []*event.Deferred[struct{}]

	refreshInterval time.Duration
	table           *table
	cancel          context.CancelFunc
}

func newLifecycleController(t *table, refreshInterval time.Duration) *lifecycleController {
	return &lifecycleController{table: t, refreshInterval: refreshInterval}
}

func (l *lifecycleController) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Activate flips the gate open, resolves every pending WaitForActivation
// caller, and starts the background expiration ticker.
func (l *lifecycleController) Activate() {
	l.mu.Lock()
	if l.active {
		l.mu.Unlock()
		return
	}
	l.active = true
	waiters := l.waiters
	l.waiters = nil
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.mu.Unlock()

	for _, w := range waiters {
		w.Resolve(struct{}{})
	}
	if l.refreshInterval > 0 {
		go l.tick(ctx)
	}
}

// Deactivate closes the gate and stops the ticker. Fetches already in
// flight are not interrupted; new ones park in WaitForActivation.
func (l *lifecycleController) Deactivate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active = false
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}

// WaitForActivation blocks until Activate has been called, or ctx is done.
func (l *lifecycleController) WaitForActivation(ctx context.Context) error {
	l.mu.Lock()
	if l.active {
		l.mu.Unlock()
		return nil
	}
	d := event.NewDeferred[struct{}]()
	l.waiters = append(l.waiters, d)
	l.mu.Unlock()
	_, err := d.Wait(ctx)
	return err
}

func (l *lifecycleController) tick(ctx context.Context) {
	interval := 100 * time.Millisecond
	if tenth := l.refreshInterval / 10; tenth > 0 && tenth < interval {
		interval = tenth
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-l.refreshInterval)
			l.table.invalidate(&cutoff)
		}
	}
}
