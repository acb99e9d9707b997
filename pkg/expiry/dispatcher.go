// Package expiry implements the Expiry Dispatcher component (spec.md
// §4.6): one-shot per-handle timers that fire at a certificate's
// notAfter time. It is deliberately generic over what "handle" means —
// pkg/plugin wires it to LocalIdentity and RemoteIdentity handles — so
// this package has no dependency on pkg/identity or pkg/registry beyond
// the opaque handle type.
package expiry

import (
	"sync"
	"time"

	"github.com/shadowmesh/ddsauth/pkg/registry"
)

// FireFunc is invoked when a scheduled timer for h reaches its
// deadline. It runs with no lock held by this package (spec.md §4.6:
// "the listener is invoked without the registry lock held"); it is
// responsible for re-validating that h is still live (the handle-return
// race, spec.md §9) before doing anything observable.
type FireFunc func(h registry.Handle)

// Dispatcher owns a set of one-shot timers keyed by handle.
type Dispatcher struct {
	mu     sync.Mutex
	timers map[registry.Handle]*time.Timer
}

// New creates an empty dispatcher.
func New() *Dispatcher {
	return &Dispatcher{timers: make(map[registry.Handle]*time.Timer)}
}

// Schedule arms a one-shot timer for h at "at". Any previously scheduled
// timer for h is canceled first. fire is invoked at most once, with the
// dispatcher's own lock released, and only if the timer was not
// canceled in the interim via Cancel.
func (d *Dispatcher) Schedule(h registry.Handle, at time.Time, fire FireFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.timers[h]; ok {
		existing.Stop()
		delete(d.timers, h)
	}

	delay := time.Until(at)
	d.timers[h] = time.AfterFunc(delay, func() {
		d.mu.Lock()
		_, stillScheduled := d.timers[h]
		if stillScheduled {
			delete(d.timers, h)
		}
		d.mu.Unlock()

		if stillScheduled {
			fire(h)
		}
	})
}

// Cancel stops and removes any pending timer for h. It is O(1) and safe
// to call for a handle with no pending timer (spec.md §5: "the
// dispatcher's scheduled timers MUST be cancelable in O(1) when an
// identity handle is returned").
func (d *Dispatcher) Cancel(h registry.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[h]; ok {
		t.Stop()
		delete(d.timers, h)
	}
}

// Pending reports whether h currently has an armed timer. Exposed for
// tests.
func (d *Dispatcher) Pending(h registry.Handle) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.timers[h]
	return ok
}
