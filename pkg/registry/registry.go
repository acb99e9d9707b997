// Package registry implements the process-wide, handle-keyed object
// store described in spec.md §4.3: a single mutex guards insert, typed
// lookup, remove and kind-scoped iteration over every live LocalIdentity,
// RemoteIdentity and Handshake, and the shared-secret and peer-credential
// references handed out by the plugin facade.
//
// Handles are opaque 64-bit integers generated from an injective atomic
// counter (spec.md §9: "do not rely on pointer identity leaking through
// the ABI") rather than a cast of a heap address.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Handle is an opaque 64-bit reference to an object held by a Registry.
// The nil handle is zero.
type Handle uint64

// NilHandle is the zero handle; it never refers to a live object.
const NilHandle Handle = 0

// Kind tags the concrete type stored behind a Handle.
type Kind int

const (
	KindLocalIdentity Kind = iota + 1
	KindRemoteIdentity
	KindIdentityRelation
	KindHandshake
	KindSharedSecretRef
	KindPeerCredentialToken
)

func (k Kind) String() string {
	switch k {
	case KindLocalIdentity:
		return "LocalIdentity"
	case KindRemoteIdentity:
		return "RemoteIdentity"
	case KindIdentityRelation:
		return "IdentityRelation"
	case KindHandshake:
		return "Handshake"
	case KindSharedSecretRef:
		return "SharedSecretRef"
	case KindPeerCredentialToken:
		return "PeerCredentialToken"
	default:
		return "Unknown"
	}
}

// ErrInvalidHandle is returned when a handle has no live entry.
var ErrInvalidHandle = errors.New("registry: invalid handle")

// ErrWrongHandleKind is returned when a handle resolves to an object of a
// different kind than the caller expected. A LookupTyped call MUST fail
// this way rather than return a badly-typed value or panic on a cast.
var ErrWrongHandleKind = errors.New("registry: wrong handle kind")

type entry struct {
	kind   Kind
	object interface{}
}

// Registry is a process-wide, handle-keyed object store. All mutating
// operations and LookupTyped take the single registry mutex; no user
// callback and no network I/O is ever performed while it is held (per
// spec.md §5).
type Registry struct {
	mu      sync.Mutex
	objects map[Handle]entry
	counter uint64
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{objects: make(map[Handle]entry)}
}

// NextHandle allocates a fresh, never-before-issued handle without
// inserting anything. Insert and Locked.Insert use it; a caller that
// needs a handle's value before the object it will identify is fully
// constructed can call it directly and later store the object with
// InsertAt.
func (r *Registry) NextHandle() Handle {
	for {
		v := atomic.AddUint64(&r.counter, 1)
		if v != uint64(NilHandle) {
			return Handle(v)
		}
	}
}

// Insert allocates a new handle for object and stores it under kind.
func (r *Registry) Insert(kind Kind, object interface{}) Handle {
	h := r.NextHandle()
	r.mu.Lock()
	r.objects[h] = entry{kind: kind, object: object}
	r.mu.Unlock()
	return h
}

// InsertAt stores object under the caller-chosen handle h (which must
// have come from NextHandle and not yet be inserted). It fails if h is
// the nil handle or already in use.
func (r *Registry) InsertAt(h Handle, kind Kind, object interface{}) error {
	if h == NilHandle {
		return ErrInvalidHandle
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.objects[h]; exists {
		return fmt.Errorf("registry: handle %d already in use", h)
	}
	r.objects[h] = entry{kind: kind, object: object}
	return nil
}

// LookupTyped resolves h, validating both presence and kind. A handle of
// the wrong kind returns ErrWrongHandleKind, never a type assertion
// panic, and never mutates state (spec.md §8 testable property).
func (r *Registry) LookupTyped(h Handle, kind Kind) (interface{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookupLocked(h, kind)
}

func (r *Registry) lookupLocked(h Handle, kind Kind) (interface{}, error) {
	e, ok := r.objects[h]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHandle, h)
	}
	if e.kind != kind {
		return nil, fmt.Errorf("%w: handle %d is %s, not %s", ErrWrongHandleKind, h, e.kind, kind)
	}
	return e.object, nil
}

// Remove deletes h unconditionally. It returns ErrInvalidHandle, and is
// otherwise a no-op, if h was already absent — making a second
// return-handle call on the same value idempotent-but-erroring per the
// §8 round-trip property.
func (r *Registry) Remove(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.objects[h]; !ok {
		return fmt.Errorf("%w: %d", ErrInvalidHandle, h)
	}
	delete(r.objects, h)
	return nil
}

// IterateByKind calls fn for every live object of the given kind, in
// registry mutex scope. fn MUST NOT call back into the registry; it
// exists for sweeps such as the plugin's return-identity-handle cascade
// over Handshakes and RemoteIdentities.
func (r *Registry) IterateByKind(kind Kind, fn func(Handle, interface{})) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for h, e := range r.objects {
		if e.kind == kind {
			fn(h, e.object)
		}
	}
}

// WithLock runs fn with the registry mutex held. It is the escape hatch
// used by components (identity, handshake) that need multiple
// registry operations — e.g. "look up the RemoteIdentity, then insert
// its IdentityRelation" — to happen atomically. fn MUST be fast and
// MUST NOT invoke a crypto primitive, perform I/O, or call a user
// listener, per spec.md §5.
func (r *Registry) WithLock(fn func(*Locked)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&Locked{r: r})
}

// Locked exposes the same operations as Registry but assumes the caller
// already holds the mutex (via WithLock). It exists so multi-step
// registry mutations can be expressed without re-entrant locking.
type Locked struct{ r *Registry }

func (l *Locked) LookupTyped(h Handle, kind Kind) (interface{}, error) {
	return l.r.lookupLocked(h, kind)
}

func (l *Locked) Insert(kind Kind, object interface{}) Handle {
	h := l.r.NextHandle()
	l.r.objects[h] = entry{kind: kind, object: object}
	return h
}

func (l *Locked) InsertAt(h Handle, kind Kind, object interface{}) error {
	if h == NilHandle {
		return ErrInvalidHandle
	}
	if _, exists := l.r.objects[h]; exists {
		return fmt.Errorf("registry: handle %d already in use", h)
	}
	l.r.objects[h] = entry{kind: kind, object: object}
	return nil
}

func (l *Locked) IterateByKind(kind Kind, fn func(Handle, interface{})) {
	for h, e := range l.r.objects {
		if e.kind == kind {
			fn(h, e.object)
		}
	}
}

func (l *Locked) Remove(h Handle) error {
	if _, ok := l.r.objects[h]; !ok {
		return fmt.Errorf("%w: %d", ErrInvalidHandle, h)
	}
	delete(l.r.objects, h)
	return nil
}
