package expiry

import (
	"sync"
	"testing"
	"time"

	"github.com/shadowmesh/ddsauth/pkg/registry"
)

func TestScheduleFiresAtDeadline(t *testing.T) {
	d := New()
	var mu sync.Mutex
	fired := false

	d.Schedule(registry.Handle(1), time.Now().Add(20*time.Millisecond), func(h registry.Handle) {
		mu.Lock()
		fired = true
		mu.Unlock()
	})

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if !fired {
		t.Fatalf("expected timer to have fired")
	}
}

func TestCancelPreventsFire(t *testing.T) {
	d := New()
	var mu sync.Mutex
	fired := false

	d.Schedule(registry.Handle(1), time.Now().Add(20*time.Millisecond), func(h registry.Handle) {
		mu.Lock()
		fired = true
		mu.Unlock()
	})
	d.Cancel(registry.Handle(1))

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if fired {
		t.Fatalf("expected canceled timer not to fire")
	}
}

func TestRescheduleReplacesPriorTimer(t *testing.T) {
	d := New()
	var mu sync.Mutex
	fireCount := 0

	h := registry.Handle(7)
	d.Schedule(h, time.Now().Add(10*time.Millisecond), func(registry.Handle) {
		mu.Lock()
		fireCount++
		mu.Unlock()
	})
	d.Schedule(h, time.Now().Add(40*time.Millisecond), func(registry.Handle) {
		mu.Lock()
		fireCount++
		mu.Unlock()
	})

	time.Sleep(120 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if fireCount != 1 {
		t.Fatalf("expected exactly one fire after reschedule, got %d", fireCount)
	}
}

func TestPendingReflectsScheduleAndCancel(t *testing.T) {
	d := New()
	h := registry.Handle(3)

	if d.Pending(h) {
		t.Fatalf("expected no pending timer before Schedule")
	}
	d.Schedule(h, time.Now().Add(time.Hour), func(registry.Handle) {})
	if !d.Pending(h) {
		t.Fatalf("expected pending timer after Schedule")
	}
	d.Cancel(h)
	if d.Pending(h) {
		t.Fatalf("expected no pending timer after Cancel")
	}
}
