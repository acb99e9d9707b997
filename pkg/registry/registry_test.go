package registry

import (
	"errors"
	"sync"
	"testing"
)

func TestInsertLookupRemove(t *testing.T) {
	r := New()
	h := r.Insert(KindLocalIdentity, "local-1")

	obj, err := r.LookupTyped(h, KindLocalIdentity)
	if err != nil {
		t.Fatalf("LookupTyped failed: %v", err)
	}
	if obj.(string) != "local-1" {
		t.Fatalf("unexpected object: %v", obj)
	}

	if err := r.Remove(h); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	if _, err := r.LookupTyped(h, KindLocalIdentity); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("expected ErrInvalidHandle after remove, got %v", err)
	}
}

func TestLookupWrongKindDoesNotMutate(t *testing.T) {
	r := New()
	h := r.Insert(KindLocalIdentity, "local-1")

	if _, err := r.LookupTyped(h, KindRemoteIdentity); !errors.Is(err, ErrWrongHandleKind) {
		t.Fatalf("expected ErrWrongHandleKind, got %v", err)
	}

	// Still present and still the right kind.
	obj, err := r.LookupTyped(h, KindLocalIdentity)
	if err != nil {
		t.Fatalf("object should still be present: %v", err)
	}
	if obj.(string) != "local-1" {
		t.Fatalf("unexpected object: %v", obj)
	}
}

func TestDoubleRemoveReturnsInvalidHandle(t *testing.T) {
	r := New()
	h := r.Insert(KindHandshake, struct{}{})

	if err := r.Remove(h); err != nil {
		t.Fatalf("first Remove failed: %v", err)
	}
	if err := r.Remove(h); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("expected ErrInvalidHandle on second Remove, got %v", err)
	}
}

func TestConcurrentInsertNeverCollides(t *testing.T) {
	r := New()
	const n = 500
	handles := make(chan Handle, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles <- r.Insert(KindLocalIdentity, i)
		}(i)
	}
	wg.Wait()
	close(handles)

	seen := make(map[Handle]bool, n)
	for h := range handles {
		if h == NilHandle {
			t.Fatalf("got nil handle from Insert")
		}
		if seen[h] {
			t.Fatalf("duplicate handle %d from concurrent Insert", h)
		}
		seen[h] = true
	}
}

func TestIterateByKind(t *testing.T) {
	r := New()
	r.Insert(KindLocalIdentity, "a")
	r.Insert(KindLocalIdentity, "b")
	r.Insert(KindRemoteIdentity, "c")

	count := 0
	r.IterateByKind(KindLocalIdentity, func(h Handle, obj interface{}) {
		count++
	})
	if count != 2 {
		t.Fatalf("expected 2 LocalIdentity objects, got %d", count)
	}
}
