package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLocalLockTimesOutWhileHeld(t *testing.T) {
	locker := NewLocal(30 * time.Millisecond)

	held, err := locker.Obtain(context.Background(), "po:1")
	if err != nil {
		t.Fatalf("obtain failed: %v", err)
	}
	defer func() { _ = held.Release(context.Background()) }()

	if _, err := locker.Obtain(context.Background(), "po:1"); !errors.Is(err, ErrNotObtained) {
		t.Fatalf("expected ErrNotObtained, got %v", err)
	}

	other, err := locker.Obtain(context.Background(), "po:2")
	if err != nil {
		t.Fatalf("expected independent key to be free: %v", err)
	}
	_ = other.Release(context.Background())
}

func TestLocalLockSerializesCriticalSection(t *testing.T) {
	locker := NewLocal(time.Second)
	counter := 0
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := locker.Obtain(context.Background(), "sale:1")
			if err != nil {
				t.Errorf("obtain failed: %v", err)
				return
			}
			current := counter
			time.Sleep(time.Millisecond)
			counter = current + 1
			_ = l.Release(context.Background())
		}()
	}
	wg.Wait()

	if counter != 20 {
		t.Fatalf("expected 20 serialized increments, got %d", counter)
	}
}

func TestLocalLockReleaseIsIdempotent(t *testing.T) {
	locker := NewLocal(time.Second)
	l, err := locker.Obtain(context.Background(), "k")
	if err != nil {
		t.Fatalf("obtain failed: %v", err)
	}
	_ = l.Release(context.Background())
	_ = l.Release(context.Background())

	again, err := locker.Obtain(context.Background(), "k")
	if err != nil {
		t.Fatalf("expected lock to be free after release: %v", err)
	}
	_ = again.Release(context.Background())
}
