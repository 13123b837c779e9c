package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/errs"
)

func TestLocalSerializesSameKey(t *testing.T) {
	l := NewLocal(time.Second)
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "mentor-1")
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()

	if maxInside.Load() != 1 {
		t.Fatalf("expected exclusive access, saw %d holders at once", maxInside.Load())
	}
	if len(l.slots) != 0 {
		t.Fatalf("expected idle keys to be dropped, %d remain", len(l.slots))
	}
}

func TestLocalDifferentKeysDoNotBlock(t *testing.T) {
	l := NewLocal(50 * time.Millisecond)
	r1, err := l.Acquire(context.Background(), "mentor-1")
	if err != nil {
		t.Fatalf("acquire mentor-1: %v", err)
	}
	defer r1()

	r2, err := l.Acquire(context.Background(), "mentor-2")
	if err != nil {
		t.Fatalf("acquire mentor-2 should not wait: %v", err)
	}
	r2()
}

func TestLocalTimesOutWithConcurrencyError(t *testing.T) {
	l := NewLocal(20 * time.Millisecond)
	release, err := l.Acquire(context.Background(), "mentor-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	_, err = l.Acquire(context.Background(), "mentor-1")
	if !errors.Is(err, errs.ErrConcurrency) {
		t.Fatalf("expected concurrency error, got %v", err)
	}
}

func TestLocalHonorsContext(t *testing.T) {
	l := NewLocal(time.Second)
	release, _ := l.Acquire(context.Background(), "mentor-1")
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Acquire(ctx, "mentor-1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLocalReleaseIsIdempotent(t *testing.T) {
	l := NewLocal(50 * time.Millisecond)
	release, _ := l.Acquire(context.Background(), "mentor-1")
	release()
	release()

	again, err := l.Acquire(context.Background(), "mentor-1")
	if err != nil {
		t.Fatalf("re-acquire after release: %v", err)
	}
	again()
}
