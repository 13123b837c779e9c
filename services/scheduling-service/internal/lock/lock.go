// Package lock provides per-mentor mutual exclusion for the booking path.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/md-rashed-zaman/mentorslots/services/scheduling-service/internal/errs"
)

// Locker grants exclusive access to one key. Acquire returns a release func that must be
// called exactly once, or an error wrapping errs.ErrConcurrency when the key stayed busy
// for the whole wait.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

func busy(key string, waited time.Duration) error {
	return fmt.Errorf("lock %q still held after %s: %w", key, waited, errs.ErrConcurrency)
}

// Local is an in-process keyed mutex. Entries are reference counted and dropped when
// no goroutine holds or waits on them.
type Local struct {
	wait time.Duration

	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocal(wait time.Duration) *Local {
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &Local{wait: wait, slots: map[string]*slot{}}
}

func (l *Local) Acquire(ctx context.Context, key string) (func(), error) {
	s := l.ref(key)

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				l.unref(key)
			})
		}, nil
	case <-timer.C:
		l.unref(key)
		return nil, busy(key, l.wait)
	case <-ctx.Done():
		l.unref(key)
		return nil, ctx.Err()
	}
}

func (l *Local) ref(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *Local) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.slots[key]
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// Nop performs no locking. Used when the ledger's own transaction lock is sufficient.
type Nop struct{}

func (Nop) Acquire(context.Context, string) (func(), error) {
	return func() {}, nil
}
