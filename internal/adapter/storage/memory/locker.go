package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"partnership-ledger/internal/core/ports"
)

// Locker is an in-process ports.WalletLocker: one mutex per key, acquired
// with a bounded wait. It only serializes callers of the same process.
type Locker struct {
	wait time.Duration

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewLocker returns a Locker that gives up after wait. A zero wait blocks
// until the caller's context is done.
func NewLocker(wait time.Duration) *Locker {
	return &Locker{wait: wait, locks: make(map[string]*keyLock)}
}

// WithLock runs fn while holding the lock for key.
func (l *Locker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	kl := l.ref(key)
	defer l.unref(key)

	waitCtx := ctx
	if l.wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	select {
	case kl.ch <- struct{}{}:
	case <-waitCtx.Done():
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ports.ErrLockContended, key)
	}
	defer func() { <-kl.ch }()

	return fn(ctx)
}

func (l *Locker) ref(key string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (l *Locker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl := l.locks[key]
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}
