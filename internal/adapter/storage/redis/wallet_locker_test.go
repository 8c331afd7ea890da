package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"partnership-ledger/config"
	"partnership-ledger/internal/core/ports"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T, tries int) (*WalletLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.LockConfig{Expiry: 5 * time.Second, Tries: tries, RetryDelay: 10 * time.Millisecond}
	return NewWalletLocker(client, cfg, zerolog.Nop()), mr
}

func TestWalletLocker_RunsAndReleases(t *testing.T) {
	locker, mr := newTestLocker(t, 3)
	ctx := context.Background()

	ran := false
	err := locker.WithLock(ctx, "wallet:u1", func(context.Context) error {
		ran = true
		assert.True(t, mr.Exists("lock:wallet:u1"))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists("lock:wallet:u1"), "lock must be released")
}

func TestWalletLocker_Contention(t *testing.T) {
	locker, _ := newTestLocker(t, 2)
	ctx := context.Background()

	held := make(chan struct{})
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = locker.WithLock(ctx, "wallet:u2", func(context.Context) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	err := locker.WithLock(ctx, "wallet:u2", func(context.Context) error {
		t.Error("must not run while another holder owns the lock")
		return nil
	})
	assert.ErrorIs(t, err, ports.ErrLockContended)
	assert.True(t, ports.IsRetryable(err))

	close(done)
	wg.Wait()

	assert.NoError(t, locker.WithLock(ctx, "wallet:u2", func(context.Context) error { return nil }))
}

func TestWalletLocker_PropagatesFnError(t *testing.T) {
	locker, _ := newTestLocker(t, 1)
	boom := assert.AnError

	err := locker.WithLock(context.Background(), "wallet:u3", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}
