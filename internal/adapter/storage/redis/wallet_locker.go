package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"partnership-ledger/config"
	"partnership-ledger/internal/core/ports"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// WalletLocker implements ports.WalletLocker with Redlock, so wallet
// mutations are serialized across API instances.
type WalletLocker struct {
	rs     *redsync.Redsync
	prefix string
	opts   []redsync.Option
	log    zerolog.Logger
}

// NewWalletLocker creates a redsync-backed locker. Tries and RetryDelay bound
// how long a caller waits before ErrLockContended.
func NewWalletLocker(client goredislib.UniversalClient, cfg config.LockConfig, log zerolog.Logger) *WalletLocker {
	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = 10 * time.Second
	}
	tries := cfg.Tries
	if tries <= 0 {
		tries = 32
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 50 * time.Millisecond
	}

	return &WalletLocker{
		rs:     redsync.New(goredis.NewPool(client)),
		prefix: "lock:",
		opts: []redsync.Option{
			redsync.WithExpiry(expiry),
			redsync.WithTries(tries),
			redsync.WithRetryDelay(retryDelay),
		},
		log: log,
	}
}

// WithLock runs fn while holding the distributed lock for key.
func (l *WalletLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	mutex := l.rs.NewMutex(l.prefix+key, l.opts...)

	if err := mutex.LockContext(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if isContention(err) {
			return fmt.Errorf("%w: %s", ports.ErrLockContended, key)
		}
		return fmt.Errorf("acquire lock %s: %w", key, err)
	}

	defer func() {
		// Use a fresh context so a cancelled request still releases the lock.
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if ok, err := mutex.UnlockContext(unlockCtx); !ok || err != nil {
			l.log.Warn().Err(err).Str("lock_key", key).Bool("unlock_ok", ok).Msg("failed to release lock")
		}
	}()

	return fn(ctx)
}

func isContention(err error) bool {
	var taken *redsync.ErrTaken
	return errors.Is(err, redsync.ErrFailed) ||
		errors.As(err, &taken) ||
		strings.Contains(err.Error(), "lock already taken")
}
