package atomix

import (
	"context"
	"fmt"
	log "log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// lockName derives the lock key guarding one action on one document:
// "{key}/{action}:lock".
func lockName(key Key, action string) string {
	return fmt.Sprintf("%s/%s:lock", key, action)
}

// WithLock runs fn while holding an exclusive lock scoped to one action on
// one document. Acquisition backs off with Fibonacci retries; exhausting them
// fails with LockAcquisitionFailure. The lock carries the handle's LockTTL so
// a crashed holder cannot wedge the key forever.
func (db *DB) WithLock(ctx context.Context, key Key, action string, fn func(ctx context.Context) error) error {
	lockKeys := db.store.CreateLockKeys([]string{lockName(key, action)})

	b := retry.NewFibonacci(100 * time.Millisecond)
	err := retry.Do(ctx, retry.WithMaxRetries(5, b), func(ctx context.Context) error {
		ok, owner, err := db.store.Lock(ctx, db.options.LockTTL, lockKeys)
		if err != nil {
			return err
		}
		if !ok {
			return retry.RetryableError(fmt.Errorf("held by %s", owner))
		}
		return nil
	})
	if err != nil {
		return newError(LockAcquisitionFailure, "lock %s: %v", lockName(key, action), err)
	}
	defer func() {
		if err := db.store.Unlock(context.WithoutCancel(ctx), lockKeys); err != nil {
			log.Warn("failed to release lock", "lock", lockName(key, action), "error", err)
		}
	}()
	return fn(ctx)
}

// WithLock is the per-document form of DB.WithLock, locking this document's
// key for the given action.
func (d *Document) WithLock(ctx context.Context, action string, fn func(ctx context.Context) error) error {
	return d.db.WithLock(ctx, d.root().Key(), action, fn)
}
