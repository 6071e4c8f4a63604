package inmemory

import (
	"context"
	"fmt"
	"time"

	"github.com/sharedcode/atomix"
)

// The lock implementation mirrors the production one: a lock is a plain
// string key holding the owner's lock ID, acquired with a set-then-verify
// sequence and released only by its owner.

// Lock attempts to acquire all keys for the given TTL. On conflict it returns
// false with the current owner's ID.
func (s *MemStore) Lock(ctx context.Context, duration time.Duration, lockKeys []*atomix.LockKey) (bool, atomix.UUID, error) {
	for _, lk := range lockKeys {
		found, readItem, err := s.Get(ctx, lk.Key)
		if err != nil {
			return false, atomix.NilUUID, err
		}
		if found {
			if readItem != lk.LockID.String() {
				id, _ := atomix.ParseUUID(readItem)
				return false, id, nil
			}
			continue
		}
		if err := s.Set(ctx, lk.Key, lk.LockID.String(), duration); err != nil {
			return false, atomix.NilUUID, err
		}
		if found, readItem2, err := s.Get(ctx, lk.Key); !found || err != nil {
			return false, atomix.NilUUID, err
		} else if readItem2 != lk.LockID.String() {
			id, _ := atomix.ParseUUID(readItem2)
			return false, id, nil
		}
		lk.IsLockOwner = true
	}
	return true, atomix.NilUUID, nil
}

// IsLocked reports whether all keys are currently owned by this process.
func (s *MemStore) IsLocked(ctx context.Context, lockKeys []*atomix.LockKey) (bool, error) {
	r := true
	for _, lk := range lockKeys {
		found, readItem, err := s.Get(ctx, lk.Key)
		if err != nil {
			return false, err
		}
		if !found || readItem != lk.LockID.String() {
			lk.IsLockOwner = false
			r = false
			continue
		}
		lk.IsLockOwner = true
	}
	return r, nil
}

// Unlock releases the keys owned by this process.
func (s *MemStore) Unlock(ctx context.Context, lockKeys []*atomix.LockKey) error {
	for _, lk := range lockKeys {
		if !lk.IsLockOwner {
			continue
		}
		if _, err := s.Del(ctx, lk.Key); err != nil {
			return err
		}
	}
	return nil
}

// CreateLockKeys creates lock keys with freshly generated lock IDs.
func (s *MemStore) CreateLockKeys(keys []string) []*atomix.LockKey {
	lockKeys := make([]*atomix.LockKey, len(keys))
	for i := range keys {
		lockKeys[i] = &atomix.LockKey{
			Key:    fmt.Sprintf("L%s", keys[i]),
			LockID: atomix.NewUUID(),
		}
	}
	return lockKeys
}
