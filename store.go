package atomix

import (
	"context"
	"time"
)

// ZMember is one sorted-set member with its score.
type ZMember struct {
	Member string
	Score  float64
}

// CommandKind enumerates the deferred store mutations a transaction can buffer.
type CommandKind int

const (
	CmdJSONSet CommandKind = iota
	CmdJSONDel
	CmdJSONNumIncrBy
	CmdJSONArrAppend
	CmdJSONArrInsert
	CmdEvalSha
	CmdExpire
	CmdDel
	CmdZAdd
	CmdZIncrBy
	CmdZRem
)

// Command is one buffered store mutation awaiting flush: target key, field
// path, operation kind and operands. Created by a wrapper mutation inside an
// open transaction, consumed exactly once at flush time, in creation order.
type Command struct {
	Kind CommandKind
	Key  string
	// Path is the JSONPath operand for document commands.
	Path string
	// Args carries kind-specific operands (values to set/append, script
	// arguments, sorted-set members).
	Args []any
	// Script is the logical script name for CmdEvalSha; the handle itself is
	// resolved from the registry at flush time so replays pick up refreshed
	// handles.
	Script string
	// Sha is the resolved script handle, filled in during flush.
	Sha string
	// TTL is the expiry operand for CmdExpire.
	TTL time.Duration
	// IfNoExpiry restricts CmdExpire to keys without an existing expiry.
	IfNoExpiry bool
}

// Result is the outcome of one command of an atomic batch.
type Result struct {
	Val any
	Err error
}

// DocumentStore is the JSON-document side of the store: get/set-by-path,
// native path-addressed array and object commands, and atomic numeric
// increments.
type DocumentStore interface {
	JSONSet(ctx context.Context, key, path string, value any) error
	// JSONGet returns the decoded value at path, or found=false when the key
	// or path is absent.
	JSONGet(ctx context.Context, key, path string) (any, bool, error)
	// JSONMGet fetches the same path from many keys; absent keys yield nil
	// entries, preserving positions.
	JSONMGet(ctx context.Context, path string, keys ...string) ([]any, error)
	JSONDel(ctx context.Context, key, path string) error
	JSONNumIncrBy(ctx context.Context, key, path string, delta float64) (float64, error)
	JSONArrAppend(ctx context.Context, key, path string, elems ...any) (int64, error)
	JSONArrInsert(ctx context.Context, key, path string, index int64, elems ...any) (int64, error)
	// JSONArrPop removes and returns the element at index (-1 for the last);
	// ok=false when the array is empty or absent.
	JSONArrPop(ctx context.Context, key, path string, index int) (any, bool, error)
}

// KeyStore covers whole-key operations: plain string values (used by the
// locker), existence, deletion, expiry and cursor-paginated enumeration.
type KeyStore interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (bool, string, error)
	Del(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	// Expire sets the key's TTL. With ifNoExpiry it only applies to keys
	// that have no expiry yet (set-once semantics).
	Expire(ctx context.Context, key string, ttl time.Duration, ifNoExpiry bool) (bool, error)
	// TTL returns the remaining time to live; found=false when the key does
	// not exist, zero duration when the key has no expiry.
	TTL(ctx context.Context, key string) (time.Duration, bool, error)
	// Scan pages over keys matching the glob pattern. A returned cursor of 0
	// means the iteration is complete.
	Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error)
}

// SortedSetStore covers the ordered-set commands backing priority-queue fields.
type SortedSetStore interface {
	// ZAdd adds or updates members. With onlyUpdate it never adds new
	// members and reports the number of members actually changed.
	ZAdd(ctx context.Context, key string, onlyUpdate bool, members ...ZMember) (int64, error)
	ZIncrBy(ctx context.Context, key string, delta float64, member string) (float64, error)
	ZRem(ctx context.Context, key string, members ...string) (int64, error)
	ZPopMin(ctx context.Context, key string, count int64) ([]ZMember, error)
	ZPopMax(ctx context.Context, key string, count int64) ([]ZMember, error)
	ZRange(ctx context.Context, key string, start, stop int64, rev bool) ([]ZMember, error)
	// ZRangeByScore returns members with min <= score <= max; count < 0
	// means no limit.
	ZRangeByScore(ctx context.Context, key string, min, max float64, offset, count int64) ([]ZMember, error)
	ZRank(ctx context.Context, key, member string, rev bool) (int64, bool, error)
	ZScore(ctx context.Context, key, member string) (float64, bool, error)
	ZCard(ctx context.Context, key string) (int64, error)
	ZCount(ctx context.Context, key string, min, max float64) (int64, error)
}

// ScriptStore uploads server-side scripts and invokes them by handle. An
// invocation whose handle was evicted from the server's script cache fails
// with an error wrapping scripts.ErrNoScript.
type ScriptStore interface {
	ScriptLoad(ctx context.Context, src string) (string, error)
	EvalSha(ctx context.Context, sha string, keys []string, args ...any) (any, error)
}

// LockKey is one acquirable lock entry.
type LockKey struct {
	Key         string
	LockID      UUID
	IsLockOwner bool
}

// Locker is the scoped mutual-exclusion primitive keyed by name, used to
// coordinate read-modify-write sequences across processes.
type Locker interface {
	// CreateLockKeys creates lock keys with freshly generated lock IDs.
	CreateLockKeys(keys []string) []*LockKey
	// Lock attempts to acquire all keys for the given TTL. On conflict it
	// returns false together with the current owner's ID.
	Lock(ctx context.Context, duration time.Duration, lockKeys []*LockKey) (bool, UUID, error)
	// IsLocked reports whether all keys are currently owned by this process.
	IsLocked(ctx context.Context, lockKeys []*LockKey) (bool, error)
	// Unlock releases the keys owned by this process.
	Unlock(ctx context.Context, lockKeys []*LockKey) error
}

// Store is the full surface atomix requires from the underlying document
// store. redis.NewClient provides the production implementation,
// inmemory.New an in-process one.
type Store interface {
	DocumentStore
	KeyStore
	SortedSetStore
	ScriptStore
	Locker

	// ExecTx executes the commands as one atomic multi-command batch,
	// preserving order. The returned slice carries one Result per command;
	// a non-nil error means the round trip itself failed and nothing is
	// known about individual commands.
	ExecTx(ctx context.Context, cmds []Command) ([]Result, error)

	Ping(ctx context.Context) error
}
