package atomix

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sort"

	"github.com/sharedcode/atomix/scripts"
)

type txnCtxKey struct{}

type txnState int

const (
	txnOpen txnState = iota
	txnFlushing
	txnClosed
)

// Txn buffers deferred store commands for one atomic flush. It is created by
// DB.Begin and travels in the context it returns; wrapper mutations that see
// an open transaction in their context buffer instead of writing through.
// A Txn is not safe for concurrent use by multiple goroutines.
type Txn struct {
	db        *DB
	state     txnState
	cmds      []Command
	touched   map[Key]*Schema
	saved     map[Key]*Schema
	ignoreErr bool
}

// TxnOption configures a transaction at Begin.
type TxnOption func(*Txn)

// IgnoreErrors makes the flush swallow per-command failures instead of
// returning the first one. Persistent script-cache failures are still
// surfaced.
func IgnoreErrors() TxnOption {
	return func(t *Txn) { t.ignoreErr = true }
}

// Begin opens a transaction and returns a derived context carrying it.
// Mutations made with the derived context buffer; mutations made with the
// parent context keep writing through. Nested Begin calls create independent
// transactions, innermost wins for commands issued with its context.
func (db *DB) Begin(ctx context.Context, opts ...TxnOption) (context.Context, *Txn) {
	t := &Txn{db: db, touched: map[Key]*Schema{}, saved: map[Key]*Schema{}}
	for _, o := range opts {
		o(t)
	}
	return context.WithValue(ctx, txnCtxKey{}, t), t
}

// txnFrom extracts the open transaction from the context, nil when there is
// none or it already flushed.
func txnFrom(ctx context.Context) *Txn {
	t, _ := ctx.Value(txnCtxKey{}).(*Txn)
	if t != nil && t.state == txnOpen {
		return t
	}
	return nil
}

func (t *Txn) enqueue(cmd Command) {
	t.cmds = append(t.cmds, cmd)
}

// touch marks a key for a TTL refresh appended to the flush.
func (t *Txn) touch(key Key, s *Schema) {
	if s.refreshOnAccess() {
		t.touched[key] = s
	}
}

// touchSave records a buffered document save so the flush attaches the
// schema's expiry the way a write-through save does: a fresh expiry under
// the refresh policy, set-once under the monotonic one.
func (t *Txn) touchSave(key Key, s *Schema) {
	if s.TTL > 0 {
		t.saved[key] = s
	}
	t.touch(key, s)
}

// Len reports how many commands are buffered.
func (t *Txn) Len() int {
	return len(t.cmds)
}

// Rollback discards the buffered commands without sending anything.
func (t *Txn) Rollback() {
	t.cmds = nil
	t.touched = map[Key]*Schema{}
	t.saved = map[Key]*Schema{}
	t.state = txnClosed
}

// Commit flushes the buffer as one atomic batch, preserving buffering order,
// with the touched keys' TTL refreshes appended. A batch interrupted by a
// stale script handle is recovered by re-registering the catalog and
// replaying only the scripted commands: the store applies non-script commands
// of the batch even when a script in it fails, so replaying those would
// double-apply them. A second stale-handle failure surfaces as
// scripts.ErrPersistent.
func (t *Txn) Commit(ctx context.Context) error {
	if t.state != txnOpen {
		return newError(BadArgument, "transaction is not open")
	}
	if err := ctx.Err(); err != nil {
		t.Rollback()
		return err
	}
	t.state = txnFlushing
	defer func() { t.state = txnClosed }()

	cmds := append(t.cmds, t.expireCmds()...)
	if len(cmds) == 0 {
		return nil
	}
	for i := range cmds {
		if cmds[i].Kind != CmdEvalSha {
			continue
		}
		sha, err := scripts.Sha(cmds[i].Script)
		if err != nil {
			return err
		}
		cmds[i].Sha = sha
	}

	results, err := t.db.store.ExecTx(ctx, cmds)
	if err != nil {
		return err
	}
	var firstErr error
	stale := false
	for _, r := range results {
		if r.Err == nil {
			continue
		}
		if errors.Is(r.Err, scripts.ErrNoScript) {
			stale = true
			continue
		}
		if firstErr == nil {
			firstErr = r.Err
		}
	}

	if stale {
		log.Warn("script cache evicted mid-flush, replaying scripted commands", "commands", len(cmds))
		if err := scripts.Register(ctx, t.db.store); err != nil {
			return err
		}
		var replay []Command
		for _, c := range cmds {
			if c.Kind != CmdEvalSha {
				continue
			}
			sha, err := scripts.Sha(c.Script)
			if err != nil {
				return err
			}
			c.Sha = sha
			replay = append(replay, c)
		}
		results, err = t.db.store.ExecTx(ctx, replay)
		if err != nil {
			return err
		}
		for _, r := range results {
			if r.Err == nil {
				continue
			}
			if errors.Is(r.Err, scripts.ErrNoScript) {
				return Error{Code: Unknown, Err: fmt.Errorf("flush replay: %w", scripts.ErrPersistent)}
			}
			if firstErr == nil {
				firstErr = r.Err
			}
		}
	}

	if firstErr != nil {
		if t.ignoreErr {
			log.Warn("ignoring command failure during flush", "error", firstErr)
			return nil
		}
		return firstErr
	}
	return nil
}

// expireCmds builds the TTL commands appended to a flush: a fresh expiry for
// every touched refresh-on-access key, a set-once expiry for every key saved
// under the monotonic policy. Saved keys extend the expiry to their derived
// queue keys so those never outlive the document.
func (t *Txn) expireCmds() []Command {
	var cmds []Command
	for _, key := range sortedTxnKeys(t.touched) {
		s := t.touched[key]
		cmds = append(cmds, Command{Kind: CmdExpire, Key: key.String(), TTL: s.TTL})
		if _, saved := t.saved[key]; saved {
			for _, qf := range s.queueFields() {
				cmds = append(cmds, Command{Kind: CmdExpire, Key: key.queueKey(qf).String(), TTL: s.TTL})
			}
		}
	}
	for _, key := range sortedTxnKeys(t.saved) {
		s := t.saved[key]
		if s.refreshOnAccess() {
			continue
		}
		cmds = append(cmds, Command{Kind: CmdExpire, Key: key.String(), TTL: s.TTL, IfNoExpiry: true})
		for _, qf := range s.queueFields() {
			cmds = append(cmds, Command{Kind: CmdExpire, Key: key.queueKey(qf).String(), TTL: s.TTL, IfNoExpiry: true})
		}
	}
	return cmds
}

func sortedTxnKeys(m map[Key]*Schema) []Key {
	keys := make([]Key, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// TxnFunc is the body of a transactional scope.
type TxnFunc func(ctx context.Context) error

// InTxn runs fn inside a transaction scope: mutations made with the context
// fn receives buffer, and the buffer flushes atomically when fn returns. The
// flush runs even when fn fails, matching the scope semantics of the
// per-document form; call Rollback inside fn to discard instead.
func (db *DB) InTxn(ctx context.Context, fn TxnFunc, opts ...TxnOption) error {
	txCtx, t := db.Begin(ctx, opts...)
	fnErr := fn(txCtx)
	if t.state != txnOpen {
		return fnErr
	}
	if err := t.Commit(ctx); err != nil {
		if fnErr != nil {
			return errors.Join(fnErr, err)
		}
		return err
	}
	return fnErr
}
