package atomix

import (
	"context"
	log "log/slog"
)

// Selector resolves pages of keys for bulk deletion. Implementations are
// opaque to the engine; the structured-query layer supplies its own. A zero
// next cursor ends the iteration.
type Selector interface {
	ResolveKeys(ctx context.Context, cursor uint64) (keys []string, next uint64, err error)
}

// TypeSelector pages over every stored key of one registered type, derived
// priority-queue keys included.
type TypeSelector struct {
	db       *DB
	typeName string
}

// SelectType builds a selector covering every document of a registered type.
func (db *DB) SelectType(typeName string) (*TypeSelector, error) {
	if typeName == "" {
		return nil, newError(BadArgument, "empty type name")
	}
	if _, ok := db.Schema(typeName); !ok {
		return nil, newError(UnknownType, "no schema registered for type %s", typeName)
	}
	return &TypeSelector{db: db, typeName: typeName}, nil
}

func (s *TypeSelector) ResolveKeys(ctx context.Context, cursor uint64) ([]string, uint64, error) {
	return s.db.store.Scan(ctx, cursor, s.typeName+":*", s.db.options.ScanPageSize)
}

// DeleteResult is the accounting of a bulk deletion.
type DeleteResult struct {
	// Count is the number of removed documents. Derived priority-queue keys
	// are removed alongside but not counted.
	Count int64
	// ByType breaks Count down by document type.
	ByType map[string]int64
	// Committed is false when any deletion batch failed, or when the call ran
	// inside an open transaction (pagination needs intermediate results, so
	// the batches go out on their own, outside the transaction's atomicity).
	Committed bool
}

// DeleteMany removes documents given either explicit keys (Key, string, or
// *Document arguments, freely mixed) or exactly one Selector. Mixing the two
// shapes, or passing nothing, fails before any command is sent. Keys that do
// not exist are skipped silently.
//
// The key set is deleted in atomic batches of at most MaxDeleteBatch keys, so
// arbitrarily large selections never turn into one giant command. A failed
// batch is logged and skipped; the iteration carries on and the result
// reports Committed=false.
func (db *DB) DeleteMany(ctx context.Context, args ...any) (DeleteResult, error) {
	sel, keys, err := deleteArgs(args)
	if err != nil {
		return DeleteResult{}, err
	}
	res := DeleteResult{ByType: map[string]int64{}, Committed: true}
	if txnFrom(ctx) != nil {
		res.Committed = false
	}

	var batch []string
	flush := func() {
		if len(batch) == 0 {
			return
		}
		cmds := make([]Command, len(batch))
		for i, k := range batch {
			cmds[i] = Command{Kind: CmdDel, Key: k}
		}
		results, err := db.store.ExecTx(ctx, cmds)
		if err != nil {
			log.Warn("deletion batch failed, skipping", "keys", len(batch), "error", err)
			res.Committed = false
			batch = batch[:0]
			return
		}
		for i, r := range results {
			if r.Err != nil {
				res.Committed = false
				continue
			}
			if n, ok := r.Val.(int64); ok && n > 0 && !isQueueKey(batch[i]) {
				res.Count++
				res.ByType[Key(batch[i]).Prefix()]++
			}
		}
		batch = batch[:0]
	}
	add := func(k string) {
		batch = append(batch, k)
		if len(batch) >= db.options.MaxDeleteBatch {
			flush()
		}
	}

	if sel != nil {
		// A selector yields the complete key set, derived keys included
		// (TypeSelector covers them through its prefix pattern).
		var cursor uint64
		for {
			page, next, err := sel.ResolveKeys(ctx, cursor)
			if err != nil {
				return res, err
			}
			for _, k := range page {
				add(k)
			}
			if next == 0 {
				break
			}
			cursor = next
		}
	} else {
		for _, k := range keys {
			add(k)
			for _, dk := range db.derivedKeys(k) {
				add(dk)
			}
		}
	}
	flush()
	return res, nil
}

// deleteArgs sorts the mixed argument list into its two legal shapes.
func deleteArgs(args []any) (Selector, []string, error) {
	if len(args) == 0 {
		return nil, nil, newError(BadArgument, "nothing to delete")
	}
	var sel Selector
	var keys []string
	for _, a := range args {
		switch v := a.(type) {
		case Selector:
			if sel != nil || len(keys) > 0 {
				return nil, nil, newError(BadArgument, "a selector cannot be combined with other arguments")
			}
			sel = v
		case Key:
			keys = append(keys, v.String())
		case string:
			keys = append(keys, v)
		case *Document:
			keys = append(keys, v.root().Key().String())
		default:
			return nil, nil, newError(BadArgument, "cannot delete by %T argument", a)
		}
	}
	if sel != nil && len(keys) > 0 {
		return nil, nil, newError(BadArgument, "a selector cannot be combined with other arguments")
	}
	return sel, keys, nil
}

// derivedKeys lists the priority-queue keys hanging off a document key, per
// its type's schema. Unregistered prefixes expand to nothing.
func (db *DB) derivedKeys(k string) []string {
	key := Key(k)
	s, ok := db.Schema(key.Prefix())
	if !ok {
		return nil
	}
	names := s.queueFields()
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, key.queueKey(name).String())
	}
	return out
}
