package atomix

import (
	"context"
	"fmt"
	"sort"

	"github.com/sharedcode/atomix/scripts"
)

// Map wraps a string-keyed object field with homogeneous values.
type Map struct {
	fieldRef
	elem FieldKind
	v    map[string]any
}

// Value returns a copy of the local members.
func (f *Map) Value() map[string]any {
	out := make(map[string]any, len(f.v))
	for k, v := range f.v {
		out[k] = v
	}
	return out
}

func (f *Map) Get(k string) (any, bool) {
	v, ok := f.v[k]
	return v, ok
}

func (f *Map) Len() int {
	return len(f.v)
}

func (f *Map) dump() (any, error) {
	out := make(map[string]any, len(f.v))
	for k, v := range f.v {
		d, err := dumpScalar(f.elem, v)
		if err != nil {
			return nil, newError(Corrupt, "field %s[%s]: %v", f.name, k, err)
		}
		out[k] = d
	}
	return out, nil
}

func (f *Map) setLocal(v any) error {
	if v == nil {
		f.v = map[string]any{}
		return nil
	}
	raw, ok := v.(map[string]any)
	if !ok {
		return newError(BadArgument, "field %s: expected map[string]any, got %T", f.name, v)
	}
	members := make(map[string]any, len(raw))
	for k, e := range raw {
		n, err := normalizeScalar(f.elem, e)
		if err != nil {
			return newError(BadArgument, "field %s[%s]: %v", f.name, k, err)
		}
		members[k] = n
	}
	f.v = members
	return nil
}

// loadRaw decodes the wire object. In tolerant mode an undecodable member is
// skipped and reported through record; in strict mode it fails the load.
func (f *Map) loadRaw(raw any, tolerant bool, record func(pos string)) error {
	obj, ok := raw.(map[string]any)
	if !ok {
		return newError(Corrupt, "field %s: expected object, got %T", f.name, raw)
	}
	members := make(map[string]any, len(obj))
	for k, e := range obj {
		n, err := decodeScalar(f.elem, e)
		if err != nil {
			if tolerant {
				record(fmt.Sprintf("%s[%s]", f.name, k))
				continue
			}
			return newError(Corrupt, "field %s[%s]: %v", f.name, k, err)
		}
		members[k] = n
	}
	f.v = members
	return nil
}

func (f *Map) memberJSONPath(k string) string {
	return jsonPath(f.path() + "." + k)
}

// Set writes one member locally; inside a transaction the member rewrite is
// buffered.
func (f *Map) Set(ctx context.Context, k string, val any) error {
	n, d, err := f.prepareMember(k, val)
	if err != nil {
		return err
	}
	if t := f.txn(ctx); t != nil {
		f.bufferCmd(t, Command{Kind: CmdJSONSet, Key: f.key().String(), Path: f.memberJSONPath(k), Args: []any{d}})
	}
	f.v[k] = n
	return nil
}

// Update merges members in deterministic key order; each member buffers or
// writes its own rewrite.
func (f *Map) Update(ctx context.Context, m map[string]any) error {
	for _, k := range sortedKeys(m) {
		if err := f.Set(ctx, k, m[k]); err != nil {
			return err
		}
	}
	return nil
}

// Del drops a member locally; inside a transaction the atomic remove-by-key
// script is buffered.
func (f *Map) Del(ctx context.Context, k string) {
	if t := f.txn(ctx); t != nil {
		f.bufferScript(t, scripts.DictPop, k)
	}
	delete(f.v, k)
}

// Clear empties the map; inside a transaction the whole-field rewrite to an
// empty object is buffered.
func (f *Map) Clear(ctx context.Context) {
	if t := f.txn(ctx); t != nil {
		f.bufferCmd(t, Command{Kind: CmdJSONSet, Key: f.key().String(), Path: f.jsonPath(), Args: []any{map[string]any{}}})
	}
	f.v = map[string]any{}
}

// SetNow writes one member to the store immediately.
func (f *Map) SetNow(ctx context.Context, k string, val any) error {
	n, d, err := f.prepareMember(k, val)
	if err != nil {
		return err
	}
	if err := f.store().JSONSet(ctx, f.key().String(), f.memberJSONPath(k), d); err != nil {
		return err
	}
	f.v[k] = n
	return f.refresh(ctx)
}

// UpdateNow merges members as one atomic batch.
func (f *Map) UpdateNow(ctx context.Context, m map[string]any) error {
	keys := sortedKeys(m)
	normalized := make(map[string]any, len(m))
	cmds := make([]Command, 0, len(m))
	for _, k := range keys {
		n, d, err := f.prepareMember(k, m[k])
		if err != nil {
			return err
		}
		normalized[k] = n
		cmds = append(cmds, Command{Kind: CmdJSONSet, Key: f.key().String(), Path: f.memberJSONPath(k), Args: []any{d}})
	}
	if len(cmds) == 0 {
		return nil
	}
	results, err := f.store().ExecTx(ctx, cmds)
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	for k, n := range normalized {
		f.v[k] = n
	}
	return f.refresh(ctx)
}

// ClearNow rewrites the stored field to an empty object.
func (f *Map) ClearNow(ctx context.Context) error {
	if err := f.store().JSONSet(ctx, f.key().String(), f.jsonPath(), map[string]any{}); err != nil {
		return err
	}
	f.v = map[string]any{}
	return f.refresh(ctx)
}

// PopNow atomically removes member k from the store and returns its value;
// def is returned when the member is absent.
func (f *Map) PopNow(ctx context.Context, k string, def any) (any, error) {
	res, err := scripts.Run(ctx, f.store(), scripts.DictPop, []string{f.key().String()}, f.jsonPath(), k)
	if err != nil {
		return nil, err
	}
	decoded, present, err := scriptResult(res)
	if err != nil {
		return nil, err
	}
	if !present {
		return def, nil
	}
	val, err := decodeScalar(f.elem, decoded)
	if err != nil {
		return nil, newError(Corrupt, "field %s[%s]: %v", f.name, k, err)
	}
	delete(f.v, k)
	if err := f.refresh(ctx); err != nil {
		return val, err
	}
	return val, nil
}

// PopItemNow atomically removes an arbitrary member and returns it. Unlike
// PopNow there is no default: an empty map is an error.
func (f *Map) PopItemNow(ctx context.Context) (string, any, error) {
	res, err := scripts.Run(ctx, f.store(), scripts.DictPopItem, []string{f.key().String()}, f.jsonPath())
	if err != nil {
		return "", nil, err
	}
	decoded, present, err := scriptResult(res)
	if err != nil {
		return "", nil, err
	}
	if !present {
		return "", nil, newError(CollectionEmpty, "field %s on %s has no members", f.name, f.key())
	}
	pair, ok := decoded.([]any)
	if !ok || len(pair) != 2 {
		return "", nil, newError(Corrupt, "field %s: malformed popitem reply %v", f.name, decoded)
	}
	k, ok := pair[0].(string)
	if !ok {
		return "", nil, newError(Corrupt, "field %s: non-string member key %v", f.name, pair[0])
	}
	val, err := decodeScalar(f.elem, pair[1])
	if err != nil {
		return "", nil, newError(Corrupt, "field %s[%s]: %v", f.name, k, err)
	}
	delete(f.v, k)
	if err := f.refresh(ctx); err != nil {
		return k, val, err
	}
	return k, val, nil
}

// DelNow atomically removes member k from the store, reporting whether it
// existed.
func (f *Map) DelNow(ctx context.Context, k string) (bool, error) {
	res, err := scripts.Run(ctx, f.store(), scripts.DictPop, []string{f.key().String()}, f.jsonPath(), k)
	if err != nil {
		return false, err
	}
	_, present, err := scriptResult(res)
	if err != nil {
		return false, err
	}
	if present {
		delete(f.v, k)
	}
	if err := f.refresh(ctx); err != nil {
		return present, err
	}
	return present, nil
}

func (f *Map) prepareMember(k string, val any) (any, any, error) {
	if k == "" {
		return nil, nil, newError(BadArgument, "field %s: empty member key", f.name)
	}
	n, err := normalizeScalar(f.elem, val)
	if err != nil {
		return nil, nil, newError(BadArgument, "field %s[%s]: %v", f.name, k, err)
	}
	d, err := dumpScalar(f.elem, n)
	if err != nil {
		return nil, nil, err
	}
	return n, d, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
