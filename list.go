package atomix

import (
	"context"
	"fmt"

	"github.com/sharedcode/atomix/scripts"
)

// List wraps a homogeneous array field.
type List struct {
	fieldRef
	elem FieldKind
	v    []any
}

// Values returns a copy of the local elements.
func (f *List) Values() []any {
	out := make([]any, len(f.v))
	copy(out, f.v)
	return out
}

func (f *List) Len() int {
	return len(f.v)
}

// At returns the element at index i, nil when out of range.
func (f *List) At(i int) any {
	if i < 0 {
		i = len(f.v) + i
	}
	if i < 0 || i >= len(f.v) {
		return nil
	}
	return f.v[i]
}

func (f *List) dump() (any, error) {
	out := make([]any, len(f.v))
	for i, e := range f.v {
		d, err := dumpScalar(f.elem, e)
		if err != nil {
			return nil, newError(Corrupt, "field %s[%d]: %v", f.name, i, err)
		}
		out[i] = d
	}
	return out, nil
}

func (f *List) setLocal(v any) error {
	if v == nil {
		f.v = nil
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return newError(BadArgument, "field %s: expected []any, got %T", f.name, v)
	}
	elems := make([]any, len(raw))
	for i, e := range raw {
		n, err := normalizeScalar(f.elem, e)
		if err != nil {
			return newError(BadArgument, "field %s[%d]: %v", f.name, i, err)
		}
		elems[i] = n
	}
	f.v = elems
	return nil
}

// loadRaw decodes the wire array. In tolerant mode an undecodable element is
// skipped and reported through record; in strict mode it fails the load.
func (f *List) loadRaw(raw any, tolerant bool, record func(pos string)) error {
	arr, ok := raw.([]any)
	if !ok {
		return newError(Corrupt, "field %s: expected array, got %T", f.name, raw)
	}
	elems := make([]any, 0, len(arr))
	for i, e := range arr {
		n, err := decodeScalar(f.elem, e)
		if err != nil {
			if tolerant {
				record(fmt.Sprintf("%s[%d]", f.name, i))
				continue
			}
			return newError(Corrupt, "field %s[%d]: %v", f.name, i, err)
		}
		elems = append(elems, n)
	}
	f.v = elems
	return nil
}

func (f *List) elemJSONPath(i int) string {
	return jsonPath(fmt.Sprintf("%s[%d]", f.path(), i))
}

// Append adds elements to the local tail; inside a transaction the native
// array append is buffered.
func (f *List) Append(ctx context.Context, vals ...any) error {
	elems, dumped, err := f.prepare(vals)
	if err != nil {
		return err
	}
	if t := f.txn(ctx); t != nil {
		f.bufferCmd(t, Command{Kind: CmdJSONArrAppend, Key: f.key().String(), Path: f.jsonPath(), Args: dumped})
	}
	f.v = append(f.v, elems...)
	return nil
}

// Insert places elements before index i, which clamps to [0, len] with
// negative values counting from the end.
func (f *List) Insert(ctx context.Context, i int, vals ...any) error {
	elems, dumped, err := f.prepare(vals)
	if err != nil {
		return err
	}
	i = clampInsertIndex(i, len(f.v))
	if t := f.txn(ctx); t != nil {
		f.bufferCmd(t, Command{Kind: CmdJSONArrInsert, Key: f.key().String(), Path: f.jsonPath(), Args: append([]any{int64(i)}, dumped...)})
	}
	f.v = append(f.v[:i], append(elems, f.v[i:]...)...)
	return nil
}

// SetIndex replaces the element at i; i must resolve within bounds.
func (f *List) SetIndex(ctx context.Context, i int, val any) error {
	idx, err := f.resolveIndex(i)
	if err != nil {
		return err
	}
	n, err := normalizeScalar(f.elem, val)
	if err != nil {
		return newError(BadArgument, "field %s[%d]: %v", f.name, i, err)
	}
	d, err := dumpScalar(f.elem, n)
	if err != nil {
		return err
	}
	if t := f.txn(ctx); t != nil {
		f.bufferCmd(t, Command{Kind: CmdJSONSet, Key: f.key().String(), Path: f.elemJSONPath(idx), Args: []any{d}})
	}
	f.v[idx] = n
	return nil
}

// RemoveRange drops the elements in [start, end). Negative indices count from
// the end, out-of-bounds bounds clamp, and an empty selection is a no-op.
// Inside a transaction the range-removal script is buffered with the original
// bounds so the server normalizes against its own state.
func (f *List) RemoveRange(ctx context.Context, start, end int) {
	if t := f.txn(ctx); t != nil {
		f.bufferScript(t, scripts.RemoveRange, start, end)
	}
	f.removeLocal(start, end)
}

func (f *List) removeLocal(start, end int) {
	s, e, ok := normalizeRange(start, end, len(f.v))
	if !ok {
		return
	}
	f.v = append(f.v[:s], f.v[e:]...)
}

// AppendNow appends on the store immediately and returns the new length.
func (f *List) AppendNow(ctx context.Context, vals ...any) (int64, error) {
	elems, dumped, err := f.prepare(vals)
	if err != nil {
		return 0, err
	}
	n, err := f.store().JSONArrAppend(ctx, f.key().String(), f.jsonPath(), dumped...)
	if err != nil {
		return 0, err
	}
	f.v = append(f.v, elems...)
	if err := f.refresh(ctx); err != nil {
		return n, err
	}
	return n, nil
}

// InsertNow inserts on the store immediately and returns the new length.
func (f *List) InsertNow(ctx context.Context, i int, vals ...any) (int64, error) {
	elems, dumped, err := f.prepare(vals)
	if err != nil {
		return 0, err
	}
	i = clampInsertIndex(i, len(f.v))
	n, err := f.store().JSONArrInsert(ctx, f.key().String(), f.jsonPath(), int64(i), dumped...)
	if err != nil {
		return 0, err
	}
	f.v = append(f.v[:i], append(elems, f.v[i:]...)...)
	if err := f.refresh(ctx); err != nil {
		return n, err
	}
	return n, nil
}

func (f *List) SetIndexNow(ctx context.Context, i int, val any) error {
	idx, err := f.resolveIndex(i)
	if err != nil {
		return err
	}
	n, err := normalizeScalar(f.elem, val)
	if err != nil {
		return newError(BadArgument, "field %s[%d]: %v", f.name, i, err)
	}
	d, err := dumpScalar(f.elem, n)
	if err != nil {
		return err
	}
	if err := f.store().JSONSet(ctx, f.key().String(), f.elemJSONPath(idx), d); err != nil {
		return err
	}
	f.v[idx] = n
	return f.refresh(ctx)
}

// RemoveRangeNow runs the range-removal script immediately; the server
// normalizes the bounds against the stored array.
func (f *List) RemoveRangeNow(ctx context.Context, start, end int) error {
	_, err := scripts.Run(ctx, f.store(), scripts.RemoveRange, []string{f.key().String()}, f.jsonPath(), start, end)
	if err != nil {
		return err
	}
	f.removeLocal(start, end)
	return f.refresh(ctx)
}

// PopNow removes and returns the stored element at index i (-1 for the last).
// ok=false means the array was empty or absent.
func (f *List) PopNow(ctx context.Context, i int) (any, bool, error) {
	raw, ok, err := f.store().JSONArrPop(ctx, f.key().String(), f.jsonPath(), i)
	if err != nil || !ok {
		return nil, false, err
	}
	val, err := decodeScalar(f.elem, raw)
	if err != nil {
		return nil, false, newError(Corrupt, "field %s: %v", f.name, err)
	}
	if idx := i; len(f.v) > 0 {
		if idx < 0 {
			idx = len(f.v) + idx
		}
		if idx >= 0 && idx < len(f.v) {
			f.v = append(f.v[:idx], f.v[idx+1:]...)
		}
	}
	if err := f.refresh(ctx); err != nil {
		return val, true, err
	}
	return val, true, nil
}

func (f *List) prepare(vals []any) (elems []any, dumped []any, err error) {
	if len(vals) == 0 {
		return nil, nil, newError(BadArgument, "field %s: no elements given", f.name)
	}
	elems = make([]any, len(vals))
	dumped = make([]any, len(vals))
	for i, v := range vals {
		n, err := normalizeScalar(f.elem, v)
		if err != nil {
			return nil, nil, newError(BadArgument, "field %s: element %d: %v", f.name, i, err)
		}
		d, err := dumpScalar(f.elem, n)
		if err != nil {
			return nil, nil, err
		}
		elems[i] = n
		dumped[i] = d
	}
	return elems, dumped, nil
}

func (f *List) resolveIndex(i int) (int, error) {
	idx := i
	if idx < 0 {
		idx = len(f.v) + idx
	}
	if idx < 0 || idx >= len(f.v) {
		return 0, newError(BadArgument, "field %s: index %d out of range [0, %d)", f.name, i, len(f.v))
	}
	return idx, nil
}

func clampInsertIndex(i, n int) int {
	if i < 0 {
		i = n + i
	}
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}
