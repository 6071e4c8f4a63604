package atomix

import (
	"context"
	"strings"

	"github.com/sharedcode/atomix/scripts"
)

// Str wraps a string field.
type Str struct {
	fieldRef
	v string
}

func (f *Str) Value() string {
	return f.v
}

func (f *Str) dump() (any, error) {
	return f.v, nil
}

func (f *Str) setLocal(v any) error {
	n, err := normalizeScalar(KindString, v)
	if err != nil {
		return newError(BadArgument, "field %s: %v", f.name, err)
	}
	if n == nil {
		f.v = ""
		return nil
	}
	f.v = n.(string)
	return nil
}

func (f *Str) loadRaw(raw any) error {
	n, err := decodeScalar(KindString, raw)
	if err != nil {
		return newError(Corrupt, "field %s: %v", f.name, err)
	}
	if n == nil {
		f.v = ""
		return nil
	}
	f.v = n.(string)
	return nil
}

// Append concatenates onto the local value; inside a transaction the
// server-side concatenation script is buffered for the flush.
func (f *Str) Append(ctx context.Context, s string) string {
	if t := f.txn(ctx); t != nil {
		f.bufferScript(t, scripts.StrAppend, s)
	}
	f.v += s
	return f.v
}

// Repeat replaces the value with n copies of itself; n <= 0 empties it.
func (f *Str) Repeat(ctx context.Context, n int) string {
	if t := f.txn(ctx); t != nil {
		f.bufferScript(t, scripts.StrMul, n)
	}
	if n <= 0 {
		f.v = ""
	} else {
		f.v = strings.Repeat(f.v, n)
	}
	return f.v
}

// AppendNow concatenates atomically on the store and returns the result.
func (f *Str) AppendNow(ctx context.Context, s string) (string, error) {
	return f.applyScriptNow(ctx, scripts.StrAppend, s)
}

func (f *Str) RepeatNow(ctx context.Context, n int) (string, error) {
	return f.applyScriptNow(ctx, scripts.StrMul, n)
}

func (f *Str) applyScriptNow(ctx context.Context, name string, operand any) (string, error) {
	res, err := scripts.Run(ctx, f.store(), name, []string{f.key().String()}, f.jsonPath(), operand)
	if err != nil {
		return "", err
	}
	switch v := res.(type) {
	case string:
		f.v = v
	case []byte:
		f.v = string(v)
	case nil:
		return "", newError(NotFound, "field %s absent on %s", f.name, f.key())
	default:
		return "", newError(Corrupt, "field %s: unexpected script reply %v (%T)", f.name, res, res)
	}
	if err := f.refresh(ctx); err != nil {
		return f.v, err
	}
	return f.v, nil
}

// Bytes wraps an opaque blob field, carried on the wire as a base64 string.
type Bytes struct {
	fieldRef
	v []byte
}

func (f *Bytes) Value() []byte {
	return f.v
}

func (f *Bytes) dump() (any, error) {
	return dumpScalar(KindBytes, f.v)
}

func (f *Bytes) setLocal(v any) error {
	n, err := normalizeScalar(KindBytes, v)
	if err != nil {
		return newError(BadArgument, "field %s: %v", f.name, err)
	}
	if n == nil {
		f.v = nil
		return nil
	}
	f.v = n.([]byte)
	return nil
}

func (f *Bytes) loadRaw(raw any) error {
	n, err := decodeScalar(KindBytes, raw)
	if err != nil {
		return newError(Corrupt, "field %s: %v", f.name, err)
	}
	if n == nil {
		f.v = nil
		return nil
	}
	f.v = n.([]byte)
	return nil
}

// Set replaces the local value; inside a transaction the rewrite is buffered.
func (f *Bytes) Set(ctx context.Context, b []byte) {
	f.v = b
	if t := f.txn(ctx); t != nil {
		encoded, _ := dumpScalar(KindBytes, b)
		f.bufferCmd(t, Command{Kind: CmdJSONSet, Key: f.key().String(), Path: f.jsonPath(), Args: []any{encoded}})
	}
}

// SetNow writes the value to the store immediately.
func (f *Bytes) SetNow(ctx context.Context, b []byte) error {
	encoded, err := dumpScalar(KindBytes, b)
	if err != nil {
		return err
	}
	if err := f.store().JSONSet(ctx, f.key().String(), f.jsonPath(), encoded); err != nil {
		return err
	}
	f.v = b
	return f.refresh(ctx)
}
