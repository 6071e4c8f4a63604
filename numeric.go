package atomix

import (
	"context"
	"math"
	"strconv"

	"github.com/sharedcode/atomix/scripts"
)

// Int is a typed wrapper around an integer field. The plain verbs mutate the
// local value and, inside an open transaction, buffer the matching store
// command; the Now forms apply to the store immediately and report the
// post-operation value.
type Int struct {
	fieldRef
	v int64
}

// Value returns the current local value.
func (f *Int) Value() int64 {
	return f.v
}

func (f *Int) dump() (any, error) {
	return f.v, nil
}

func (f *Int) setLocal(v any) error {
	n, err := normalizeScalar(KindInt, v)
	if err != nil {
		return newError(BadArgument, "field %s: %v", f.name, err)
	}
	if n == nil {
		f.v = 0
		return nil
	}
	f.v = n.(int64)
	return nil
}

func (f *Int) loadRaw(raw any) error {
	n, err := decodeScalar(KindInt, raw)
	if err != nil {
		return newError(Corrupt, "field %s: %v", f.name, err)
	}
	if n == nil {
		f.v = 0
		return nil
	}
	f.v = n.(int64)
	return nil
}

// Add increments the local value; inside a transaction the matching native
// increment is buffered for the flush.
func (f *Int) Add(ctx context.Context, delta int64) int64 {
	if t := f.txn(ctx); t != nil {
		f.bufferCmd(t, Command{Kind: CmdJSONNumIncrBy, Key: f.key().String(), Path: f.jsonPath(), Args: []any{float64(delta)}})
	}
	f.v += delta
	return f.v
}

func (f *Int) Sub(ctx context.Context, delta int64) int64 {
	return f.Add(ctx, -delta)
}

func (f *Int) Mul(ctx context.Context, n int64) int64 {
	if t := f.txn(ctx); t != nil {
		f.bufferScript(t, scripts.NumMul, float64(n))
	}
	f.v *= n
	return f.v
}

// Div is floor division, matching the server-side script's math.floor.
func (f *Int) Div(ctx context.Context, n int64) int64 {
	if t := f.txn(ctx); t != nil {
		f.bufferScript(t, scripts.NumFloorDiv, float64(n))
	}
	f.v = floorDiv(f.v, n)
	return f.v
}

// Mod takes the divisor's sign, pairing with Div.
func (f *Int) Mod(ctx context.Context, n int64) int64 {
	if t := f.txn(ctx); t != nil {
		f.bufferScript(t, scripts.NumMod, float64(n))
	}
	f.v = floorMod(f.v, n)
	return f.v
}

func (f *Int) Pow(ctx context.Context, n int64) int64 {
	if t := f.txn(ctx); t != nil {
		f.bufferScript(t, scripts.NumPow, float64(n))
	}
	f.v = intPow(f.v, n)
	return f.v
}

// AddNow atomically increments the stored value and returns the result.
// Concurrent callers never lose updates.
func (f *Int) AddNow(ctx context.Context, delta int64) (int64, error) {
	res, err := f.store().JSONNumIncrBy(ctx, f.key().String(), f.jsonPath(), float64(delta))
	if err != nil {
		return 0, err
	}
	f.v = int64(res)
	if err := f.refresh(ctx); err != nil {
		return f.v, err
	}
	return f.v, nil
}

func (f *Int) SubNow(ctx context.Context, delta int64) (int64, error) {
	return f.AddNow(ctx, -delta)
}

func (f *Int) MulNow(ctx context.Context, n int64) (int64, error) {
	return f.applyScriptNow(ctx, scripts.NumMul, float64(n))
}

func (f *Int) DivNow(ctx context.Context, n int64) (int64, error) {
	return f.applyScriptNow(ctx, scripts.NumFloorDiv, float64(n))
}

func (f *Int) ModNow(ctx context.Context, n int64) (int64, error) {
	return f.applyScriptNow(ctx, scripts.NumMod, float64(n))
}

func (f *Int) PowNow(ctx context.Context, n int64) (int64, error) {
	return f.applyScriptNow(ctx, scripts.NumPow, float64(n))
}

func (f *Int) applyScriptNow(ctx context.Context, name string, operand float64) (int64, error) {
	res, err := scripts.Run(ctx, f.store(), name, []string{f.key().String()}, f.jsonPath(), operand)
	if err != nil {
		return 0, err
	}
	val, err := scriptNumber(res)
	if err != nil {
		return 0, newError(Corrupt, "field %s: %v", f.name, err)
	}
	f.v = int64(val)
	if err := f.refresh(ctx); err != nil {
		return f.v, err
	}
	return f.v, nil
}

// Float is the floating-point counterpart of Int. Division is true division.
type Float struct {
	fieldRef
	v float64
}

func (f *Float) Value() float64 {
	return f.v
}

func (f *Float) dump() (any, error) {
	return f.v, nil
}

func (f *Float) setLocal(v any) error {
	n, err := normalizeScalar(KindFloat, v)
	if err != nil {
		return newError(BadArgument, "field %s: %v", f.name, err)
	}
	if n == nil {
		f.v = 0
		return nil
	}
	f.v = n.(float64)
	return nil
}

func (f *Float) loadRaw(raw any) error {
	n, err := decodeScalar(KindFloat, raw)
	if err != nil {
		return newError(Corrupt, "field %s: %v", f.name, err)
	}
	if n == nil {
		f.v = 0
		return nil
	}
	f.v = n.(float64)
	return nil
}

func (f *Float) Add(ctx context.Context, delta float64) float64 {
	if t := f.txn(ctx); t != nil {
		f.bufferCmd(t, Command{Kind: CmdJSONNumIncrBy, Key: f.key().String(), Path: f.jsonPath(), Args: []any{delta}})
	}
	f.v += delta
	return f.v
}

func (f *Float) Sub(ctx context.Context, delta float64) float64 {
	return f.Add(ctx, -delta)
}

func (f *Float) Mul(ctx context.Context, n float64) float64 {
	if t := f.txn(ctx); t != nil {
		f.bufferScript(t, scripts.NumMul, n)
	}
	f.v *= n
	return f.v
}

func (f *Float) Div(ctx context.Context, n float64) float64 {
	if t := f.txn(ctx); t != nil {
		f.bufferScript(t, scripts.NumTrueDiv, n)
	}
	f.v /= n
	return f.v
}

func (f *Float) Pow(ctx context.Context, n float64) float64 {
	if t := f.txn(ctx); t != nil {
		f.bufferScript(t, scripts.NumPow, n)
	}
	f.v = math.Pow(f.v, n)
	return f.v
}

func (f *Float) AddNow(ctx context.Context, delta float64) (float64, error) {
	res, err := f.store().JSONNumIncrBy(ctx, f.key().String(), f.jsonPath(), delta)
	if err != nil {
		return 0, err
	}
	f.v = res
	if err := f.refresh(ctx); err != nil {
		return f.v, err
	}
	return f.v, nil
}

func (f *Float) SubNow(ctx context.Context, delta float64) (float64, error) {
	return f.AddNow(ctx, -delta)
}

func (f *Float) MulNow(ctx context.Context, n float64) (float64, error) {
	return f.applyScriptNow(ctx, scripts.NumMul, n)
}

func (f *Float) DivNow(ctx context.Context, n float64) (float64, error) {
	return f.applyScriptNow(ctx, scripts.NumTrueDiv, n)
}

func (f *Float) PowNow(ctx context.Context, n float64) (float64, error) {
	return f.applyScriptNow(ctx, scripts.NumPow, n)
}

func (f *Float) applyScriptNow(ctx context.Context, name string, operand float64) (float64, error) {
	res, err := scripts.Run(ctx, f.store(), name, []string{f.key().String()}, f.jsonPath(), operand)
	if err != nil {
		return 0, err
	}
	val, err := scriptNumber(res)
	if err != nil {
		return 0, newError(Corrupt, "field %s: %v", f.name, err)
	}
	f.v = val
	if err := f.refresh(ctx); err != nil {
		return f.v, err
	}
	return f.v, nil
}

// scriptNumber parses the numeric reply of a read-compute-rewrite script.
// The scripts stringify their result, so both forms are accepted.
func scriptNumber(res any) (float64, error) {
	switch v := res.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(v, 64)
	case []byte:
		return strconv.ParseFloat(string(v), 64)
	}
	return 0, newError(Corrupt, "unexpected numeric script reply %v (%T)", res, res)
}
