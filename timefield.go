package atomix

import (
	"context"
	"time"
)

// Time wraps a wall-clock field carried on the wire as an RFC 3339 string.
// String timestamps cannot be incremented server-side, so mutations rewrite
// the serialized value: a remote shift is read-modify-write, not commutative.
type Time struct {
	fieldRef
	v time.Time
}

func (f *Time) Value() time.Time {
	return f.v
}

func (f *Time) dump() (any, error) {
	return dumpScalar(KindTime, f.v)
}

func (f *Time) setLocal(v any) error {
	n, err := normalizeScalar(KindTime, v)
	if err != nil {
		return newError(BadArgument, "field %s: %v", f.name, err)
	}
	if n == nil {
		f.v = time.Time{}
		return nil
	}
	f.v = n.(time.Time)
	return nil
}

func (f *Time) loadRaw(raw any) error {
	n, err := decodeScalar(KindTime, raw)
	if err != nil {
		return newError(Corrupt, "field %s: %v", f.name, err)
	}
	if n == nil {
		f.v = time.Time{}
		return nil
	}
	f.v = n.(time.Time)
	return nil
}

// Add shifts the local value; inside a transaction the rewrite of the new
// serialized form is buffered.
func (f *Time) Add(ctx context.Context, d time.Duration) time.Time {
	f.v = f.v.Add(d)
	if t := f.txn(ctx); t != nil {
		f.bufferCmd(t, Command{Kind: CmdJSONSet, Key: f.key().String(), Path: f.jsonPath(), Args: []any{f.v.Format(time.RFC3339Nano)}})
	}
	return f.v
}

func (f *Time) Sub(ctx context.Context, d time.Duration) time.Time {
	return f.Add(ctx, -d)
}

// Set replaces the local value; inside a transaction the rewrite is buffered.
func (f *Time) Set(ctx context.Context, v time.Time) {
	f.v = v
	if t := f.txn(ctx); t != nil {
		f.bufferCmd(t, Command{Kind: CmdJSONSet, Key: f.key().String(), Path: f.jsonPath(), Args: []any{f.v.Format(time.RFC3339Nano)}})
	}
}

// AddNow shifts the local value and writes the new serialized form to the
// store immediately.
func (f *Time) AddNow(ctx context.Context, d time.Duration) (time.Time, error) {
	shifted := f.v.Add(d)
	if err := f.store().JSONSet(ctx, f.key().String(), f.jsonPath(), shifted.Format(time.RFC3339Nano)); err != nil {
		return f.v, err
	}
	f.v = shifted
	if err := f.refresh(ctx); err != nil {
		return f.v, err
	}
	return f.v, nil
}

func (f *Time) SubNow(ctx context.Context, d time.Duration) (time.Time, error) {
	return f.AddNow(ctx, -d)
}

// Timestamp wraps an instant carried on the wire as fractional epoch seconds.
// Unlike Time, remote shifts ride the native numeric increment and are safe
// under concurrency.
type Timestamp struct {
	fieldRef
	v time.Time
}

func (f *Timestamp) Value() time.Time {
	return f.v
}

func (f *Timestamp) dump() (any, error) {
	return dumpScalar(KindTimestamp, f.v)
}

func (f *Timestamp) setLocal(v any) error {
	n, err := normalizeScalar(KindTimestamp, v)
	if err != nil {
		return newError(BadArgument, "field %s: %v", f.name, err)
	}
	if n == nil {
		f.v = time.Time{}
		return nil
	}
	f.v = n.(time.Time)
	return nil
}

func (f *Timestamp) loadRaw(raw any) error {
	n, err := decodeScalar(KindTimestamp, raw)
	if err != nil {
		return newError(Corrupt, "field %s: %v", f.name, err)
	}
	if n == nil {
		f.v = time.Time{}
		return nil
	}
	f.v = n.(time.Time)
	return nil
}

// Add shifts the local value; inside a transaction the epoch increment is
// buffered as a native numeric increment.
func (f *Timestamp) Add(ctx context.Context, d time.Duration) time.Time {
	if t := f.txn(ctx); t != nil {
		f.bufferCmd(t, Command{Kind: CmdJSONNumIncrBy, Key: f.key().String(), Path: f.jsonPath(), Args: []any{d.Seconds()}})
	}
	f.v = f.v.Add(d)
	return f.v
}

func (f *Timestamp) Sub(ctx context.Context, d time.Duration) time.Time {
	return f.Add(ctx, -d)
}

// Set replaces the local value; inside a transaction the rewrite is buffered.
func (f *Timestamp) Set(ctx context.Context, v time.Time) {
	f.v = v
	if t := f.txn(ctx); t != nil {
		f.bufferCmd(t, Command{Kind: CmdJSONSet, Key: f.key().String(), Path: f.jsonPath(), Args: []any{epochSeconds(f.v)}})
	}
}

// AddNow shifts the stored epoch value atomically and returns the resulting
// instant.
func (f *Timestamp) AddNow(ctx context.Context, d time.Duration) (time.Time, error) {
	res, err := f.store().JSONNumIncrBy(ctx, f.key().String(), f.jsonPath(), d.Seconds())
	if err != nil {
		return f.v, err
	}
	f.v = timeFromEpoch(res)
	if err := f.refresh(ctx); err != nil {
		return f.v, err
	}
	return f.v, nil
}

func (f *Timestamp) SubNow(ctx context.Context, d time.Duration) (time.Time, error) {
	return f.AddNow(ctx, -d)
}
