package atomix

import (
	"encoding/base64"
	"math"
	"time"
)

// Wire representation per kind: numbers as JSON numbers, byte blobs as
// base64 strings, KindTime as RFC 3339 strings, KindTimestamp as fractional
// epoch seconds.

func dumpScalar(kind FieldKind, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch kind {
	case KindInt:
		n, ok := v.(int64)
		if !ok {
			return nil, newError(Corrupt, "expected int64, got %T", v)
		}
		return n, nil
	case KindFloat:
		f, ok := v.(float64)
		if !ok {
			return nil, newError(Corrupt, "expected float64, got %T", v)
		}
		return f, nil
	case KindString:
		s, ok := v.(string)
		if !ok {
			return nil, newError(Corrupt, "expected string, got %T", v)
		}
		return s, nil
	case KindBytes:
		b, ok := v.([]byte)
		if !ok {
			return nil, newError(Corrupt, "expected []byte, got %T", v)
		}
		return base64.StdEncoding.EncodeToString(b), nil
	case KindTime:
		t, ok := v.(time.Time)
		if !ok {
			return nil, newError(Corrupt, "expected time.Time, got %T", v)
		}
		return t.Format(time.RFC3339Nano), nil
	case KindTimestamp:
		t, ok := v.(time.Time)
		if !ok {
			return nil, newError(Corrupt, "expected time.Time, got %T", v)
		}
		return epochSeconds(t), nil
	case KindAny:
		return v, nil
	}
	return nil, newError(Corrupt, "kind %s is not a scalar", kind)
}

func decodeScalar(kind FieldKind, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch kind {
	case KindInt:
		f, ok := raw.(float64)
		if !ok || f != math.Trunc(f) {
			return nil, newError(Corrupt, "cannot decode %v (%T) as int", raw, raw)
		}
		return int64(f), nil
	case KindFloat:
		f, ok := raw.(float64)
		if !ok {
			return nil, newError(Corrupt, "cannot decode %v (%T) as float", raw, raw)
		}
		return f, nil
	case KindString:
		s, ok := raw.(string)
		if !ok {
			return nil, newError(Corrupt, "cannot decode %v (%T) as string", raw, raw)
		}
		return s, nil
	case KindBytes:
		s, ok := raw.(string)
		if !ok {
			return nil, newError(Corrupt, "cannot decode %v (%T) as bytes", raw, raw)
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, newError(Corrupt, "invalid base64 blob: %v", err)
		}
		return b, nil
	case KindTime:
		s, ok := raw.(string)
		if !ok {
			return nil, newError(Corrupt, "cannot decode %v (%T) as time", raw, raw)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, newError(Corrupt, "invalid timestamp string: %v", err)
		}
		return t, nil
	case KindTimestamp:
		f, ok := raw.(float64)
		if !ok {
			return nil, newError(Corrupt, "cannot decode %v (%T) as epoch timestamp", raw, raw)
		}
		return timeFromEpoch(f), nil
	case KindAny:
		return raw, nil
	}
	return nil, newError(Corrupt, "kind %s is not a scalar", kind)
}

// normalizeScalar coerces a caller-supplied Go value into the kind's
// canonical in-process representation.
func normalizeScalar(kind FieldKind, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch kind {
	case KindInt:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			if n == math.Trunc(n) {
				return int64(n), nil
			}
		}
	case KindFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
	case KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case KindBytes:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			return []byte(b), nil
		}
	case KindTime, KindTimestamp:
		if t, ok := v.(time.Time); ok {
			return t, nil
		}
	case KindAny:
		return v, nil
	}
	return nil, newError(BadArgument, "value %v (%T) is not assignable to kind %s", v, v, kind)
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func timeFromEpoch(sec float64) time.Time {
	s, frac := math.Modf(sec)
	return time.Unix(int64(s), int64(frac*float64(time.Second)))
}

// normalizeRange resolves a (start, end) index pair against a collection of
// length n: negative indices count from the end, bounds clamp to [0, n].
// ok=false means the range selects nothing.
func normalizeRange(start, end, n int) (int, int, bool) {
	if start < 0 {
		start = n + start
	}
	if end < 0 {
		end = n + end
	}
	if start < 0 {
		start = 0
	}
	if end > n {
		end = n
	}
	if start >= n || start >= end {
		return 0, 0, false
	}
	return start, end, true
}

// floorDiv divides rounding toward negative infinity, matching the
// server-side script's math.floor semantics.
func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// floorMod is the remainder paired with floorDiv: the result takes the
// divisor's sign.
func floorMod(a, b int64) int64 {
	m := a % b
	if m != 0 && (m < 0) != (b < 0) {
		m += b
	}
	return m
}

// intPow raises base to a non-negative power; negative exponents yield 0.
func intPow(base, exp int64) int64 {
	if exp < 0 {
		return 0
	}
	result := int64(1)
	for exp > 0 {
		if exp&1 == 1 {
			result *= base
		}
		base *= base
		exp >>= 1
	}
	return result
}
