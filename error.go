package atomix

import (
	"errors"
	"fmt"
)

type ErrorCode int

const (
	Unknown ErrorCode = iota
	// NotFound: a requested key is absent at read time. Terminal, never retried.
	NotFound
	// UnknownType: a key's type prefix matches no registered schema.
	UnknownType
	// Corrupt: a stored field could not be reconstructed under the strict
	// load policy.
	Corrupt
	// BadArgument: incompatible argument kinds in a batch API, detected
	// before any network call.
	BadArgument
	// UnsupportedIndexField: an indexed field whose kind cannot be indexed.
	// Raised at registration time, not at write time.
	UnsupportedIndexField
	// CollectionEmpty: arbitrary-item removal from an empty map.
	CollectionEmpty
	// LockAcquisitionFailure: a scoped lock could not be acquired in time.
	LockAcquisitionFailure
)

// Error is the custom error carrying one of the codes above.
type Error struct {
	Code ErrorCode
	Err  error
}

func (e Error) Error() string {
	return fmt.Sprintf("error code: %d, details: %v", e.Code, e.Err)
}

func (e Error) Unwrap() error {
	return e.Err
}

// IsCode reports whether err (or anything it wraps) is an Error with the
// given code.
func IsCode(err error, code ErrorCode) bool {
	var e Error
	return errors.As(err, &e) && e.Code == code
}

func newError(code ErrorCode, format string, a ...any) error {
	return Error{Code: code, Err: fmt.Errorf(format, a...)}
}
