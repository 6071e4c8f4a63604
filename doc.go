// Package atomix is a client-side consistency layer over a RedisJSON store.
// It lets application code treat remote JSON documents as sets of typed,
// mutable fields while guaranteeing that compound mutations (increment,
// append, range-delete, priority updates) are race free under concurrent
// access, and that multi-step updates commit as a single atomic unit or not
// at all.
//
// Field wrappers come in two flavors of mutation. Plain verbs (Add, Append,
// Insert, Set, ...) compute a new local value; when a transaction begun with
// DB.Begin is active on the context they additionally buffer the equivalent
// store command, otherwise they touch nothing remote. Methods with the Now
// suffix (AddNow, AppendNow, ...) perform the store mutation immediately,
// refresh the document's TTL per its schema, and return the authoritative
// result.
//
// Concrete backends live in subpackages: redis (go-redis v9) for production,
// inmemory for tests and embedded use. Server-side Lua scripts used by
// compound mutations live in the scripts subpackage together with their
// handle registry and NOSCRIPT recovery.
package atomix
